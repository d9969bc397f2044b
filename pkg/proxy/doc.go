// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package proxy provides the HTTP reverse proxy that lets a browser client
// call a paid chat-completion API without holding the API key. Analyze
// requests are posted to a single fixed upstream with either the caller's own
// bearer key or the operator's system key, and the upstream status and body
// are relayed back untouched. Optionally it also serves a directory of static
// files while refusing paths that would expose the server's own sources.
package proxy
