// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"net/http"
	"strings"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	ContentTypeJSON     = "application/json"

	bearerPrefix = "Bearer "
)

// Credential is the bearer token chosen for one outbound call.
type Credential struct {
	Token string
	// UserSupplied is true when the caller's own key was accepted.
	UserSupplied bool
}

// Selector decides between a caller supplied key and the system key.
type Selector struct {
	SystemKey string
	// MinUserKeyLength is an exclusive bound: only tokens strictly longer
	// than this are treated as real keys.
	MinUserKeyLength int
}

// NewSelector constructs a selector around the operator held system key.
func NewSelector(systemKey string, minUserKeyLength int) *Selector {
	return &Selector{
		SystemKey:        systemKey,
		MinUserKeyLength: minUserKeyLength,
	}
}

// BearerToken extracts the token from the Authorization header. A leading
// "Bearer " literal is dropped and surrounding whitespace trimmed; a bare token
// without the prefix is returned as-is.
func BearerToken(h http.Header) string {
	raw := strings.TrimSpace(h.Get(HeaderAuthorization))
	return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
}

// Select returns the credential for the request headers.
//
// NOTE: the length check is a weak heuristic, not key validation. Any token
// longer than MinUserKeyLength is forwarded uninspected and the upstream is
// left to reject it. Clients rely on this exact threshold.
func (s *Selector) Select(h http.Header) Credential {
	token := BearerToken(h)
	if len(token) > s.MinUserKeyLength {
		return Credential{Token: token, UserSupplied: true}
	}
	return Credential{Token: s.SystemKey}
}

// Attach sets the outbound Authorization and Content-Type headers, replacing
// whatever the request carried before.
func (c Credential) Attach(req *http.Request) {
	req.Header.Set(HeaderAuthorization, bearerPrefix+c.Token)
	req.Header.Set(HeaderContentType, ContentTypeJSON)
}
