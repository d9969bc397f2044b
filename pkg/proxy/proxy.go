// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/analyze-proxy/pkg/auth"
	"github.com/go-core-stack/analyze-proxy/pkg/config"
)

// Proxy relays analyze requests to the upstream chat-completion endpoint with
// either the caller's key or the system key attached.
type Proxy struct {
	// cfg keeps the immutable runtime settings, including the system key.
	cfg config.Config
	// client performs outbound HTTP requests with tuned transport settings.
	client *http.Client
	// selector picks the bearer credential for each request.
	selector *auth.Selector
	// logger emits structured logs for observability.
	logger zerolog.Logger
	// upstream is the fixed endpoint every request is posted to.
	upstream *url.URL
}

// New constructs a Proxy backed by an http.Client configured with sensible
// connection pooling defaults and the provided runtime configuration.
func New(cfg config.Config) (*Proxy, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if !upstream.IsAbs() {
		return nil, fmt.Errorf("upstream url %q is not absolute", cfg.UpstreamURL)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	// A zero timeout leaves the round trip bounded only by the inbound
	// request context. Redirects are relayed to the caller, never followed.
	client := &http.Client{
		Timeout:   time.Duration(cfg.RequestTimeout),
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Proxy{
		cfg:      cfg,
		client:   client,
		selector: auth.NewSelector(cfg.SystemKey, cfg.MinUserKeyLength),
		logger:   log.With().Str("component", "proxy").Logger(),
		upstream: upstream,
	}, nil
}

// ServeHTTP forwards one analyze request and mirrors the upstream status and
// body back to the caller, whether the upstream succeeded or not.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	event := p.requestLogger(r)

	cred := p.selector.Select(r.Header)
	event.Info().
		Bool("user_key", cred.UserSupplied).
		Msg("proxying request")

	status, body, err := p.forwardRequest(r, cred, event)
	if err != nil {
		var httpErr *httpError
		if errors.As(err, &httpErr) {
			writeError(w, httpErr.Status, httpErr.Err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, "Internal Proxy Error: "+err.Error())
		}
		event.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("request failed")
		return
	}

	if status >= http.StatusBadRequest {
		event.Warn().
			Int("status", status).
			Int("body_bytes", len(body)).
			Msg("upstream returned error")
	}

	w.Header().Set(auth.HeaderContentType, auth.ContentTypeJSON)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		event.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("write response failed")
		return
	}

	event.Info().
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("request proxied")
}

// forwardRequest posts the inbound body upstream and returns the upstream
// status with its fully read body. The body is buffered so a failed read can
// still be reported as a 500 before anything is written to the caller.
func (p *Proxy) forwardRequest(r *http.Request, cred auth.Credential, event zerolog.Logger) (int, []byte, error) {
	payload, err := readBody(r, p.cfg.MaxBodyBytes)
	if err != nil {
		return 0, nil, err
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.upstream.String(), bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build upstream request: %w", err)
	}
	cred.Attach(upstreamReq)

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		return 0, nil, fmt.Errorf("perform upstream request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			event.Error().
				Err(closeErr).
				Msg("close upstream response body failed")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read upstream response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// readBody reads exactly the declared Content-Length. Requests without a
// usable length are forwarded with an empty body.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	n := contentLength(r)
	if n == 0 {
		return []byte{}, nil
	}
	if n > limit {
		return nil, &httpError{
			Status: http.StatusRequestEntityTooLarge,
			Err:    fmt.Errorf("request body of %d bytes exceeds limit of %d bytes", n, limit),
		}
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r.Body, buf); err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return buf, nil
}

func contentLength(r *http.Request) int64 {
	if r.ContentLength > 0 {
		return r.ContentLength
	}
	n, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("Content-Length")), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (p *Proxy) requestLogger(r *http.Request) zerolog.Logger {
	ctx := p.logger.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr)
	if id := RequestIDFromContext(r.Context()); id != "" {
		ctx = ctx.Str("request_id", id)
	}
	return ctx.Logger()
}

// httpError wraps a status code for failures detected by the proxy itself.
type httpError struct {
	Status int   // Status preserves the HTTP status to emit downstream.
	Err    error // Err retains the original cause for logging.
}

// Error implements the error interface for httpError.
func (e *httpError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *httpError) Unwrap() error {
	return e.Err
}
