// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/go-core-stack/analyze-proxy/pkg/auth"
	"github.com/go-core-stack/analyze-proxy/pkg/config"
)

const headerRequestID = "X-Request-Id"

type requestIDKey struct{}

// NewRouter exposes the proxy on the analyze path. Every other method or
// path answers 404, except the optional suffix match and static files.
func NewRouter(cfg config.Config, p *Proxy) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Post(cfg.AnalyzePath, p.ServeHTTP)

	var static http.Handler
	if cfg.StaticDir != "" {
		static = newStaticHandler(cfg.StaticDir, cfg.StaticDeny, p.logger)
	}
	fallback := fallbackHandler(cfg, p, static)
	r.NotFound(fallback)
	r.MethodNotAllowed(fallback)

	return r
}

func fallbackHandler(cfg config.Config, p http.Handler, static http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && cfg.MatchSuffix && strings.HasSuffix(r.URL.Path, cfg.AnalyzePath):
			p.ServeHTTP(w, r)
		case static != nil && (r.Method == http.MethodGet || r.Method == http.MethodHead):
			static.ServeHTTP(w, r)
		default:
			writeError(w, http.StatusNotFound, "Not Found")
		}
	}
}

// requestID tags the request context with the caller's X-Request-Id or a
// fresh UUID. The id is only used for logging and is never sent upstream.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFromContext returns the id assigned by the router, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeError answers with a JSON error envelope so browser clients can parse
// proxy-local failures the same way as upstream ones.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set(auth.HeaderContentType, auth.ContentTypeJSON)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Message: message,
			Type:    errorType(status),
		},
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "access_denied"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	default:
		return "proxy_error"
	}
}
