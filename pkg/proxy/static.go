// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// staticHandler serves files from a directory and refuses any path that
// mentions one of the deny fragments.
type staticHandler struct {
	files  http.Handler
	deny   []string
	logger zerolog.Logger
}

func newStaticHandler(dir string, deny []string, logger zerolog.Logger) *staticHandler {
	lowered := make([]string, 0, len(deny))
	for _, d := range deny {
		lowered = append(lowered, strings.ToLower(d))
	}
	return &staticHandler{
		files:  http.FileServer(http.Dir(dir)),
		deny:   lowered,
		logger: logger.With().Str("dir", dir).Logger(),
	}
}

func (s *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.denied(r.URL.Path) {
		s.logger.Warn().
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Msg("static path denied")
		writeError(w, http.StatusForbidden, "Access Denied")
		return
	}
	s.files.ServeHTTP(w, r)
}

// denied matches case-insensitively so case-folding filesystems cannot be
// used to slip past the list.
func (s *staticHandler) denied(path string) bool {
	path = strings.ToLower(path)
	for _, d := range s.deny {
		if strings.Contains(path, d) {
			return true
		}
	}
	return false
}
