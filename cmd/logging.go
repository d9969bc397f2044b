// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/analyze-proxy/pkg/config"
)

// configureLogging installs the global logger. It must run before the proxy
// is constructed because the proxy derives its component logger from it.
func configureLogging(cfg config.Config, out io.Writer) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	w := out
	if cfg.LogFormat == config.LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return nil
}
