// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-core-stack/analyze-proxy/pkg/config"
	"github.com/go-core-stack/analyze-proxy/pkg/proxy"
)

type serveOptions struct {
	configPath string
	port       int
	host       string
	logLevel   string
	staticDir  string
}

func (o *serveOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configPath, "config", "", "Optional TOML config file")
	cmd.Flags().IntVar(&o.port, "port", 0, "Override PORT")
	cmd.Flags().StringVar(&o.host, "host", "", "Override LISTEN_HOST")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
	cmd.Flags().StringVar(&o.staticDir, "static-dir", "", "Serve static files from this directory")
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	opts.bindFlags(serveCmd)
	return serveCmd
}

// loadConfig reads .env, the optional config file and the environment, then
// applies flags the user set explicitly.
func (o *serveOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("host") {
		cfg.ListenHost = o.host
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("static-dir") {
		cfg.StaticDir = o.staticDir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := configureLogging(cfg, cmd.ErrOrStderr()); err != nil {
		return err
	}

	p, err := proxy.New(cfg)
	if err != nil {
		return fmt.Errorf("construct proxy: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           proxy.NewRouter(cfg, p),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.ServerReadTimeout),
		WriteTimeout:      time.Duration(cfg.ServerWriteTimeout),
		IdleTimeout:       time.Duration(cfg.ServerIdleTimeout),
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", server.Addr, err)
	}

	log.Info().
		Str("listen_addr", listener.Addr().String()).
		Str("upstream", cfg.UpstreamURL).
		Str("analyze_path", cfg.AnalyzePath).
		Bool("system_key", cfg.SystemKey != "").
		Bool("static", cfg.StaticDir != "").
		Msg("starting analyze proxy")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, server, listener, time.Duration(cfg.GracefulShutdownTimeout))
}

// serve blocks until ctx is done or the listener fails, then shuts the
// server down within timeout.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("proxy server exited unexpectedly: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down analyze proxy")

	// The parent context is already cancelled, so the deadline hangs off a
	// fresh one.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed; forcing close")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("forced close failed")
		}
	}

	log.Info().Msg("proxy stopped")
	return nil
}
