// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	envSystemKey             = "PERPLEXITY_API_KEY"
	envUpstreamURL           = "PERPLEXITY_API_URL"
	envPort                  = "PORT"
	envListenHost            = "LISTEN_HOST"
	envAnalyzePath           = "ANALYZE_PATH"
	envMatchSuffix           = "ANALYZE_MATCH_SUFFIX"
	envMinUserKeyLength      = "MIN_USER_KEY_LENGTH"
	envMaxBodyBytes          = "MAX_BODY_BYTES"
	envRequestTimeout        = "REQUEST_TIMEOUT"
	envStaticDir             = "STATIC_DIR"
	envStaticDeny            = "STATIC_DENY"
	envLogLevel              = "LOG_LEVEL"
	envLogFormat             = "LOG_FORMAT"
	envServerReadTimeout     = "SERVER_READ_TIMEOUT"
	envServerWriteTimeout    = "SERVER_WRITE_TIMEOUT"
	envServerIdleTimeout     = "SERVER_IDLE_TIMEOUT"
	envGracefulShutdown      = "GRACEFUL_SHUTDOWN"
	defaultUpstreamURL       = "https://api.perplexity.ai/chat/completions"
	defaultPort              = 8080
	defaultAnalyzePath       = "/api/analyze"
	defaultMinUserKeyLength  = 20
	defaultMaxBodyBytes      = 10 << 20
	defaultLogLevel          = "info"
	defaultServerReadTimeout = 30 * time.Second
	defaultServerIdleTimeout = 120 * time.Second
	defaultGracefulShutdown  = 10 * time.Second

	LogFormatJSON    = "json"
	LogFormatConsole = "console"

	redacted = "<redacted>"
)

// defaultStaticDeny keeps the server's own sources, build files, config and
// secrets off the static file surface.
var defaultStaticDeny = []string{"server.py", ".go", "go.mod", "go.sum", ".toml", ".env"}

// Duration lets TOML files carry durations as strings such as "30s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config captures runtime settings for the proxy. It is built once at start-up
// and handed to the proxy by value; nothing reads the environment afterwards.
type Config struct {
	SystemKey               string   `toml:"system_key,omitempty"`
	UpstreamURL             string   `toml:"upstream_url"`
	ListenHost              string   `toml:"listen_host"`
	Port                    int      `toml:"port"`
	AnalyzePath             string   `toml:"analyze_path"`
	MatchSuffix             bool     `toml:"match_suffix"`
	MinUserKeyLength        int      `toml:"min_user_key_length"`
	MaxBodyBytes            int64    `toml:"max_body_bytes"`
	RequestTimeout          Duration `toml:"request_timeout"`
	StaticDir               string   `toml:"static_dir,omitempty"`
	StaticDeny              []string `toml:"static_deny"`
	LogLevel                string   `toml:"log_level"`
	LogFormat               string   `toml:"log_format"`
	ServerReadTimeout       Duration `toml:"server_read_timeout"`
	ServerWriteTimeout      Duration `toml:"server_write_timeout"`
	ServerIdleTimeout       Duration `toml:"server_idle_timeout"`
	GracefulShutdownTimeout Duration `toml:"graceful_shutdown"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() Config {
	return Config{
		UpstreamURL:             defaultUpstreamURL,
		Port:                    defaultPort,
		AnalyzePath:             defaultAnalyzePath,
		MinUserKeyLength:        defaultMinUserKeyLength,
		MaxBodyBytes:            defaultMaxBodyBytes,
		StaticDeny:              append([]string(nil), defaultStaticDeny...),
		LogLevel:                defaultLogLevel,
		LogFormat:               LogFormatJSON,
		ServerReadTimeout:       Duration(defaultServerReadTimeout),
		ServerIdleTimeout:       Duration(defaultServerIdleTimeout),
		GracefulShutdownTimeout: Duration(defaultGracefulShutdown),
	}
}

// Load builds the configuration from defaults, an optional TOML file at path,
// and the process environment, in that order of precedence (lowest first).
func Load(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse toml: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	// The system key may legitimately be empty, so only presence matters.
	if val, ok := os.LookupEnv(envSystemKey); ok {
		c.SystemKey = strings.TrimSpace(val)
	}

	c.UpstreamURL = getString(envUpstreamURL, c.UpstreamURL)
	c.ListenHost = getString(envListenHost, c.ListenHost)
	c.AnalyzePath = getString(envAnalyzePath, c.AnalyzePath)
	c.MatchSuffix = getBool(envMatchSuffix, c.MatchSuffix)
	c.StaticDir = getString(envStaticDir, c.StaticDir)
	c.StaticDeny = getList(envStaticDeny, c.StaticDeny)
	c.LogLevel = getString(envLogLevel, c.LogLevel)
	c.LogFormat = getString(envLogFormat, c.LogFormat)

	for key, d := range map[string]*Duration{
		envRequestTimeout:     &c.RequestTimeout,
		envServerReadTimeout:  &c.ServerReadTimeout,
		envServerWriteTimeout: &c.ServerWriteTimeout,
		envServerIdleTimeout:  &c.ServerIdleTimeout,
		envGracefulShutdown:   &c.GracefulShutdownTimeout,
	} {
		parsed, err := getDuration(key, *d)
		if err != nil {
			return err
		}
		*d = parsed
	}

	port, err := getInt(envPort, int64(c.Port))
	if err != nil {
		return err
	}
	c.Port = int(port)

	minLen, err := getInt(envMinUserKeyLength, int64(c.MinUserKeyLength))
	if err != nil {
		return err
	}
	c.MinUserKeyLength = int(minLen)

	maxBody, err := getInt(envMaxBodyBytes, c.MaxBodyBytes)
	if err != nil {
		return err
	}
	c.MaxBodyBytes = maxBody

	return nil
}

func (c *Config) normalize() {
	c.SystemKey = strings.TrimSpace(c.SystemKey)
	c.UpstreamURL = strings.TrimSpace(c.UpstreamURL)
	c.ListenHost = strings.TrimSpace(c.ListenHost)
	c.AnalyzePath = strings.TrimSpace(c.AnalyzePath)
	c.StaticDir = strings.TrimSpace(c.StaticDir)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}

	deny := make([]string, 0, len(c.StaticDeny))
	for _, d := range c.StaticDeny {
		if d = strings.TrimSpace(d); d != "" {
			deny = append(deny, d)
		}
	}
	c.StaticDeny = deny
}

// Validate reports the first setting that would leave the proxy unusable.
func (c Config) Validate() error {
	if c.UpstreamURL == "" {
		return errors.New("upstream url is required")
	}
	upstream, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if !upstream.IsAbs() || upstream.Host == "" {
		return errors.New("upstream url must be absolute (scheme://host/path)")
	}
	if !strings.HasPrefix(c.AnalyzePath, "/") {
		return fmt.Errorf("analyze path %q must start with /", c.AnalyzePath)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MinUserKeyLength < 0 {
		return errors.New("min user key length must not be negative")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	for name, d := range map[string]Duration{
		"request timeout":      c.RequestTimeout,
		"server read timeout":  c.ServerReadTimeout,
		"server write timeout": c.ServerWriteTimeout,
		"server idle timeout":  c.ServerIdleTimeout,
		"graceful shutdown":    c.GracefulShutdownTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	switch c.LogFormat {
	case LogFormatJSON, LogFormatConsole:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// ListenAddr joins host and port into an address for net.Listen.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

// Redacted returns a copy safe to print or log.
func (c Config) Redacted() Config {
	out := c
	if out.SystemKey != "" {
		out.SystemKey = redacted
	}
	out.StaticDeny = append([]string(nil), c.StaticDeny...)
	return out
}

// TOML renders the configuration in the same format Load accepts.
func (c Config) TOML() ([]byte, error) {
	return toml.Marshal(c)
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback Duration) (Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return Duration(parsed), nil
}

func getInt(key string, fallback int64) (int64, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
