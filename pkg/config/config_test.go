// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load consults so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envSystemKey, envUpstreamURL, envPort, envListenHost, envAnalyzePath,
		envMatchSuffix, envMinUserKeyLength, envMaxBodyBytes, envRequestTimeout,
		envStaticDir, envStaticDeny, envLogLevel, envLogFormat, envServerReadTimeout,
		envServerWriteTimeout, envServerIdleTimeout, envGracefulShutdown,
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "", cfg.SystemKey)
	assert.Equal(t, defaultUpstreamURL, cfg.UpstreamURL)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, "/api/analyze", cfg.AnalyzePath)
	assert.False(t, cfg.MatchSuffix)
	assert.Equal(t, 20, cfg.MinUserKeyLength)
	assert.Equal(t, Duration(0), cfg.RequestTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, []string{"server.py", ".go", "go.mod", "go.sum", ".toml", ".env"}, cfg.StaticDeny)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(envSystemKey, "  SYS_KEY  ")
	t.Setenv(envPort, "9090")
	t.Setenv(envListenHost, "127.0.0.1")
	t.Setenv(envMatchSuffix, "true")
	t.Setenv(envRequestTimeout, "45s")
	t.Setenv(envStaticDeny, "secret.txt, ,config.toml")
	t.Setenv(envLogFormat, "CONSOLE")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "SYS_KEY", cfg.SystemKey)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr())
	assert.True(t, cfg.MatchSuffix)
	assert.Equal(t, Duration(45*time.Second), cfg.RequestTimeout)
	assert.Equal(t, []string{"secret.txt", "config.toml"}, cfg.StaticDeny)
	assert.Equal(t, LogFormatConsole, cfg.LogFormat)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "proxy.toml")
	content := strings.Join([]string{
		`system_key = "file-key"`,
		`port = 7070`,
		`analyze_path = "/v2/analyze"`,
		`request_timeout = "2m"`,
		`static_dir = "./public"`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(envPort, "7171")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.SystemKey)
	assert.Equal(t, 7171, cfg.Port, "environment wins over file")
	assert.Equal(t, "/v2/analyze", cfg.AnalyzePath)
	assert.Equal(t, Duration(2*time.Minute), cfg.RequestTimeout)
	assert.Equal(t, "./public", cfg.StaticDir)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]struct {
		key, value string
		want       string
	}{
		"port not a number": {envPort, "eighty", "invalid PORT"},
		"port out of range": {envPort, "70000", "out of range"},
		"relative upstream": {envUpstreamURL, "/chat/completions", "must be absolute"},
		"analyze path":      {envAnalyzePath, "api/analyze", "must start with /"},
		"log format":        {envLogFormat, "xml", "unknown log format"},
		"body cap":          {envMaxBodyBytes, "0", "max body bytes"},
		"request timeout":   {envRequestTimeout, "30 seconds", "invalid REQUEST_TIMEOUT"},
		"read timeout":      {envServerReadTimeout, "5", "invalid SERVER_READ_TIMEOUT"},
		"shutdown":          {envGracefulShutdown, "soon", "invalid GRACEFUL_SHUTDOWN"},
		"negative timeout":  {envServerIdleTimeout, "-1s", "must not be negative"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRedactedHidesSystemKey(t *testing.T) {
	cfg := Default()
	cfg.SystemKey = "pplx-secret"

	out := cfg.Redacted()
	assert.Equal(t, redacted, out.SystemKey)
	assert.Equal(t, "pplx-secret", cfg.SystemKey, "original must be untouched")

	b, err := out.TOML()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "pplx-secret")
	assert.Contains(t, string(b), "graceful_shutdown = '10s'")
}
