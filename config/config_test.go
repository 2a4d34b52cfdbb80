package config_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/config"
	"github.com/sagarc03/anystore/gateway"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "fs", cfg.Storage.Scheme)
	assert.Equal(t, map[string]string{"root": "./data", "create_root": "true"}, cfg.Storage.Options)
	assert.True(t, cfg.Storage.Check)
	assert.True(t, cfg.Layers.Retry.Enabled)
	assert.True(t, cfg.Layers.Logging)
	assert.False(t, cfg.Layers.ReadOnly)
	assert.Equal(t, 5708, cfg.Server.Port)
	assert.Equal(t, "store", cfg.Server.Mode)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "public", cfg.Auth.Read)
	assert.Equal(t, "public", cfg.Auth.Write)
	assert.Equal(t, "us-east-1", cfg.Auth.Region)
	assert.Equal(t, "s3", cfg.Auth.Service)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
storage:
  scheme: memory
  check: false
layers:
  read_only: true
  retry:
    enabled: true
    max_attempts: 5
    initial_interval: 50ms
    jitter: 0.5
  concurrency:
    limit: 8
    timeout: 2s
  timeout:
    operation: 30s
    io: 5s
  metrics: true
server:
  port: 8080
  mode: static
  max_upload_size: 1048576
auth:
  read: private
  write: private
  region: eu-west-1
  service: custom
  keys:
    inline:
      - access_key: AKIATEST123
        secret_key: secretkey123
log:
  level: debug
  format: json
`)

	cfg, err := config.Load([]string{path}, nil)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Scheme)
	assert.Empty(t, cfg.Storage.Options)
	assert.False(t, cfg.Storage.Check)
	assert.True(t, cfg.Layers.ReadOnly)
	assert.Equal(t, 5, cfg.Layers.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Layers.Retry.InitialInterval)
	assert.InDelta(t, 0.5, cfg.Layers.Retry.Jitter, 1e-9)
	assert.Equal(t, int64(8), cfg.Layers.Concurrency.Limit)
	assert.Equal(t, 2*time.Second, cfg.Layers.Concurrency.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Layers.Timeout.Operation)
	assert.Equal(t, 5*time.Second, cfg.Layers.Timeout.IO)
	assert.True(t, cfg.Layers.Metrics)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "static", cfg.Server.Mode)
	assert.Equal(t, int64(1048576), cfg.Server.MaxUploadSize)
	assert.Equal(t, "private", cfg.Auth.Read)
	assert.Equal(t, "eu-west-1", cfg.Auth.Region)
	assert.Equal(t, "custom", cfg.Auth.Service)
	require.Len(t, cfg.Auth.Keys.Inline, 1)
	assert.Equal(t, "AKIATEST123", cfg.Auth.Keys.Inline[0].AccessKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ConfigFileMerge(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
storage:
  scheme: fs
  options:
    root: /srv/data
server:
  port: 5708
  mode: store
auth:
  read: public
  write: public
`)
	override := writeConfig(t, "override.yaml", `
server:
  port: 9000
auth:
  read: private
`)

	cfg, err := config.Load([]string{base, override}, nil)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "private", cfg.Auth.Read)

	assert.Equal(t, "store", cfg.Server.Mode)
	assert.Equal(t, "public", cfg.Auth.Write)
	assert.Equal(t, "/srv/data", cfg.Storage.Options["root"])
	assert.Equal(t, "true", cfg.Storage.Options["create_root"], "missing scheme options are defaulted")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load([]string{filepath.Join(t.TempDir(), "missing.yaml")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid port", "server:\n  port: 99999\n", "validate config"},
		{"invalid mode", "server:\n  mode: invalid\n", "validate config"},
		{"invalid auth mode", "auth:\n  read: invalid\n", "validate config"},
		{"invalid log level", "log:\n  level: loud\n", "validate config"},
		{"invalid log format", "log:\n  format: xml\n", "validate config"},
		{"jitter above one", "layers:\n  retry:\n    jitter: 1.5\n", "validate config"},
		{"unknown scheme", "storage:\n  scheme: tape\n", "unknown storage scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.content)

			_, err := config.Load([]string{path}, nil)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_WithCORS(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
cors:
  enabled: true
  allowed_origins:
    - https://example.com
    - https://app.example.com
  allowed_methods:
    - GET
    - PUT
  allowed_headers:
    - Content-Type
  max_age: 600
`)

	cfg, err := config.Load([]string{path}, nil)
	require.NoError(t, err)

	assert.True(t, cfg.CORS.Enabled)
	assert.Equal(t, []string{"https://example.com", "https://app.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"GET", "PUT"}, cfg.CORS.AllowedMethods)
	assert.Equal(t, []string{"Content-Type"}, cfg.CORS.AllowedHeaders)
	assert.Equal(t, 600, cfg.CORS.MaxAge)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("ANYSTORE_SERVER_PORT", "9090")
	t.Setenv("ANYSTORE_STORAGE_SCHEME", "memory")
	t.Setenv("ANYSTORE_AUTH_READ", "private")
	t.Setenv("ANYSTORE_LAYERS_READ_ONLY", "true")

	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Scheme)
	assert.Equal(t, "private", cfg.Auth.Read)
	assert.True(t, cfg.Layers.ReadOnly)
}

func TestLoad_Flags(t *testing.T) {
	t.Setenv("ANYSTORE_SERVER_PORT", "9090")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 5708, "")
	flags.String("scheme", "", "")
	flags.StringToString("option", nil, "")
	flags.String("mode", "store", "")
	require.NoError(t, flags.Parse([]string{"--port", "7000", "--scheme", "fs", "--option", "root=/tmp/x"}))

	cfg, err := config.Load(nil, flags)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port, "flags win over env")
	assert.Equal(t, "fs", cfg.Storage.Scheme)
	assert.Equal(t, "/tmp/x", cfg.Storage.Options["root"])
	assert.Equal(t, "store", cfg.Server.Mode, "unchanged flags are not bound")
}

func TestContext(t *testing.T) {
	_, err := config.FromContext(context.Background())
	require.Error(t, err)

	cfg := &config.Config{}
	got, err := config.FromContext(config.WithContext(context.Background(), cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestLayersConfig_Stack(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LayersConfig
		want []string
	}{
		{"none", config.LayersConfig{}, nil},
		{"retry only", config.LayersConfig{Retry: config.RetryConfig{Enabled: true}}, []string{"*layers.Retry"}},
		{"timeout from io alone", config.LayersConfig{Timeout: config.TimeoutConfig{IO: time.Second}}, []string{"*layers.Timeout"}},
		{
			"retry below the limit",
			config.LayersConfig{
				Retry:       config.RetryConfig{Enabled: true},
				Concurrency: config.ConcurrencyConfig{Limit: 2},
			},
			[]string{"*layers.Retry", "*layers.ConcurrentLimit"},
		},
		{
			"everything",
			config.LayersConfig{
				ReadOnly:    true,
				Retry:       config.RetryConfig{Enabled: true},
				Concurrency: config.ConcurrencyConfig{Limit: 4},
				Timeout:     config.TimeoutConfig{Operation: time.Minute},
				Logging:     true,
				Metrics:     true,
				Tracing:     true,
			},
			[]string{
				"layers.ReadOnly",
				"*layers.Timeout",
				"*layers.Retry",
				"*layers.ConcurrentLimit",
				"*layers.Metrics",
				"*layers.Logging",
				"*layers.Tracing",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := tt.cfg.Stack(prometheus.NewRegistry())

			var got []string
			for _, l := range stack {
				got = append(got, fmt.Sprintf("%T", l))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_PermitWaitIsNotRetried(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Storage: config.StorageConfig{Scheme: "memory"},
		Layers: config.LayersConfig{
			Retry:       config.RetryConfig{Enabled: true, MaxAttempts: 3, InitialInterval: time.Millisecond},
			Concurrency: config.ConcurrencyConfig{Limit: 1, Timeout: 100 * time.Millisecond},
		},
	}
	op, closeFn, err := config.Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	// An open writer holds the only permit.
	w, err := op.Writer(ctx, "held.txt", anystore.WriteOptions{})
	require.NoError(t, err)

	start := time.Now()
	_, err = op.Stat(ctx, "held.txt")
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, anystore.ErrRateLimited)
	assert.Less(t, elapsed, 250*time.Millisecond, "a retried wait takes at least three timeouts")

	require.NoError(t, w.Abort(ctx))
	_, err = op.Write(ctx, "after.txt", []byte("x"))
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory with layers", func(t *testing.T) {
		cfg := &config.Config{
			Storage: config.StorageConfig{Scheme: "memory", Check: true},
			Layers: config.LayersConfig{
				Retry:   config.RetryConfig{Enabled: true, MaxAttempts: 2},
				Logging: true,
				Metrics: true,
			},
		}

		op, closeFn, err := config.Open(ctx, cfg, prometheus.NewRegistry())
		require.NoError(t, err)
		t.Cleanup(func() { _ = closeFn() })

		assert.Len(t, op.Layers(), 3)
		_, err = op.Write(ctx, "a.txt", []byte("hello"))
		require.NoError(t, err)
		got, err := op.Read(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)
	})

	t.Run("read only", func(t *testing.T) {
		cfg := &config.Config{
			Storage: config.StorageConfig{Scheme: "memory"},
			Layers:  config.LayersConfig{ReadOnly: true},
		}

		op, closeFn, err := config.Open(ctx, cfg, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = closeFn() })

		assert.False(t, op.Capability().Write)
		_, err = op.Write(ctx, "a.txt", []byte("x"))
		assert.ErrorIs(t, err, anystore.ErrUnsupported)
	})

	t.Run("fs root missing", func(t *testing.T) {
		cfg := &config.Config{
			Storage: config.StorageConfig{
				Scheme:  "fs",
				Options: map[string]string{"root": filepath.Join(t.TempDir(), "missing")},
			},
		}

		_, _, err := config.Open(ctx, cfg, nil)
		assert.ErrorIs(t, err, anystore.ErrNotFound)
	})

	t.Run("unknown option", func(t *testing.T) {
		cfg := &config.Config{
			Storage: config.StorageConfig{Scheme: "memory", Options: map[string]string{"bogus": "1"}},
		}

		_, _, err := config.Open(ctx, cfg, nil)
		assert.ErrorIs(t, err, anystore.ErrInvalidInput)
	})
}

func TestHandlerConfig(t *testing.T) {
	t.Run("public", func(t *testing.T) {
		cfg, err := config.Load(nil, nil)
		require.NoError(t, err)

		hc, err := config.HandlerConfig(cfg, nil)
		require.NoError(t, err)

		assert.Equal(t, gateway.ModeStore, hc.Mode)
		assert.Nil(t, hc.ReadVerifier)
		assert.Nil(t, hc.WriteVerifier)
	})

	t.Run("private writes", func(t *testing.T) {
		keys := writeConfig(t, "keys.json", `[{"access_key":"AK","secret_key":"SK"}]`)
		cfg := &config.Config{
			Server: config.ServerConfig{Mode: "spa", MaxUploadSize: 10},
			Auth: config.AuthConfig{
				Read: "public", Write: "private", Region: "us-east-1", Service: "s3",
			},
		}
		cfg.Auth.Keys.File = keys

		hc, err := config.HandlerConfig(cfg, nil)
		require.NoError(t, err)

		assert.Equal(t, gateway.ModeSPA, hc.Mode)
		assert.Nil(t, hc.ReadVerifier)
		assert.NotNil(t, hc.WriteVerifier)
		assert.Equal(t, int64(10), hc.MaxUploadSize)
	})

	t.Run("bad keys file", func(t *testing.T) {
		cfg := &config.Config{
			Server: config.ServerConfig{Mode: "store"},
			Auth:   config.AuthConfig{Read: "private", Write: "public"},
		}
		cfg.Auth.Keys.File = filepath.Join(t.TempDir(), "missing.json")

		_, err := config.HandlerConfig(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load access keys")
	})
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "key", "value")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "value", rec["key"])
	assert.Contains(t, rec, "ts")
	assert.NotContains(t, rec, "time")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{" WARN ", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"", "INFO"},
		{"chatty", "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, config.ParseLevel(tt.in).String())
		})
	}
}
