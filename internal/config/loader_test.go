package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiercache.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[Global]\nLogLevel = \"debug\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, "127.0.0.1:6380", cfg.Global.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Global.ShutdownTimeout.DurationValue())
	assert.Equal(t, "map", cfg.Memory.Backend)
	assert.Equal(t, int64(512*1024*1024), cfg.Persistent.SizeLimit)
	assert.True(t, filepath.IsAbs(cfg.Persistent.Path))
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Origin.Enabled())
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[Global]
ListenAddr = "0.0.0.0:7000"
MetricsAddr = ""
ShutdownTimeout = 3

[Memory]
Backend = "Ristretto"
MaxSizeMB = 64

[Redis]
Addr = "localhost:6379"
Namespace = "images"
TTL = "1h"

[Persistent]
Path = "/var/lib/tiercache/cache.db"
SizeLimit = 1000

[Origin]
BaseURL = "https://cdn.example.com/"
Timeout = "5s"
AllowedContentTypes = ["image/png", "image/*"]
MaxBytes = 1048576
`))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Global.ShutdownTimeout.DurationValue())
	assert.Equal(t, "ristretto", cfg.Memory.Backend)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, time.Hour, cfg.Redis.TTL.DurationValue())
	assert.Equal(t, "/var/lib/tiercache/cache.db", cfg.Persistent.Path)
	assert.True(t, cfg.Origin.Enabled())
	assert.Equal(t, 5*time.Second, cfg.Origin.Timeout.DurationValue())
	assert.Equal(t, []string{"image/png", "image/*"}, cfg.Origin.AllowedContentTypes)
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]struct {
		body  string
		field string
	}{
		"bad level":    {"[Global]\nLogLevel = \"loud\"\n", "Global.LogLevel"},
		"bad backend":  {"[Memory]\nBackend = \"lru\"\n", "Memory.Backend"},
		"zero limit":   {"[Persistent]\nSizeLimit = 0\n", "Persistent.SizeLimit"},
		"relative url": {"[Origin]\nBaseURL = \"cdn/images\"\n", "Origin.BaseURL"},
		"bad listen":   {"[Global]\nListenAddr = \"nope\"\n", "Global.ListenAddr"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			var fe FieldError
			require.True(t, errors.As(err, &fe), "want FieldError, got %v", err)
			assert.Equal(t, tc.field, fe.Field)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90")))
	assert.Equal(t, 90*time.Second, d.DurationValue())
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, d.DurationValue())
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
