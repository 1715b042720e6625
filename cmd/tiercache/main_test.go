package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache/internal/config"
)

func useBufferWriters(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prevOut, prevErr := stdOut, stdErr
	out, errb := &bytes.Buffer{}, &bytes.Buffer{}
	stdOut, stdErr = out, errb
	t.Cleanup(func() { stdOut, stdErr = prevOut, prevErr })
	return out, errb
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiercache.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("TIERCACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.toml", opts.configPath)

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "--check-config"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag.toml", opts.configPath)
	assert.True(t, opts.checkOnly)

	t.Setenv("TIERCACHE_CONFIG", "")
	opts, err = parseCLIFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "tiercache.toml", opts.configPath)

	_, err = parseCLIFlags([]string{"--nope"})
	assert.Error(t, err)
}

func TestRunVersionOutput(t *testing.T) {
	out, _ := useBufferWriters(t)
	assert.Equal(t, 0, run(context.Background(), cliOptions{showVersion: true}))
	assert.Contains(t, out.String(), "tiercache")
}

func TestRunCheckConfig(t *testing.T) {
	useBufferWriters(t)
	dir := t.TempDir()
	path := writeConfig(t, `
[Global]
LogLevel = "warn"

[Persistent]
Path = "`+filepath.Join(dir, "cache.db")+`"
`)
	assert.Equal(t, 0, run(context.Background(), cliOptions{configPath: path, checkOnly: true}))
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errb := useBufferWriters(t)
	code := run(context.Background(), cliOptions{configPath: filepath.Join(t.TempDir(), "missing.toml"), checkOnly: true})
	assert.NotEqual(t, 0, code)
	assert.Contains(t, errb.String(), "load config")
}

func TestBuildLayers_DefaultStack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := &config.Config{
		Memory:     config.MemoryConfig{Backend: "map", Shards: 4},
		Persistent: config.PersistentConfig{Path: filepath.Join(dir, "cache.db"), SizeLimit: 1 << 20},
		Origin:     config.OriginConfig{BaseURL: "http://127.0.0.1:1/"},
	}
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	layers, err := buildLayers(ctx, cfg, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { closeLayers(context.Background(), layers, logger) })

	var names []string
	for _, l := range layers {
		names = append(names, l.Name())
	}
	assert.Equal(t, []string{"memory", "sqlite", "origin"}, names)
}

func TestBuildMemoryBackends(t *testing.T) {
	for _, backend := range []string{"map", "bigcache", "ristretto"} {
		t.Run(backend, func(t *testing.T) {
			l, err := buildMemory(config.MemoryConfig{Backend: backend, Shards: 8, MaxSizeMB: 4})
			require.NoError(t, err)
			assert.Equal(t, backend == "map", l.Name() == "memory")
			require.NoError(t, l.Close(context.Background()))
		})
	}
}
