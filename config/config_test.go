package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lumen.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "Lumen/1.0", cfg.Server.Name)
	assert.Equal(t, 32, cfg.Server.Threads)
	assert.Equal(t, 2000, cfg.Server.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, "content", cfg.Paths.ContentDir)
	assert.Equal(t, "DENY", cfg.Security.XFrameOptions)
	assert.Equal(t, ByteSize(64<<10), cfg.Performance.ConnectionBufferSize)
	assert.Equal(t, ByteSize(4<<20), cfg.Performance.ShardCapacity)
	assert.True(t, cfg.Performance.CacheEnabled)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000
threads = 4
read_timeout = "3s"
stats_path = "/_stats"

[paths]
content_dir = "site"
fallback_404 = "<h1>gone</h1>"

[performance]
connection_buffer_size = 16384
shard_capacity = "1 MiB"
cache_enabled = false
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.Threads)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/_stats", cfg.Server.StatsPath)
	assert.Equal(t, "site", cfg.Paths.ContentDir)
	assert.Equal(t, "<h1>gone</h1>", cfg.Paths.Fallback404)
	assert.Equal(t, ByteSize(16384), cfg.Performance.ConnectionBufferSize)
	assert.Equal(t, ByteSize(1<<20), cfg.Performance.ShardCapacity)
	assert.False(t, cfg.Performance.CacheEnabled)
	// Untouched keys keep their defaults.
	assert.Equal(t, 2000, cfg.Server.QueueSize)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
}

func TestLoad_LegacyKeys(t *testing.T) {
	path := writeConfig(t, `
[server]
read_timeout_secs = 7
write_timeout_secs = 9

[paths]
theme_file = "themes/classic/index.html"

[performance]
enable_caching = false
max_cache_items = 1024
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 9*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "themes/classic", cfg.Paths.ThemeDir)
	assert.False(t, cfg.Performance.CacheEnabled)
}

func TestLoad_EnvAndOverrides(t *testing.T) {
	t.Setenv("LUMEN_SERVER_PORT", "7000")
	t.Setenv("LUMEN_PERFORMANCE_CHUNK_SIZE", "32KiB")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, ByteSize(32<<10), cfg.Performance.ChunkSize)

	cfg, err = Load(filepath.Join(t.TempDir(), "absent.toml"), map[string]any{
		"server.port":               7100,
		"performance.cache_enabled": false,
	})
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port)
	assert.False(t, cfg.Performance.CacheEnabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"threads", "[server]\nthreads = 0\n", "Threads"},
		{"port", "[server]\nport = 70000\n", "Port"},
		{"tls without cert", "[tls]\nenabled = true\n", "CertPath"},
		{"stats path", "[server]\nstats_path = \"stats\"\n", "StatsPath"},
		{"log level", "[logging]\nlevel = \"loud\"\n", "Level"},
		{"byte size", "[performance]\nchunk_size = \"lots\"\n", `"lots"`},
		{"syntax", "[server\n", "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "64 KiB", ByteSize(64<<10).String())
	assert.Equal(t, 1024, ByteSize(1024).Int())
}
