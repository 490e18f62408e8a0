package config

import (
	"time"

	"github.com/spf13/viper"
)

// ApplyDefaults registers every key with its default so environment
// variables can override keys absent from the file.
func ApplyDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.name", "Lumen/1.0")
	v.SetDefault("server.threads", 32)
	v.SetDefault("server.queue_size", 2000)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 2*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.max_connections", 10000)
	v.SetDefault("server.accept_rate", 0.0)
	v.SetDefault("server.accept_burst", 0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.stats_path", "")

	v.SetDefault("paths.content_dir", "content")
	v.SetDefault("paths.theme_dir", "themes/default")
	v.SetDefault("paths.fallback_404", "404")

	v.SetDefault("security.x_frame_options", "DENY")
	v.SetDefault("security.x_content_type_options", "nosniff")
	v.SetDefault("security.content_security_policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; media-src 'self'")
	v.SetDefault("security.cors_allow_origin", "*")

	v.SetDefault("performance.connection_buffer_size", "64KiB")
	v.SetDefault("performance.max_request_line", "8KiB")
	v.SetDefault("performance.max_header_line", "8KiB")
	v.SetDefault("performance.max_headers", 100)
	v.SetDefault("performance.max_body", "1MiB")
	v.SetDefault("performance.cache_enabled", true)
	v.SetDefault("performance.cache_shards", 16)
	v.SetDefault("performance.shard_capacity", "4MiB")
	v.SetDefault("performance.stream_threshold", "256KiB")
	v.SetDefault("performance.chunk_size", "64KiB")
	v.SetDefault("performance.gc_percent", 0)

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_path", "")
	v.SetDefault("tls.key_path", "")

	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9090")
}
