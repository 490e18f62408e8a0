// Package config loads the server configuration from a TOML file, LUMEN_*
// environment variables and built-in defaults, in increasing order of
// precedence: defaults, file, environment, explicit overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "lumen.toml"

// Config is the full server configuration. It is immutable after Load.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Paths       PathsConfig       `mapstructure:"paths"`
	Security    SecurityConfig    `mapstructure:"security"`
	Performance PerformanceConfig `mapstructure:"performance"`
	TLS         TLSConfig         `mapstructure:"tls"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig controls the listener, the worker pool and connection
// lifetimes.
type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	// Name is sent in the Server header.
	Name string `mapstructure:"name"`

	Threads   int `mapstructure:"threads" validate:"gte=1"`
	QueueSize int `mapstructure:"queue_size" validate:"gte=1"`

	// ReadTimeout bounds the wait for the first request on a connection.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	// IdleTimeout bounds the wait for the next request on a kept-alive
	// connection.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	// RequestTimeout is the absolute time allowed to receive one request.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	MaxConnections int `mapstructure:"max_connections" validate:"gte=0"`
	// AcceptRate is connections per second; zero disables rate limiting.
	AcceptRate  float64 `mapstructure:"accept_rate" validate:"gte=0"`
	AcceptBurst int     `mapstructure:"accept_burst" validate:"gte=0"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// StatsPath serves a JSON snapshot of engine counters; empty disables it.
	StatsPath string `mapstructure:"stats_path" validate:"omitempty,startswith=/"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PathsConfig locates content and theme files.
type PathsConfig struct {
	ContentDir string `mapstructure:"content_dir" validate:"required"`
	ThemeDir   string `mapstructure:"theme_dir"`
	// Fallback404 is the 404 body, HTML when it starts with '<'.
	Fallback404 string `mapstructure:"fallback_404"`
}

// SecurityConfig holds headers sent with every response. Empty values are
// omitted.
type SecurityConfig struct {
	XFrameOptions         string `mapstructure:"x_frame_options"`
	XContentTypeOptions   string `mapstructure:"x_content_type_options"`
	ContentSecurityPolicy string `mapstructure:"content_security_policy"`
	CORSAllowOrigin       string `mapstructure:"cors_allow_origin"`
}

// PerformanceConfig tunes buffers, parser limits and the page cache.
type PerformanceConfig struct {
	ConnectionBufferSize ByteSize `mapstructure:"connection_buffer_size" validate:"gte=512"`
	MaxRequestLine       ByteSize `mapstructure:"max_request_line" validate:"gte=64"`
	MaxHeaderLine        ByteSize `mapstructure:"max_header_line" validate:"gte=64"`
	MaxHeaders           int      `mapstructure:"max_headers" validate:"gte=1"`
	MaxBody              ByteSize `mapstructure:"max_body" validate:"gte=0"`

	CacheEnabled  bool     `mapstructure:"cache_enabled"`
	CacheShards   int      `mapstructure:"cache_shards" validate:"gte=1,lte=4096"`
	ShardCapacity ByteSize `mapstructure:"shard_capacity" validate:"gte=1"`

	// StreamThreshold is the body size above which payloads are streamed
	// in chunks instead of written in one call.
	StreamThreshold ByteSize `mapstructure:"stream_threshold" validate:"gte=0"`
	ChunkSize       ByteSize `mapstructure:"chunk_size" validate:"gte=512"`

	// GCPercent is applied with debug.SetGCPercent; zero keeps the runtime
	// default.
	GCPercent int `mapstructure:"gc_percent" validate:"gte=-1"`
}

// TLSConfig enables TLS termination on the listener.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertPath string `mapstructure:"cert_path" validate:"required_if=Enabled true"`
	KeyPath  string `mapstructure:"key_path" validate:"required_if=Enabled true"`
}

// LoggingConfig sets the minimum log level.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

// MetricsConfig exposes Prometheus metrics on a separate listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// Load reads path (DefaultPath when empty) and returns a validated
// configuration. A missing file is not an error; defaults apply.
// overrides are dotted keys ("server.port") set with the highest
// precedence, typically from command-line flags.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	ApplyDefaults(v)

	v.SetEnvPrefix("LUMEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	applyLegacyKeys(v)

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	ApplyDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// applyLegacyKeys maps keys written by earlier releases onto their
// current names unless the current name is set explicitly.
func applyLegacyKeys(v *viper.Viper) {
	seconds := map[string]string{
		"server.read_timeout_secs":  "server.read_timeout",
		"server.write_timeout_secs": "server.write_timeout",
	}
	for old, cur := range seconds {
		if v.InConfig(old) && !v.InConfig(cur) {
			v.Set(cur, time.Duration(v.GetInt64(old))*time.Second)
		}
	}
	if v.InConfig("performance.enable_caching") && !v.InConfig("performance.cache_enabled") {
		v.Set("performance.cache_enabled", v.GetBool("performance.enable_caching"))
	}
	if v.InConfig("paths.theme_file") && !v.InConfig("paths.theme_dir") {
		file := v.GetString("paths.theme_file")
		if i := strings.LastIndexAny(file, `/\`); i >= 0 {
			v.Set("paths.theme_dir", file[:i])
		}
	}
}
