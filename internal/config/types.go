// Package config loads the tiercache daemon's TOML configuration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration accepts Go duration strings ("30s", "5m") or plain integer seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) DurationValue() time.Duration { return time.Duration(d) }

type GlobalConfig struct {
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"` // MB
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	ListenAddr      string   `mapstructure:"ListenAddr"`  // RESP
	MetricsAddr     string   `mapstructure:"MetricsAddr"` // empty disables /metrics
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// MemoryConfig selects the in-process tier.
type MemoryConfig struct {
	Backend    string   `mapstructure:"Backend"` // map | bigcache | ristretto
	Shards     int      `mapstructure:"Shards"`
	MaxSizeMB  int      `mapstructure:"MaxSizeMB"`
	LifeWindow Duration `mapstructure:"LifeWindow"` // bigcache only
}

// RedisConfig enables the optional shared tier when Addr is set.
type RedisConfig struct {
	Addr      string   `mapstructure:"Addr"`
	Password  string   `mapstructure:"Password"`
	DB        int      `mapstructure:"DB"`
	Namespace string   `mapstructure:"Namespace"`
	TTL       Duration `mapstructure:"TTL"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

type PersistentConfig struct {
	Path      string `mapstructure:"Path"`
	SizeLimit int64  `mapstructure:"SizeLimit"` // bytes
}

// OriginConfig enables the HTTP origin tier when BaseURL is set, or when
// AbsoluteKeys allows keys to be full URLs.
type OriginConfig struct {
	BaseURL             string   `mapstructure:"BaseURL"`
	AbsoluteKeys        bool     `mapstructure:"AbsoluteKeys"`
	Timeout             Duration `mapstructure:"Timeout"`
	AllowedContentTypes []string `mapstructure:"AllowedContentTypes"`
	MaxBytes            int64    `mapstructure:"MaxBytes"`
}

func (o OriginConfig) Enabled() bool {
	return strings.TrimSpace(o.BaseURL) != "" || o.AbsoluteKeys
}

type Config struct {
	Global     GlobalConfig     `mapstructure:"Global"`
	Memory     MemoryConfig     `mapstructure:"Memory"`
	Redis      RedisConfig      `mapstructure:"Redis"`
	Persistent PersistentConfig `mapstructure:"Persistent"`
	Origin     OriginConfig     `mapstructure:"Origin"`
}

// FieldError names the offending config key.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}
