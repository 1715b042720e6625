package config

import (
	"net"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", err.Error())
	}
	if _, _, err := net.SplitHostPort(c.Global.ListenAddr); err != nil {
		return newFieldError("Global.ListenAddr", err.Error())
	}
	if c.Global.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.Global.MetricsAddr); err != nil {
			return newFieldError("Global.MetricsAddr", err.Error())
		}
	}
	if c.Global.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownTimeout", "must be positive")
	}

	switch strings.ToLower(c.Memory.Backend) {
	case "map", "bigcache", "ristretto":
		c.Memory.Backend = strings.ToLower(c.Memory.Backend)
	default:
		return newFieldError("Memory.Backend", "must be one of map, bigcache, ristretto")
	}
	if c.Memory.Backend != "map" && c.Memory.MaxSizeMB <= 0 {
		return newFieldError("Memory.MaxSizeMB", "must be positive for bounded backends")
	}

	if c.Redis.Enabled() && c.Redis.TTL.DurationValue() < 0 {
		return newFieldError("Redis.TTL", "must not be negative")
	}

	if strings.TrimSpace(c.Persistent.Path) == "" {
		return newFieldError("Persistent.Path", "is required")
	}
	if c.Persistent.SizeLimit <= 0 {
		return newFieldError("Persistent.SizeLimit", "must be positive")
	}

	if c.Origin.BaseURL != "" {
		u, err := url.Parse(c.Origin.BaseURL)
		if err != nil || !u.IsAbs() {
			return newFieldError("Origin.BaseURL", "must be an absolute URL")
		}
	}
	if c.Origin.MaxBytes < 0 {
		return newFieldError("Origin.MaxBytes", "must not be negative")
	}
	return nil
}
