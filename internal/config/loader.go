package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the TOML file at path, applies defaults and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "tiercache.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(cfg.Persistent.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve persistent path: %w", err)
	}
	cfg.Persistent.Path = abs
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Global.LogLevel", "info")
	v.SetDefault("Global.LogFilePath", "")
	v.SetDefault("Global.LogMaxSize", 100)
	v.SetDefault("Global.LogMaxBackups", 10)
	v.SetDefault("Global.LogCompress", true)
	v.SetDefault("Global.ListenAddr", "127.0.0.1:6380")
	v.SetDefault("Global.MetricsAddr", "127.0.0.1:9380")
	v.SetDefault("Global.ShutdownTimeout", "10s")

	v.SetDefault("Memory.Backend", "map")
	v.SetDefault("Memory.Shards", 32)
	v.SetDefault("Memory.MaxSizeMB", 256)
	v.SetDefault("Memory.LifeWindow", "10m")

	v.SetDefault("Redis.Namespace", "default")

	v.SetDefault("Persistent.Path", "./data/tiercache.db")
	v.SetDefault("Persistent.SizeLimit", 512*1024*1024)

	v.SetDefault("Origin.Timeout", "30s")
}

func parseDuration(raw string) (Duration, error) {
	if parsed, err := time.ParseDuration(raw); err == nil {
		return Duration(parsed), nil
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(seconds * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %s", raw)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != targetType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			return parseDuration(v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type: %T", v)
		}
	}
}
