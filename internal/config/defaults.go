package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers default values for every configuration key.
func SetDefaults() {
	// Gateway
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.port", 8080)
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 60)
	viper.SetDefault("gateway.rate_limit.burst", 10)
	viper.SetDefault("gateway.rate_limit.cleanup_interval", 5*time.Minute)

	// Log
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	// Storage
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.path", "")

	// Exec pipeline. Secure defaults: short leash, tiny import surface,
	// redaction on.
	viper.SetDefault("exec.backend", "starlark")
	viper.SetDefault("exec.python_path", "")
	viper.SetDefault("exec.timeout", 30*time.Second)
	viper.SetDefault("exec.max_memory_mb", 512)
	viper.SetDefault("exec.max_output_bytes", 1024*1024)
	viper.SetDefault("exec.max_steps", uint64(10_000_000))
	viper.SetDefault("exec.max_operations", 5000)
	viper.SetDefault("exec.allowed_imports", []string{"math", "json", "time"})
	viper.SetDefault("exec.forbidden_imports", []string{})
	viper.SetDefault("exec.allow_getattr", false)
	viper.SetDefault("exec.redact_output", true)
	viper.SetDefault("exec.enable_history", true)
}
