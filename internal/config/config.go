package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Version string        `mapstructure:"version" yaml:"version"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Exec    ExecConfig    `mapstructure:"exec" yaml:"exec"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Host      string          `mapstructure:"host" yaml:"host"`
	Port      int             `mapstructure:"port" yaml:"port"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures per-client request throttling.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StorageConfig configures the execution history store.
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// ExecConfig configures the code execution pipeline.
type ExecConfig struct {
	// Backend selects the sandbox engine: "starlark" (in-process) or
	// "subprocess" (separate python3 process).
	Backend    string `mapstructure:"backend" yaml:"backend"`
	PythonPath string `mapstructure:"python_path" yaml:"python_path"`

	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxMemoryMB    int           `mapstructure:"max_memory_mb" yaml:"max_memory_mb"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	MaxSteps       uint64        `mapstructure:"max_steps" yaml:"max_steps"`
	MaxOperations  int           `mapstructure:"max_operations" yaml:"max_operations"`

	AllowedImports   []string `mapstructure:"allowed_imports" yaml:"allowed_imports"`
	ForbiddenImports []string `mapstructure:"forbidden_imports" yaml:"forbidden_imports,omitempty"`

	AllowGetattr  bool `mapstructure:"allow_getattr" yaml:"allow_getattr"`
	RedactOutput  bool `mapstructure:"redact_output" yaml:"redact_output"`
	EnableHistory bool `mapstructure:"enable_history" yaml:"enable_history"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load reads configuration with precedence: env > file > defaults.
// A missing config file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("PYBOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, err
			}
			if !os.IsNotExist(err) {
				var pathErr *os.PathError
				if !errors.As(err, &pathErr) {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the currently loaded configuration.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Get returns an arbitrary configuration value by key.
func Get(key string) any {
	return viper.Get(key)
}

// GetString returns a string configuration value.
func GetString(key string) string {
	return viper.GetString(key)
}

// Set updates a configuration value and persists it when a config file
// path is known.
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)
	if configPath != "" {
		return save()
	}
	return nil
}

// Save persists the current configuration to the loaded config file.
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}

// SaveTo writes a configuration struct to the given path.
func SaveTo(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Reset clears loaded state. Intended for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
