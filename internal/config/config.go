// Package config loads runner configuration with the precedence
// defaults < YAML file < environment variables < explicit overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the
// configuration file when no flag is given.
const EnvConfigPath = "MATRIXCI_CONFIG"

// DefaultConfigFile is looked up in the working directory as a last resort.
const DefaultConfigFile = "matrixci.yaml"

// Config is the complete runner configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Runner    RunnerConfig     `yaml:"runner"`
	Cache     CacheConfig      `yaml:"cache"`
	Coverage  CoverageConfig   `yaml:"coverage"`
	Secrets   SecretsConfig    `yaml:"secrets"`
	Logging   LoggingConfig    `yaml:"logging"`
	Reporters []ReporterConfig `yaml:"reporters"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `yaml:"address" env:"MATRIXCI_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"MATRIXCI_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"MATRIXCI_SERVER_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" env:"MATRIXCI_SERVER_ENABLE_CORS"`

	// QueueSize bounds the number of runs waiting for a worker.
	QueueSize int `yaml:"queue_size" env:"MATRIXCI_SERVER_QUEUE_SIZE"`
	// Workers is the number of runs executed concurrently.
	Workers int `yaml:"workers" env:"MATRIXCI_SERVER_WORKERS"`
	// HistoryLimit caps the number of finished runs kept in memory.
	HistoryLimit int `yaml:"history_limit" env:"MATRIXCI_SERVER_HISTORY_LIMIT"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled" env:"MATRIXCI_SERVER_AUTH_ENABLED"`
	APIKey  string `yaml:"api_key" env:"MATRIXCI_SERVER_AUTH_API_KEY"`
}

// RunnerConfig holds job execution configuration.
type RunnerConfig struct {
	// Workspace is the root under which per-job working directories are
	// created.
	Workspace string `yaml:"workspace" env:"MATRIXCI_RUNNER_WORKSPACE"`
	// MaxWorkers is the number of jobs run in parallel, 0 means NumCPU.
	MaxWorkers int `yaml:"max_workers" env:"MATRIXCI_RUNNER_MAX_WORKERS"`
	// JobTimeout applies to jobs that set no timeout-minutes.
	JobTimeout time.Duration `yaml:"job_timeout" env:"MATRIXCI_RUNNER_JOB_TIMEOUT"`
	// Shell is the default shell for run steps.
	Shell string `yaml:"shell" env:"MATRIXCI_RUNNER_SHELL"`
	// KeepWorkspace preserves job directories after successful runs.
	KeepWorkspace bool `yaml:"keep_workspace" env:"MATRIXCI_RUNNER_KEEP_WORKSPACE"`
}

// CacheConfig holds dependency cache configuration.
type CacheConfig struct {
	Dir      string        `yaml:"dir" env:"MATRIXCI_CACHE_DIR"`
	MaxAge   time.Duration `yaml:"max_age" env:"MATRIXCI_CACHE_MAX_AGE"`
	MaxBytes int64         `yaml:"max_bytes" env:"MATRIXCI_CACHE_MAX_BYTES"`
}

// CoverageConfig holds coverage upload configuration.
type CoverageConfig struct {
	URL      string        `yaml:"url" env:"MATRIXCI_COVERAGE_URL"`
	Attempts int           `yaml:"attempts" env:"MATRIXCI_COVERAGE_ATTEMPTS"`
	Backoff  time.Duration `yaml:"backoff" env:"MATRIXCI_COVERAGE_BACKOFF"`
	Timeout  time.Duration `yaml:"timeout" env:"MATRIXCI_COVERAGE_TIMEOUT"`
}

// SecretsConfig holds secret source configuration. Environment secrets with
// the MATRIXCI_SECRET_ prefix are always read; a file adds to them.
type SecretsConfig struct {
	File string `yaml:"file" env:"MATRIXCI_SECRETS_FILE"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"MATRIXCI_LOG_LEVEL"`
	Format     string `yaml:"format" env:"MATRIXCI_LOG_FORMAT"`
	Output     string `yaml:"output" env:"MATRIXCI_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"MATRIXCI_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// ReporterConfig configures one default reporter, used by the server and
// by runs that pass no --out flag.
type ReporterConfig struct {
	Type    string         `yaml:"type"`
	Enabled bool           `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
			QueueSize:    64,
			Workers:      2,
			HistoryLimit: 256,
		},
		Runner: RunnerConfig{
			Workspace:  filepath.Join(os.TempDir(), "matrixci"),
			MaxWorkers: 0,
			JobTimeout: 6 * time.Hour,
		},
		Cache: CacheConfig{
			Dir:    defaultCacheDir(),
			MaxAge: 7 * 24 * time.Hour,
		},
		Coverage: CoverageConfig{
			Attempts: 3,
			Backoff:  2 * time.Second,
			Timeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

func defaultCacheDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "matrixci", "cache")
	}
	return filepath.Join(os.TempDir(), "matrixci-cache")
}

// DiscoverPath resolves the configuration file path: the flag value wins,
// then $MATRIXCI_CONFIG, then ./matrixci.yaml if present. An empty result
// means defaults only.
func DiscoverPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// Loader loads configuration from its sources in precedence order.
type Loader struct {
	configPath string
	overrides  map[string]string
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{overrides: make(map[string]string)}
}

// WithConfigPath sets the YAML configuration file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithOverrides sets explicit overrides keyed by dot path, for example
// "runner.max_workers".
func (l *Loader) WithOverrides(overrides map[string]string) *Loader {
	for k, v := range overrides {
		l.overrides[k] = v
	}
	return l
}

// Load builds the configuration: defaults, then the YAML file, then
// environment variables, then explicit overrides. The result is validated.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	for key, value := range l.overrides {
		if err := l.setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("failed to set config value %s: %w", key, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to fields
// tagged with env.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by dot-notation path. Path
// segments match field names case-insensitively with underscores ignored.
func (l *Loader) setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		normalized := strings.ReplaceAll(part, "_", "")
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, normalized) || strings.EqualFold(name, part)
		})
		if !field.IsValid() {
			return fmt.Errorf("unknown config path: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("config path %s: %s is not a section", path, part)
		}
		v = field
	}
	return nil
}

// setFieldValue sets a reflect.Value from its string representation.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer: %w", err)
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	case reflect.Map:
		if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.String {
			m := make(map[string]string)
			for _, pair := range strings.Split(value, ",") {
				kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
				if len(kv) == 2 {
					m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
				}
			}
			field.Set(reflect.ValueOf(m))
		} else {
			return fmt.Errorf("unsupported map type")
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}
