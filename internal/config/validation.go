package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError is one invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid value found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors reports whether any validation error was recorded.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration and returns every problem found.
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate checks the whole configuration and returns every problem found.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateServer(&cfg.Server)
	v.validateRunner(&cfg.Runner)
	v.validateCache(&cfg.Cache)
	v.validateCoverage(&cfg.Coverage)
	v.validateLogging(&cfg.Logging)
	v.validateReporters(cfg.Reporters)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Address == "" {
		v.addError("server.address", "address is required")
	} else if !isValidAddress(cfg.Address) {
		v.addError("server.address", "invalid address format, expected host:port or :port")
	}

	if cfg.ReadTimeout < 0 {
		v.addError("server.read_timeout", "read timeout must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("server.write_timeout", "write timeout must be non-negative")
	}
	if cfg.QueueSize <= 0 {
		v.addError("server.queue_size", "queue size must be positive")
	}
	if cfg.Workers <= 0 {
		v.addError("server.workers", "workers must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		v.addError("server.history_limit", "history limit must be positive")
	}
	if cfg.Auth.Enabled && cfg.Auth.APIKey == "" {
		v.addError("server.auth.api_key", "api key is required when auth is enabled")
	}
}

func (v *Validator) validateRunner(cfg *RunnerConfig) {
	if cfg.Workspace == "" {
		v.addError("runner.workspace", "workspace is required")
	}
	if cfg.MaxWorkers < 0 {
		v.addError("runner.max_workers", "max workers must be non-negative, 0 means NumCPU")
	}
	if cfg.JobTimeout <= 0 {
		v.addError("runner.job_timeout", "job timeout must be positive")
	}
}

func (v *Validator) validateCache(cfg *CacheConfig) {
	if cfg.Dir == "" {
		v.addError("cache.dir", "cache directory is required")
	}
	if cfg.MaxAge < 0 {
		v.addError("cache.max_age", "max age must be non-negative")
	}
	if cfg.MaxBytes < 0 {
		v.addError("cache.max_bytes", "max bytes must be non-negative")
	}
}

func (v *Validator) validateCoverage(cfg *CoverageConfig) {
	if cfg.Attempts < 1 {
		v.addError("coverage.attempts", "attempts must be at least 1")
	}
	if cfg.Backoff < 0 {
		v.addError("coverage.backoff", "backoff must be non-negative")
	}
	if cfg.Timeout <= 0 {
		v.addError("coverage.timeout", "timeout must be positive")
	}
}

func (v *Validator) validateLogging(cfg *LoggingConfig) {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if cfg.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level %q, must be one of: debug, info, warn, error", cfg.Level))
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if cfg.Format != "" && !validFormats[strings.ToLower(cfg.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format %q, must be one of: json, console", cfg.Format))
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"file":   true,
		"both":   true,
	}
	if cfg.Output != "" && !validOutputs[strings.ToLower(cfg.Output)] {
		v.addError("logging.output", fmt.Sprintf("invalid log output %q, must be one of: stdout, file, both", cfg.Output))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath == "" {
		v.addError("logging.file_path", "file path is required for file output")
	}
}

func (v *Validator) validateReporters(reporters []ReporterConfig) {
	validTypes := map[string]bool{
		"console": true,
		"json":    true,
		"webhook": true,
	}
	for i, rep := range reporters {
		field := fmt.Sprintf("reporters[%d]", i)
		if !validTypes[rep.Type] {
			v.addError(field+".type", fmt.Sprintf("invalid reporter type %q, must be one of: console, json, webhook", rep.Type))
			continue
		}
		if !rep.Enabled {
			continue
		}
		switch rep.Type {
		case "webhook":
			if s, _ := rep.Config["url"].(string); s == "" {
				v.addError(field+".config.url", "webhook reporter requires a url")
			}
		case "json":
			if s, _ := rep.Config["path"].(string); s == "" {
				v.addError(field+".config.path", "json reporter requires a path")
			}
		}
	}
}

// isValidAddress checks host:port shape, empty host allowed.
func isValidAddress(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	return port != ""
}
