package executor

import (
	"context"
	"time"
)

// BaseExecutor provides the shared Type/Init/Cleanup plumbing and typed
// access to the init config.
type BaseExecutor struct {
	execType string
	config   map[string]any
}

// NewBaseExecutor creates a BaseExecutor for the given type.
func NewBaseExecutor(execType string) *BaseExecutor {
	return &BaseExecutor{
		execType: execType,
		config:   make(map[string]any),
	}
}

// Type returns the executor type.
func (b *BaseExecutor) Type() string {
	return b.execType
}

// Init stores the executor configuration.
func (b *BaseExecutor) Init(ctx context.Context, config map[string]any) error {
	if config != nil {
		b.config = config
	}
	return nil
}

// Cleanup releases nothing by default.
func (b *BaseExecutor) Cleanup(ctx context.Context) error {
	return nil
}

// GetConfigString returns a string config value or the default.
func (b *BaseExecutor) GetConfigString(key string, defaultVal string) string {
	if val, ok := b.config[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetConfigInt returns an integer config value or the default.
func (b *BaseExecutor) GetConfigInt(key string, defaultVal int) int {
	if val, ok := b.config[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return defaultVal
}

// GetConfigBool returns a boolean config value or the default.
func (b *BaseExecutor) GetConfigBool(key string, defaultVal bool) bool {
	if val, ok := b.config[key]; ok {
		if v, ok := val.(bool); ok {
			return v
		}
	}
	return defaultVal
}

// GetConfigDuration returns a duration config value or the default. Strings
// are parsed with time.ParseDuration, bare numbers are milliseconds.
func (b *BaseExecutor) GetConfigDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := b.config[key]; ok {
		switch v := val.(type) {
		case time.Duration:
			return v
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		case int:
			return time.Duration(v) * time.Millisecond
		case int64:
			return time.Duration(v) * time.Millisecond
		case float64:
			return time.Duration(v) * time.Millisecond
		}
	}
	return defaultVal
}
