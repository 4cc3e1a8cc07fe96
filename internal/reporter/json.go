package reporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// JSONConfig holds configuration for the JSON file reporter.
type JSONConfig struct {
	// Path is the output file path.
	Path string `yaml:"path"`
	// Pretty enables indented output.
	Pretty bool `yaml:"pretty"`
}

// DefaultJSONConfig returns the default JSON reporter configuration.
func DefaultJSONConfig() *JSONConfig {
	return &JSONConfig{Pretty: true}
}

// JSONReporter writes the full run report to a file. The file is written
// atomically, a later report for the same path replaces the earlier one.
type JSONReporter struct {
	config *JSONConfig

	mu          sync.Mutex
	initialized bool
}

// NewJSONReporter creates a JSON reporter.
func NewJSONReporter(config *JSONConfig) *JSONReporter {
	if config == nil {
		config = DefaultJSONConfig()
	}
	return &JSONReporter{config: config}
}

// NewJSONFactory returns the factory for JSON reporters.
func NewJSONFactory() Factory {
	return func(config map[string]any) (Reporter, error) {
		cfg := DefaultJSONConfig()
		if config != nil {
			if v, ok := config["path"].(string); ok {
				cfg.Path = v
			}
			if v, ok := config["pretty"].(bool); ok {
				cfg.Pretty = v
			}
		}
		return NewJSONReporter(cfg), nil
	}
}

// Name returns the reporter name.
func (r *JSONReporter) Name() string {
	return string(TypeJSON)
}

// Init validates the configuration and creates the output directory.
func (r *JSONReporter) Init(ctx context.Context, config map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return fmt.Errorf("reporter already initialized")
	}
	if r.config.Path == "" {
		return fmt.Errorf("json reporter requires a path")
	}
	if dir := filepath.Dir(r.config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	r.initialized = true
	return nil
}

// Report writes the run report to the configured path.
func (r *JSONReporter) Report(ctx context.Context, report *types.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("reporter not initialized")
	}

	var (
		data []byte
		err  error
	)
	if r.config.Pretty {
		data, err = jsonutil.MarshalIndent(report)
	} else {
		data, err = jsonutil.Marshal(report)
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	tmp := r.config.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, r.config.Path); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	return nil
}

// Flush flushes any buffered data.
func (r *JSONReporter) Flush(ctx context.Context) error {
	// Reports are written whole in Report, nothing to flush
	return nil
}

// Close closes the reporter.
func (r *JSONReporter) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = false
	return nil
}

// Path returns the output file path.
func (r *JSONReporter) Path() string {
	return r.config.Path
}
