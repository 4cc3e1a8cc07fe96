package reporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// WebhookConfig holds configuration for the webhook reporter.
type WebhookConfig struct {
	// URL is the webhook endpoint.
	URL string `yaml:"url"`
	// Method is the HTTP method to use.
	Method string `yaml:"method"`
	// Headers are additional request headers.
	Headers map[string]string `yaml:"headers"`
	// Attempts is the total number of delivery attempts.
	Attempts int `yaml:"attempts"`
	// RetryDelay is the base delay between attempts, scaled by the
	// attempt number.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultWebhookConfig returns the default webhook reporter configuration.
func DefaultWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		Method:     http.MethodPost,
		Headers:    make(map[string]string),
		Attempts:   3,
		RetryDelay: 2 * time.Second,
		Timeout:    10 * time.Second,
	}
}

// WebhookReporter delivers the run report to an HTTP endpoint.
type WebhookReporter struct {
	config     *WebhookConfig
	httpClient *http.Client

	mu          sync.Mutex
	initialized bool
}

// NewWebhookReporter creates a webhook reporter.
func NewWebhookReporter(config *WebhookConfig) *WebhookReporter {
	if config == nil {
		config = DefaultWebhookConfig()
	}
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	if config.Attempts < 1 {
		config.Attempts = 1
	}
	return &WebhookReporter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// NewWebhookFactory returns the factory for webhook reporters.
func NewWebhookFactory() Factory {
	return func(config map[string]any) (Reporter, error) {
		cfg := DefaultWebhookConfig()
		if config != nil {
			if v, ok := config["url"].(string); ok {
				cfg.URL = v
			}
			if v, ok := config["method"].(string); ok {
				cfg.Method = v
			}
			if v, ok := config["headers"].(map[string]any); ok {
				for k, val := range v {
					if s, ok := val.(string); ok {
						cfg.Headers[k] = s
					}
				}
			}
			if v, ok := config["attempts"].(int); ok {
				cfg.Attempts = v
			}
			if v, ok := config["retry_delay"].(string); ok {
				if d, err := time.ParseDuration(v); err == nil {
					cfg.RetryDelay = d
				}
			}
			if v, ok := config["timeout"].(string); ok {
				if d, err := time.ParseDuration(v); err == nil {
					cfg.Timeout = d
				}
			}
		}
		return NewWebhookReporter(cfg), nil
	}
}

// Name returns the reporter name.
func (r *WebhookReporter) Name() string {
	return string(TypeWebhook)
}

// Init validates the configuration.
func (r *WebhookReporter) Init(ctx context.Context, config map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return fmt.Errorf("reporter already initialized")
	}
	if r.config.URL == "" {
		return fmt.Errorf("webhook reporter requires a url")
	}
	r.initialized = true
	return nil
}

// Report posts the run report, retrying transient failures.
func (r *WebhookReporter) Report(ctx context.Context, report *types.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("reporter not initialized")
	}

	data, err := jsonutil.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return r.sendWithRetry(ctx, data)
}

// Flush flushes any buffered data.
func (r *WebhookReporter) Flush(ctx context.Context) error {
	// Reports are delivered synchronously, nothing to flush
	return nil
}

// Close closes the reporter.
func (r *WebhookReporter) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.initialized = false
	r.httpClient.CloseIdleConnections()
	return nil
}

func (r *WebhookReporter) sendWithRetry(ctx context.Context, data []byte) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.config.RetryDelay * time.Duration(attempt-1)):
			}
		}

		err := r.send(ctx, data)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", r.config.Attempts, lastErr)
}

func (r *WebhookReporter) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, r.config.Method, r.config.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
