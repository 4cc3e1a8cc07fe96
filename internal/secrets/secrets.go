// Package secrets loads workflow secrets from files and the environment and
// masks their values in runner output.
package secrets

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zacharyburnett/matrixci/pkg/logger"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// EnvPrefix marks environment variables that carry secrets.
const EnvPrefix = "MATRIXCI_SECRET_"

// Provider resolves secret names to values.
type Provider interface {
	// Get returns the secret value and whether the name is known.
	Get(name string) (string, bool)

	// Names returns the known secret names.
	Names() []string
}

// FileProvider serves secrets from a flat YAML mapping.
type FileProvider struct {
	values map[string]string
}

// NewFileProvider loads a secrets file. Scalar values are coerced to their
// literal spelling, so unquoted tokens survive as written.
func NewFileProvider(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}
	var values types.StringMap
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file %s: %w", path, err)
	}
	return &FileProvider{values: values}, nil
}

// Get implements Provider.
func (p *FileProvider) Get(name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Names implements Provider.
func (p *FileProvider) Names() []string {
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnvProvider serves secrets from MATRIXCI_SECRET_* environment variables.
// The secret name is the variable name with the prefix stripped.
type EnvProvider struct{}

// NewEnvProvider creates an EnvProvider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Get implements Provider.
func (p *EnvProvider) Get(name string) (string, bool) {
	return os.LookupEnv(EnvPrefix + name)
}

// Names implements Provider.
func (p *EnvProvider) Names() []string {
	var names []string
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, EnvPrefix) {
			continue
		}
		name, _, ok := strings.Cut(strings.TrimPrefix(entry, EnvPrefix), "=")
		if ok && name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Chain resolves secrets through an ordered provider list, first hit wins.
// A miss resolves to the empty string and is warned about once per name.
type Chain struct {
	providers []Provider

	mu     sync.Mutex
	warned map[string]bool
}

// NewChain creates a provider chain.
func NewChain(providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		warned:    make(map[string]bool),
	}
}

// Get implements Provider. Unknown names return "" and log a warning the
// first time they are requested.
func (c *Chain) Get(name string) (string, bool) {
	for _, p := range c.providers {
		if v, ok := p.Get(name); ok {
			return v, true
		}
	}

	c.mu.Lock()
	first := !c.warned[name]
	c.warned[name] = true
	c.mu.Unlock()
	if first {
		logger.Warn("secret is not defined, using empty value", zap.String("secret", name))
	}
	return "", false
}

// Names implements Provider, merging all providers without duplicates.
func (c *Chain) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range c.providers {
		for _, name := range p.Names() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// ContextMap builds the secrets expression context.
func (c *Chain) ContextMap() map[string]any {
	ctx := make(map[string]any)
	for _, name := range c.Names() {
		if v, ok := c.Get(name); ok {
			ctx[name] = v
		}
	}
	return ctx
}

// Values returns every known secret value, for seeding a Masker.
func (c *Chain) Values() []string {
	values := make([]string, 0)
	for _, name := range c.Names() {
		if v, ok := c.Get(name); ok && v != "" {
			values = append(values, v)
		}
	}
	return values
}
