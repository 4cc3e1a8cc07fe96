package secrets

import (
	"sort"
	"strings"
	"sync"
)

// MinMaskLength is the shortest secret value the masker will redact.
// Masking shorter values would blank out ordinary words.
const MinMaskLength = 4

// Mask replaces a redacted secret value in output.
const Mask = "***"

// Masker redacts secret values from lines of output. Adding values is safe
// while other goroutines are masking.
type Masker struct {
	mu     sync.RWMutex
	values []string
}

// NewMasker creates a Masker seeded with the given values.
func NewMasker(values ...string) *Masker {
	m := &Masker{}
	m.Add(values...)
	return m
}

// Add registers secret values to redact. Values shorter than MinMaskLength
// are ignored.
func (m *Masker) Add(values ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		if len(v) < MinMaskLength {
			continue
		}
		if !contains(m.values, v) {
			m.values = append(m.values, v)
		}
	}
	// Longest first, so a secret that contains another is redacted whole.
	sort.Slice(m.values, func(i, j int) bool {
		return len(m.values[i]) > len(m.values[j])
	})
}

// Redact replaces every registered secret value in s.
func (m *Masker) Redact(s string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.values {
		s = strings.ReplaceAll(s, v, Mask)
	}
	return s
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
