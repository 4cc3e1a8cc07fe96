package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecretsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileProvider(t *testing.T) {
	path := writeSecretsFile(t, `
CODECOV_TOKEN: tok-12345
WEBHOOK_URL: https://hooks.example.com/ci
PORT: 8080
`)

	p, err := NewFileProvider(path)
	require.NoError(t, err)

	v, ok := p.Get("CODECOV_TOKEN")
	assert.True(t, ok)
	assert.Equal(t, "tok-12345", v)

	// Scalars keep their literal spelling.
	v, ok = p.Get("PORT")
	assert.True(t, ok)
	assert.Equal(t, "8080", v)

	_, ok = p.Get("MISSING")
	assert.False(t, ok)

	assert.Equal(t, []string{"CODECOV_TOKEN", "PORT", "WEBHOOK_URL"}, p.Names())
}

func TestFileProviderErrors(t *testing.T) {
	_, err := NewFileProvider(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read secrets file")

	path := writeSecretsFile(t, "- not\n- a\n- mapping\n")
	_, err = NewFileProvider(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse secrets file")
}

func TestEnvProvider(t *testing.T) {
	t.Setenv(EnvPrefix+"API_KEY", "env-value-9")

	p := NewEnvProvider()

	v, ok := p.Get("API_KEY")
	assert.True(t, ok)
	assert.Equal(t, "env-value-9", v)

	_, ok = p.Get("OTHER")
	assert.False(t, ok)

	assert.Contains(t, p.Names(), "API_KEY")
}

func TestChain(t *testing.T) {
	path := writeSecretsFile(t, "SHARED: from-file\nFILE_ONLY: file-value\n")
	file, err := NewFileProvider(path)
	require.NoError(t, err)

	t.Setenv(EnvPrefix+"SHARED", "from-env")
	t.Setenv(EnvPrefix+"ENV_ONLY", "env-value")

	chain := NewChain(file, NewEnvProvider())

	// First provider wins.
	v, ok := chain.Get("SHARED")
	assert.True(t, ok)
	assert.Equal(t, "from-file", v)

	v, ok = chain.Get("ENV_ONLY")
	assert.True(t, ok)
	assert.Equal(t, "env-value", v)

	v, ok = chain.Get("MISSING")
	assert.False(t, ok)
	assert.Empty(t, v)

	names := chain.Names()
	assert.Contains(t, names, "SHARED")
	assert.Contains(t, names, "FILE_ONLY")
	assert.Contains(t, names, "ENV_ONLY")

	ctx := chain.ContextMap()
	assert.Equal(t, "from-file", ctx["SHARED"])
	assert.Equal(t, "env-value", ctx["ENV_ONLY"])

	assert.Contains(t, chain.Values(), "file-value")
}

func TestMasker(t *testing.T) {
	m := NewMasker("tok-12345", "abc")

	// Values shorter than MinMaskLength stay visible.
	assert.Equal(t, "prefix abc suffix", m.Redact("prefix abc suffix"))
	assert.Equal(t, "token: ***", m.Redact("token: tok-12345"))
	assert.Equal(t, "*** and ***", m.Redact("tok-12345 and tok-12345"))
	assert.Equal(t, "clean line", m.Redact("clean line"))
}

func TestMaskerLongestFirst(t *testing.T) {
	m := NewMasker("secret", "secret-extended")

	assert.Equal(t, "a *** b", m.Redact("a secret-extended b"))
	assert.Equal(t, "a *** b", m.Redact("a secret b"))
}

func TestMaskerConcurrentAdd(t *testing.T) {
	m := NewMasker()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			m.Add("concurrent-value")
		}
	}()
	for i := 0; i < 100; i++ {
		m.Redact("line with concurrent-value inside")
	}
	<-done

	assert.Equal(t, "line with *** inside", m.Redact("line with concurrent-value inside"))
}
