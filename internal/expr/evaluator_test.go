package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ciContext() *Context {
	return NewContext().
		WithValue("matrix", map[string]any{"python": "3.10", "os": "ubuntu-22.04", "numpy": "1.22.*"}).
		WithValue("env", map[string]string{"CI": "true", "RETRIES": "3"}).
		WithValue("secrets", map[string]any{"CODECOV_TOKEN": "tok-123"}).
		WithValue("steps", map[string]any{
			"cache": map[string]any{
				"outputs": map[string]any{"cache-hit": "true"},
			},
		}).
		WithStatus("success")
}

func TestEvaluateBoolConditions(t *testing.T) {
	ctx := ciContext()

	tests := []struct {
		expr     string
		expected bool
	}{
		{"true", true},
		{"false", false},
		{"matrix.python == '3.10'", true},
		{"matrix.python == '3.8'", false},
		{"matrix.python != '3.8'", true},
		{"env.RETRIES >= 3", true},
		{"env.RETRIES > 3", false},
		{"matrix.python == '3.10' && matrix.os == 'ubuntu-22.04'", true},
		{"matrix.python == '3.8' || matrix.numpy == '1.22.*'", true},
		{"!(matrix.python == '3.8')", true},
		{"steps.cache.outputs.cache-hit == 'true'", true},
		{"steps['cache'].outputs['cache-hit'] == 'true'", true},
		{"success()", true},
		{"failure()", false},
		{"always()", true},
		{"${{ matrix.python == '3.10' }}", true},
		// Missing data resolves to null, never errors.
		{"secrets.ABSENT == ''", true},
		{"unknown.path.here == null", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvaluateBool(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluateBoolStatusFunctions(t *testing.T) {
	ctx := ciContext().WithStatus("failure")

	got, err := EvaluateBool("success()", ctx)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = EvaluateBool("failure()", ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvaluateBool("always()", ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvaluateBool("cancelled()", ctx.WithStatus("cancelled"))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEqualityCoercion(t *testing.T) {
	ctx := NewContext().WithValue("vals", map[string]any{
		"count": int64(3),
		"pi":    3.0,
		"s":     "3",
	})

	tests := []struct {
		expr     string
		expected bool
	}{
		{"vals.count == 3", true},
		{"vals.count == '3'", true},
		{"vals.pi == 3", true},
		{"vals.s == 3", true},
		// String equality ignores case.
		{"'Ubuntu' == 'ubuntu'", true},
		{"'a' == 'b'", false},
		// NaN never equals.
		{"'abc' == 0", false},
		// null coerces to zero against numbers, equals the empty string.
		{"null == 0", true},
		{"null == ''", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvaluateBool(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestLogicalReturnsOperandValue(t *testing.T) {
	ctx := NewContext().WithValue("env", map[string]string{"NAME": ""})

	val, err := EvaluateValue("env.NAME || 'fallback'", ctx)
	require.NoError(t, err)
	assert.Equal(t, "fallback", val)

	val, err = EvaluateValue("'set' && 'next'", ctx)
	require.NoError(t, err)
	assert.Equal(t, "next", val)
}

func TestFunctions(t *testing.T) {
	ctx := NewContext().WithValue("list", []any{"a", "b", "c"})

	tests := []struct {
		expr     string
		expected any
	}{
		{"contains('Hello world', 'WORLD')", true},
		{"contains(list, 'b')", true},
		{"contains(list, 'z')", false},
		{"startsWith('refs/tags/v1', 'refs/tags/')", true},
		{"endsWith('coverage.xml', '.XML')", true},
		{"format('py{0}-np{1}', '3.10', '1.22')", "py3.10-np1.22"},
		{"format('{{literal}}')", "{literal}"},
		{"join(list, '-')", "a-b-c"},
		{"join(list)", "a,b,c"},
		{"fromJSON('{\"a\": 1}').a", float64(1)},
		{"fromJSON('[10, 20]')[1]", float64(20)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvaluateValue(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFunctionErrors(t *testing.T) {
	ctx := NewContext()

	_, err := EvaluateValue("nosuchfn(1)", ctx)
	var unknown *UnknownFunctionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nosuchfn", unknown.Name)

	_, err = EvaluateValue("contains('only-one')", ctx)
	var argErr *FunctionArgError
	require.ErrorAs(t, err, &argErr)

	_, err = EvaluateValue("hashFiles('**/*.txt')", ctx)
	assert.Error(t, err, "hashFiles is only available when the engine installs it")
}

func TestInstalledFunctionOverride(t *testing.T) {
	ctx := NewContext().WithFunc("hashFiles", func(_ *Context, args []any) (any, error) {
		return "deadbeef", nil
	})

	val, err := EvaluateValue("hashFiles('setup.py')", ctx)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", val)
}

func TestInterpolate(t *testing.T) {
	ctx := ciContext()

	tests := []struct {
		input    string
		expected string
	}{
		{"plain string", "plain string"},
		{"py-${{ matrix.python }}", "py-3.10"},
		{"${{ matrix.python }}-${{ matrix.os }}", "3.10-ubuntu-22.04"},
		{"${{ secrets.CODECOV_TOKEN }}", "tok-123"},
		{"${{ secrets.MISSING }}", ""},
		{"n=${{ env.RETRIES }}", "n=3"},
		{"${{ format('cache-{0}', matrix.os) }}", "cache-ubuntu-22.04"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Interpolate(tt.input, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestInterpolateErrors(t *testing.T) {
	ctx := ciContext()

	_, err := Interpolate("${{ matrix.python", ctx)
	var ierr *InterpolateError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Message, "unterminated")

	_, err = Interpolate("${{ == }}", ctx)
	require.ErrorAs(t, err, &ierr)
}

func TestInterpolateMap(t *testing.T) {
	ctx := ciContext()
	out, err := InterpolateMap(map[string]string{
		"PY":    "${{ matrix.python }}",
		"PLAIN": "v",
	}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.10", out["PY"])
	assert.Equal(t, "v", out["PLAIN"])

	out, err = InterpolateMap(nil, ctx)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in       any
		expected string
	}{
		{nil, ""},
		{"s", "s"},
		{true, "true"},
		{int64(42), "42"},
		{3.0, "3"},
		{3.14, "3.14"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Stringify(tt.in))
	}
}
