package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

func parseSpec(t *testing.T, src string) *types.MatrixSpec {
	t.Helper()
	var spec types.MatrixSpec
	require.NoError(t, yaml.Unmarshal([]byte(src), &spec))
	return &spec
}

func TestExpandCrossProduct(t *testing.T) {
	spec := parseSpec(t, `
python: ["3.8", "3.9", "3.10"]
os: [ubuntu-22.04, macos-13]
numpy: ["1.20.*", "1.21.*", "1.22.*"]
`)
	cells, err := Expand(spec)
	require.NoError(t, err)
	assert.Len(t, cells, 18)

	// Rightmost axis varies fastest.
	assert.Equal(t, "python=3.8,os=ubuntu-22.04,numpy=1.20.*", cells[0].Key())
	assert.Equal(t, "python=3.8,os=ubuntu-22.04,numpy=1.21.*", cells[1].Key())
	assert.Equal(t, "python=3.8,os=ubuntu-22.04,numpy=1.22.*", cells[2].Key())
	assert.Equal(t, "python=3.8,os=macos-13,numpy=1.20.*", cells[3].Key())
	assert.Equal(t, "python=3.10,os=macos-13,numpy=1.22.*", cells[17].Key())
}

func TestExpandExcludeRemovesPair(t *testing.T) {
	spec := parseSpec(t, `
python: ["3.8", "3.9", "3.10"]
os: [ubuntu-22.04, macos-13]
numpy: ["1.20.*", "1.21.*", "1.22.*"]
exclude:
  - python: "3.10"
    numpy: "1.20.*"
`)
	cells, err := Expand(spec)
	require.NoError(t, err)

	// 18 combinations minus the excluded pair on both operating systems.
	assert.Len(t, cells, 16)
	for _, c := range cells {
		if c.Get("python") == "3.10" {
			assert.NotEqual(t, "1.20.*", c.Get("numpy"), "excluded combination survived: %s", c.Key())
		}
	}
}

func TestExpandExcludeFullEntry(t *testing.T) {
	spec := parseSpec(t, `
a: [1, 2]
b: [x, y]
exclude:
  - {a: 1, b: x}
`)
	cells, err := Expand(spec)
	require.NoError(t, err)
	assert.Len(t, cells, 3)
}

func TestExpandExcludeUnknownAxis(t *testing.T) {
	spec := parseSpec(t, `
a: [1]
exclude:
  - {c: 1}
`)
	_, err := Expand(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown axis "c"`)
}

func TestExpandIncludeExtendsMatchingCells(t *testing.T) {
	spec := parseSpec(t, `
os: [ubuntu-22.04, macos-13]
include:
  - os: macos-13
    sdk: "14.2"
`)
	cells, err := Expand(spec)
	require.NoError(t, err)
	require.Len(t, cells, 2)

	assert.Nil(t, cells[0].Get("sdk"))
	assert.Equal(t, "14.2", cells[1].Get("sdk"))
	assert.Equal(t, "(macos-13, 14.2)", cells[1].Title())
}

func TestExpandIncludeWithoutAxisKeysExtendsAll(t *testing.T) {
	spec := parseSpec(t, `
os: [a, b]
include:
  - prefix: /opt
`)
	cells, err := Expand(spec)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	for _, c := range cells {
		assert.Equal(t, "/opt", c.Get("prefix"))
	}
}

func TestExpandIncludeStandaloneCell(t *testing.T) {
	spec := parseSpec(t, `
python: ["3.9"]
include:
  - python: "3.13-dev"
    experimental: true
`)
	cells, err := Expand(spec)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "3.13-dev", cells[1].Get("python"))
	assert.Equal(t, true, cells[1].Get("experimental"))
}

func TestExpandIncludeOnlyMatrix(t *testing.T) {
	spec := parseSpec(t, `
include:
  - {target: linux}
  - {target: darwin}
`)
	cells, err := Expand(spec)
	require.NoError(t, err)
	assert.Len(t, cells, 2)
	assert.Equal(t, "linux", cells[0].Get("target"))
}

func TestExpandNilSpec(t *testing.T) {
	cells, err := Expand(nil)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Empty(t, cells[0].Title())
	assert.Equal(t, "base", cells[0].DecorateName("base"))
}

func TestExpandEmptyAxis(t *testing.T) {
	spec := &types.MatrixSpec{Axes: []types.Axis{{Name: "a"}}}
	_, err := Expand(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no values")
}

func TestExpandExcludesEverything(t *testing.T) {
	spec := parseSpec(t, `
python: ["3.10"]
exclude:
  - python: "3.10"
`)
	_, err := Expand(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "excludes every combination")
}

func TestExpandTooLarge(t *testing.T) {
	values := make([]any, 20)
	for i := range values {
		values[i] = i
	}
	spec := &types.MatrixSpec{Axes: []types.Axis{
		{Name: "a", Values: values},
		{Name: "b", Values: values},
	}}
	_, err := Expand(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestDecorateName(t *testing.T) {
	spec := parseSpec(t, `
python: ["3.10"]
os: [ubuntu-22.04]
`)
	cells, err := Expand(spec)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, "test (3.10, ubuntu-22.04)", cells[0].DecorateName("test"))
}
