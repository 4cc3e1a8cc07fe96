package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"exact match", "main", "main", true},
		{"exact mismatch", "main", "develop", false},
		{"star suffix", "release/*", "release/1.2", true},
		{"star does not cross slash", "release/*", "release/1.2/hotfix", false},
		{"star prefix", "*.x", "1.2.x", true},
		{"star prefix mismatch", "*.x", "1.2.y", false},
		{"lone star", "*", "anything", true},
		{"lone star rejects slash", "*", "feature/x", false},
		{"double star crosses slash", "**", "feature/x/y", true},
		{"double star segment", "feature/**", "feature/a/b", true},
		{"double star middle", "a/**/b", "a/x/y/b", true},
		{"double star middle collapses", "a/**/b", "a/b", true},
		{"double star middle mismatch", "a/**/b", "a/x/c", false},
		{"question mark", "v?", "v1", true},
		{"question mark rejects slash", "v?", "v/", false},
		{"question mark needs one char", "v?", "v", false},
		{"escaped star is literal", `\*`, "*", true},
		{"escaped star rejects other", `\*`, "x", false},
		{"empty pattern empty name", "", "", true},
		{"empty pattern nonempty name", "", "x", false},
		{"version tag", "v*.*.*", "v1.20.3", true},
		{"version tag missing part", "v*.*.*", "v1.20", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, globMatch(tt.pattern, tt.input))
		})
	}
}

func TestMatchList(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		input    string
		want     bool
	}{
		{"single positive hit", []string{"main"}, "main", true},
		{"single positive miss", []string{"main"}, "develop", false},
		{"any of several", []string{"main", "*.x"}, "1.2.x", true},
		{"negation removes earlier match", []string{"release/*", "!release/wip"}, "release/wip", false},
		{"negation leaves others", []string{"release/*", "!release/wip"}, "release/1.2", true},
		{"later positive rematches", []string{"release/*", "!release/*", "release/1.2"}, "release/1.2", true},
		{"only negatives match nothing", []string{"!main"}, "develop", false},
		{"empty list matches nothing", nil, "main", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchList(tt.patterns, tt.input))
		})
	}
}

func TestMatchPaths(t *testing.T) {
	tests := []struct {
		name        string
		paths       []string
		pathsIgnore []string
		files       []string
		want        bool
	}{
		{"no filters", nil, nil, []string{"src/a.c"}, true},
		{"unknown change set passes", []string{"src/**"}, nil, nil, true},
		{"paths hit", []string{"src/**"}, nil, []string{"src/core/a.c", "README.md"}, true},
		{"paths miss", []string{"src/**"}, nil, []string{"docs/guide.md"}, false},
		{"all files ignored", nil, []string{"docs/**"}, []string{"docs/a.md", "docs/b.md"}, false},
		{"one file survives ignore", nil, []string{"docs/**"}, []string{"docs/a.md", "src/a.c"}, true},
		{"paths and ignore combined", []string{"**/*.c"}, []string{"vendor/**"}, []string{"vendor/x.c"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPaths(tt.paths, tt.pathsIgnore, tt.files))
		})
	}
}
