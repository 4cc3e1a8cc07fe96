// Package event matches repository events against workflow trigger
// declarations: ref and path glob patterns, pull request activity types and
// cron schedules.
package event

import "strings"

// PathMatch matches a slash-separated path against a glob pattern, with the
// same pattern language the ref filters use. The cache's hashFiles globbing
// shares it.
func PathMatch(pattern, name string) bool {
	return globMatch(pattern, name)
}

// globMatch matches a name against a ref glob pattern. `*` matches any run
// of characters except `/`, `**` matches across separators, `?` matches a
// single non-separator character, and `\` escapes the next character.
func globMatch(pattern, name string) bool {
	if pattern == "" {
		return name == ""
	}

	switch pattern[0] {
	case '*':
		if len(pattern) > 1 && pattern[1] == '*' {
			rest := pattern[2:]
			// a/**/b also matches a/b
			if strings.HasPrefix(rest, "/") && globMatch(rest[1:], name) {
				return true
			}
			for i := 0; ; i++ {
				if globMatch(rest, name[i:]) {
					return true
				}
				if i >= len(name) {
					return false
				}
			}
		}
		for i := 0; ; i++ {
			if globMatch(pattern[1:], name[i:]) {
				return true
			}
			if i >= len(name) || name[i] == '/' {
				return false
			}
		}

	case '?':
		if name == "" || name[0] == '/' {
			return false
		}
		return globMatch(pattern[1:], name[1:])

	case '\\':
		if len(pattern) >= 2 {
			if name == "" || name[0] != pattern[1] {
				return false
			}
			return globMatch(pattern[2:], name[1:])
		}
		return name == "\\"
	}

	if name == "" || name[0] != pattern[0] {
		return false
	}
	return globMatch(pattern[1:], name[1:])
}

// matchList applies an ordered pattern list with `!` negation: a matching
// positive pattern includes the name, a matching negative pattern excludes
// it again, and the last match wins. A list of only negative patterns
// matches nothing.
func matchList(patterns []string, name string) bool {
	matched := false
	for _, p := range patterns {
		if negated := strings.HasPrefix(p, "!"); negated {
			if globMatch(p[1:], name) {
				matched = false
			}
			continue
		}
		if globMatch(p, name) {
			matched = true
		}
	}
	return matched
}

// matchPaths reports whether a change set passes paths / paths-ignore
// filters. An empty change set (unknown files) passes every filter.
func matchPaths(paths, pathsIgnore, files []string) bool {
	if len(files) == 0 {
		return true
	}
	if len(paths) > 0 {
		any := false
		for _, f := range files {
			if matchList(paths, f) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if len(pathsIgnore) > 0 {
		allIgnored := true
		for _, f := range files {
			if !matchList(pathsIgnore, f) {
				allIgnored = false
				break
			}
		}
		if allIgnored {
			return false
		}
	}
	return true
}
