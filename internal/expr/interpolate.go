package expr

import (
	"strings"
)

const (
	openMarker  = "${{"
	closeMarker = "}}"
)

var defaultEvaluator = NewEvaluator()

// EvaluateValue parses and evaluates a bare expression string.
func EvaluateValue(input string, ctx *Context) (any, error) {
	ast, err := Parse(input)
	if err != nil {
		return nil, err
	}
	return defaultEvaluator.Eval(ast, ctx)
}

// EvaluateBool parses and evaluates a condition. The expression may be
// written bare (`if: success()`) or wrapped (`if: ${{ success() }}`).
func EvaluateBool(input string, ctx *Context) (bool, error) {
	src := strings.TrimSpace(input)
	if strings.HasPrefix(src, openMarker) && strings.HasSuffix(src, closeMarker) {
		inner := src[len(openMarker) : len(src)-len(closeMarker)]
		if !strings.Contains(inner, openMarker) {
			src = strings.TrimSpace(inner)
		}
	}
	val, err := EvaluateValue(src, ctx)
	if err != nil {
		return false, err
	}
	return Truthy(val), nil
}

// Interpolate replaces every ${{ ... }} region in s with the stringified
// value of the enclosed expression. Strings without markers come back
// unchanged.
func Interpolate(s string, ctx *Context) (string, error) {
	if !strings.Contains(s, openMarker) {
		return s, nil
	}

	var b strings.Builder
	i := 0
	for {
		rel := strings.Index(s[i:], openMarker)
		if rel < 0 {
			b.WriteString(s[i:])
			break
		}
		start := i + rel
		b.WriteString(s[i:start])

		end := strings.Index(s[start+len(openMarker):], closeMarker)
		if end < 0 {
			return "", &InterpolateError{Input: s, Offset: start, Message: "unterminated ${{ marker"}
		}
		src := s[start+len(openMarker) : start+len(openMarker)+end]

		val, err := EvaluateValue(strings.TrimSpace(src), ctx)
		if err != nil {
			return "", &InterpolateError{Input: s, Offset: start, Message: "invalid expression", Cause: err}
		}
		b.WriteString(Stringify(val))

		i = start + len(openMarker) + end + len(closeMarker)
	}
	return b.String(), nil
}

// InterpolateMap interpolates every value of a string map, returning a new
// map. A nil input yields a nil output.
func InterpolateMap(m map[string]string, ctx *Context) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		ev, err := Interpolate(v, ctx)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}
