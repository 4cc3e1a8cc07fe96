package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
)

// defaultFuncs is the builtin function table, keyed by lower-case name.
// hashFiles is deliberately absent: the engine installs it per workspace
// through Context.WithFunc.
var defaultFuncs = map[string]Func{
	"contains":   fnContains,
	"startswith": fnStartsWith,
	"endswith":   fnEndsWith,
	"format":     fnFormat,
	"join":       fnJoin,
	"tojson":     fnToJSON,
	"fromjson":   fnFromJSON,
	"success":    fnSuccess,
	"failure":    fnFailure,
	"cancelled":  fnCancelled,
	"always":     fnAlways,
}

func argCount(name string, args []any, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		if min == max {
			return &FunctionArgError{Name: name, Message: fmt.Sprintf("expects %d arguments, got %d", min, len(args))}
		}
		return &FunctionArgError{Name: name, Message: fmt.Sprintf("expects between %d and %d arguments, got %d", min, max, len(args))}
	}
	return nil
}

func fnContains(_ *Context, args []any) (any, error) {
	if err := argCount("contains", args, 2, 2); err != nil {
		return nil, err
	}
	switch hay := args[0].(type) {
	case []any:
		for _, item := range hay {
			if looseEquals(item, args[1]) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range hay {
			if looseEquals(item, args[1]) {
				return true, nil
			}
		}
		return false, nil
	}
	s := strings.ToLower(Stringify(args[0]))
	sub := strings.ToLower(Stringify(args[1]))
	return strings.Contains(s, sub), nil
}

func fnStartsWith(_ *Context, args []any) (any, error) {
	if err := argCount("startsWith", args, 2, 2); err != nil {
		return nil, err
	}
	s := strings.ToLower(Stringify(args[0]))
	prefix := strings.ToLower(Stringify(args[1]))
	return strings.HasPrefix(s, prefix), nil
}

func fnEndsWith(_ *Context, args []any) (any, error) {
	if err := argCount("endsWith", args, 2, 2); err != nil {
		return nil, err
	}
	s := strings.ToLower(Stringify(args[0]))
	suffix := strings.ToLower(Stringify(args[1]))
	return strings.HasSuffix(s, suffix), nil
}

// fnFormat substitutes {N} placeholders; {{ and }} are literal braces.
func fnFormat(_ *Context, args []any) (any, error) {
	if err := argCount("format", args, 1, -1); err != nil {
		return nil, err
	}
	tmpl := Stringify(args[0])
	values := args[1:]

	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		ch := tmpl[i]
		switch {
		case ch == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case ch == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return nil, &FunctionArgError{Name: "format", Message: "unclosed placeholder"}
			}
			idxStr := tmpl[i+1 : i+end]
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, &FunctionArgError{Name: "format", Message: fmt.Sprintf("bad placeholder {%s}", idxStr)}
			}
			if idx < 0 || idx >= len(values) {
				return nil, &FunctionArgError{Name: "format", Message: fmt.Sprintf("placeholder {%d} out of range", idx)}
			}
			b.WriteString(Stringify(values[idx]))
			i += end
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), nil
}

func fnJoin(_ *Context, args []any) (any, error) {
	if err := argCount("join", args, 1, 2); err != nil {
		return nil, err
	}
	sep := ","
	if len(args) == 2 {
		sep = Stringify(args[1])
	}
	switch arr := args[0].(type) {
	case []any:
		parts := make([]string, len(arr))
		for i, v := range arr {
			parts[i] = Stringify(v)
		}
		return strings.Join(parts, sep), nil
	case []string:
		return strings.Join(arr, sep), nil
	}
	return Stringify(args[0]), nil
}

func fnToJSON(_ *Context, args []any) (any, error) {
	if err := argCount("toJSON", args, 1, 1); err != nil {
		return nil, err
	}
	return toJSONString(args[0])
}

func toJSONString(v any) (string, error) {
	data, err := jsonutil.MarshalIndent(v)
	if err != nil {
		return "", NewEvalError("toJSON", err)
	}
	return string(data), nil
}

func fnFromJSON(_ *Context, args []any) (any, error) {
	if err := argCount("fromJSON", args, 1, 1); err != nil {
		return nil, err
	}
	var out any
	if err := jsonutil.UnmarshalString(Stringify(args[0]), &out); err != nil {
		return nil, &FunctionArgError{Name: "fromJSON", Message: err.Error()}
	}
	return out, nil
}

func fnSuccess(ctx *Context, args []any) (any, error) {
	if err := argCount("success", args, 0, 0); err != nil {
		return nil, err
	}
	return ctx.Status() == "success", nil
}

func fnFailure(ctx *Context, args []any) (any, error) {
	if err := argCount("failure", args, 0, 0); err != nil {
		return nil, err
	}
	return ctx.Status() == "failure", nil
}

func fnCancelled(ctx *Context, args []any) (any, error) {
	if err := argCount("cancelled", args, 0, 0); err != nil {
		return nil, err
	}
	return ctx.Status() == "cancelled", nil
}

func fnAlways(_ *Context, args []any) (any, error) {
	if err := argCount("always", args, 0, 0); err != nil {
		return nil, err
	}
	return true, nil
}
