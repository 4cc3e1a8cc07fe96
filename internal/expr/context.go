package expr

import "strings"

// Func is a function callable from expressions. Args arrive already
// evaluated.
type Func func(ctx *Context, args []any) (any, error)

// Context holds the named values and functions visible to an expression.
// Values are nested maps; the engine installs one entry per context root
// (ci, env, matrix, secrets, needs, steps, runner, status).
type Context struct {
	vals  map[string]any
	funcs map[string]Func
}

// NewContext creates an empty evaluation context.
func NewContext() *Context {
	return &Context{
		vals:  make(map[string]any),
		funcs: make(map[string]Func),
	}
}

// WithValue sets a root value and returns the context for chaining.
func (c *Context) WithValue(name string, v any) *Context {
	c.vals[name] = v
	return c
}

// WithFunc installs a function, overriding any default with the same name.
// Function names are case-insensitive.
func (c *Context) WithFunc(name string, fn Func) *Context {
	c.funcs[strings.ToLower(name)] = fn
	return c
}

// WithStatus sets the job status consulted by the status functions.
func (c *Context) WithStatus(status string) *Context {
	return c.WithValue("status", status)
}

// Value returns a root value.
func (c *Context) Value(name string) (any, bool) {
	v, ok := c.vals[name]
	return v, ok
}

// Status returns the installed job status, defaulting to success.
func (c *Context) Status() string {
	if v, ok := c.vals["status"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "success"
}

// Func resolves a function by case-insensitive name, preferring installed
// functions over the defaults.
func (c *Context) Func(name string) (Func, bool) {
	key := strings.ToLower(name)
	if fn, ok := c.funcs[key]; ok {
		return fn, true
	}
	fn, ok := defaultFuncs[key]
	return fn, ok
}

// Clone returns a shallow copy sharing the value maps but with an
// independent function table.
func (c *Context) Clone() *Context {
	out := NewContext()
	for k, v := range c.vals {
		out.vals[k] = v
	}
	for k, fn := range c.funcs {
		out.funcs[k] = fn
	}
	return out
}
