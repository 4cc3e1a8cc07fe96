package expr

import "fmt"

// ParseError reports a syntax error with its position in the expression.
type ParseError struct {
	Position int
	Expected string
	Got      string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: expected %s, got %s", e.Position, e.Expected, e.Got)
}

// NewParseError creates a new ParseError.
func NewParseError(pos int, expected, got string) *ParseError {
	return &ParseError{Position: pos, Expected: expected, Got: got}
}

// EvalError reports an error during expression evaluation.
type EvalError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("evaluation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("evaluation error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *EvalError) Unwrap() error {
	return e.Cause
}

// NewEvalError creates a new EvalError.
func NewEvalError(message string, cause error) *EvalError {
	return &EvalError{Message: message, Cause: cause}
}

// UnknownFunctionError reports a call to a function the context does not
// provide.
type UnknownFunctionError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function %q", e.Name)
}

// FunctionArgError reports a function called with bad arguments.
type FunctionArgError struct {
	Name    string
	Message string
}

// Error implements the error interface.
func (e *FunctionArgError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// InterpolateError reports a malformed ${{ }} region in a string.
type InterpolateError struct {
	Input   string
	Offset  int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *InterpolateError) Error() string {
	return fmt.Sprintf("interpolation error at offset %d: %s", e.Offset, e.Message)
}

// Unwrap returns the underlying error.
func (e *InterpolateError) Unwrap() error {
	return e.Cause
}
