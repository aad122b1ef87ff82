package scripting

import (
	"errors"
	"fmt"
)

// ErrorKind classifies script failures.
type ErrorKind int

const (
	NotInitialized ErrorKind = iota + 1
	CompilationFailed
	ExecutionFailed
	SandboxViolation
	InvalidState
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case NotInitialized:
		return "not initialized"
	case CompilationFailed:
		return "compilation failed"
	case ExecutionFailed:
		return "execution failed"
	case SandboxViolation:
		return "sandbox violation"
	case InvalidState:
		return "invalid state"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ScriptError is the error type returned by Engine operations.
type ScriptError struct {
	Kind ErrorKind
	Key  string // cache key of the script, when known
	Msg  string
	Err  error
}

func (e *ScriptError) Error() string {
	s := "scripting: " + e.Kind.String()
	if e.Key != "" {
		s += " [" + e.Key + "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ScriptError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, key string, err error, format string, args ...any) *ScriptError {
	return &ScriptError{Kind: kind, Key: key, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is a ScriptError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// KindOf returns the kind of a ScriptError, or 0 for other errors.
func KindOf(err error) ErrorKind {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
