package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// ErrorKind classifies a runtime failure.
type ErrorKind uint8

const (
	KindNullValue ErrorKind = iota + 1
	KindIncompatibleTypes
	KindInvalidHandle
	KindUnsupportedOperation
	KindInvalidInstruction
	KindCompileError
	KindAllocation
	KindDivideByZero
	KindOverflow
	KindStackOverflow
)

var kindNames = map[ErrorKind]string{
	KindNullValue:            "null value",
	KindIncompatibleTypes:    "incompatible types",
	KindInvalidHandle:        "invalid handle",
	KindUnsupportedOperation: "unsupported operation",
	KindInvalidInstruction:   "invalid instruction",
	KindCompileError:         "compile error",
	KindAllocation:           "allocation failure",
	KindDivideByZero:         "divide by zero",
	KindOverflow:             "overflow",
	KindStackOverflow:        "stack overflow",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Error is the failure value threaded through every fallible runtime
// operation. Both the interpreter and compiled code return it unchanged.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// Is reports whether target is an *Error of the same kind. This lets callers
// write errors.Is(err, vm.ErrNullValue).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrNullValue            = &Error{Kind: KindNullValue}
	ErrIncompatibleTypes    = &Error{Kind: KindIncompatibleTypes}
	ErrInvalidHandle        = &Error{Kind: KindInvalidHandle}
	ErrUnsupportedOperation = &Error{Kind: KindUnsupportedOperation}
	ErrInvalidInstruction   = &Error{Kind: KindInvalidInstruction}
	ErrCompileError         = &Error{Kind: KindCompileError}
	ErrAllocation           = &Error{Kind: KindAllocation}
	ErrDivideByZero         = &Error{Kind: KindDivideByZero}
	ErrOverflow             = &Error{Kind: KindOverflow}
	ErrStackOverflow        = &Error{Kind: KindStackOverflow}
)

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a runtime error, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// asError converts an error returned by a helper into the owned *Error
// shape used at the compiled-code boundary.
func asError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnsupportedOperation, Message: err.Error()}
}
