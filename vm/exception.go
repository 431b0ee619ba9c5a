package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/technetium/pkg/refcell"
)

// ---------------------------------------------------------------------------
// Error kinds and exit codes
// ---------------------------------------------------------------------------

// ErrorKind classifies a runtime error.
type ErrorKind uint8

const (
	KindType ErrorKind = iota
	KindUnboundName
	KindIndex
	KindKey
	KindArity
	KindBorrow
	KindLocked
	KindDivisionByZero
	KindUserRaised
	KindAttribute
	KindOverflow
	KindChildProcess
	KindIO
	KindRecursion
	// KindExit is not a failure: the script asked to terminate.
	KindExit
)

var kindNames = [...]string{
	KindType:           "TypeError",
	KindUnboundName:    "VariableUndefinedError",
	KindIndex:          "IndexOutOfBounds",
	KindKey:            "KeyError",
	KindArity:          "ArityError",
	KindBorrow:         "BorrowError",
	KindLocked:         "MutateImmutableError",
	KindDivisionByZero: "DivisionByZeroError",
	KindUserRaised:     "UserError",
	KindAttribute:      "AttributeError",
	KindOverflow:       "IntegerTooBigError",
	KindChildProcess:   "ChildProcessError",
	KindIO:             "IOError",
	KindRecursion:      "RecursionError",
	KindExit:           "Exit",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Exit codes
const (
	CodeOk int = iota
	CodeUnknown
)

// Runtime error exit codes
const (
	CodeTypeError int = iota + 100
	CodeUnboundName
	CodeIndex
	CodeKey
	CodeArity
	CodeBorrow
	CodeLocked
	CodeDivisionByZero
	CodeUserRaised
	CodeAttribute
	CodeOverflow
	CodeChildProcess
	CodeIO
	CodeRecursion
)

// ---------------------------------------------------------------------------
// RuntimeError
// ---------------------------------------------------------------------------

// TraceEntry is one frame of a runtime error's trace, innermost first.
type TraceEntry struct {
	FrameID  uint64
	Parent   uint64 // caller's frame id, 0 for the top-level frame
	Function string
	Offset   int
	Line     int // 0 if unknown
	Column   int
	Source   string // text of the source line, if the program carries it
}

func (t TraceEntry) String() string {
	loc := "??"
	if t.Line > 0 {
		loc = fmt.Sprintf("line %d, col %d", t.Line, t.Column)
	}
	s := fmt.Sprintf("%s at %s", t.Function, loc)
	if t.Source != "" {
		s += fmt.Sprintf(": %q", strings.TrimSpace(t.Source))
	}
	if t.Parent != 0 {
		return s + fmt.Sprintf(" [frame %d, called from frame %d]", t.FrameID, t.Parent)
	}
	return s + fmt.Sprintf(" [frame %d]", t.FrameID)
}

// RuntimeError is an error raised while executing a program.
type RuntimeError struct {
	Kind    ErrorKind
	Message string

	// Expected and Actual are set for arity errors.
	Expected int
	Actual   int

	// Status is the requested exit status for KindExit.
	Status int

	Err   error
	Trace []TraceEntry
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("Runtime Error: %s: %s", e.Kind, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Code returns the process exit code for the error.
func (e *RuntimeError) Code() int {
	if e.Kind == KindExit {
		return e.Status
	}
	return CodeTypeError + int(e.Kind)
}

// TraceString renders the trace one frame per line.
func (e *RuntimeError) TraceString() string {
	var sb strings.Builder
	for _, t := range e.Trace {
		sb.WriteString("  ")
		sb.WriteString(t.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Errorf builds a runtime error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ArityError reports a call with the wrong number of arguments.
func ArityError(name string, expected, actual int) *RuntimeError {
	return &RuntimeError{
		Kind:     KindArity,
		Message:  fmt.Sprintf("Incorrect number of arguments given to %s: expected %d, got %d", name, expected, actual),
		Expected: expected,
		Actual:   actual,
	}
}

// TypeErrorf builds a KindType error.
func TypeErrorf(format string, args ...any) *RuntimeError {
	return Errorf(KindType, format, args...)
}

// ExitRequest asks the interpreter to stop with the given status.
func ExitRequest(status int) *RuntimeError {
	return &RuntimeError{Kind: KindExit, Message: fmt.Sprintf("exit(%d)", status), Status: status}
}

// IOError wraps an operating system error.
func IOError(err error) *RuntimeError {
	return &RuntimeError{Kind: KindIO, Message: err.Error(), Err: err}
}

// borrowError converts a reference cell error into a runtime error.
func borrowError(err error, typeName string) error {
	if err == nil {
		return nil
	}
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return err
	}
	switch {
	case errors.Is(err, refcell.ErrLocked):
		return &RuntimeError{
			Kind:    KindLocked,
			Message: fmt.Sprintf("tried to mutate %s value that was forced to be immutable", typeName),
			Err:     err,
		}
	case errors.Is(err, refcell.ErrBorrowConflict):
		return &RuntimeError{
			Kind:    KindBorrow,
			Message: fmt.Sprintf("tried to mutate and read from the same %s object", typeName),
			Err:     err,
		}
	}
	return err
}

// AsRuntimeError extracts a *RuntimeError from err.
func AsRuntimeError(err error) (*RuntimeError, bool) {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr, true
	}
	return nil, false
}

// IsKind reports whether err is a runtime error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	rerr, ok := AsRuntimeError(err)
	return ok && rerr.Kind == kind
}

// ---------------------------------------------------------------------------
// Internal invariant violations
// ---------------------------------------------------------------------------

// InternalError signals a broken interpreter invariant (malformed code,
// operand stack underflow, use of a freed object). It is raised with panic
// and is never converted into a RuntimeError.
type InternalError struct {
	Function string
	Offset   int
	Msg      string
}

func (e *InternalError) Error() string {
	if e.Function == "" {
		return "internal error: " + e.Msg
	}
	return fmt.Sprintf("internal error in %s at %04X: %s", e.Function, e.Offset, e.Msg)
}

func internalf(format string, args ...any) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}
