package sandbox

import (
	"errors"
	"fmt"
)

// ErrorKind classifies execution failures.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindPolicyViolation  ErrorKind = "policy_violation"
	KindSpawn            ErrorKind = "spawn"
	KindTimeout          ErrorKind = "timeout"
	KindCancelled        ErrorKind = "cancelled"
	KindResourceExceeded ErrorKind = "resource_exceeded"
)

// Sentinel errors, one per kind. errors.Is(err, ErrSpawn) matches any *Error
// of kind spawn.
var (
	ErrValidation       = errors.New("sandbox: validation failed")
	ErrPolicyViolation  = errors.New("sandbox: policy violation")
	ErrSpawn            = errors.New("sandbox: spawn failed")
	ErrTimeout          = errors.New("sandbox: timed out")
	ErrCancelled        = errors.New("sandbox: cancelled")
	ErrResourceExceeded = errors.New("sandbox: resource limit exceeded")
)

var sentinels = map[ErrorKind]error{
	KindValidation:       ErrValidation,
	KindPolicyViolation:  ErrPolicyViolation,
	KindSpawn:            ErrSpawn,
	KindTimeout:          ErrTimeout,
	KindCancelled:        ErrCancelled,
	KindResourceExceeded: ErrResourceExceeded,
}

// Error is the error type returned by the executor.
type Error struct {
	Kind    ErrorKind
	Op      string
	Command string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("sandbox %s: %s", e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(kind ErrorKind, op, command string, err error) *Error {
	return &Error{Kind: kind, Op: op, Command: command, Err: err}
}
