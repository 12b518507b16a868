// Package errs defines the structured error type shared by every internal
// package. It mirrors the public hipc.Error shape so that the top-level
// package can wrap it without introducing an import cycle (internal
// packages cannot import the module root).
package errs

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/behrlich/go-hipc/internal/constants"
)

// Code is the high-level error category (spec.md §7).
type Code string

const (
	CodeAlreadySetup        Code = "already setup"
	CodeFail                Code = "fail"
	CodeInvalidArg          Code = "invalid argument"
	CodeMemory              Code = "memory"
	CodeAlreadyExists       Code = "already exists"
	CodeNotFound            Code = "not found"
	CodeTimeout             Code = "timeout"
	CodeInvalidState        Code = "invalid state"
	CodeOsFailure           Code = "os failure"
	CodeResource            Code = "resource"
	CodeRestart             Code = "restart"
	CodeInvalidMsg          Code = "invalid message"
	CodeNotOwner            Code = "not owner"
	CodeRemoteActive        Code = "remote active"
	CodeInvalidHeapID       Code = "invalid heap id"
	CodeInvalidProcID       Code = "invalid processor id"
	CodeMaxReached          Code = "max reached"
	CodeUnregisteredHeapID  Code = "unregistered heap id"
	CodeCannotFreeStaticMsg Code = "cannot free static message"
	CodeUnblocked           Code = "unblocked"
	CodeReservedEvent       Code = "reserved event"
	CodeMmuConfig           Code = "mmu config"
	CodeStoreEntry          Code = "store entry"
)

// Error is the structured error type every internal package returns.
type Error struct {
	Op     string
	ProcID uint16
	Queue  int
	Code   Code
	Errno  syscall.Errno
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	switch {
	case e.Op == "":
		return fmt.Sprintf("hipc: %s", msg)
	case e.Errno != 0:
		return fmt.Sprintf("hipc: %s: %s (errno=%d)", e.Op, msg, e.Errno)
	default:
		return fmt.Sprintf("hipc: %s: %s", e.Op, msg)
	}
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates an error with no processor/queue context.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, ProcID: constants.InvalidProcID, Queue: -1, Code: code, Msg: msg}
}

// NewProc creates an error scoped to one processor.
func NewProc(op string, procID uint16, code Code, msg string) *Error {
	return &Error{Op: op, ProcID: procID, Queue: -1, Code: code, Msg: msg}
}

// NewQueue creates an error scoped to one processor's queue.
func NewQueue(op string, procID uint16, queue int, code Code, msg string) *Error {
	return &Error{Op: op, ProcID: procID, Queue: queue, Code: code, Msg: msg}
}

// Wrap attaches operation context to an existing error, mapping raw
// syscall errnos to a Code.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return &Error{Op: op, ProcID: e.ProcID, Queue: e.Queue, Code: e.Code, Errno: e.Errno, Msg: e.Msg, Inner: e.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, ProcID: constants.InvalidProcID, Queue: -1, Code: MapErrno(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, ProcID: constants.InvalidProcID, Queue: -1, Code: CodeFail, Msg: inner.Error(), Inner: inner}
}

// MapErrno maps a raw kernel errno to a high-level Code.
func MapErrno(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return CodeNotFound
	case syscall.EEXIST, syscall.EBUSY:
		return CodeAlreadyExists
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidArg
	case syscall.ENOMEM, syscall.ENOSPC:
		return CodeMemory
	case syscall.ETIMEDOUT, syscall.EAGAIN:
		return CodeTimeout
	default:
		return CodeOsFailure
	}
}

// Is reports whether err (or something it wraps) carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
