package hipc

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/behrlich/go-hipc/internal/errs"
)

// ErrorCode is the high-level error category surfaced to callers (spec.md §7).
type ErrorCode string

const (
	CodeAlreadySetup        ErrorCode = "already setup"
	CodeFail                ErrorCode = "fail"
	CodeInvalidArg          ErrorCode = "invalid argument"
	CodeMemory              ErrorCode = "memory"
	CodeAlreadyExists       ErrorCode = "already exists"
	CodeNotFound            ErrorCode = "not found"
	CodeTimeout             ErrorCode = "timeout"
	CodeInvalidState        ErrorCode = "invalid state"
	CodeOsFailure           ErrorCode = "os failure"
	CodeResource            ErrorCode = "resource"
	CodeRestart             ErrorCode = "restart"
	CodeInvalidMsg          ErrorCode = "invalid message"
	CodeNotOwner            ErrorCode = "not owner"
	CodeRemoteActive        ErrorCode = "remote active"
	CodeInvalidHeapID       ErrorCode = "invalid heap id"
	CodeInvalidProcID       ErrorCode = "invalid processor id"
	CodeMaxReached          ErrorCode = "max reached"
	CodeUnregisteredHeapID  ErrorCode = "unregistered heap id"
	CodeCannotFreeStaticMsg ErrorCode = "cannot free static message"
	CodeUnblocked           ErrorCode = "unblocked"
	CodeReservedEvent       ErrorCode = "reserved event"
	CodeMmuConfig           ErrorCode = "mmu config"
	CodeStoreEntry          ErrorCode = "store entry"
)

// Error is the structured error type returned throughout the runtime.
// Success is always represented by a nil error; every non-nil error is an
// *Error carrying enough context (operation, processor, queue, wrapped
// errno) to diagnose across the runtime's many cooperating subsystems.
type Error struct {
	Op     string // operation that failed, e.g. "MessageQ.attach"
	ProcID uint16 // processor id (constants.InvalidProcID if not applicable)
	Queue  int    // queue index (-1 if not applicable)
	Code   ErrorCode
	Errno  syscall.Errno // kernel errno, 0 if not applicable
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

// NewError creates a structured error with no processor/queue context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ProcID: uint16(InvalidProcID), Queue: -1, Code: code, Msg: msg}
}

// NewProcError creates an error scoped to one processor.
func NewProcError(op string, procID ProcessorID, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ProcID: uint16(procID), Queue: -1, Code: code, Msg: msg}
}

// NewQueueError creates an error scoped to one processor's queue.
func NewQueueError(op string, procID ProcessorID, queue int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ProcID: uint16(procID), Queue: queue, Code: code, Msg: msg}
}

// WrapError attaches operation context to an existing error, mapping raw
// syscall errnos to an ErrorCode the way the transport and shared-region
// layers need (mmap/epoll/eventfd failures surface as *Error, not errno).
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return &Error{Op: op, ProcID: e.ProcID, Queue: e.Queue, Code: e.Code, Errno: e.Errno, Msg: e.Msg, Inner: e.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, ProcID: uint16(InvalidProcID), Queue: -1, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, ProcID: uint16(InvalidProcID), Queue: -1, Code: CodeFail, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
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

// IsCode reports whether err (or something it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// fromInternal converts an *errs.Error produced by an internal package into
// the public *Error type, at the boundary of every exported Runtime method.
func fromInternal(err error) error {
	if err == nil {
		return nil
	}
	ie, ok := err.(*errs.Error)
	if !ok {
		return WrapError("", err)
	}
	return &Error{
		Op:    ie.Op,
		ProcID: ie.ProcID,
		Queue: ie.Queue,
		Code:  ErrorCode(ie.Code),
		Errno: ie.Errno,
		Msg:   ie.Msg,
		Inner: ie.Inner,
	}
}
