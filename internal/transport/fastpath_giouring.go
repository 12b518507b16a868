//go:build giouring
// +build giouring

// Fast-path endpoint reads using io_uring recv instead of a blocking
// Recvmsg syscall, mirroring the teacher's real io_uring ring
// (internal/uring/iouring.go) but against pawelgaczynski/giouring's
// liburing-shaped API rather than the iceber/iouring-go wrapper the
// teacher used — giouring is the dependency actually pinned in go.mod.
package transport

import (
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/behrlich/go-hipc/internal/errs"
)

// FastEndpoint wraps an Endpoint with a dedicated io_uring instance for
// its receive path.
type FastEndpoint struct {
	*Endpoint
	ring *giouring.Ring
}

// NewFastEndpoint creates a FastEndpoint with entries submission slots.
func NewFastEndpoint(ep *Endpoint, entries uint32) (*FastEndpoint, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, errs.Wrap("Transport.newFastEndpoint", err)
	}
	return &FastEndpoint{Endpoint: ep, ring: ring}, nil
}

// Close tears down the ring before closing the underlying socket.
func (f *FastEndpoint) Close() error {
	f.ring.QueueExit()
	return f.Endpoint.Close()
}

// Get reads one datagram via io_uring recv (spec.md §4.K transportGet).
func (f *FastEndpoint) Get() ([]byte, error) {
	buf := make([]byte, MaxMsgSize)

	sqe := f.ring.GetSQE()
	if sqe == nil {
		return nil, errs.New("Transport.fastGet", errs.CodeResource, "submission queue full")
	}
	sqe.PrepareRecv(uint64(f.fd), uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)

	if _, err := f.ring.SubmitAndWait(1); err != nil {
		return nil, errs.Wrap("Transport.fastGet", err)
	}
	cqe, err := f.ring.WaitCQE()
	if err != nil {
		return nil, errs.Wrap("Transport.fastGet", err)
	}
	n := cqe.Res
	f.ring.CQESeen(cqe)
	if n < 0 {
		return nil, errs.New("Transport.fastGet", errs.CodeFail, "io_uring recv failed")
	}
	return buf[:n], nil
}
