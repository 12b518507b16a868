// Package transport implements the Transport endpoint-sockets layer
// (spec.md §4.K): abstract kernel endpoints identified by (procId, port),
// backed by Linux abstract-namespace AF_UNIX datagram sockets. The
// create/put/get shape and the epoll-based readiness wait are grounded on
// the teacher's uring.Ring (internal/uring/interface.go), which exposes
// the same submit/wait-for-completion split; here the "completion" is
// simply a readable fd rather than an io_uring CQE.
package transport

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-hipc/internal/errs"
)

// MaxMsgSize is the largest message transportGet will ever read (spec.md
// §4.K "MAX_SIZE = 512 B").
const MaxMsgSize = 512

// Endpoint is one bound datagram socket, used to receive or, by
// addressing each datagram explicitly, to send.
type Endpoint struct {
	fd      int
	procID  uint16
	port    uint16
}

// Fd exposes the raw descriptor for use with a Poller.
func (e *Endpoint) Fd() int { return e.fd }

func abstractAddr(procID, port uint16) *unix.SockaddrUnix {
	// Abstract namespace: leading NUL byte, name not on the filesystem.
	name := []byte{0}
	name = append(name, []byte("hipc/")...)
	name = append(name, byte(procID>>8), byte(procID), byte(port>>8), byte(port))
	return &unix.SockaddrUnix{Name: string(name)}
}

// CreateEndpoint binds a receive endpoint for (selfProcID, queueIndex)
// (spec.md §4.K transportCreateEndpoint).
func CreateEndpoint(selfProcID uint16, queueIndex uint16) (*Endpoint, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, errs.Wrap("Transport.createEndpoint", err)
	}
	addr := abstractAddr(selfProcID, queueIndex)
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, errs.Wrap("Transport.createEndpoint", err)
	}
	return &Endpoint{fd: fd, procID: selfProcID, port: queueIndex}, nil
}

// Close releases the endpoint's descriptor.
func (e *Endpoint) Close() error {
	if e.fd < 0 {
		return nil
	}
	err := unix.Close(e.fd)
	e.fd = -1
	return err
}

// Put writes msg through ep to (dstProc, dstIndex) (spec.md §4.K
// transportPut). Any transport-level error surfaces as CodeFail.
func Put(ep *Endpoint, msg []byte, dstProc uint16, dstIndex uint16) error {
	addr := abstractAddr(dstProc, dstIndex)
	if err := unix.Sendto(ep.fd, msg, 0, addr); err != nil {
		return errs.New("Transport.put", errs.CodeFail, err.Error())
	}
	return nil
}

// Get allocates a MaxMsgSize buffer, reads one datagram into it, and
// trims the result to the actual byte count (spec.md §4.K transportGet).
// It fails if the sender's address structure does not match the expected
// AF_UNIX shape.
func Get(ep *Endpoint) ([]byte, error) {
	buf := make([]byte, MaxMsgSize)
	n, _, _, from, err := unix.Recvmsg(ep.fd, buf, nil, 0)
	if err != nil {
		return nil, errs.Wrap("Transport.get", err)
	}
	if from != nil {
		if _, ok := from.(*unix.SockaddrUnix); !ok {
			return nil, errs.New("Transport.get", errs.CodeFail, "unexpected sender address family")
		}
	}
	return buf[:n], nil
}

// NewEventFD creates an eventfd-backed unblock descriptor (used by
// MessageQ's unblock()).
func NewEventFD() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, errs.Wrap("Transport.newEventFD", err)
	}
	return fd, nil
}

// WriteEventFD writes a single token, waking exactly one waiter blocked
// reading the same eventfd.
func WriteEventFD(fd int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if err != nil {
		return errs.Wrap("Transport.writeEventFD", err)
	}
	return nil
}

// ReadEventFD drains the accumulated token counter.
func ReadEventFD(fd int) error {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil {
		return errs.Wrap("Transport.readEventFD", err)
	}
	return nil
}
