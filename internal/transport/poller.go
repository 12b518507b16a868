package transport

import (
	"golang.org/x/sys/unix"

	"github.com/behrlich/go-hipc/internal/errs"
)

// Poller waits on the union of several readable descriptors, the shape
// MessageQ.get needs to block on per-peer receive endpoints plus an
// unblock eventfd in one call (spec.md §4.I get).
type Poller struct {
	epfd int
}

// NewPoller creates an epoll instance with no registered descriptors.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errs.Wrap("Transport.newPoller", err)
	}
	return &Poller{epfd: fd}, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}

// Add registers fd for readability. Wait reports ready descriptors by fd,
// so no separate tag is needed.
func (p *Poller) Add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errs.Wrap("Transport.poller.add", err)
	}
	return nil
}

// Remove unregisters fd.
func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errs.Wrap("Transport.poller.remove", err)
	}
	return nil
}

// Wait blocks until at least one registered descriptor is readable, or
// timeoutMs elapses (-1 blocks forever, 0 returns immediately), returning
// the ready descriptors' fds.
func (p *Poller) Wait(timeoutMs int) ([]int, error) {
	events := make([]unix.EpollEvent, 16)
	n, err := unix.EpollWait(p.epfd, events, timeoutMs)
	for err == unix.EINTR {
		n, err = unix.EpollWait(p.epfd, events, timeoutMs)
	}
	if err != nil {
		return nil, errs.Wrap("Transport.poller.wait", err)
	}
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, int(events[i].Fd))
	}
	return ready, nil
}
