package hipc

import (
	"sync"

	"github.com/behrlich/go-hipc/internal/errs"
)

// MockProcMemory is a fake co-processor memory/register window, standing
// in for physical memory the MMU/Loader packages would otherwise address
// directly. Grounded on the teacher's backend/mem.go sharded-mutex memory
// backend, kept but stripped of its block-device framing (Discard,
// WriteZeroes, device sizing) since this window has no block semantics.
type MockProcMemory struct {
	mu   sync.RWMutex
	data []byte

	writeCalls int
	readCalls  int
	writes     []uint32 // procAddr of every Write call, in order
}

// NewMockProcMemory allocates a zeroed memory window of size bytes.
func NewMockProcMemory(size uint32) *MockProcMemory {
	return &MockProcMemory{data: make([]byte, size)}
}

// Write implements firmware.Writer: it copies buf into the window at
// procAddr, used by the Loader to stage firmware sections.
func (m *MockProcMemory) Write(procAddr uint32, n uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	m.writes = append(m.writes, procAddr)

	end := uint64(procAddr) + uint64(n)
	if end > uint64(len(m.data)) {
		return errs.New("MockProcMemory.write", errs.CodeInvalidArg, "write out of range")
	}
	copy(m.data[procAddr:end], buf[:n])
	return nil
}

// ReadAt copies length bytes starting at procAddr, used by tests to
// confirm what the Loader wrote.
func (m *MockProcMemory) ReadAt(procAddr, length uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.readCalls++

	end := uint64(procAddr) + uint64(length)
	if end > uint64(len(m.data)) {
		return nil, errs.New("MockProcMemory.read", errs.CodeInvalidArg, "read out of range")
	}
	out := make([]byte, length)
	copy(out, m.data[procAddr:end])
	return out, nil
}

// Writes returns every procAddr a Write call targeted, in call order.
func (m *MockProcMemory) Writes() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint32, len(m.writes))
	copy(out, m.writes)
	return out
}

// CallCounts reports how many times Write/ReadAt have been invoked.
func (m *MockProcMemory) CallCounts() (writes, reads int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writeCalls, m.readCalls
}

// MockRemoteDriver is a fake peer-processor driver satisfying both
// nameserver.RemoteDriver and notify.Driver, so a single peer value can
// stand in for a remote processor across both subsystems in tests
// (spec.md §9 capability-interface shape).
type MockRemoteDriver struct {
	mu sync.Mutex

	// GetFunc, when set, answers NameServer.Get probes; otherwise every
	// lookup reports not-found.
	GetFunc func(name string, timeout int) ([]byte, bool, error)

	// sentEvents records every SendEvent call this driver received.
	sentEvents []SentEvent
}

// SentEvent is one recorded notify.Driver.SendEvent call.
type SentEvent struct {
	Line      uint16
	Event     uint32
	Payload   uint32
	WaitClear bool
}

// Get implements nameserver.RemoteDriver.
func (d *MockRemoteDriver) Get(name string, timeout int) ([]byte, bool, error) {
	if d.GetFunc != nil {
		return d.GetFunc(name, timeout)
	}
	return nil, false, nil
}

// SendEvent implements notify.Driver.
func (d *MockRemoteDriver) SendEvent(line uint16, event uint32, payload uint32, waitClear bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentEvents = append(d.sentEvents, SentEvent{Line: line, Event: event, Payload: payload, WaitClear: waitClear})
	return nil
}

// SentEvents returns every SendEvent call recorded so far.
func (d *MockRemoteDriver) SentEvents() []SentEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SentEvent, len(d.sentEvents))
	copy(out, d.sentEvents)
	return out
}

// MockSocket is an in-process loopback endpoint: datagrams written with
// Send are delivered to the paired socket's Recv, without touching a real
// file descriptor. Used by OmapRpc/MessageQ-adjacent tests that want to
// exercise framing and dispatch logic without transport's AF_UNIX plumbing.
type MockSocket struct {
	mu      sync.Mutex
	cond    *sync.Cond
	inbox   [][]byte
	peer    *MockSocket
	closed  bool
}

// NewMockSocketPair returns two MockSockets, each delivering Sent
// datagrams to the other.
func NewMockSocketPair() (*MockSocket, *MockSocket) {
	a := &MockSocket{}
	b := &MockSocket{}
	a.cond = sync.NewCond(&a.mu)
	b.cond = sync.NewCond(&b.mu)
	a.peer, b.peer = b, a
	return a, b
}

// Send delivers msg to this socket's peer.
func (s *MockSocket) Send(msg []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.New("MockSocket.send", errs.CodeFail, "socket closed")
	}
	peer := s.peer
	s.mu.Unlock()

	cp := make([]byte, len(msg))
	copy(cp, msg)

	peer.mu.Lock()
	peer.inbox = append(peer.inbox, cp)
	peer.cond.Signal()
	peer.mu.Unlock()
	return nil
}

// Recv blocks until a datagram is available or the socket is closed.
func (s *MockSocket) Recv() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.inbox) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.inbox) == 0 {
		return nil, errs.New("MockSocket.recv", errs.CodeFail, "socket closed")
	}
	msg := s.inbox[0]
	s.inbox = s.inbox[1:]
	return msg, nil
}

// Close unblocks any waiting Recv call.
func (s *MockSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}
