// Package messageq implements MessageQ (spec.md §4.I): message passing
// between processors over the transport endpoint-sockets layer, with
// per-queue blocking get() built the way the teacher's Runner blocks on
// io_uring completions (internal/queue/runner.go processRequests/
// WaitForCompletion) — generalized here to epoll across a queue's receive
// descriptor and its unblock eventfd.
package messageq

import (
	"sync"
	"time"

	"github.com/behrlich/go-hipc/internal/constants"
	"github.com/behrlich/go-hipc/internal/errs"
	"github.com/behrlich/go-hipc/internal/sharedregion"
	"github.com/behrlich/go-hipc/internal/transport"
	"github.com/behrlich/go-hipc/internal/uapi"
)

// Observer is the metrics hook Put/Get/Unblock report through (spec.md
// SPEC_FULL §2.4).
type Observer interface {
	ObservePut(success bool)
	ObserveGet(latencyNs uint64, success bool)
	ObserveUnblock()
}

type noOpObserver struct{}

func (noOpObserver) ObservePut(bool)         {}
func (noOpObserver) ObserveGet(uint64, bool) {}
func (noOpObserver) ObserveUnblock()         {}

// Forever blocks Get indefinitely, matching epoll's -1 timeout.
const Forever = -1

// QueueId packs (procId, queueIndex) into a single handle (spec.md §3).
type QueueId uint32

// PackQueueID builds a QueueId from its two halves.
func PackQueueID(procID uint16, index uint16) QueueId {
	return QueueId(uint32(procID)<<constants.QueueProcShift | uint32(index))
}

// ProcID extracts the processor half.
func (q QueueId) ProcID() uint16 { return uint16(q >> constants.QueueProcShift) }

// Index extracts the per-processor queue index half.
func (q QueueId) Index() uint16 { return uint16(q) }

// Msg is an in-flight message: header plus payload.
type Msg struct {
	Header  uapi.MessageHeader
	Payload []byte
}

// Heap is the minimal allocator MessageQ needs from a registered heap.
// HeapMemMP and HeapMultiBufMP are adapted to this shape by the runtime
// wiring layer, which translates between their SRPtr addressing and flat
// []byte views via the owning SharedRegion directory.
type Heap interface {
	Alloc(size uint32) ([]byte, error)
	Free(buf []byte) error
}

// Params configures Create. ParamsInit returns the default.
type Params struct {
	MaxMsgSize uint32
}

// ParamsInit returns MessageQ's default creation parameters.
func ParamsInit() Params {
	return Params{MaxMsgSize: constants.MaxTransportMsgSize}
}

type queue struct {
	name      string
	id        QueueId
	recv      *transport.Endpoint
	unblockFD int
	poller    *transport.Poller
}

// Table is one MessageQ instance, scoped to a single local processor.
type Table struct {
	self uint16

	mu         sync.Mutex
	nextIndex  uint16
	queues     map[QueueId]*queue
	byName     map[string]QueueId

	sendMu        sync.RWMutex
	sendEndpoints map[uint16]*transport.Endpoint

	heapMu sync.RWMutex
	heaps  map[uint16]Heap

	obs Observer
}

// Setup creates the module-level Table for selfProcID.
func Setup(selfProcID uint16) *Table {
	return &Table{
		self:          selfProcID,
		queues:        make(map[QueueId]*queue),
		byName:        make(map[string]QueueId),
		sendEndpoints: make(map[uint16]*transport.Endpoint),
		heaps:         make(map[uint16]Heap),
		obs:           noOpObserver{},
	}
}

// SetObserver installs the metrics hook Put/Get/Unblock report through.
// Passing nil reverts to a no-op observer.
func (t *Table) SetObserver(obs Observer) {
	if obs == nil {
		obs = noOpObserver{}
	}
	t.obs = obs
}

// Destroy releases every queue and send endpoint still open.
func (t *Table) Destroy() error {
	t.mu.Lock()
	for id := range t.queues {
		t.deleteLocked(id)
	}
	t.mu.Unlock()

	t.sendMu.Lock()
	for procID, ep := range t.sendEndpoints {
		ep.Close()
		delete(t.sendEndpoints, procID)
	}
	t.sendMu.Unlock()
	return nil
}

// Create obtains a queue id, opens its receive endpoint, and allocates
// its unblock descriptor (spec.md §4.I create). If the receive endpoint
// cannot be bound, create fails and releases anything partially made.
func (t *Table) Create(name string, params Params) (QueueId, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[name]; exists {
		return 0, errs.New("MessageQ.create", errs.CodeAlreadyExists, "queue name already in use")
	}

	idx := t.nextIndex
	t.nextIndex++
	id := PackQueueID(t.self, idx)

	recv, err := transport.CreateEndpoint(t.self, idx)
	if err != nil {
		return 0, errs.NewProc("MessageQ.create", t.self, errs.CodeResource, "failed to bind receive endpoint")
	}

	unblockFD, err := transport.NewEventFD()
	if err != nil {
		recv.Close()
		return 0, errs.NewProc("MessageQ.create", t.self, errs.CodeResource, "failed to allocate unblock descriptor")
	}

	poller, err := transport.NewPoller()
	if err != nil {
		recv.Close()
		return 0, errs.NewProc("MessageQ.create", t.self, errs.CodeResource, "failed to create poller")
	}
	if err := poller.Add(recv.Fd()); err != nil {
		poller.Close()
		recv.Close()
		return 0, errs.Wrap("MessageQ.create", err)
	}
	if err := poller.Add(unblockFD); err != nil {
		poller.Close()
		recv.Close()
		return 0, errs.Wrap("MessageQ.create", err)
	}

	q := &queue{name: name, id: id, recv: recv, unblockFD: unblockFD, poller: poller}
	t.queues[id] = q
	t.byName[name] = id
	return id, nil
}

func (t *Table) deleteLocked(id QueueId) {
	q, ok := t.queues[id]
	if !ok {
		return
	}
	q.poller.Close()
	q.recv.Close()
	delete(t.queues, id)
	delete(t.byName, q.name)
}

// Delete releases the queue named by h.
func (t *Table) Delete(h QueueId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.queues[h]; !ok {
		return errs.New("MessageQ.delete", errs.CodeNotFound, "unknown queue handle")
	}
	t.deleteLocked(h)
	return nil
}

// Open resolves name to its QueueId.
func (t *Table) Open(name string) (QueueId, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byName[name]
	if !ok {
		return 0, errs.New("MessageQ.open", errs.CodeNotFound, "no queue with that name")
	}
	return id, nil
}

// Close releases a handle obtained from Open. Unlike Delete, Close does
// not tear down the underlying endpoint — Open/Close only track handle
// references to a queue Create still owns.
func (t *Table) Close(h QueueId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.queues[h]; !ok {
		return errs.New("MessageQ.close", errs.CodeNotFound, "unknown queue handle")
	}
	return nil
}

// Attach establishes exactly one send endpoint to procID (spec.md §4.I
// attach). Duplicate attach returns AlreadyExists; if the endpoint cannot
// be created, the partial resource is released and Resource is surfaced.
func (t *Table) Attach(procID uint16, port uint16) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if _, exists := t.sendEndpoints[procID]; exists {
		return errs.NewProc("MessageQ.attach", procID, errs.CodeAlreadyExists, "send endpoint already attached")
	}
	ep, err := transport.CreateEndpoint(t.self, port)
	if err != nil {
		return errs.NewProc("MessageQ.attach", procID, errs.CodeResource, "failed to create send endpoint")
	}
	t.sendEndpoints[procID] = ep
	return nil
}

// Detach releases procID's send endpoint.
func (t *Table) Detach(procID uint16) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	ep, ok := t.sendEndpoints[procID]
	if !ok {
		return errs.NewProc("MessageQ.detach", procID, errs.CodeNotFound, "no send endpoint for peer")
	}
	ep.Close()
	delete(t.sendEndpoints, procID)
	return nil
}

// RegisterHeap associates heapID with a backing allocator (spec.md §4.I
// registerHeap).
func (t *Table) RegisterHeap(heapID uint16, heap Heap) error {
	t.heapMu.Lock()
	defer t.heapMu.Unlock()
	if _, exists := t.heaps[heapID]; exists {
		return errs.New("MessageQ.registerHeap", errs.CodeAlreadyExists, "heap id already registered")
	}
	t.heaps[heapID] = heap
	return nil
}

// UnregisterHeap removes heapID's allocator.
func (t *Table) UnregisterHeap(heapID uint16) error {
	t.heapMu.Lock()
	defer t.heapMu.Unlock()
	if _, exists := t.heaps[heapID]; !exists {
		return errs.New("MessageQ.unregisterHeap", errs.CodeNotFound, "heap id not registered")
	}
	delete(t.heaps, heapID)
	return nil
}

// Alloc reserves size bytes from heapID's registered allocator and wraps
// them in a Msg (spec.md §4.I alloc).
func (t *Table) Alloc(heapID uint16, size uint32) (*Msg, error) {
	t.heapMu.RLock()
	heap, ok := t.heaps[heapID]
	t.heapMu.RUnlock()
	if !ok {
		return nil, errs.New("MessageQ.alloc", errs.CodeUnregisteredHeapID, "heap id not registered")
	}
	buf, err := heap.Alloc(size)
	if err != nil {
		return nil, errs.NewQueue("MessageQ.alloc", t.self, int(heapID), errs.CodeMemory, "heap allocation failed")
	}
	return &Msg{
		Header: uapi.MessageHeader{
			MsgSize: constants.MessageHeaderSize + size,
			HeapID:  heapID,
			SrcProc: t.self,
		},
		Payload: buf,
	}, nil
}

// Free returns msg's payload to its owning heap (spec.md §4.I free).
// Static messages (HeapID == StaticMsgHeapID) cannot be freed this way —
// the caller owns that storage.
func (t *Table) Free(msg *Msg) error {
	if msg.Header.HeapID == constants.StaticMsgHeapID {
		return errs.New("MessageQ.free", errs.CodeCannotFreeStaticMsg, "cannot free a static message")
	}
	t.heapMu.RLock()
	heap, ok := t.heaps[msg.Header.HeapID]
	t.heapMu.RUnlock()
	if !ok {
		return errs.New("MessageQ.free", errs.CodeUnregisteredHeapID, "heap id not registered")
	}
	return heap.Free(msg.Payload)
}

// StaticMsgInit wraps a caller-owned buffer as a Msg that Free refuses to
// release (spec.md §4.I staticMsgInit).
func (t *Table) StaticMsgInit(buf []byte) *Msg {
	return &Msg{
		Header: uapi.MessageHeader{
			MsgSize: constants.MessageHeaderSize + uint32(len(buf)),
			HeapID:  constants.StaticMsgHeapID,
			SrcProc: t.self,
		},
		Payload: buf,
	}
}

// SetReplyQueue stamps msg's reply fields so the receiver can route a
// response back to h (spec.md §4.I setReplyQueue).
func (t *Table) SetReplyQueue(h QueueId, msg *Msg) {
	msg.Header.ReplyID = h.Index()
	msg.Header.ReplyProc = h.ProcID()
}

// GetQueueId returns h unchanged; kept as a named operation so callers
// that only have a Msg's reply fields can round-trip through the same
// API as a true handle.
func (t *Table) GetQueueId(h QueueId) QueueId { return h }

// SetMsgTrace toggles msg's wire trace bit.
func (t *Table) SetMsgTrace(msg *Msg, on bool) {
	msg.Header.SetTraced(on)
}

// Put sends msg to qid (spec.md §4.I put). The sender releases ownership
// of msg on a successful call.
func (t *Table) Put(qid QueueId, msg *Msg) (err error) {
	defer func() { t.obs.ObservePut(err == nil) }()

	dstProc := qid.ProcID()
	dstIndex := qid.Index()
	msg.Header.DstID = dstIndex
	msg.Header.DstProc = dstProc

	t.sendMu.RLock()
	ep, ok := t.sendEndpoints[dstProc]
	t.sendMu.RUnlock()
	if !ok {
		return errs.NewProc("MessageQ.put", dstProc, errs.CodeResource, "no send endpoint attached for peer")
	}

	wire := append(uapi.Marshal(&msg.Header), msg.Payload...)
	if err := transport.Put(ep, wire, dstProc, dstIndex); err != nil {
		return errs.Wrap("MessageQ.put", err)
	}
	return nil
}

// Count reports whether h's receive endpoint currently has data queued:
// it returns 1 if the endpoint is readable and 0 otherwise. It reports
// neither a byte count nor the number of queued messages.
func (t *Table) Count(h QueueId) (int, error) {
	t.mu.Lock()
	q, ok := t.queues[h]
	t.mu.Unlock()
	if !ok {
		return 0, errs.New("MessageQ.count", errs.CodeNotFound, "unknown queue handle")
	}
	ready, err := q.poller.Wait(0)
	if err != nil {
		return 0, errs.Wrap("MessageQ.count", err)
	}
	for _, fd := range ready {
		if fd == q.recv.Fd() {
			return 1, nil
		}
	}
	return 0, nil
}

// Unblock writes a single token that wakes exactly one blocked Get on h
// (spec.md §4.I unblock).
func (t *Table) Unblock(h QueueId) error {
	t.mu.Lock()
	q, ok := t.queues[h]
	t.mu.Unlock()
	if !ok {
		return errs.New("MessageQ.unblock", errs.CodeNotFound, "unknown queue handle")
	}
	return transport.WriteEventFD(q.unblockFD)
}

// SharedMemReq reports whether sharedAddr names a shared-region address
// that must be translated through a SharedRegion directory before it can
// travel over the wire, versus an ordinary heap-local pointer.
func (t *Table) SharedMemReq(sharedAddr sharedregion.SRPtr) bool {
	return sharedAddr != sharedregion.InvalidSRPtr
}

// Get blocks on h's receive descriptor and its unblock descriptor
// together, returning whichever fires first (spec.md §4.I get).
func (t *Table) Get(h QueueId, timeoutMs int) (msg *Msg, err error) {
	start := time.Now()
	defer func() { t.obs.ObserveGet(uint64(time.Since(start).Nanoseconds()), err == nil) }()

	t.mu.Lock()
	q, ok := t.queues[h]
	t.mu.Unlock()
	if !ok {
		return nil, errs.New("MessageQ.get", errs.CodeNotFound, "unknown queue handle")
	}

	ready, err := q.poller.Wait(timeoutMs)
	if err != nil {
		return nil, errs.Wrap("MessageQ.get", err)
	}
	if len(ready) == 0 {
		return nil, errs.New("MessageQ.get", errs.CodeTimeout, "no message available before timeout")
	}

	for _, fd := range ready {
		if fd == q.unblockFD {
			_ = transport.ReadEventFD(q.unblockFD)
			t.obs.ObserveUnblock()
			return nil, errs.New("MessageQ.get", errs.CodeUnblocked, "get unblocked by unblock()")
		}
	}

	data, err := transport.Get(q.recv)
	if err != nil {
		return nil, errs.Wrap("MessageQ.get", err)
	}

	var header uapi.MessageHeader
	if err := uapi.Unmarshal(data, &header); err != nil {
		return nil, errs.Wrap("MessageQ.get", err)
	}
	header.MsgSize = uint32(len(data))
	if header.HeapID == constants.StaticMsgHeapID {
		header.HeapID = 0
	}

	return &Msg{Header: header, Payload: data[constants.MessageHeaderSize:]}, nil
}
