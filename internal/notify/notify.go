// Package notify implements Notify (spec.md §4.H): per-peer, per-interrupt-
// line fan-in/fan-out event dispatch. The per-line mutex plus atomic-state
// read on the fire path is grounded on the teacher's Runner (internal/
// queue/runner.go), which guards per-tag state with a dedicated mutex per
// tag so a preempting completion never observes a half-updated slot.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/behrlich/go-hipc/internal/errs"
)

// SystemKey must accompany registration of a reserved event id.
type SystemKey uint32

const kernelSystemKey SystemKey = 0xC0DE0001

// Callback is invoked when an event fires. arg is the per-listener value
// handed to RegisterEvent/RegisterEventSingle at registration time,
// carried through untouched (spec.md §3's "{cb, arg} listener").
type Callback func(procID uint16, line uint16, event uint32, arg uintptr, payload uint32)

// Driver proxies sendEvent to a non-self peer (spec.md §4.H "delegate to
// the driver proxy").
type Driver interface {
	SendEvent(line uint16, event uint32, payload uint32, waitClear bool) error
}

// Observer is the metrics hook SendEvent reports through (spec.md
// SPEC_FULL §2.4).
type Observer interface {
	ObserveNotifyFire(delivered bool)
}

type noOpObserver struct{}

func (noOpObserver) ObserveNotifyFire(bool) {}

// listener is one {cb, arg} entry in a fan-out event's listener list.
type listener struct {
	callback Callback
	arg      uintptr
}

// eventSlot holds either a single callback (RegisterEventSingle, removed
// after it fires once)
// or a list of fan-out listeners (RegisterEvent), never both — spec.md §3:
// a slot is "either None, exactly one callback (single mode), or a list of
// {cb, arg} listeners reached through a fan-out shim".
type eventSlot struct {
	registered atomic.Bool
	enabled    atomic.Bool
	single     bool

	singleCB  Callback
	singleArg uintptr

	listeners []listener
}

// line is one interrupt line's bookkeeping: a fixed table of event slots
// plus whether the line itself is disabled.
type line struct {
	mu       sync.Mutex
	disabled atomic.Bool
	events   map[uint32]*eventSlot
}

// Notify is one Notify instance, scoped to a set of peers identified by
// ProcessorID.
type Notify struct {
	selfID        uint16
	reservedEvents uint32
	nestingCount  atomic.Int32

	linesMu sync.Mutex
	lines   map[uint16]*line

	driversMu sync.RWMutex
	drivers   map[uint16]Driver

	obs Observer
}

// New creates a Notify instance. reservedEvents is the exclusive upper
// bound below which event ids require the kernel system key.
func New(selfID uint16, reservedEvents uint32) *Notify {
	return &Notify{
		selfID:         selfID,
		reservedEvents: reservedEvents,
		lines:          make(map[uint16]*line),
		drivers:        make(map[uint16]Driver),
		obs:            noOpObserver{},
	}
}

// SetObserver installs the metrics hook SendEvent reports through. Passing
// nil reverts to a no-op observer.
func (n *Notify) SetObserver(obs Observer) {
	if obs == nil {
		obs = noOpObserver{}
	}
	n.obs = obs
}

// RegisterDriver installs the proxy used to reach a non-self peer.
func (n *Notify) RegisterDriver(procID uint16, d Driver) {
	n.driversMu.Lock()
	defer n.driversMu.Unlock()
	n.drivers[procID] = d
}

func (n *Notify) lineFor(l uint16) *line {
	n.linesMu.Lock()
	defer n.linesMu.Unlock()
	ln, ok := n.lines[l]
	if !ok {
		ln = &line{events: make(map[uint32]*eventSlot)}
		n.lines[l] = ln
	}
	return ln
}

func (n *Notify) existingLine(l uint16) (*line, bool) {
	n.linesMu.Lock()
	defer n.linesMu.Unlock()
	ln, ok := n.lines[l]
	return ln, ok
}

func isReserved(event uint32, reservedEvents uint32) bool {
	return event < reservedEvents
}

func checkSystemKey(event uint32, reservedEvents uint32, key SystemKey) error {
	if isReserved(event, reservedEvents) && key != kernelSystemKey {
		return errs.New("Notify.registerEvent", errs.CodeReservedEvent, "reserved event requires kernel system key")
	}
	return nil
}

// registerEvent is the shared implementation behind RegisterEvent and
// RegisterEventSingle. Ordering per spec.md §4.H: add to list, then
// install callback, then enable at driver — so a preempting fire either
// sees nothing or a fully-installed slot, never a half-added one.
func (n *Notify) registerEvent(procLine uint16, event uint32, key SystemKey, single bool, cb Callback, arg uintptr) error {
	if err := checkSystemKey(event, n.reservedEvents, key); err != nil {
		return err
	}
	ln := n.lineFor(procLine)

	ln.mu.Lock()
	defer ln.mu.Unlock()

	slot, exists := ln.events[event]
	if single {
		if exists && slot.registered.Load() {
			return errs.New("Notify.registerEvent", errs.CodeAlreadyExists, "event already registered on this line")
		}
		if !exists {
			slot = &eventSlot{single: true}
			ln.events[event] = slot
		}
		slot.singleCB, slot.singleArg = cb, arg // install callback...
		slot.registered.Store(true)
		slot.enabled.Store(true) // ...then enable
		return nil
	}

	if exists && slot.single {
		return errs.New("Notify.registerEvent", errs.CodeAlreadyExists, "event already registered in single mode on this line")
	}
	if !exists {
		slot = &eventSlot{}
		ln.events[event] = slot
	}
	slot.listeners = append(slot.listeners, listener{callback: cb, arg: arg}) // add to list
	slot.registered.Store(true)
	slot.enabled.Store(true) // install callback, then enable
	return nil
}

// RegisterEvent appends a fan-out listener for event on procLine. Multiple
// listeners may be registered for the same (procLine, event); SendEvent
// fires every one of them (spec.md §4.H "fan-in / fan-out").
func (n *Notify) RegisterEvent(procLine uint16, event uint32, key SystemKey, cb Callback, arg uintptr) error {
	return n.registerEvent(procLine, event, key, false, cb, arg)
}

// RegisterEventSingle registers the one callback allowed for event on
// procLine; a second registration (single or fan-out) fails with
// AlreadyExists until the first is unregistered. A self-delivered
// SendEvent unregisters the callback after running it.
func (n *Notify) RegisterEventSingle(procLine uint16, event uint32, key SystemKey, cb Callback, arg uintptr) error {
	return n.registerEvent(procLine, event, key, true, cb, arg)
}

func (n *Notify) unregisterLocked(ln *line, event uint32, arg uintptr) error {
	slot, ok := ln.events[event]
	if !ok {
		return errs.New("Notify.unregisterEvent", errs.CodeNotFound, "event not registered")
	}

	if slot.single {
		if slot.singleArg != arg {
			return errs.New("Notify.unregisterEvent", errs.CodeNotFound, "listener not registered")
		}
		slot.enabled.Store(false) // disable at driver, then remove callback, then remove from list
		slot.singleCB = nil
		delete(ln.events, event)
		return nil
	}

	idx := -1
	for i, l := range slot.listeners {
		if l.arg == arg {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errs.New("Notify.unregisterEvent", errs.CodeNotFound, "listener not registered")
	}
	slot.listeners = append(slot.listeners[:idx], slot.listeners[idx+1:]...)
	if len(slot.listeners) == 0 {
		slot.enabled.Store(false)
		delete(ln.events, event)
	}
	return nil
}

// UnregisterEvent removes the fan-out listener matching arg, reversing one
// RegisterEvent call; the event stays registered for any other listeners
// still on its list.
func (n *Notify) UnregisterEvent(procLine uint16, event uint32, arg uintptr) error {
	ln, ok := n.existingLine(procLine)
	if !ok {
		return errs.New("Notify.unregisterEvent", errs.CodeNotFound, "line not registered")
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return n.unregisterLocked(ln, event, arg)
}

// UnregisterEventSingle reverses RegisterEventSingle.
func (n *Notify) UnregisterEventSingle(procLine uint16, event uint32, arg uintptr) error {
	return n.UnregisterEvent(procLine, event, arg)
}

// Enable/Disable act on an entire interrupt line.
func (n *Notify) Enable(procLine uint16) {
	n.lineFor(procLine).disabled.Store(false)
}

func (n *Notify) Disable(procLine uint16) {
	n.lineFor(procLine).disabled.Store(true)
}

// EnableEvent/DisableEvent act on a single event within a line.
func (n *Notify) EnableEvent(procLine uint16, event uint32) error {
	ln, ok := n.existingLine(procLine)
	if !ok {
		return errs.New("Notify.enableEvent", errs.CodeNotFound, "line not registered")
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	slot, ok := ln.events[event]
	if !ok {
		return errs.New("Notify.enableEvent", errs.CodeNotFound, "event not registered")
	}
	slot.enabled.Store(true)
	return nil
}

func (n *Notify) DisableEvent(procLine uint16, event uint32) error {
	ln, ok := n.existingLine(procLine)
	if !ok {
		return errs.New("Notify.disableEvent", errs.CodeNotFound, "line not registered")
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	slot, ok := ln.events[event]
	if !ok {
		return errs.New("Notify.disableEvent", errs.CodeNotFound, "event not registered")
	}
	slot.enabled.Store(false)
	return nil
}

// Restore re-enables a line and leaves individual event-enable state
// untouched, matching the driver-restore step after a suspend/resume.
func (n *Notify) Restore(procLine uint16) {
	n.Enable(procLine)
}

// EventAvailable reports whether event is currently registered and
// enabled on procLine.
func (n *Notify) EventAvailable(procLine uint16, event uint32) bool {
	ln, ok := n.existingLine(procLine)
	if !ok {
		return false
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	slot, ok := ln.events[event]
	return ok && slot.registered.Load() && slot.enabled.Load()
}

// IntLineRegistered reports whether procLine has any registered events.
func (n *Notify) IntLineRegistered(procLine uint16) bool {
	ln, ok := n.existingLine(procLine)
	if !ok {
		return false
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return len(ln.events) > 0
}

// NumIntLines reports how many distinct lines have ever been touched.
func (n *Notify) NumIntLines() int {
	n.linesMu.Lock()
	defer n.linesMu.Unlock()
	return len(n.lines)
}

// SendEvent delivers event on procLine to the named peer (spec.md §4.H
// sendEvent). If peer is self, the callback runs synchronously, guarded
// by the module nesting counter being zero (no ISR-context reentry); for
// any other peer it delegates to that peer's registered Driver.
func (n *Notify) SendEvent(peer uint16, procLine uint16, event uint32, payload uint32, waitClear bool) error {
	if peer == n.selfID {
		ln, ok := n.existingLine(procLine)
		if !ok || ln.disabled.Load() {
			n.obs.ObserveNotifyFire(false)
			return errs.New("Notify.sendEvent", errs.CodeInvalidState, "line not registered or disabled")
		}
		ln.mu.Lock()
		slot, ok := ln.events[event]
		if !ok || !slot.registered.Load() {
			ln.mu.Unlock()
			n.obs.ObserveNotifyFire(false)
			return errs.New("Notify.sendEvent", errs.CodeNotFound, "no callback registered for event")
		}
		if !slot.enabled.Load() {
			ln.mu.Unlock()
			n.obs.ObserveNotifyFire(false)
			return errs.New("Notify.sendEvent", errs.CodeInvalidState, "event not enabled")
		}
		if n.nestingCount.Load() != 0 {
			ln.mu.Unlock()
			n.obs.ObserveNotifyFire(false)
			return errs.New("Notify.sendEvent", errs.CodeInvalidState, "module nesting counter nonzero")
		}
		single := slot.single
		var singleCB Callback
		var singleArg uintptr
		var fanout []listener
		if single {
			singleCB, singleArg = slot.singleCB, slot.singleArg
		} else {
			fanout = append(fanout, slot.listeners...) // copy: callbacks run outside ln.mu
		}
		ln.mu.Unlock()

		n.nestingCount.Add(1)
		if single {
			singleCB(n.selfID, procLine, event, singleArg, payload)
		} else {
			for _, l := range fanout {
				l.callback(n.selfID, procLine, event, l.arg, payload)
			}
		}
		n.nestingCount.Add(-1)
		n.obs.ObserveNotifyFire(true)

		if single {
			_ = n.UnregisterEvent(procLine, event, singleArg)
		}
		return nil
	}

	n.driversMu.RLock()
	d, ok := n.drivers[peer]
	n.driversMu.RUnlock()
	if !ok {
		n.obs.ObserveNotifyFire(false)
		return errs.New("Notify.sendEvent", errs.CodeNotFound, "no driver registered for peer")
	}
	if err := d.SendEvent(procLine, event, payload, waitClear); err != nil {
		n.obs.ObserveNotifyFire(false)
		return errs.Wrap("Notify.sendEvent", err)
	}
	n.obs.ObserveNotifyFire(true)
	return nil
}
