// Package listmp implements ListMP (spec.md §4.E): a doubly-linked list of
// shared-region pointers, GateMP-guarded, with the cache invalidate /
// write-back discipline spec.md requires around every shared node touch.
package listmp

import (
	"encoding/binary"

	"github.com/behrlich/go-hipc/internal/errs"
	"github.com/behrlich/go-hipc/internal/gatemp"
	"github.com/behrlich/go-hipc/internal/sharedregion"
)

// nodeSize is sizeof({next, prev SRPtr}) — every list element, including
// the inline head, begins with this pair (spec.md §3, "ListMP node").
const nodeSize = 8

// List is one ListMP instance: an inline head node living in shared
// memory plus the GateMP guarding every mutation.
type List struct {
	dir      *sharedregion.Directory
	regionID uint32
	gate     *gatemp.Gate
	head     sharedregion.SRPtr // &head, used for emptiness and loop termination
}

// New creates a list whose inline head node is placed at headOffset in
// regionID. The caller is responsible for reserving that space (e.g. via
// HeapMemMP.alloc) before calling New.
func New(dir *sharedregion.Directory, regionID uint32, headOffset uint32, gate *gatemp.Gate) (*List, error) {
	headPtr, err := dir.GetSRPtr(regionID, headOffset)
	if err != nil {
		return nil, errs.Wrap("ListMP.create", err)
	}
	l := &List{dir: dir, regionID: regionID, gate: gate, head: headPtr}
	if err := l.writeNode(headPtr, headPtr, headPtr); err != nil {
		return nil, errs.Wrap("ListMP.create", err)
	}
	return l, nil
}

func (l *List) readNode(p sharedregion.SRPtr) (next, prev sharedregion.SRPtr, err error) {
	l.dir.InvalidateBeforeRead(l.regionID)
	mem, gerr := l.dir.GetPtr(p)
	if gerr != nil {
		return 0, 0, errs.Wrap("ListMP", gerr)
	}
	if len(mem) < nodeSize {
		return 0, 0, errs.New("ListMP", errs.CodeInvalidArg, "node truncated")
	}
	next = sharedregion.SRPtr(binary.LittleEndian.Uint32(mem[0:4]))
	prev = sharedregion.SRPtr(binary.LittleEndian.Uint32(mem[4:8]))
	return next, prev, nil
}

func (l *List) writeNode(p sharedregion.SRPtr, next, prev sharedregion.SRPtr) error {
	mem, err := l.dir.GetPtr(p)
	if err != nil {
		return errs.Wrap("ListMP", err)
	}
	if len(mem) < nodeSize {
		return errs.New("ListMP", errs.CodeInvalidArg, "node truncated")
	}
	binary.LittleEndian.PutUint32(mem[0:4], uint32(next))
	binary.LittleEndian.PutUint32(mem[4:8], uint32(prev))
	l.dir.WriteBackAfterWrite(l.regionID)
	return nil
}

// srptrEqual compares SRPtrs by value, per spec.md §4.E ("a shared pointer
// comparison uses SRPtr equality, not virtual-pointer equality").
func srptrEqual(a, b sharedregion.SRPtr) bool { return a == b }

// Empty reports whether the list has no elements: head.next == &head.
func (l *List) Empty() (bool, error) {
	key, reentered := l.gate.Enter(0)
	defer l.gate.Leave(key, reentered)

	next, _, err := l.readNode(l.head)
	if err != nil {
		return false, err
	}
	return srptrEqual(next, l.head), nil
}

// GetHead removes and returns the first element, or InvalidSRPtr if the
// list is empty (spec.md §4.E: getHead dequeues, it does not peek).
func (l *List) GetHead() (sharedregion.SRPtr, error) {
	key, reentered := l.gate.Enter(0)
	defer l.gate.Leave(key, reentered)

	next, _, err := l.readNode(l.head)
	if err != nil {
		return sharedregion.InvalidSRPtr, err
	}
	if srptrEqual(next, l.head) {
		return sharedregion.InvalidSRPtr, nil
	}
	if err := l.unlinkLocked(next); err != nil {
		return sharedregion.InvalidSRPtr, err
	}
	return next, nil
}

// GetTail removes and returns the last element, or InvalidSRPtr if the
// list is empty (spec.md §4.E: getTail dequeues, it does not peek).
func (l *List) GetTail() (sharedregion.SRPtr, error) {
	key, reentered := l.gate.Enter(0)
	defer l.gate.Leave(key, reentered)

	_, prev, err := l.readNode(l.head)
	if err != nil {
		return sharedregion.InvalidSRPtr, err
	}
	if srptrEqual(prev, l.head) {
		return sharedregion.InvalidSRPtr, nil
	}
	if err := l.unlinkLocked(prev); err != nil {
		return sharedregion.InvalidSRPtr, err
	}
	return prev, nil
}

// PutHead inserts elem as the new first element.
func (l *List) PutHead(elem sharedregion.SRPtr) error {
	key, reentered := l.gate.Enter(0)
	defer l.gate.Leave(key, reentered)
	return l.linkAfter(l.head, elem)
}

// PutTail inserts elem as the new last element.
func (l *List) PutTail(elem sharedregion.SRPtr) error {
	key, reentered := l.gate.Enter(0)
	defer l.gate.Leave(key, reentered)

	_, tailPrev, err := l.readNode(l.head)
	if err != nil {
		return err
	}
	return l.linkAfter(tailPrev, elem)
}

// Insert places newElem immediately before curElem.
func (l *List) Insert(newElem, curElem sharedregion.SRPtr) error {
	key, reentered := l.gate.Enter(0)
	defer l.gate.Leave(key, reentered)

	_, curPrev, err := l.readNode(curElem)
	if err != nil {
		return err
	}
	return l.linkAfter(curPrev, newElem)
}

// linkAfter splices newElem in between afterElem and afterElem's current
// next, serializing the three header touches (afterElem, newElem, old
// next) before the gate is released, per spec.md §4.E/§4.F's "all three
// header touches are serialized and written back before unlocking".
func (l *List) linkAfter(afterElem, newElem sharedregion.SRPtr) error {
	afterNext, afterPrev, err := l.readNode(afterElem)
	if err != nil {
		return err
	}
	oldNext := afterNext

	if err := l.writeNode(newElem, oldNext, afterElem); err != nil {
		return err
	}
	if err := l.writeNode(afterElem, newElem, afterPrev); err != nil {
		return err
	}
	nextNext, _, err := l.readNode(oldNext)
	if err != nil {
		return err
	}
	return l.writeNode(oldNext, nextNext, newElem)
}

// Remove unlinks elem from the list.
func (l *List) Remove(elem sharedregion.SRPtr) error {
	key, reentered := l.gate.Enter(0)
	defer l.gate.Leave(key, reentered)
	return l.unlinkLocked(elem)
}

// unlinkLocked splices elem out of the list. Callers must already hold
// the gate.
func (l *List) unlinkLocked(elem sharedregion.SRPtr) error {
	next, prev, err := l.readNode(elem)
	if err != nil {
		return err
	}
	_, prevPrev, err := l.readNode(prev)
	if err != nil {
		return err
	}
	if err := l.writeNode(prev, next, prevPrev); err != nil {
		return err
	}
	nextNext, _, err := l.readNode(next)
	if err != nil {
		return err
	}
	return l.writeNode(next, nextNext, prev)
}

// Next returns the element following elem (the head if elem is the tail).
func (l *List) Next(elem sharedregion.SRPtr) (sharedregion.SRPtr, error) {
	key, reentered := l.gate.Enter(0)
	defer l.gate.Leave(key, reentered)

	next, _, err := l.readNode(elem)
	return next, err
}

// Prev returns the element preceding elem (the head if elem is the head
// of the list).
func (l *List) Prev(elem sharedregion.SRPtr) (sharedregion.SRPtr, error) {
	key, reentered := l.gate.Enter(0)
	defer l.gate.Leave(key, reentered)

	_, prev, err := l.readNode(elem)
	return prev, err
}
