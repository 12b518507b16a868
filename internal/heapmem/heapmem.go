// Package heapmem implements HeapMemMP (spec.md §4.F): a first-fit
// free-list heap carved out of a single shared-region buffer, safe for
// multiple processors via the owning GateMP.
package heapmem

import (
	"encoding/binary"

	"github.com/behrlich/go-hipc/internal/errs"
	"github.com/behrlich/go-hipc/internal/gatemp"
	"github.com/behrlich/go-hipc/internal/sharedregion"
)

// headerSize is sizeof({next SRPtr, size u32}) — every free block begins
// with one (spec.md §3, "HeapMemMP header").
const headerSize = 8

// Stats mirrors HeapMemMP.getStats (spec.md §4.F).
type Stats struct {
	TotalSize      uint32
	TotalFreeSize  uint32
	LargestFreeSize uint32
}

// Observer is the metrics hook Alloc/Free report through (spec.md
// SPEC_FULL §2.4).
type Observer interface {
	ObserveHeapAlloc(success bool)
	ObserveHeapFree()
}

type noOpObserver struct{}

func (noOpObserver) ObserveHeapAlloc(bool) {}
func (noOpObserver) ObserveHeapFree()      {}

// Heap is one HeapMemMP instance.
type Heap struct {
	dir        *sharedregion.Directory
	regionID   uint32
	gate       *gatemp.Gate
	bufOffset  uint32
	bufSize    uint32
	minAlign   uint32
	headOffset uint32 // sentinel head, its .next points to the first free block
	obs        Observer
}

// SetObserver installs the metrics hook Alloc/Free report through. Passing
// nil reverts to a no-op observer.
func (h *Heap) SetObserver(obs Observer) {
	if obs == nil {
		obs = noOpObserver{}
	}
	h.obs = obs
}

func roundUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// New creates a heap managing [bufOffset, bufOffset+bufSize) of regionID.
// headOffset must name headerSize bytes reserved outside that range for
// the sentinel head. minAlign is max(headerSize, region.cacheLineSize)
// per spec.md §4.F invariant 1.
func New(dir *sharedregion.Directory, regionID uint32, gate *gatemp.Gate, headOffset, bufOffset, bufSize uint32) (*Heap, error) {
	cacheLine, err := dir.GetCacheLineSize(regionID)
	if err != nil {
		return nil, errs.Wrap("HeapMemMP.create", err)
	}
	minAlign := headerSize
	if int(cacheLine) > minAlign {
		minAlign = int(cacheLine)
	}

	alignedOffset := roundUp(bufOffset, uint32(minAlign))
	shrink := alignedOffset - bufOffset
	if shrink > bufSize {
		return nil, errs.New("HeapMemMP.create", errs.CodeInvalidArg, "buffer too small to align")
	}
	alignedSize := (bufSize - shrink) &^ (uint32(minAlign) - 1)
	if alignedSize == 0 {
		return nil, errs.New("HeapMemMP.create", errs.CodeInvalidArg, "buffer too small")
	}

	h := &Heap{
		dir:        dir,
		regionID:   regionID,
		gate:       gate,
		bufOffset:  alignedOffset,
		bufSize:    alignedSize,
		minAlign:   uint32(minAlign),
		headOffset: headOffset,
		obs:        noOpObserver{},
	}

	blockPtr, err := dir.GetSRPtr(regionID, alignedOffset)
	if err != nil {
		return nil, errs.Wrap("HeapMemMP.create", err)
	}
	if err := h.writeHeader(blockPtr, sharedregion.InvalidSRPtr, alignedSize); err != nil {
		return nil, err
	}
	headPtr, err := dir.GetSRPtr(regionID, headOffset)
	if err != nil {
		return nil, errs.Wrap("HeapMemMP.create", err)
	}
	if err := h.writeHeader(headPtr, blockPtr, 0); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Heap) readHeader(p sharedregion.SRPtr) (next sharedregion.SRPtr, size uint32, err error) {
	h.dir.InvalidateBeforeRead(h.regionID)
	mem, gerr := h.dir.GetPtr(p)
	if gerr != nil {
		return 0, 0, errs.Wrap("HeapMemMP", gerr)
	}
	if len(mem) < headerSize {
		return 0, 0, errs.New("HeapMemMP", errs.CodeInvalidArg, "header truncated")
	}
	next = sharedregion.SRPtr(binary.LittleEndian.Uint32(mem[0:4]))
	size = binary.LittleEndian.Uint32(mem[4:8])
	return next, size, nil
}

func (h *Heap) writeHeader(p sharedregion.SRPtr, next sharedregion.SRPtr, size uint32) error {
	mem, err := h.dir.GetPtr(p)
	if err != nil {
		return errs.Wrap("HeapMemMP", err)
	}
	if len(mem) < headerSize {
		return errs.New("HeapMemMP", errs.CodeInvalidArg, "header truncated")
	}
	binary.LittleEndian.PutUint32(mem[0:4], uint32(next))
	binary.LittleEndian.PutUint32(mem[4:8], size)
	h.dir.WriteBackAfterWrite(h.regionID)
	return nil
}

func (h *Heap) headPtr() (sharedregion.SRPtr, error) {
	return h.dir.GetSRPtr(h.regionID, h.headOffset)
}

// Alloc reserves size bytes aligned to reqAlign (spec.md §4.F alloc).
func (h *Heap) Alloc(size, reqAlign uint32) (ptr sharedregion.SRPtr, err error) {
	key, reentered := h.gate.Enter(0)
	defer h.gate.Leave(key, reentered)
	defer func() { h.obs.ObserveHeapAlloc(err == nil) }()

	size = roundUp(size, h.minAlign)
	align := roundUp(reqAlign, h.minAlign)
	if align == 0 {
		align = h.minAlign
	}

	head, err := h.headPtr()
	if err != nil {
		return sharedregion.InvalidSRPtr, err
	}

	prev := head
	_, cur, err := h.nextOf(head)
	if err != nil {
		return sharedregion.InvalidSRPtr, err
	}

	for cur != sharedregion.InvalidSRPtr {
		curNext, curSize, err := h.readHeader(cur)
		if err != nil {
			return sharedregion.InvalidSRPtr, err
		}
		curAddr := cur.Offset()
		alignedStart := roundUp(curAddr, align)
		gap := alignedStart - curAddr
		if curSize >= gap+size {
			remainder := curSize - gap - size
			allocAddr := alignedStart

			// Gap block in front, if any, stays in the list in cur's place.
			if gap > 0 {
				if err := h.writeHeader(cur, curNext, gap); err != nil {
					return sharedregion.InvalidSRPtr, err
				}
				if err := h.setNext(prev, cur); err != nil {
					return sharedregion.InvalidSRPtr, err
				}
				prev = cur
			}

			allocPtr, err := h.dir.GetSRPtr(h.regionID, allocAddr)
			if err != nil {
				return sharedregion.InvalidSRPtr, errs.Wrap("HeapMemMP.alloc", err)
			}

			var afterAlloc sharedregion.SRPtr
			if remainder > 0 {
				remAddr := allocAddr + size
				remPtr, err := h.dir.GetSRPtr(h.regionID, remAddr)
				if err != nil {
					return sharedregion.InvalidSRPtr, errs.Wrap("HeapMemMP.alloc", err)
				}
				if err := h.writeHeader(remPtr, curNext, remainder); err != nil {
					return sharedregion.InvalidSRPtr, err
				}
				afterAlloc = remPtr
			} else {
				afterAlloc = curNext
			}

			if gap == 0 {
				if err := h.setNext(prev, afterAlloc); err != nil {
					return sharedregion.InvalidSRPtr, err
				}
			} else {
				if err := h.setNext(cur, afterAlloc); err != nil {
					return sharedregion.InvalidSRPtr, err
				}
			}
			return allocPtr, nil
		}
		prev = cur
		cur = curNext
	}
	return sharedregion.InvalidSRPtr, errs.New("HeapMemMP.alloc", errs.CodeMemory, "no block large enough")
}

// nextOf reads the next pointer stored at p (used for both the sentinel
// head and ordinary free blocks, since both share the same header shape).
func (h *Heap) nextOf(p sharedregion.SRPtr) (sharedregion.SRPtr, sharedregion.SRPtr, error) {
	next, _, err := h.readHeader(p)
	return p, next, err
}

func (h *Heap) setNext(p sharedregion.SRPtr, next sharedregion.SRPtr) error {
	_, size, err := h.readHeader(p)
	if err != nil {
		return err
	}
	return h.writeHeader(p, next, size)
}

// Free returns addr (size bytes) to the free list, coalescing with
// adjacent blocks where possible (spec.md §4.F free).
func (h *Heap) Free(addr sharedregion.SRPtr, size uint32) (err error) {
	key, reentered := h.gate.Enter(0)
	defer h.gate.Leave(key, reentered)
	defer func() {
		if err == nil {
			h.obs.ObserveHeapFree()
		}
	}()

	size = roundUp(size, h.minAlign)
	if addr.Offset()%h.minAlign != 0 {
		return errs.New("HeapMemMP.free", errs.CodeInvalidArg, "address not aligned")
	}
	if addr.Offset() < h.bufOffset || addr.Offset()+size > h.bufOffset+h.bufSize {
		return errs.New("HeapMemMP.free", errs.CodeInvalidArg, "address outside buffer")
	}

	head, err := h.headPtr()
	if err != nil {
		return err
	}

	prev := head
	_, cur, err := h.nextOf(head)
	if err != nil {
		return err
	}
	for cur != sharedregion.InvalidSRPtr && cur.Offset() < addr.Offset() {
		_, next, err := h.nextOf(cur)
		if err != nil {
			return err
		}
		prev = cur
		cur = next
	}

	// Coalesce with successor first.
	finalSize := size
	finalNext := cur
	if cur != sharedregion.InvalidSRPtr {
		curNext, curSize, err := h.readHeader(cur)
		if err != nil {
			return err
		}
		if addr.Offset()+size == cur.Offset() {
			finalSize += curSize
			finalNext = curNext
		}
	}
	if err := h.writeHeader(addr, finalNext, finalSize); err != nil {
		return err
	}

	// Coalesce with predecessor.
	if prev != head {
		prevNext, prevSize, err := h.readHeader(prev)
		if err != nil {
			return err
		}
		if prev.Offset()+prevSize == addr.Offset() {
			if err := h.writeHeader(prev, finalNext, prevSize+finalSize); err != nil {
				return err
			}
			return nil
		}
		_ = prevNext
	}
	return h.setNext(prev, addr)
}

// GetStats walks the free list under the gate and reports heap usage.
func (h *Heap) GetStats() (Stats, error) {
	key, reentered := h.gate.Enter(0)
	defer h.gate.Leave(key, reentered)

	stats := Stats{TotalSize: h.bufSize}
	head, err := h.headPtr()
	if err != nil {
		return stats, err
	}
	_, cur, err := h.nextOf(head)
	if err != nil {
		return stats, err
	}
	for cur != sharedregion.InvalidSRPtr {
		next, size, err := h.readHeader(cur)
		if err != nil {
			return stats, err
		}
		stats.TotalFreeSize += size
		if size > stats.LargestFreeSize {
			stats.LargestFreeSize = size
		}
		cur = next
	}
	return stats, nil
}
