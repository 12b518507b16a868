// Package heapmultibuf implements HeapMultiBufMP (spec.md §4.G): a
// bucketed fixed-block heap, each bucket a singly-linked FIFO of free
// blocks, generalizing the bucket-by-size idea behind the teacher's
// BufferPool (internal/queue/pool.go GetBuffer/PutBuffer) to
// caller-defined buckets living in shared memory instead of sync.Pool.
package heapmultibuf

import (
	"encoding/binary"
	"sort"

	"github.com/behrlich/go-hipc/internal/errs"
	"github.com/behrlich/go-hipc/internal/gatemp"
	"github.com/behrlich/go-hipc/internal/sharedregion"
)

const defaultTypeAlign = 8

// nextFieldSize is sizeof(SRPtr), the only field a free block needs: a
// singly-linked FIFO doesn't need back-links.
const nextFieldSize = 4

// BucketSpec is the caller-supplied, pre-normalization bucket request.
type BucketSpec struct {
	BlockSize uint32
	Align     uint32
	NumBlocks uint32
}

// bucket is one normalized, laid-out bucket.
type bucket struct {
	baseAddr      sharedregion.SRPtr
	blockSize     uint32
	align         uint32
	numBlocks     uint32
	numFreeBlocks uint32
	minFreeBlocks uint32
	head          sharedregion.SRPtr
	tail          sharedregion.SRPtr
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

// Heap is one HeapMultiBufMP instance.
type Heap struct {
	dir            *sharedregion.Directory
	regionID       uint32
	gate           *gatemp.Gate
	buckets        []*bucket
	exactMode      bool
	trackMaxAllocs bool
	obs            Observer
}

// SetObserver installs the metrics hook Alloc/Free report through.
// Passing nil reverts to a no-op observer.
func (h *Heap) SetObserver(obs Observer) {
	if obs == nil {
		obs = noOpObserver{}
	}
	h.obs = obs
}

// New normalizes specs (spec.md §4.G create-time normalization: align
// raised to max(cacheLineSize, defaultTypeAlign), blockSize raised to a
// multiple of align, buckets sorted and merged by (blockSize, align)),
// lays each bucket's blocks out contiguously starting at bufOffset, and
// links each bucket's blocks into its free FIFO.
func New(dir *sharedregion.Directory, regionID uint32, gate *gatemp.Gate, bufOffset uint32, specs []BucketSpec, exactMode, trackMaxAllocs bool) (*Heap, error) {
	cacheLine, err := dir.GetCacheLineSize(regionID)
	if err != nil {
		return nil, errs.Wrap("HeapMultiBufMP.create", err)
	}
	minAlign := cacheLine
	if defaultTypeAlign > minAlign {
		minAlign = defaultTypeAlign
	}

	type normalized struct {
		blockSize, align, numBlocks uint32
	}
	norm := make([]normalized, len(specs))
	for i, s := range specs {
		align := s.Align
		if align < minAlign {
			align = minAlign
		}
		blockSize := roundUp(s.BlockSize, align)
		norm[i] = normalized{blockSize: blockSize, align: align, numBlocks: s.NumBlocks}
	}
	sort.Slice(norm, func(i, j int) bool {
		if norm[i].blockSize != norm[j].blockSize {
			return norm[i].blockSize < norm[j].blockSize
		}
		return norm[i].align < norm[j].align
	})

	merged := make([]normalized, 0, len(norm))
	for _, n := range norm {
		if len(merged) > 0 && merged[len(merged)-1].blockSize == n.blockSize && merged[len(merged)-1].align == n.align {
			merged[len(merged)-1].numBlocks += n.numBlocks
			continue
		}
		merged = append(merged, n)
	}

	h := &Heap{dir: dir, regionID: regionID, gate: gate, exactMode: exactMode, trackMaxAllocs: trackMaxAllocs, obs: noOpObserver{}}
	offset := bufOffset
	for _, n := range merged {
		offset = roundUp(offset, n.align)
		b := &bucket{
			blockSize:     n.blockSize,
			align:         n.align,
			numBlocks:     n.numBlocks,
			numFreeBlocks: n.numBlocks,
			minFreeBlocks: n.numBlocks,
			head:          sharedregion.InvalidSRPtr,
			tail:          sharedregion.InvalidSRPtr,
		}
		basePtr, err := dir.GetSRPtr(regionID, offset)
		if err != nil {
			return nil, errs.Wrap("HeapMultiBufMP.create", err)
		}
		b.baseAddr = basePtr

		var prev sharedregion.SRPtr = sharedregion.InvalidSRPtr
		for i := uint32(0); i < n.numBlocks; i++ {
			blockOff := offset + i*n.blockSize
			blockPtr, err := dir.GetSRPtr(regionID, blockOff)
			if err != nil {
				return nil, errs.Wrap("HeapMultiBufMP.create", err)
			}
			if err := h.writeNext(blockPtr, sharedregion.InvalidSRPtr); err != nil {
				return nil, err
			}
			if prev == sharedregion.InvalidSRPtr {
				b.head = blockPtr
			} else {
				if err := h.writeNext(prev, blockPtr); err != nil {
					return nil, err
				}
			}
			prev = blockPtr
		}
		b.tail = prev
		offset += n.numBlocks * n.blockSize
		h.buckets = append(h.buckets, b)
	}
	return h, nil
}

func roundUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func (h *Heap) readNext(p sharedregion.SRPtr) (sharedregion.SRPtr, error) {
	h.dir.InvalidateBeforeRead(h.regionID)
	mem, err := h.dir.GetPtr(p)
	if err != nil {
		return 0, errs.Wrap("HeapMultiBufMP", err)
	}
	if len(mem) < nextFieldSize {
		return 0, errs.New("HeapMultiBufMP", errs.CodeInvalidArg, "block truncated")
	}
	return sharedregion.SRPtr(binary.LittleEndian.Uint32(mem[0:4])), nil
}

func (h *Heap) writeNext(p sharedregion.SRPtr, next sharedregion.SRPtr) error {
	mem, err := h.dir.GetPtr(p)
	if err != nil {
		return errs.Wrap("HeapMultiBufMP", err)
	}
	if len(mem) < nextFieldSize {
		return errs.New("HeapMultiBufMP", errs.CodeInvalidArg, "block truncated")
	}
	binary.LittleEndian.PutUint32(mem[0:4], uint32(next))
	h.dir.WriteBackAfterWrite(h.regionID)
	return nil
}

// Alloc pops the head of the first bucket satisfying size/align (spec.md
// §4.G alloc). In exact mode, size must equal the bucket's blockSize.
func (h *Heap) Alloc(size, align uint32) (ptr sharedregion.SRPtr, err error) {
	key, reentered := h.gate.Enter(0)
	defer h.gate.Leave(key, reentered)
	defer func() { h.obs.ObserveHeapAlloc(err == nil) }()

	for _, b := range h.buckets {
		if size > b.blockSize || align > b.align {
			continue
		}
		if h.exactMode && size != b.blockSize {
			return sharedregion.InvalidSRPtr, errs.New("HeapMultiBufMP.alloc", errs.CodeInvalidArg, "exact mode requires size == blockSize")
		}
		if b.head == sharedregion.InvalidSRPtr {
			return sharedregion.InvalidSRPtr, errs.New("HeapMultiBufMP.alloc", errs.CodeMemory, "bucket has no free blocks")
		}
		elem := b.head
		next, err := h.readNext(elem)
		if err != nil {
			return sharedregion.InvalidSRPtr, err
		}
		b.head = next
		if b.head == sharedregion.InvalidSRPtr {
			b.tail = sharedregion.InvalidSRPtr
		}
		b.numFreeBlocks--
		if h.trackMaxAllocs && b.numFreeBlocks < b.minFreeBlocks {
			b.minFreeBlocks = b.numFreeBlocks
		}
		return elem, nil
	}
	return sharedregion.InvalidSRPtr, errs.New("HeapMultiBufMP.alloc", errs.CodeInvalidArg, "no bucket fits size/align")
}

// bucketFor finds the bucket owning addr by bounded scan over sorted
// buckets, per spec.md §4.G free ("buckets are sorted; this is a bounded
// scan").
func (h *Heap) bucketFor(addr sharedregion.SRPtr) *bucket {
	var best *bucket
	for _, b := range h.buckets {
		span := b.numBlocks * b.blockSize
		if addr.Offset() >= b.baseAddr.Offset() && addr.Offset() < b.baseAddr.Offset()+span {
			if best == nil || b.blockSize < best.blockSize {
				best = b
			}
		}
	}
	return best
}

// Free returns addr to its bucket's FIFO tail (spec.md §4.G free).
func (h *Heap) Free(addr sharedregion.SRPtr, size uint32) (err error) {
	key, reentered := h.gate.Enter(0)
	defer h.gate.Leave(key, reentered)
	defer func() {
		if err == nil {
			h.obs.ObserveHeapFree()
		}
	}()

	b := h.bucketFor(addr)
	if b == nil {
		return errs.New("HeapMultiBufMP.free", errs.CodeInvalidArg, "address not owned by any bucket")
	}
	if h.exactMode && size != b.blockSize {
		return errs.New("HeapMultiBufMP.free", errs.CodeInvalidArg, "exact mode requires size == blockSize")
	}
	if !h.exactMode && size > b.blockSize {
		return errs.New("HeapMultiBufMP.free", errs.CodeInvalidArg, "size exceeds blockSize")
	}

	if err := h.writeNext(addr, sharedregion.InvalidSRPtr); err != nil {
		return err
	}
	if b.tail == sharedregion.InvalidSRPtr {
		b.head = addr
		b.tail = addr
	} else {
		if err := h.writeNext(b.tail, addr); err != nil {
			return err
		}
		b.tail = addr
	}
	b.numFreeBlocks++
	return nil
}

// NumFreeBlocks reports how many free blocks remain in the bucket whose
// blockSize/align matches exactly, or -1 if no such bucket exists.
func (h *Heap) NumFreeBlocks(blockSize, align uint32) int {
	for _, b := range h.buckets {
		if b.blockSize == blockSize && b.align == align {
			return int(b.numFreeBlocks)
		}
	}
	return -1
}
