// Package sharedregion implements the SharedRegion directory (spec.md
// §4.B): translation between shared-region pointers (SRPtr) and local
// virtual addresses, plus the per-region cache-line geometry and heap
// handle every shared-memory container (ListMP, HeapMemMP,
// HeapMultiBufMP) needs.
package sharedregion

import (
	"golang.org/x/sys/unix"

	"github.com/behrlich/go-hipc/internal/constants"
	"github.com/behrlich/go-hipc/internal/errs"
)

// SRPtr is a 32-bit shared-region pointer: high constants.SRPtrRegionBits
// bits are the region id, the remainder is the in-region byte offset.
type SRPtr uint32

// InvalidSRPtr never names a real region+offset pair.
const InvalidSRPtr SRPtr = constants.InvalidSRPtr

// InvalidRegionID is the SharedRegion directory's sentinel region id.
const InvalidRegionID uint32 = constants.InvalidRegionID

const offsetBits = 32 - constants.SRPtrRegionBits
const offsetMask = (uint32(1) << offsetBits) - 1

func makeSRPtr(regionID uint32, offset uint32) SRPtr {
	return SRPtr((regionID << offsetBits) | (offset & offsetMask))
}

// RegionID returns the region id portion of p.
func (p SRPtr) RegionID() uint32 { return uint32(p) >> offsetBits }

// Offset returns the in-region byte offset portion of p.
func (p SRPtr) Offset() uint32 { return uint32(p) & offsetMask }

// region is one entry of the directory (spec.md §4.B data model).
type region struct {
	id            uint32
	mem           []byte // mmap-backed, MAP_SHARED so both "processors" see writes
	cacheLineSize uint32
	cacheEnabled  bool
	ownerProcID   uint16
	heap          interface{} // set by whichever component creates a heap here
}

// Directory is the SharedRegion directory: per-region base/len/geometry
// plus getPtr/getSRPtr/getId translation (spec.md §4.B). A pointer is
// either in exactly one region or outside all of them; regions never
// overlap because each owns its own independent mmap.
type Directory struct {
	regions []*region
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{}
}

// RegionConfig parameterizes CreateRegion.
type RegionConfig struct {
	Len           uint32
	CacheLineSize uint32
	CacheEnabled  bool
	OwnerProcID   uint16
}

// CreateRegion allocates a new anonymous MAP_SHARED mapping of cfg.Len
// bytes and registers it as the next region id. The mapping is shared
// across threads/goroutines standing in for cooperating processors in
// this single address space, mirroring how real co-processors instead
// see the same physical pages through their own MMU translation.
func (d *Directory) CreateRegion(cfg RegionConfig) (uint32, error) {
	if len(d.regions) >= int(InvalidRegionID) {
		return InvalidRegionID, errs.New("SharedRegion.create", errs.CodeMaxReached, "no free region id")
	}
	if cfg.Len == 0 {
		return InvalidRegionID, errs.New("SharedRegion.create", errs.CodeInvalidArg, "zero-length region")
	}
	cacheLine := cfg.CacheLineSize
	if cacheLine == 0 {
		cacheLine = constants.DefaultCacheLineSize
	}

	mem, err := unix.Mmap(-1, 0, int(cfg.Len), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return InvalidRegionID, errs.Wrap("SharedRegion.create", err)
	}

	id := uint32(len(d.regions))
	d.regions = append(d.regions, &region{
		id:            id,
		mem:           mem,
		cacheLineSize: cacheLine,
		cacheEnabled:  cfg.CacheEnabled,
		ownerProcID:   cfg.OwnerProcID,
	})
	return id, nil
}

// DeleteRegion unmaps and forgets a region. Only ever called during
// teardown; live SRPtrs into a deleted region become dangling, same as
// the spec's "caller manages memory" heap/list lifecycle.
func (d *Directory) DeleteRegion(id uint32) error {
	r, err := d.lookup(id)
	if err != nil {
		return err
	}
	if err := unix.Munmap(r.mem); err != nil {
		return errs.Wrap("SharedRegion.delete", err)
	}
	r.mem = nil
	d.regions[id] = nil
	return nil
}

func (d *Directory) lookup(id uint32) (*region, error) {
	if id >= uint32(len(d.regions)) || d.regions[id] == nil {
		return nil, errs.New("SharedRegion", errs.CodeInvalidArg, "unknown region id")
	}
	return d.regions[id], nil
}

// GetPtr translates an SRPtr to a byte slice rooted at the pointed-to
// offset, running to the end of the region.
func (d *Directory) GetPtr(p SRPtr) ([]byte, error) {
	if p == InvalidSRPtr {
		return nil, errs.New("SharedRegion.getPtr", errs.CodeInvalidArg, "invalid SRPtr")
	}
	r, err := d.lookup(p.RegionID())
	if err != nil {
		return nil, err
	}
	off := p.Offset()
	if off > uint32(len(r.mem)) {
		return nil, errs.New("SharedRegion.getPtr", errs.CodeInvalidArg, "offset outside region")
	}
	return r.mem[off:], nil
}

// GetSRPtr converts a byte offset within regionID's mapping back to an
// SRPtr. It fails if off falls outside the region's bounds.
func (d *Directory) GetSRPtr(regionID uint32, off uint32) (SRPtr, error) {
	r, err := d.lookup(regionID)
	if err != nil {
		return InvalidSRPtr, err
	}
	if off > uint32(len(r.mem)) {
		return InvalidSRPtr, errs.New("SharedRegion.getSRPtr", errs.CodeInvalidArg, "offset outside region")
	}
	return makeSRPtr(regionID, off), nil
}

// GetID returns the id of the region containing a given SRPtr.
func (d *Directory) GetID(p SRPtr) (uint32, error) {
	if p == InvalidSRPtr {
		return InvalidRegionID, errs.New("SharedRegion.getId", errs.CodeInvalidArg, "invalid SRPtr")
	}
	if _, err := d.lookup(p.RegionID()); err != nil {
		return InvalidRegionID, err
	}
	return p.RegionID(), nil
}

// IsCacheEnabled reports whether regionID requires cache invalidate /
// write-back discipline around shared mutations.
func (d *Directory) IsCacheEnabled(regionID uint32) (bool, error) {
	r, err := d.lookup(regionID)
	if err != nil {
		return false, err
	}
	return r.cacheEnabled, nil
}

// GetCacheLineSize returns regionID's cache line size in bytes.
func (d *Directory) GetCacheLineSize(regionID uint32) (uint32, error) {
	r, err := d.lookup(regionID)
	if err != nil {
		return 0, err
	}
	return r.cacheLineSize, nil
}

// GetHeap returns the heap object previously attached to regionID via
// SetHeap, or nil if none was created there.
func (d *Directory) GetHeap(regionID uint32) (interface{}, error) {
	r, err := d.lookup(regionID)
	if err != nil {
		return nil, err
	}
	return r.heap, nil
}

// SetHeap attaches a heap object (created by internal/heapmem or
// internal/heapmultibuf) to regionID, making it discoverable by GetHeap.
func (d *Directory) SetHeap(regionID uint32, heap interface{}) error {
	r, err := d.lookup(regionID)
	if err != nil {
		return err
	}
	r.heap = heap
	return nil
}
