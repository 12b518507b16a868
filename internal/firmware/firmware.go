// Package firmware parses and writes the RPRC-style firmware container
// (spec.md §6 "Firmware container"): a list of load sections plus a
// trailing static MMU-entry table that seeds the co-processor's initial
// translation map. The manual little-endian field packing mirrors the
// teacher's internal/uapi marshal pattern, generalized from fixed-size
// structs to this container's variable-length section list.
package firmware

import (
	"encoding/binary"

	"github.com/behrlich/go-hipc/internal/errs"
	"github.com/behrlich/go-hipc/internal/mmu"
)

// Section is one loadable chunk of the container (spec.md §6 "{ addr,
// length, bytes }").
type Section struct {
	Addr   uint32
	Length uint32
	Bytes  []byte
}

// StaticEntry is one row of the trailing static MMU-entry table (spec.md
// §6 "{ slaveVirt, masterPhys, size }*").
type StaticEntry struct {
	SlaveVirt  uint32
	MasterPhys uint32
	Size       uint32
}

// Container is a fully-parsed firmware image.
type Container struct {
	Sections     []Section
	StaticEntries []StaticEntry
}

// MMUEntries converts the container's static entry table into the
// initial MMU map Enable expects.
func (c *Container) MMUEntries() []mmu.Entry {
	entries := make([]mmu.Entry, len(c.StaticEntries))
	for i, e := range c.StaticEntries {
		entries[i] = mmu.Entry{SlaveVirt: e.SlaveVirt, MasterPhys: e.MasterPhys, Size: e.Size}
	}
	return entries
}

// Writer is the processor-side destination for a loaded section
// (spec.md §4.J Loader "writes each section through the processor's
// write(procAddr, &n, buf) interface").
type Writer interface {
	Write(procAddr uint32, n uint32, buf []byte) error
}

// Load writes every section of c through w, in order.
func Load(c *Container, w Writer) error {
	for _, s := range c.Sections {
		if err := w.Write(s.Addr, uint32(len(s.Bytes)), s.Bytes); err != nil {
			return errs.Wrap("Loader.load", err)
		}
	}
	return nil
}

// Parse decodes a firmware container from its wire bytes:
//
//	uint32 numSections
//	{ uint32 addr, uint32 length, length bytes }*
//	uint32 numStaticEntries
//	{ uint32 slaveVirt, uint32 masterPhys, uint32 size }*
func Parse(data []byte) (*Container, error) {
	r := &reader{data: data}

	numSections, err := r.u32()
	if err != nil {
		return nil, err
	}
	c := &Container{}
	for i := uint32(0); i < numSections; i++ {
		addr, err := r.u32()
		if err != nil {
			return nil, err
		}
		length, err := r.u32()
		if err != nil {
			return nil, err
		}
		bytes, err := r.bytes(int(length))
		if err != nil {
			return nil, err
		}
		c.Sections = append(c.Sections, Section{Addr: addr, Length: length, Bytes: bytes})
	}

	numEntries, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numEntries; i++ {
		slaveVirt, err := r.u32()
		if err != nil {
			return nil, err
		}
		masterPhys, err := r.u32()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		c.StaticEntries = append(c.StaticEntries, StaticEntry{SlaveVirt: slaveVirt, MasterPhys: masterPhys, Size: size})
	}
	return c, nil
}

// Write encodes c back into its wire format.
func Write(c *Container) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(c.Sections)))
	for _, s := range c.Sections {
		buf = appendU32(buf, s.Addr)
		buf = appendU32(buf, uint32(len(s.Bytes)))
		buf = append(buf, s.Bytes...)
	}
	buf = appendU32(buf, uint32(len(c.StaticEntries)))
	for _, e := range c.StaticEntries {
		buf = appendU32(buf, e.SlaveVirt)
		buf = appendU32(buf, e.MasterPhys)
		buf = appendU32(buf, e.Size)
	}
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// reader walks data sequentially, surfacing truncation as an error
// instead of panicking on a short container.
type reader struct {
	data []byte
	off  int
}

func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.data) {
		return 0, errs.New("Loader.parse", errs.CodeInvalidArg, "container truncated")
	}
	v := binary.LittleEndian.Uint32(r.data[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, errs.New("Loader.parse", errs.CodeInvalidArg, "container truncated")
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b, nil
}
