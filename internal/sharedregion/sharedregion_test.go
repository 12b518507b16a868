package sharedregion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateRegionAndTranslate(t *testing.T) {
	d := New()
	id, err := d.CreateRegion(RegionConfig{Len: 4096, CacheLineSize: 64})
	require.NoError(t, err)
	require.Zero(t, id)

	p, err := d.GetSRPtr(id, 128)
	require.NoError(t, err)
	require.Equal(t, id, p.RegionID())
	require.EqualValues(t, 128, p.Offset())

	mem, err := d.GetPtr(p)
	require.NoError(t, err)
	mem[0] = 0x42

	mem2, err := d.GetPtr(p)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), mem2[0], "writes through one translation must be visible through another")
}

func TestGetIDRoundTrip(t *testing.T) {
	d := New()
	id, err := d.CreateRegion(RegionConfig{Len: 1024})
	require.NoError(t, err)

	p, err := d.GetSRPtr(id, 0)
	require.NoError(t, err)

	gotID, err := d.GetID(p)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
}

func TestInvalidSRPtrRejected(t *testing.T) {
	d := New()
	_, err := d.GetPtr(InvalidSRPtr)
	require.Error(t, err)

	_, err = d.GetID(InvalidSRPtr)
	require.Error(t, err)
}

func TestUnknownRegionRejected(t *testing.T) {
	d := New()
	_, err := d.GetPtr(makeSRPtr(7, 0))
	require.Error(t, err)
}

func TestCacheLineSizeDefaultsWhenZero(t *testing.T) {
	d := New()
	id, err := d.CreateRegion(RegionConfig{Len: 64})
	require.NoError(t, err)

	size, err := d.GetCacheLineSize(id)
	require.NoError(t, err)
	require.EqualValues(t, 64, size)
}

func TestHeapRoundTrip(t *testing.T) {
	d := New()
	id, err := d.CreateRegion(RegionConfig{Len: 64})
	require.NoError(t, err)

	_, err = d.GetHeap(id)
	require.NoError(t, err)

	require.NoError(t, d.SetHeap(id, "fake-heap"))
	h, err := d.GetHeap(id)
	require.NoError(t, err)
	require.Equal(t, "fake-heap", h)
}

func TestRegionsDoNotOverlap(t *testing.T) {
	d := New()
	id1, err := d.CreateRegion(RegionConfig{Len: 64})
	require.NoError(t, err)
	id2, err := d.CreateRegion(RegionConfig{Len: 64})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	p1, _ := d.GetSRPtr(id1, 0)
	mem1, _ := d.GetPtr(p1)
	mem1[0] = 1

	p2, _ := d.GetSRPtr(id2, 0)
	mem2, _ := d.GetPtr(p2)
	require.Zero(t, mem2[0])
}

func TestDeleteRegion(t *testing.T) {
	d := New()
	id, err := d.CreateRegion(RegionConfig{Len: 64})
	require.NoError(t, err)
	require.NoError(t, d.DeleteRegion(id))
}
