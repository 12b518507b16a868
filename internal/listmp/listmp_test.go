package listmp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-hipc/internal/gatemp"
	"github.com/behrlich/go-hipc/internal/sharedregion"
)

func newTestList(t *testing.T) (*List, *sharedregion.Directory, uint32) {
	t.Helper()
	dir := sharedregion.New()
	regionID, err := dir.CreateRegion(sharedregion.RegionConfig{Len: 4096})
	require.NoError(t, err)

	l, err := New(dir, regionID, 0, gatemp.New(false))
	require.NoError(t, err)
	return l, dir, regionID
}

func elemAt(t *testing.T, dir *sharedregion.Directory, regionID uint32, off uint32) sharedregion.SRPtr {
	t.Helper()
	p, err := dir.GetSRPtr(regionID, off)
	require.NoError(t, err)
	return p
}

func TestNewListIsEmpty(t *testing.T) {
	l, _, _ := newTestList(t)
	empty, err := l.Empty()
	require.NoError(t, err)
	require.True(t, empty)

	head, err := l.GetHead()
	require.NoError(t, err)
	require.Equal(t, sharedregion.InvalidSRPtr, head)
}

func TestPutHeadPutTailFIFO(t *testing.T) {
	l, dir, regionID := newTestList(t)
	a := elemAt(t, dir, regionID, 8)
	b := elemAt(t, dir, regionID, 16)
	c := elemAt(t, dir, regionID, 24)

	require.NoError(t, l.PutTail(a))
	require.NoError(t, l.PutTail(b))
	require.NoError(t, l.PutTail(c))

	n1, err := l.Next(a)
	require.NoError(t, err)
	require.Equal(t, b, n1)

	n2, err := l.Next(b)
	require.NoError(t, err)
	require.Equal(t, c, n2)

	head, err := l.GetHead()
	require.NoError(t, err)
	require.Equal(t, a, head)

	tail, err := l.GetTail()
	require.NoError(t, err)
	require.Equal(t, c, tail)

	empty, err := l.Empty()
	require.NoError(t, err)
	require.False(t, empty, "b is still in the list")

	last, err := l.GetHead()
	require.NoError(t, err)
	require.Equal(t, b, last)
}

func TestPutHeadOrdering(t *testing.T) {
	l, dir, regionID := newTestList(t)
	a := elemAt(t, dir, regionID, 8)
	b := elemAt(t, dir, regionID, 16)

	require.NoError(t, l.PutHead(a))
	require.NoError(t, l.PutHead(b))

	head, err := l.GetHead()
	require.NoError(t, err)
	require.Equal(t, b, head, "most recent PutHead becomes the new first element")
}

func TestRemoveMiddle(t *testing.T) {
	l, dir, regionID := newTestList(t)
	a := elemAt(t, dir, regionID, 8)
	b := elemAt(t, dir, regionID, 16)
	c := elemAt(t, dir, regionID, 24)

	require.NoError(t, l.PutTail(a))
	require.NoError(t, l.PutTail(b))
	require.NoError(t, l.PutTail(c))

	require.NoError(t, l.Remove(b))

	n, err := l.Next(a)
	require.NoError(t, err)
	require.Equal(t, c, n)

	p, err := l.Prev(c)
	require.NoError(t, err)
	require.Equal(t, a, p)
}

func TestInsertBefore(t *testing.T) {
	l, dir, regionID := newTestList(t)
	a := elemAt(t, dir, regionID, 8)
	c := elemAt(t, dir, regionID, 24)
	b := elemAt(t, dir, regionID, 16)

	require.NoError(t, l.PutTail(a))
	require.NoError(t, l.PutTail(c))
	require.NoError(t, l.Insert(b, c))

	n, err := l.Next(a)
	require.NoError(t, err)
	require.Equal(t, b, n)

	n2, err := l.Next(b)
	require.NoError(t, err)
	require.Equal(t, c, n2)
}

func TestGetHeadConsumesUntilEmpty(t *testing.T) {
	l, dir, regionID := newTestList(t)
	a := elemAt(t, dir, regionID, 8)
	b := elemAt(t, dir, regionID, 16)
	c := elemAt(t, dir, regionID, 24)

	require.NoError(t, l.PutTail(a))
	require.NoError(t, l.PutTail(b))
	require.NoError(t, l.PutTail(c))

	got, err := l.GetHead()
	require.NoError(t, err)
	require.Equal(t, a, got)

	got, err = l.GetHead()
	require.NoError(t, err)
	require.Equal(t, b, got)

	got, err = l.GetHead()
	require.NoError(t, err)
	require.Equal(t, c, got)

	empty, err := l.Empty()
	require.NoError(t, err)
	require.True(t, empty)

	got, err = l.GetHead()
	require.NoError(t, err)
	require.Equal(t, sharedregion.InvalidSRPtr, got)
}

func TestGetTailConsumesUntilEmpty(t *testing.T) {
	l, dir, regionID := newTestList(t)
	a := elemAt(t, dir, regionID, 8)
	b := elemAt(t, dir, regionID, 16)
	c := elemAt(t, dir, regionID, 24)

	require.NoError(t, l.PutTail(a))
	require.NoError(t, l.PutTail(b))
	require.NoError(t, l.PutTail(c))

	got, err := l.GetTail()
	require.NoError(t, err)
	require.Equal(t, c, got)

	got, err = l.GetTail()
	require.NoError(t, err)
	require.Equal(t, b, got)

	got, err = l.GetTail()
	require.NoError(t, err)
	require.Equal(t, a, got)

	empty, err := l.Empty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestRemoveLastElementEmptiesList(t *testing.T) {
	l, dir, regionID := newTestList(t)
	a := elemAt(t, dir, regionID, 8)

	require.NoError(t, l.PutTail(a))
	require.NoError(t, l.Remove(a))

	empty, err := l.Empty()
	require.NoError(t, err)
	require.True(t, empty)
}
