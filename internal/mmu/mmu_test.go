package mmu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-hipc/internal/errs"
	"github.com/behrlich/go-hipc/internal/notify"
)

func TestAttachStartStopDetach(t *testing.T) {
	c := New(1, nil, 0)
	require.Equal(t, Unknown, c.State())

	require.NoError(t, c.Attach(AttachParams{Mode: Boot}))
	require.Equal(t, Powered, c.State())

	require.NoError(t, c.Start(0x1000))
	require.Equal(t, Running, c.State())

	require.NoError(t, c.Stop())
	require.Equal(t, Reset, c.State())

	c.Detach()
	require.Equal(t, Unknown, c.State())
}

func TestAttachRejectsFromNonUnknownState(t *testing.T) {
	c := New(1, nil, 0)
	require.NoError(t, c.Attach(AttachParams{Mode: NoBoot}))
	err := c.Attach(AttachParams{Mode: Boot})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeInvalidState))
}

func TestAddEntryChoosesLargestFittingPageSize(t *testing.T) {
	c := New(1, nil, 0)
	err := c.AddEntry(Entry{SlaveVirt: 0, MasterPhys: 0, Size: 16 << 20})
	require.NoError(t, err)
	require.Len(t, c.regs.mmuEntries, 1)
	for _, e := range c.regs.mmuEntries {
		require.Equal(t, uint32(16<<20), e.Size)
	}
}

func TestAddEntrySplitsUnalignedRange(t *testing.T) {
	c := New(1, nil, 0)
	// 64KB+4KB at an address only 4KB aligned: no larger page divides the
	// address, so the range splits into seventeen 4KB pages.
	err := c.AddEntry(Entry{SlaveVirt: 4 << 10, MasterPhys: 4 << 10, Size: 64<<10 + 4<<10})
	require.NoError(t, err)
	require.Len(t, c.regs.mmuEntries, 17)
}

func TestAddEntryRoundsSizeUpToPageGranularity(t *testing.T) {
	c := New(1, nil, 0)
	// A single byte still rounds up to one 4KB page; the 4KB floor of
	// MMUPageSizes means AddEntry always finds a fitting page size.
	require.NoError(t, c.AddEntry(Entry{SlaveVirt: 0, MasterPhys: 0, Size: 1}))
	require.Len(t, c.regs.mmuEntries, 1)
}

func TestDeleteEntryRemovesSubEntries(t *testing.T) {
	c := New(1, nil, 0)
	require.NoError(t, c.AddEntry(Entry{SlaveVirt: 0, MasterPhys: 0, Size: 64 << 10}))
	require.NotEmpty(t, c.regs.mmuEntries)

	require.NoError(t, c.DeleteEntry(Entry{SlaveVirt: 0, MasterPhys: 0, Size: 64 << 10}))
	require.Empty(t, c.regs.mmuEntries)
}

func TestHandleFaultDecodesStatusAndTransitions(t *testing.T) {
	n := notify.New(1, 0)
	fired := false
	require.NoError(t, n.RegisterEvent(0, eventMmuFault, 0, func(uint16, uint16, uint32, uintptr, uint32) {
		fired = true
	}, 0))

	c := New(1, n, 0)
	require.NoError(t, c.Attach(AttachParams{Mode: NoBoot}))

	status := c.HandleFault(0xDEAD0000, faultBitTLBMiss|faultBitTableWalkFault)
	require.True(t, status.TLBMiss)
	require.True(t, status.TableWalkFault)
	require.False(t, status.EmuMiss)
	require.Equal(t, MmuFault, c.State())
	require.True(t, fired)
}

type recordingObserver struct{ faults int }

func (r *recordingObserver) ObserveMmuFault() { r.faults++ }

func TestSetObserverCountsFaults(t *testing.T) {
	c := New(1, nil, 0)
	obs := &recordingObserver{}
	c.SetObserver(obs)
	require.NoError(t, c.Attach(AttachParams{Mode: NoBoot}))

	c.HandleFault(0xDEAD0000, faultBitTLBMiss)
	c.HandleFault(0xDEAD1000, faultBitTLBMiss)
	require.Equal(t, 2, obs.faults)
}

func TestResetSequenceCore0(t *testing.T) {
	c := New(1, nil, 0)
	require.NoError(t, c.Reset(0))
	require.True(t, c.regs.rst1)
	require.False(t, c.regs.gpTimer0)

	require.NoError(t, c.MMUReset())
	require.True(t, c.regs.rst3)

	require.NoError(t, c.MMURelease())
	require.False(t, c.regs.rst3)
	require.True(t, c.regs.clockHWAuto)

	require.NoError(t, c.Release(0))
	require.True(t, c.regs.gpTimer0)
	require.False(t, c.regs.rst1)
}

func TestResetRejectsInvalidCore(t *testing.T) {
	c := New(1, nil, 0)
	err := c.Reset(2)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeInvalidArg))
}
