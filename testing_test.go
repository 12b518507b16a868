package hipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockProcMemoryWriteReadRoundTrip(t *testing.T) {
	mem := NewMockProcMemory(64)
	require.NoError(t, mem.Write(16, 5, []byte("hello")))

	got, err := mem.ReadAt(16, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
	require.Equal(t, []uint32{16}, mem.Writes())

	writes, reads := mem.CallCounts()
	require.Equal(t, 1, writes)
	require.Equal(t, 1, reads)
}

func TestMockProcMemoryWriteOutOfRangeFails(t *testing.T) {
	mem := NewMockProcMemory(8)
	err := mem.Write(4, 8, make([]byte, 8))
	require.Error(t, err)
}

func TestMockRemoteDriverGetUsesFuncOverride(t *testing.T) {
	d := &MockRemoteDriver{
		GetFunc: func(name string, timeout int) ([]byte, bool, error) {
			return []byte("value-for-" + name), true, nil
		},
	}
	val, found, err := d.Get("key1", 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("value-for-key1"), val)
}

func TestMockRemoteDriverRecordsSentEvents(t *testing.T) {
	d := &MockRemoteDriver{}
	require.NoError(t, d.SendEvent(3, 7, 42, true))
	events := d.SentEvents()
	require.Len(t, events, 1)
	require.Equal(t, SentEvent{Line: 3, Event: 7, Payload: 42, WaitClear: true}, events[0])
}

func TestMockSocketPairDeliversAcrossPeers(t *testing.T) {
	a, b := NewMockSocketPair()
	require.NoError(t, a.Send([]byte("ping")))

	got, err := b.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), got)
}

func TestMockSocketCloseUnblocksRecv(t *testing.T) {
	a, b := NewMockSocketPair()
	_ = a
	done := make(chan error, 1)
	go func() {
		_, err := b.Recv()
		done <- err
	}()
	require.NoError(t, b.Close())
	require.Error(t, <-done)
}
