package messageq

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-hipc/internal/errs"
)

type fakeHeap struct {
	bufs [][]byte
}

func (h *fakeHeap) Alloc(size uint32) ([]byte, error) {
	buf := make([]byte, size)
	h.bufs = append(h.bufs, buf)
	return buf, nil
}

func (h *fakeHeap) Free(buf []byte) error { return nil }

func TestCreateOpenDelete(t *testing.T) {
	tab := Setup(1)
	defer tab.Destroy()

	h, err := tab.Create("q1", ParamsInit())
	require.NoError(t, err)
	require.Equal(t, uint16(1), h.ProcID())

	opened, err := tab.Open("q1")
	require.NoError(t, err)
	require.Equal(t, h, opened)

	require.NoError(t, tab.Delete(h))
	_, err = tab.Open("q1")
	require.Error(t, err)
}

func TestAttachDetachDuplicateRejected(t *testing.T) {
	tab := Setup(1)
	defer tab.Destroy()

	require.NoError(t, tab.Attach(2, 61))
	err := tab.Attach(2, 61)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeAlreadyExists))

	require.NoError(t, tab.Detach(2))
	require.Error(t, tab.Detach(2))
}

func TestAllocFreeRoundTrip(t *testing.T) {
	tab := Setup(1)
	defer tab.Destroy()

	require.NoError(t, tab.RegisterHeap(5, &fakeHeap{}))

	msg, err := tab.Alloc(5, 64)
	require.NoError(t, err)
	require.Len(t, msg.Payload, 64)
	require.Equal(t, uint16(5), msg.Header.HeapID)

	require.NoError(t, tab.Free(msg))
}

func TestFreeStaticMsgRejected(t *testing.T) {
	tab := Setup(1)
	defer tab.Destroy()

	msg := tab.StaticMsgInit(make([]byte, 16))
	err := tab.Free(msg)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeCannotFreeStaticMsg))
}

func TestPutGetRoundTripBetweenTwoTables(t *testing.T) {
	recvTab := Setup(1)
	defer recvTab.Destroy()
	sendTab := Setup(2)
	defer sendTab.Destroy()

	h, err := recvTab.Create("inbox", ParamsInit())
	require.NoError(t, err)

	require.NoError(t, sendTab.Attach(1, 61))

	msg := sendTab.StaticMsgInit([]byte("hello there"))

	require.NoError(t, sendTab.Put(h, msg))

	got, err := recvTab.Get(h, 2000)
	require.NoError(t, err)
	require.Equal(t, []byte("hello there"), got.Payload)
	require.Equal(t, uint16(0), got.Header.HeapID, "static heap id is rewritten to 0 on receive")
}

type recordingObserver struct {
	puts, getsOK, getsFail, unblocks int
}

func (r *recordingObserver) ObservePut(success bool) {
	if success {
		r.puts++
	}
}
func (r *recordingObserver) ObserveGet(_ uint64, success bool) {
	if success {
		r.getsOK++
	} else {
		r.getsFail++
	}
}
func (r *recordingObserver) ObserveUnblock() { r.unblocks++ }

func TestSetObserverReportsPutGetUnblock(t *testing.T) {
	recvTab := Setup(1)
	defer recvTab.Destroy()
	sendTab := Setup(2)
	defer sendTab.Destroy()

	recvObs := &recordingObserver{}
	recvTab.SetObserver(recvObs)
	sendObs := &recordingObserver{}
	sendTab.SetObserver(sendObs)

	h, err := recvTab.Create("inbox", ParamsInit())
	require.NoError(t, err)
	require.NoError(t, sendTab.Attach(1, 61))

	require.NoError(t, sendTab.Put(h, sendTab.StaticMsgInit([]byte("hi"))))
	require.Equal(t, 1, sendObs.puts)

	_, err = recvTab.Get(h, 2000)
	require.NoError(t, err)
	require.Equal(t, 1, recvObs.getsOK)

	require.NoError(t, recvTab.Unblock(h))
	_, err = recvTab.Get(h, Forever)
	require.Error(t, err)
	require.Equal(t, 1, recvObs.unblocks)
}

func TestGetTimesOutWithNoMessage(t *testing.T) {
	tab := Setup(1)
	defer tab.Destroy()

	h, err := tab.Create("q", ParamsInit())
	require.NoError(t, err)

	_, err = tab.Get(h, 0)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeTimeout))
}

func TestUnblockWakesGetWithoutDrainingMessages(t *testing.T) {
	tab := Setup(1)
	defer tab.Destroy()
	sendTab := Setup(2)
	defer sendTab.Destroy()

	h, err := tab.Create("q", ParamsInit())
	require.NoError(t, err)
	require.NoError(t, sendTab.Attach(1, 61))
	require.NoError(t, sendTab.Put(h, sendTab.StaticMsgInit([]byte("queued"))))

	require.NoError(t, tab.Unblock(h))

	_, err = tab.Get(h, Forever)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeUnblocked))

	got, err := tab.Get(h, 2000)
	require.NoError(t, err)
	require.Equal(t, []byte("queued"), got.Payload)
}

func TestSetReplyQueueStampsHeader(t *testing.T) {
	tab := Setup(1)
	defer tab.Destroy()
	h, err := tab.Create("q", ParamsInit())
	require.NoError(t, err)

	msg := tab.StaticMsgInit(nil)
	tab.SetReplyQueue(h, msg)
	require.Equal(t, h.Index(), msg.Header.ReplyID)
	require.Equal(t, h.ProcID(), msg.Header.ReplyProc)
}
