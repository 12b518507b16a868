package notify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-hipc/internal/errs"
)

func TestRegisterEnableSendEventSelf(t *testing.T) {
	n := New(1, 8)

	var gotEvent uint32
	var gotPayload uint32
	var gotArg uintptr
	require.NoError(t, n.RegisterEvent(0, 100, 0, func(procID uint16, line uint16, event uint32, arg uintptr, payload uint32) {
		gotEvent = event
		gotArg = arg
		gotPayload = payload
	}, 7))

	require.True(t, n.EventAvailable(0, 100))
	require.NoError(t, n.SendEvent(1, 0, 100, 42, false))
	require.Equal(t, uint32(100), gotEvent)
	require.Equal(t, uintptr(7), gotArg)
	require.Equal(t, uint32(42), gotPayload)
}

func TestReservedEventRequiresSystemKey(t *testing.T) {
	n := New(1, 8)

	err := n.RegisterEvent(0, 3, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 0)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeReservedEvent))

	require.NoError(t, n.RegisterEvent(0, 3, kernelSystemKey, func(uint16, uint16, uint32, uintptr, uint32) {}, 0))
}

func TestRegisterEventSingleUnregistersAfterFire(t *testing.T) {
	n := New(1, 0)
	fired := 0
	require.NoError(t, n.RegisterEventSingle(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {
		fired++
	}, 0))

	require.NoError(t, n.SendEvent(1, 0, 1, 0, false))
	require.Equal(t, 1, fired)
	require.False(t, n.EventAvailable(0, 1))

	err := n.SendEvent(1, 0, 1, 0, false)
	require.Error(t, err)
}

func TestRegisterEventSingleRejectsSecondRegistration(t *testing.T) {
	n := New(1, 0)
	require.NoError(t, n.RegisterEventSingle(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 0))

	err := n.RegisterEventSingle(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 1)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeAlreadyExists))
}

func TestRegisterEventFansOutToEveryListener(t *testing.T) {
	n := New(1, 0)

	var fired []uintptr
	require.NoError(t, n.RegisterEvent(0, 1, 0, func(_ uint16, _ uint16, _ uint32, arg uintptr, _ uint32) {
		fired = append(fired, arg)
	}, 1))
	require.NoError(t, n.RegisterEvent(0, 1, 0, func(_ uint16, _ uint16, _ uint32, arg uintptr, _ uint32) {
		fired = append(fired, arg)
	}, 2))
	require.NoError(t, n.RegisterEvent(0, 1, 0, func(_ uint16, _ uint16, _ uint32, arg uintptr, _ uint32) {
		fired = append(fired, arg)
	}, 3))

	require.NoError(t, n.SendEvent(1, 0, 1, 99, false))
	require.ElementsMatch(t, []uintptr{1, 2, 3}, fired)
}

func TestRegisterEventAndRegisterEventSingleAreMutuallyExclusive(t *testing.T) {
	n := New(1, 0)
	require.NoError(t, n.RegisterEvent(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 1))

	err := n.RegisterEventSingle(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 2)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeAlreadyExists))
}

func TestUnregisterEventRemovesOnlyMatchingListener(t *testing.T) {
	n := New(1, 0)
	var fired []uintptr
	record := func(_ uint16, _ uint16, _ uint32, arg uintptr, _ uint32) { fired = append(fired, arg) }

	require.NoError(t, n.RegisterEvent(0, 1, 0, record, 1))
	require.NoError(t, n.RegisterEvent(0, 1, 0, record, 2))

	require.NoError(t, n.UnregisterEvent(0, 1, 1))
	require.True(t, n.EventAvailable(0, 1), "event stays registered while listener 2 remains")

	require.NoError(t, n.SendEvent(1, 0, 1, 0, false))
	require.Equal(t, []uintptr{2}, fired)

	require.NoError(t, n.UnregisterEvent(0, 1, 2))
	require.False(t, n.EventAvailable(0, 1), "last listener removed unregisters the event")
}

type recordingObserver struct {
	delivered   int
	notDelivered int
}

func (r *recordingObserver) ObserveNotifyFire(delivered bool) {
	if delivered {
		r.delivered++
	} else {
		r.notDelivered++
	}
}

func TestSetObserverReportsFireOutcome(t *testing.T) {
	n := New(1, 0)
	obs := &recordingObserver{}
	n.SetObserver(obs)

	require.NoError(t, n.RegisterEvent(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 0))
	require.NoError(t, n.SendEvent(1, 0, 1, 0, false))
	require.Equal(t, 1, obs.delivered)

	err := n.SendEvent(1, 0, 99, 0, false)
	require.Error(t, err)
	require.Equal(t, 1, obs.notDelivered)
}

func TestDisableEventBlocksSend(t *testing.T) {
	n := New(1, 0)
	require.NoError(t, n.RegisterEvent(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 0))
	require.NoError(t, n.DisableEvent(0, 1))

	err := n.SendEvent(1, 0, 1, 0, false)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeInvalidState))

	require.NoError(t, n.EnableEvent(0, 1))
	require.NoError(t, n.SendEvent(1, 0, 1, 0, false))
}

func TestDisableLineBlocksSend(t *testing.T) {
	n := New(1, 0)
	require.NoError(t, n.RegisterEvent(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 0))
	n.Disable(0)

	err := n.SendEvent(1, 0, 1, 0, false)
	require.Error(t, err)

	n.Restore(0)
	require.NoError(t, n.SendEvent(1, 0, 1, 0, false))
}

type fakeDriver struct {
	gotLine    uint16
	gotEvent   uint32
	gotPayload uint32
	err        error
}

func (f *fakeDriver) SendEvent(line uint16, event uint32, payload uint32, waitClear bool) error {
	f.gotLine, f.gotEvent, f.gotPayload = line, event, payload
	return f.err
}

func TestSendEventDelegatesToRemotePeer(t *testing.T) {
	n := New(1, 0)
	d := &fakeDriver{}
	n.RegisterDriver(2, d)

	require.NoError(t, n.SendEvent(2, 5, 77, 9, true))
	require.Equal(t, uint16(5), d.gotLine)
	require.Equal(t, uint32(77), d.gotEvent)
	require.Equal(t, uint32(9), d.gotPayload)
}

func TestSendEventUnknownPeerFails(t *testing.T) {
	n := New(1, 0)
	err := n.SendEvent(9, 0, 1, 0, false)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeNotFound))
}

func TestIntLineRegisteredAndNumIntLines(t *testing.T) {
	n := New(1, 0)
	require.False(t, n.IntLineRegistered(0))

	require.NoError(t, n.RegisterEvent(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 0))
	require.True(t, n.IntLineRegistered(0))

	require.NoError(t, n.RegisterEvent(1, 2, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 0))
	require.Equal(t, 2, n.NumIntLines())
}

func TestUnregisterEventRemovesSlot(t *testing.T) {
	n := New(1, 0)
	require.NoError(t, n.RegisterEvent(0, 1, 0, func(uint16, uint16, uint32, uintptr, uint32) {}, 5))
	require.NoError(t, n.UnregisterEvent(0, 1, 5))
	require.False(t, n.EventAvailable(0, 1))

	err := n.UnregisterEvent(0, 1, 5)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeNotFound))
}
