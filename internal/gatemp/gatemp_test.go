package gatemp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnterLeaveRoundTrip(t *testing.T) {
	g := New(false)
	key, reentered := g.Enter(0)
	require.False(t, reentered)
	require.NoError(t, g.Leave(key, reentered))
}

type recordingObserver struct {
	enters    int
	contested int
}

func (r *recordingObserver) ObserveGateEnter(_ uint64, contested bool) {
	r.enters++
	if contested {
		r.contested++
	}
}

func TestSetObserverReportsEveryEnter(t *testing.T) {
	g := New(false)
	obs := &recordingObserver{}
	g.SetObserver(obs)

	key, reentered := g.Enter(0)
	require.NoError(t, g.Leave(key, reentered))
	require.Equal(t, 1, obs.enters)
	require.Equal(t, 0, obs.contested)

	done := make(chan struct{})
	key2, reentered2 := g.Enter(0)
	go func() {
		k, r := g.Enter(0)
		require.NoError(t, g.Leave(k, r))
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, g.Leave(key2, reentered2))
	<-done

	require.Equal(t, 3, obs.enters)
	require.Equal(t, 1, obs.contested)
}

func TestLeaveWithoutEnterFails(t *testing.T) {
	g := New(false)
	err := g.Leave(Key(1), false)
	require.Error(t, err)
}

func TestReentrantHolderDoesNotBlock(t *testing.T) {
	g := New(true)
	key1, r1 := g.Enter(42)
	require.False(t, r1)

	key2, r2 := g.Enter(42)
	require.True(t, r2)

	require.NoError(t, g.Leave(key2, r2))
	require.NoError(t, g.Leave(key1, r1))
}

func TestNonReentrantBlocksSecondHolder(t *testing.T) {
	g := New(false)
	key, reentered := g.Enter(1)
	require.False(t, reentered)

	unblocked := make(chan struct{})
	go func() {
		_, _ = g.Enter(2)
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("second Enter should block while first holder has the gate")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, g.Leave(key, reentered))

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("second Enter should unblock after Leave")
	}
}

func TestAtMostOneHolderAcrossConcurrentWaiters(t *testing.T) {
	g := New(false)
	var active int32
	var maxActive int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(tag int64) {
			defer wg.Done()
			key, reentered := g.Enter(tag)
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
			_ = g.Leave(key, reentered)
		}(int64(i + 1))
	}
	wg.Wait()
	require.EqualValues(t, 1, maxActive)
}
