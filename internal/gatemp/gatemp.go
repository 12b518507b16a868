// Package gatemp implements GateMP (spec.md §4.D): a multi-processor
// mutual-exclusion primitive wrapping every ListMP / HeapMemMP /
// HeapMultiBufMP critical section. Within one process, cooperating
// processors are goroutines, so the underlying primitive is a mutex with a
// condition variable for the blocking wait, and re-entry support is a
// holder-tagged counter guarded by the same lock — the same shape as the
// teacher's per-tag mutex discipline in its queue runner.
package gatemp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/behrlich/go-hipc/internal/errs"
)

// Key identifies one successful Enter, to be handed back to Leave.
type Key uint64

// Observer is the metrics hook Enter reports through (spec.md SPEC_FULL
// §2.4: "every blocking ... operation reports through Observer").
type Observer interface {
	ObserveGateEnter(latencyNs uint64, contested bool)
}

type noOpObserver struct{}

func (noOpObserver) ObserveGateEnter(uint64, bool) {}

// Gate is one GateMP instance.
type Gate struct {
	mu        sync.Mutex
	cond      *sync.Cond
	held      bool
	heldBy    int64 // 0 means "no re-entry tracking for this holder"
	reentries int
	reentrant bool
	nextKey   atomic.Uint64
	obs       Observer
}

// New creates a Gate. reentrant enables re-entry from the same holder tag
// (spec.md §4.D: "when the underlying gate allows it").
func New(reentrant bool) *Gate {
	g := &Gate{reentrant: reentrant, obs: noOpObserver{}}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// SetObserver installs the metrics hook Enter reports through. Passing nil
// reverts to a no-op observer.
func (g *Gate) SetObserver(obs Observer) {
	if obs == nil {
		obs = noOpObserver{}
	}
	g.mu.Lock()
	g.obs = obs
	g.mu.Unlock()
}

// Enter acquires the gate, blocking until available. tag identifies the
// calling holder for re-entry purposes; pass 0 if the caller never
// re-enters. The returned bool is true when this call was satisfied by
// re-entry rather than a fresh acquisition.
func (g *Gate) Enter(tag int64) (Key, bool) {
	start := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.reentrant && g.held && tag != 0 && g.heldBy == tag {
		g.reentries++
		g.obs.ObserveGateEnter(uint64(time.Since(start).Nanoseconds()), false)
		return Key(g.nextKey.Load()), true
	}
	contested := g.held
	for g.held {
		g.cond.Wait()
	}
	g.held = true
	g.heldBy = tag
	key := Key(g.nextKey.Add(1))
	g.obs.ObserveGateEnter(uint64(time.Since(start).Nanoseconds()), contested)
	return key, false
}

// Leave releases the gate. reentered must be the bool Enter returned, so
// Leave knows whether this call merely decrements a re-entry count.
func (g *Gate) Leave(_ Key, reentered bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		return errs.New("GateMP.leave", errs.CodeInvalidState, "gate not held")
	}
	if reentered {
		g.reentries--
		return nil
	}
	g.held = false
	g.heldBy = 0
	g.cond.Signal()
	return nil
}
