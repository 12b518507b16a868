// Package hipc is the top-level facade for the heterogeneous-multiprocessor
// IPC runtime: it wires the MultiProc registry, SharedRegion directory,
// NameServer, GateMP, ListMP/HeapMemMP/HeapMultiBufMP, Notify, MessageQ,
// MMU/Loader, Transport and OmapRpc demux packages together behind one
// Runtime value per simulated processor.
package hipc

import (
	"fmt"

	"github.com/behrlich/go-hipc/internal/gatemp"
	"github.com/behrlich/go-hipc/internal/logging"
	"github.com/behrlich/go-hipc/internal/messageq"
	"github.com/behrlich/go-hipc/internal/mmu"
	"github.com/behrlich/go-hipc/internal/multiproc"
	"github.com/behrlich/go-hipc/internal/nameserver"
	"github.com/behrlich/go-hipc/internal/notify"
	"github.com/behrlich/go-hipc/internal/sharedregion"
)

// Config describes the processor cluster a Runtime joins (spec.md §4.A
// MultiProc registry configuration table).
type Config struct {
	SelfName   string
	Processors []multiproc.ProcessorConfig

	// NotifyLine is the interrupt line MMU faults are reported on.
	NotifyLine uint16
	// ReservedNotifyEvents marks which event ids require the kernel system
	// key to register (spec.md §4.H).
	ReservedNotifyEvents uint32
}

// Runtime is one simulated processor: its MultiProc identity plus every
// subsystem scoped to that processor (spec.md §4 components A-L).
type Runtime struct {
	Registry *multiproc.Registry
	Regions  *sharedregion.Directory
	Names    *nameserver.Table
	Notify   *notify.Notify
	Queues   *messageq.Table

	// gates is keyed by a caller-chosen name (spec.md §4.D: GateMP
	// instances are created per shared-resource, not one-per-runtime).
	gates map[string]*gatemp.Gate

	// mmus is keyed by ProcessorID: one Controller per co-processor this
	// Runtime can reset/load/fault-handle (spec.md §4.J).
	mmus map[multiproc.ProcessorID]*mmu.Controller

	metrics *Metrics
	log     *logging.Logger
}

// DefaultConfig returns a single-processor Config named selfName.
func DefaultConfig(selfName string) Config {
	return Config{
		SelfName:   selfName,
		Processors: []multiproc.ProcessorConfig{{Name: selfName}},
	}
}

// Setup builds a Runtime from cfg: it constructs the MultiProc registry
// first (everything else keys off ProcessorID), then every other
// subsystem for the local processor.
func Setup(cfg Config) (*Runtime, error) {
	registry, err := multiproc.New(cfg.SelfName, cfg.Processors)
	if err != nil {
		return nil, fromInternal(err)
	}

	metrics := NewMetrics()
	obs := NewMetricsObserver(metrics)

	notifyTable := notify.New(uint16(registry.Self()), cfg.ReservedNotifyEvents)
	notifyTable.SetObserver(obs)
	queues := messageq.Setup(uint16(registry.Self()))
	queues.SetObserver(obs)

	rt := &Runtime{
		Registry: registry,
		Regions:  sharedregion.New(),
		Names:    nameserver.Create(nameserver.DefaultParams()),
		Notify:   notifyTable,
		Queues:   queues,
		gates:    make(map[string]*gatemp.Gate),
		mmus:     make(map[multiproc.ProcessorID]*mmu.Controller),
		metrics:  metrics,
		log:      logging.Default().With("runtime"),
	}
	rt.log.Infof("runtime started: self=%s (%d) of %d processors", cfg.SelfName, registry.Self(), registry.NumProcessors())
	return rt, nil
}

// Shutdown deletes this Runtime's NameServer table and destroys its
// MessageQ table. Gates, MMU controllers, Notify and shared regions are
// left as they are.
func (rt *Runtime) Shutdown() error {
	rt.Names.Delete()
	if err := rt.Queues.Destroy(); err != nil {
		return fromInternal(err)
	}
	rt.log.Infof("runtime stopped: self=%d", rt.Registry.Self())
	return nil
}

// Metrics returns this Runtime's operational counters (spec.md SPEC_FULL
// §2.4).
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// CreateGate creates (or returns the existing) named Gate, the unit of
// mutual exclusion ListMP/HeapMemMP/HeapMultiBufMP enter before touching
// shared state (spec.md §4.D).
func (rt *Runtime) CreateGate(name string, reentrant bool) *gatemp.Gate {
	if g, ok := rt.gates[name]; ok {
		return g
	}
	g := gatemp.New(reentrant)
	g.SetObserver(NewMetricsObserver(rt.metrics))
	rt.gates[name] = g
	return g
}

// AttachMMU creates the MMU/Reset controller for a co-processor identified
// by procID (spec.md §4.J), wired to this Runtime's Notify so fault
// handling can deliver a Mmu_Fault event.
func (rt *Runtime) AttachMMU(procID multiproc.ProcessorID, notifyLine uint16) *mmu.Controller {
	c := mmu.New(uint16(procID), rt.Notify, notifyLine)
	c.SetObserver(NewMetricsObserver(rt.metrics))
	rt.mmus[procID] = c
	return c
}

// MMU returns the previously-attached controller for procID, or nil.
func (rt *Runtime) MMU(procID multiproc.ProcessorID) *mmu.Controller {
	return rt.mmus[procID]
}

// RuntimeInfo summarizes a Runtime for diagnostics and tests, parallel to
// the teacher's DeviceInfo snapshot.
type RuntimeInfo struct {
	Self          multiproc.ProcessorID
	SelfName      string
	NumProcessors int
	NumGates      int
	NumMMUs       int
}

// Info reports a point-in-time snapshot of this Runtime's configuration.
func (rt *Runtime) Info() RuntimeInfo {
	name, _ := rt.Registry.GetName(rt.Registry.Self())
	return RuntimeInfo{
		Self:          rt.Registry.Self(),
		SelfName:      name,
		NumProcessors: rt.Registry.NumProcessors(),
		NumGates:      len(rt.gates),
		NumMMUs:       len(rt.mmus),
	}
}

// String renders a one-line diagnostic identifying this Runtime.
func (rt *Runtime) String() string {
	info := rt.Info()
	return fmt.Sprintf("hipc.Runtime{%s=%d, processors=%d}", info.SelfName, info.Self, info.NumProcessors)
}
