// Package multiproc implements the MultiProc registry (spec.md §4.A): a
// configuration-time table mapping processor names to small integer ids,
// immutable once setup completes.
package multiproc

import (
	"sort"

	"github.com/behrlich/go-hipc/internal/constants"
	"github.com/behrlich/go-hipc/internal/errs"
)

// ProcessorID identifies one processor, 0 <= id < len(table).
type ProcessorID uint16

// InvalidProcID is the sentinel returned when a lookup fails.
const InvalidProcID ProcessorID = constants.InvalidProcID

// ProcessorConfig describes one entry of the registry's configuration-time
// table.
type ProcessorConfig struct {
	Name      string
	ClusterID uint16
}

// Registry is the immutable-after-setup name<->id table (spec.md §4.A).
// Entries are ordered the way they were supplied to New; self is whichever
// entry's Name matches the selfName passed to New.
type Registry struct {
	names      []string
	clusterIDs []uint16
	byName     map[string]ProcessorID
	self       ProcessorID
}

// New builds a Registry from entries, with selfName naming the local
// processor. Entries are not sorted; their order fixes each ProcessorID.
func New(selfName string, entries []ProcessorConfig) (*Registry, error) {
	if len(entries) == 0 {
		return nil, errs.New("multiproc.New", errs.CodeInvalidArg, "no processors configured")
	}
	if len(entries) > constants.MaxProcessors {
		return nil, errs.New("multiproc.New", errs.CodeInvalidArg, "too many processors configured")
	}

	r := &Registry{
		names:      make([]string, len(entries)),
		clusterIDs: make([]uint16, len(entries)),
		byName:     make(map[string]ProcessorID, len(entries)),
		self:       InvalidProcID,
	}
	for i, e := range entries {
		if _, dup := r.byName[e.Name]; dup {
			return nil, errs.New("multiproc.New", errs.CodeInvalidArg, "duplicate processor name: "+e.Name)
		}
		r.names[i] = e.Name
		r.clusterIDs[i] = e.ClusterID
		r.byName[e.Name] = ProcessorID(i)
		if e.Name == selfName {
			r.self = ProcessorID(i)
		}
	}
	if r.self == InvalidProcID {
		return nil, errs.New("multiproc.New", errs.CodeInvalidArg, "selfName not found in entries: "+selfName)
	}
	return r, nil
}

// Self returns the local processor's id.
func (r *Registry) Self() ProcessorID { return r.self }

// NumProcessors returns the number of configured processors.
func (r *Registry) NumProcessors() int { return len(r.names) }

// GetID looks up a processor id by name.
func (r *Registry) GetID(name string) (ProcessorID, error) {
	id, ok := r.byName[name]
	if !ok {
		return InvalidProcID, errs.New("multiproc.GetID", errs.CodeInvalidProcID, name+" not found")
	}
	return id, nil
}

// GetName looks up a processor's name by id.
func (r *Registry) GetName(id ProcessorID) (string, error) {
	if int(id) >= len(r.names) {
		return "", errs.New("multiproc.GetName", errs.CodeInvalidProcID, "id out of range")
	}
	return r.names[id], nil
}

// ClusterID returns the cluster id of a processor.
func (r *Registry) ClusterID(id ProcessorID) (uint16, error) {
	if int(id) >= len(r.clusterIDs) {
		return 0, errs.New("multiproc.ClusterID", errs.CodeInvalidProcID, "id out of range")
	}
	return r.clusterIDs[id], nil
}

// Names returns every configured processor name, ordered by ProcessorID.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Peers returns every processor id other than self, ascending.
func (r *Registry) Peers() []ProcessorID {
	peers := make([]ProcessorID, 0, len(r.names)-1)
	for i := range r.names {
		if ProcessorID(i) != r.self {
			peers = append(peers, ProcessorID(i))
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}
