// Package nameserver implements the NameServer (spec.md §4.C): a
// distributed name→value map with a local table plus one remote-driver
// proxy per peer, in the same capability-interface style as the teacher's
// internal/interfaces.Backend (a small interface implemented by whatever
// transport actually talks to a given peer).
package nameserver

import (
	"strings"
	"sync"

	"github.com/behrlich/go-hipc/internal/errs"
)

// RemoteDriver is the capability every peer's NameServer proxy must
// implement (spec.md §9 open question resolution: "get/sendEvent/enable/
// disable/registerEvent/unregisterEvent" shape, narrowed here to the
// name-lookup subset NameServer actually calls).
type RemoteDriver interface {
	// Get queries name on the remote peer, returning the stored value.
	Get(name string, timeout int) (value []byte, found bool, err error)
}

// Entry mirrors spec.md §3's NameServer entry: the name, its value bytes
// (whose length is len(Value)), and a key.
type Entry struct {
	Name  string
	Value []byte
	Key   uint32
}

// Params configures Create.
type Params struct {
	MaxNameLen        int
	MaxValueLen       int
	MaxRuntimeEntries int
	AllowGrowth       bool
	CheckExisting     bool
}

// DefaultParams mirrors the teacher's DefaultDeviceParams config-object
// pattern (internal/ctrl/types.go).
func DefaultParams() Params {
	return Params{
		MaxNameLen:        32,
		MaxValueLen:       4,
		MaxRuntimeEntries: 64,
		AllowGrowth:       false,
		CheckExisting:     true,
	}
}

// Table is one NameServer instance (spec.md §4.C "create(name, params)").
type Table struct {
	mu      sync.Mutex
	params  Params
	entries map[uint32]*Entry
	byName  map[string]uint32
	nextKey uint32

	remoteMu sync.RWMutex
	remotes  map[uint16]RemoteDriver
}

// Create makes a new Table.
func Create(params Params) *Table {
	return &Table{
		params:  params,
		entries: make(map[uint32]*Entry),
		byName:  make(map[string]uint32),
		remotes: make(map[uint16]RemoteDriver),
	}
}

// Delete releases a Table. There is nothing else to release beyond what
// Go's GC already reclaims; kept as a named operation to mirror the
// create/delete lifecycle pairing used throughout the runtime.
func (t *Table) Delete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.byName = nil
}

// Add inserts name→value, failing AlreadyExists when CheckExisting is set
// and name is already present, or MaxReached when the table is full and
// growth is disallowed (spec.md §4.C add).
func (t *Table) Add(name string, value []byte) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(name) > t.params.MaxNameLen {
		return 0, errs.New("NameServer.add", errs.CodeInvalidArg, "name exceeds maxNameLen")
	}
	if len(value) > t.params.MaxValueLen {
		return 0, errs.New("NameServer.add", errs.CodeInvalidArg, "value exceeds maxValueLen")
	}
	if t.params.CheckExisting {
		if _, exists := t.byName[name]; exists {
			return 0, errs.New("NameServer.add", errs.CodeAlreadyExists, "name already present")
		}
	}
	if !t.params.AllowGrowth && len(t.entries) >= t.params.MaxRuntimeEntries {
		return 0, errs.New("NameServer.add", errs.CodeMaxReached, "maxRuntimeEntries exceeded")
	}

	t.nextKey++
	key := t.nextKey
	valCopy := make([]byte, len(value))
	copy(valCopy, value)
	t.entries[key] = &Entry{Name: name, Value: valCopy, Key: key}
	t.byName[name] = key
	return key, nil
}

// AddUInt32 is the uint32 specialization of Add.
func (t *Table) AddUInt32(name string, value uint32) (uint32, error) {
	buf := []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
	return t.Add(name, buf)
}

// Get queries name: local table first (unless procIDs excludes self),
// then each listed peer's RemoteDriver in order, stopping on the first
// success and continuing only on NotFound (spec.md §4.C get).
func (t *Table) Get(name string, procIDs []uint16, self uint16, timeout int) ([]byte, error) {
	includesSelf := len(procIDs) == 0
	for _, p := range procIDs {
		if p == self {
			includesSelf = true
		}
	}

	if includesSelf {
		t.mu.Lock()
		key, ok := t.byName[name]
		var local *Entry
		if ok {
			local = t.entries[key]
		}
		t.mu.Unlock()
		if local != nil {
			return local.Value, nil
		}
	}

	for _, p := range procIDs {
		if p == self {
			continue
		}
		t.remoteMu.RLock()
		driver, ok := t.remotes[p]
		t.remoteMu.RUnlock()
		if !ok {
			continue
		}
		value, found, err := driver.Get(name, timeout)
		if err != nil {
			return nil, errs.Wrap("NameServer.get", err)
		}
		if found {
			return value, nil
		}
	}
	return nil, errs.New("NameServer.get", errs.CodeNotFound, "name not found locally or on any listed peer")
}

// Match returns the value of the longest stored name that is a prefix of
// the input, and that name's length (spec.md §4.C match).
func (t *Table) Match(input string) (value []byte, matchedLen int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	best := -1
	var bestValue []byte
	for name, key := range t.byName {
		if strings.HasPrefix(input, name) && len(name) > best {
			best = len(name)
			bestValue = t.entries[key].Value
		}
	}
	if best < 0 {
		return nil, 0
	}
	return bestValue, best
}

// Remove deletes an entry by name.
func (t *Table) Remove(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, ok := t.byName[name]
	if !ok {
		return errs.New("NameServer.remove", errs.CodeNotFound, "name not found")
	}
	delete(t.entries, key)
	delete(t.byName, name)
	return nil
}

// RemoveEntry deletes an entry by key.
func (t *Table) RemoveEntry(key uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return errs.New("NameServer.removeEntry", errs.CodeNotFound, "key not found")
	}
	delete(t.entries, key)
	delete(t.byName, e.Name)
	return nil
}

// RegisterRemoteDriver registers the proxy used to query procID. Exactly
// one driver is allowed per peer (spec.md §4.C).
func (t *Table) RegisterRemoteDriver(procID uint16, driver RemoteDriver) error {
	t.remoteMu.Lock()
	defer t.remoteMu.Unlock()

	if _, exists := t.remotes[procID]; exists {
		return errs.New("NameServer.registerRemoteDriver", errs.CodeAlreadyExists, "driver already registered for peer")
	}
	t.remotes[procID] = driver
	return nil
}

// UnregisterRemoteDriver removes procID's driver.
func (t *Table) UnregisterRemoteDriver(procID uint16) error {
	t.remoteMu.Lock()
	defer t.remoteMu.Unlock()

	if _, exists := t.remotes[procID]; !exists {
		return errs.New("NameServer.unregisterRemoteDriver", errs.CodeNotFound, "no driver registered for peer")
	}
	delete(t.remotes, procID)
	return nil
}
