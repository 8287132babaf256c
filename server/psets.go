package server

import (
	"sync"

	"github.com/dustywill/open-protocol-emulator/clog"
	"github.com/dustywill/open-protocol-emulator/pset"
)

// PsetTable is the in-memory, mutex-guarded Pset table backing both
// the simulator's PsetLookup and the MID 0018 select handler. It loads
// from and saves to a pset.Store; I/O failures fall back to an empty
// table and log, per companion spec §7 "Profile/Pset I/O failures fall
// back to defaults and log".
type PsetTable struct {
	mu    sync.RWMutex
	table map[string]pset.Pset
	store pset.Store
	log   clog.Clog
}

// NewPsetTable loads the table from store (if non-nil).
func NewPsetTable(store pset.Store, log clog.Clog) *PsetTable {
	t := &PsetTable{table: make(map[string]pset.Pset), store: store, log: log}
	if store == nil {
		return t
	}
	loaded, err := store.Load()
	if err != nil {
		log.Error("pset: load failed, starting empty: %v", err)
		return t
	}
	t.table = loaded
	return t
}

// Lookup returns the Pset for id, implementing simulator.PsetLookup.
func (t *PsetTable) Lookup(id string) (pset.Pset, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.table[id]
	return p, ok
}

// Set stores p under id and persists the table, logging (not failing)
// on a save error.
func (t *PsetTable) Set(id string, p pset.Pset) {
	t.mu.Lock()
	t.table[id] = p
	snapshot := make(map[string]pset.Pset, len(t.table))
	for k, v := range t.table {
		snapshot[k] = v
	}
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	if err := t.store.Save(snapshot); err != nil {
		t.log.Error("pset: save failed: %v", err)
	}
}
