// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package revision implements the per-MID maximum-revision registry and
// the built-in/loadable profile mechanism described in companion spec
// §4.2. It is the generalization of the teacher's static per-TypeID
// "infoObjSize" table (asdu/identifier.go): here the table is mutable
// at runtime, since a profile load or a set_max_rev call can change it.
package revision

import (
	"errors"
	"sync"

	"github.com/dustywill/open-protocol-emulator/protocol"
)

// ErrInvalidMaxRev is returned by SetMaxRev for n < 1.
var ErrInvalidMaxRev = errors.New("revision: max revision must be >= 1")

// defaultMaxRev ships with the controller-shipped maxima for the MIDs
// that have more than one revision defined. Any MID absent from this
// map defaults to 1. See companion spec §3 and §6.
var defaultMaxRev = map[protocol.MID]int{
	protocol.MIDCommunicationStartAck: 6,
	protocol.MIDCommandError:          3,
	protocol.MIDParameterSetSelected:  2,
	protocol.MIDToolData:              5,
	protocol.MIDVin:                   2,
	protocol.MIDResult:                7,
	protocol.MIDMultiSpindleResult:    5,
	protocol.MIDDeviceStatus:          2,
}

// Registry maps MID -> maximum supported revision. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	max map[protocol.MID]int
}

// NewRegistry returns a Registry seeded with the controller defaults.
func NewRegistry() *Registry {
	r := &Registry{max: make(map[protocol.MID]int, len(defaultMaxRev))}
	for mid, n := range defaultMaxRev {
		r.max[mid] = n
	}
	return r
}

// MaxRev returns the maximum revision supported for mid; 1 if mid has
// no entry.
func (r *Registry) MaxRev(mid protocol.MID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.max[mid]; ok {
		return n
	}
	return 1
}

// Negotiate picks the revision that will be used for every future
// emission of the push MID corresponding to requested: min(requested,
// MaxRev(mid)). A requested revision of 0 (or less) is treated as 1.
func (r *Registry) Negotiate(mid protocol.MID, requested int) int {
	if requested < 1 {
		requested = 1
	}
	if max := r.MaxRev(mid); requested > max {
		return max
	}
	return requested
}

// SetMaxRev overwrites the maximum revision for mid. Rejects n < 1.
func (r *Registry) SetMaxRev(mid protocol.MID, n int) error {
	if n < 1 {
		return ErrInvalidMaxRev
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.max[mid] = n
	return nil
}

// Snapshot returns a copy of the current MID -> max-revision mapping,
// for inspection or persistence.
func (r *Registry) Snapshot() map[protocol.MID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[protocol.MID]int, len(r.max))
	for k, v := range r.max {
		out[k] = v
	}
	return out
}
