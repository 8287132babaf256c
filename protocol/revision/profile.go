// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package revision

import (
	"fmt"

	"github.com/dustywill/open-protocol-emulator/protocol"
)

// Profile is a named snapshot of MID -> max-revision entries, plus
// optional relay-function name -> function-id mappings. Applying a
// profile overwrites only the entries it lists; unlisted MIDs and
// relay mappings are left untouched. See companion spec §3, §4.2, §6.
type Profile struct {
	Name          string
	Description   string
	Revisions     map[protocol.MID]int
	RelayMappings map[string]int
}

// builtins holds the three profiles every controller ships with. The
// concrete revision numbers mirror the reference controller families
// this simulator stands in for: an all-rev-1 legacy mode, a moderate
// "basic" tier, and the full maxima from companion spec §6.
var builtins = map[string]Profile{
	"legacy": {
		Name:        "legacy",
		Description: "Legacy mode - revision 1 only for all MIDs",
		Revisions: map[protocol.MID]int{
			protocol.MIDCommunicationStartAck: 1,
			protocol.MIDCommandError:          1,
			protocol.MIDParameterSetSelected:  1,
			protocol.MIDToolData:              1,
			protocol.MIDVin:                   1,
			protocol.MIDResult:                1,
			protocol.MIDMultiSpindleResult:    1,
			protocol.MIDDeviceStatus:          1,
		},
	},
	"pf6000-basic": {
		Name:        "pf6000-basic",
		Description: "PF6000 basic - moderate revision support",
		Revisions: map[protocol.MID]int{
			protocol.MIDCommunicationStartAck: 3,
			protocol.MIDCommandError:          2,
			protocol.MIDParameterSetSelected:  1,
			protocol.MIDToolData:              2,
			protocol.MIDVin:                   1,
			protocol.MIDResult:                2,
			protocol.MIDMultiSpindleResult:    2,
			protocol.MIDDeviceStatus:          1,
		},
	},
	"pf6000-full": {
		Name:        "pf6000-full",
		Description: "PF6000 full - maximum revision support",
		Revisions: map[protocol.MID]int{
			protocol.MIDCommunicationStartAck: 6,
			protocol.MIDCommandError:          3,
			protocol.MIDParameterSetSelected:  2,
			protocol.MIDToolData:              5,
			protocol.MIDVin:                   2,
			protocol.MIDResult:                7,
			protocol.MIDMultiSpindleResult:    5,
			protocol.MIDDeviceStatus:          2,
		},
	},
}

// BuiltinProfile looks up one of the three built-in profiles by name.
func BuiltinProfile(name string) (Profile, bool) {
	p, ok := builtins[name]
	return p, ok
}

// ApplyProfile overwrites r's entries with p's, leaving anything p does
// not mention unchanged. Returns the relay-function mappings (if any)
// so the caller (the relay subsystem) can ensure those functions exist.
func (r *Registry) ApplyProfile(p Profile) map[string]int {
	r.mu.Lock()
	for mid, n := range p.Revisions {
		r.max[mid] = n
	}
	r.mu.Unlock()
	return p.RelayMappings
}

// ApplyProfileByName applies one of the built-in profiles by name.
func (r *Registry) ApplyProfileByName(name string) (map[string]int, error) {
	p, ok := BuiltinProfile(name)
	if !ok {
		return nil, fmt.Errorf("revision: unknown built-in profile %q", name)
	}
	return r.ApplyProfile(p), nil
}
