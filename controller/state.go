// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package controller holds the single mutex-guarded aggregate of
// mutable session/device state (companion spec §4.3 "Controller
// State") and the serialized socket writer that pushes encoded frames
// to it (§4.4 "Event Dispatcher"). Every read-modify-write of
// session/subscription/batch/VIN/counter/pset fields goes through a
// State method; nothing outside this package touches the fields
// directly, mirroring the teacher's habit of keeping ASDU/connection
// state behind small accessor methods rather than exported fields.
package controller

import (
	"errors"
	"sync"
	"time"
)

// Identification holds the controller-identity fields carried in the
// MID 0002 start-ack payload from revision 2 onward. See companion
// spec §3 and §6 "MID 0002".
type Identification struct {
	SupplierCode     string // 04 N(3)
	SoftwareVersion1 string // 05 S(19)
	SoftwareVersion2 string // 06 S(19)
	SoftwareVersion3 string // 07 S(19)
	Serial           string // 08 S(24)
	SystemType       string // 09 S(10)
	StationID        string // 10 S(10)
	StationName      string // 11 S(10)
	ControllerType   int    // 12 N(1)
	ToolInterface    int    // 13 N(1)
	ClientID         string // 14 S(10)
	VinOnDownload    string // 15 S(25)
	Reserved16       int    // 16 N(1)
}

// ErrAlreadyActive is returned by BeginSession when a session is
// already active, corresponding to MID 0004 error code 96.
var ErrAlreadyActive = errors.New("controller: session already active")

// ErrInvalidPset is returned by SelectPset for an id outside the fixed
// allowed set, corresponding to MID 0004 error code 2.
var ErrInvalidPset = errors.New("controller: invalid pset id")

const tighteningIDModulus = 10_000_000_000 // 10^10, per companion spec §3

// State is the single aggregate of mutable controller state. All
// access is through its methods, which take the internal mutex.
type State struct {
	mu sync.Mutex

	active bool

	controllerName string
	cellID         int
	channelID      int
	jobID          int
	ident          Identification

	subs [streamCount]Subscription

	currentPset   string
	psetChangedAt time.Time
	okCounter     int

	vin          VIN
	batchCounter int

	toolEnabled     bool
	autoLoopEnabled bool

	tighteningID uint64

	controllerTime time.Time

	lifetimeOK  uint64
	lifetimeNOK uint64
}

// NewState returns a State with the given controller name (space
// padded/truncated to 25 chars by the caller), cell id and channel id,
// and process-start defaults for everything else: no Pset selected,
// VIN "AB123000" (mirroring the reference controller's factory
// default), tool enabled false, auto-loop disabled, inactive session.
// psetChangedAt starts at "now" so a MID 0061 emitted before any MID
// 0018 selection still carries a well-formed timestamp, per
// SPEC_FULL.md "Supplemented behavior".
func NewState(controllerName string, cellID, channelID int, ident Identification) *State {
	vin, _ := ParseVIN("AB123000")
	return &State{
		controllerName: controllerName,
		cellID:         cellID,
		channelID:      channelID,
		jobID:          0,
		ident:          ident,
		subs:           freshSubscriptions(),
		currentPset:    "0",
		psetChangedAt:  time.Now(),
		vin:            vin,
	}
}

// Snapshot is a point-in-time, lock-free copy of the fields MID
// handlers most commonly need to read. Taking one and then acting on
// it outside the lock is how this package implements the
// "compute-under-lock, release, send-outside-lock" discipline
// companion spec §4.3/§5/§9 require.
type Snapshot struct {
	Active          bool
	ControllerName  string
	CellID          int
	ChannelID       int
	JobID           int
	Ident           Identification
	CurrentPset     string
	PsetChangedAt   time.Time
	VIN             VIN
	BatchCounter    int
	OkCounter       int
	ToolEnabled     bool
	AutoLoopEnabled bool
	TighteningID    uint64
	ControllerTime  time.Time
	LifetimeOK      uint64
	LifetimeNOK     uint64
}

// Snapshot copies every field a handler might read.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Active:          s.active,
		ControllerName:  s.controllerName,
		CellID:          s.cellID,
		ChannelID:       s.channelID,
		JobID:           s.jobID,
		Ident:           s.ident,
		CurrentPset:     s.currentPset,
		PsetChangedAt:   s.psetChangedAt,
		VIN:             s.vin,
		BatchCounter:    s.batchCounter,
		OkCounter:       s.okCounter,
		ToolEnabled:     s.toolEnabled,
		AutoLoopEnabled: s.autoLoopEnabled,
		TighteningID:    s.tighteningID,
		ControllerTime:  s.controllerTime,
		LifetimeOK:      s.lifetimeOK,
		LifetimeNOK:     s.lifetimeNOK,
	}
}

// Active reports whether a session is currently active.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// BeginSession activates the session, resetting the per-session
// counters and flags companion spec §3/§4.8 name: the tightening id
// counter, the batch counter, tool-enabled, auto-loop, and every stream
// subscription. VIN persists across sessions (its lifetime is the
// process, not the session). Returns ErrAlreadyActive if a session is
// already active; the caller maps that to MID 0004 error 96.
func (s *State) BeginSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrAlreadyActive
	}
	s.active = true
	s.tighteningID = 0
	s.batchCounter = 0
	s.toolEnabled = true
	s.autoLoopEnabled = true
	s.subs = freshSubscriptions()
	return nil
}

// EndSession deactivates the session and resets every stream
// subscription to inactive/rev-1, per companion spec §3 "When a
// session ends". Called on MID 0003, peer close, or I/O error.
func (s *State) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.subs = freshSubscriptions()
}

// Subscribe activates stream's subscription at the given negotiated
// revision and no-ack flag. Returns ErrAlreadySubscribed if it is
// already active.
func (s *State) Subscribe(stream Stream, rev int, noAck bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[stream].Active {
		return ErrAlreadySubscribed
	}
	s.subs[stream] = Subscription{Active: true, Rev: rev, NoAck: noAck}
	return nil
}

// Unsubscribe clears stream's subscription. Returns ErrNotSubscribed if
// it was not active.
func (s *State) Unsubscribe(stream Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.subs[stream].Active {
		return ErrNotSubscribed
	}
	s.subs[stream] = Subscription{Rev: 1}
	return nil
}

// Subscription returns a copy of stream's current subscription record.
func (s *State) Subscription(stream Stream) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[stream]
}

// SelectPset applies a MID 0018 select payload (already left-trimmed).
// "0"/"000" deselect: current Pset becomes "0" and the ok counter
// resets. Any other id must be in pset.AllowedIDs, else ErrInvalidPset.
// On success it records the change timestamp and resets the ok
// counter. The caller passes now in so tests can supply a fixed clock.
func (s *State) SelectPset(id string, now time.Time, allowed func(string) bool, isNone func(string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isNone(id) {
		s.currentPset = "0"
		s.okCounter = 0
		s.psetChangedAt = now
		return nil
	}
	if !allowed(id) {
		return ErrInvalidPset
	}
	s.currentPset = id
	s.okCounter = 0
	s.psetChangedAt = now
	return nil
}

// DownloadVIN applies a MID 0050 payload: parse and, on success, store
// it and reset the batch counter; on parse failure the VIN returned by
// ParseVIN (prefix + "0") is still stored, but the batch counter is
// left untouched, per companion spec §4.5 "MID 0050".
func (s *State) DownloadVIN(raw string) (VIN, bool) {
	vin, ok := ParseVIN(raw)
	s.mu.Lock()
	s.vin = vin
	if ok {
		s.batchCounter = 0
	}
	s.mu.Unlock()
	return vin, ok
}

// VIN returns the current VIN.
func (s *State) VIN() VIN {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vin
}

// IncrementVIN advances the current VIN by one (re-padding per
// companion spec §3) and returns the new value. Called when a batch
// completes.
func (s *State) IncrementVIN() VIN {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vin = s.vin.Increment()
	return s.vin
}

// NextTighteningID increments the tightening id counter, wrapping at
// 10^10, and returns the new value.
func (s *State) NextTighteningID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tighteningID = (s.tighteningID + 1) % tighteningIDModulus
	return s.tighteningID
}

// NoteTighteningOutcome folds one tightening result into batch/ok-
// counter state, per companion spec §4.6 steps 5-7. targetBatchSize is
// the batch size in effect for the currently selected Pset (or the
// global default), resolved by the caller since State does not consult
// the Pset store itself. Returns the batch counter and target to embed
// in the result payload, and whether the batch just completed (in
// which case the caller should call IncrementVIN and the counter has
// already been reset to 0).
func (s *State) NoteTighteningOutcome(ok bool, targetBatchSize int) (batchCounter, batchTarget int, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.lifetimeOK++
		s.okCounter++
		if targetBatchSize > 0 {
			s.batchCounter++
		}
	} else {
		s.lifetimeNOK++
	}
	batchCounter = s.batchCounter
	batchTarget = targetBatchSize
	if targetBatchSize > 0 && s.batchCounter >= targetBatchSize {
		complete = true
		s.batchCounter = 0
	}
	return batchCounter, batchTarget, complete
}

// SetToolEnabled sets the tool-enabled flag, per MID 0042/0043.
func (s *State) SetToolEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolEnabled = enabled
}

// SetControllerTime stores the time parsed from a MID 0082 payload.
func (s *State) SetControllerTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controllerTime = t
}
