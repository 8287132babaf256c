// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package relay models the I/O device/relay/digital-input subsystem and
// its subscription-driven push of MID 0217. See companion spec §4.7
// and §3 "I/O device" / "Relay subscription set".
package relay

import (
	"errors"
	"sort"
	"sync"
)

// Errors mirroring the MID 0004 codes a relay operation can provoke.
// See companion spec §4.5.1.
var (
	ErrAlreadySubscribed = errors.New("relay: function already subscribed")
	ErrNotSubscribed     = errors.New("relay: function not subscribed")
	ErrDeviceUnknown     = errors.New("relay: device unknown")
)

// Slot is one relay or digital-input position: a function label and
// its current status.
type Slot struct {
	Function int
	Status   int // 0 or 1
}

// Device is one I/O device, keyed by a 2-digit id, holding two ordered
// arrays of slots.
type Device struct {
	ID            string
	Relays        []Slot
	DigitalInputs []Slot
}

type subscription struct {
	active bool
	noAck  bool
}

// PushFunc is invoked whenever a subscribed relay function's status
// changes through Toggle. It is not invoked on subscribe: Subscribe
// returns the current status to its caller instead. status is 0 or 1;
// noAck mirrors the subscription's no-ack flag.
type PushFunc func(functionID, status int, noAck bool)

// Subsystem holds every I/O device plus the relay-function subscription
// set. Safe for concurrent use.
type Subsystem struct {
	mu      sync.Mutex
	devices map[string]*Device
	subs    map[int]subscription
	onPush  PushFunc

	// defaultDeviceID is where newly-mapped relay functions (from a
	// profile's relay_mappings) get a slot appended, per companion spec
	// §4.7 "guaranteed to exist at all times".
	defaultDeviceID string
}

// NewSubsystem returns a Subsystem with one default device ("01")
// pre-populated with 8 relay and 8 digital-input slots, matching the
// MID 0215 rev-1 fixed layout (companion spec §6).
func NewSubsystem() *Subsystem {
	s := &Subsystem{
		devices:         make(map[string]*Device),
		subs:            make(map[int]subscription),
		defaultDeviceID: "01",
	}
	s.devices["01"] = &Device{
		ID:            "01",
		Relays:        make([]Slot, 8),
		DigitalInputs: make([]Slot, 8),
	}
	return s
}

// SetPushHandler registers the callback invoked on every relay status
// push made by Toggle. Toggles made before it is set push nothing.
func (s *Subsystem) SetPushHandler(f PushFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPush = f
}

// Device returns the device with the given id, or false if unknown.
func (s *Subsystem) Device(id string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// EnsureDevice returns the device with the given id, creating an empty
// one if it does not exist.
func (s *Subsystem) EnsureDevice(id string) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		d = &Device{ID: id}
		s.devices[id] = d
	}
	return d
}

// Reset clears every subscription. Called on session end (companion
// spec §3 "Session" lifecycle).
func (s *Subsystem) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[int]subscription)
}

// Subscribe records interest in functionID's status changes. Fails with
// ErrAlreadySubscribed if functionID already has an active subscription.
// Returns the current status so the caller can push it — deliberately
// not via the onPush callback, since the caller must send its MID 0005
// ack before that first push goes out (companion spec §4.5 "MID 0216"
// / §5 response-before-push ordering).
func (s *Subsystem) Subscribe(functionID int, noAck bool) (status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[functionID]; ok && sub.active {
		return 0, ErrAlreadySubscribed
	}
	s.subs[functionID] = subscription{active: true, noAck: noAck}
	return s.statusOfLocked(functionID), nil
}

// Unsubscribe clears interest in functionID. Fails with ErrNotSubscribed
// if there was no active subscription.
func (s *Subsystem) Unsubscribe(functionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[functionID]
	if !ok || !sub.active {
		return ErrNotSubscribed
	}
	delete(s.subs, functionID)
	return nil
}

// Toggle sets functionID's status on the named device (in both the
// relay and digital-input arrays, whichever holds that function) and
// pushes MID 0217 to a subscriber, if any. Used both for operator
// toggles and internal relay changes (companion spec §4.7).
func (s *Subsystem) Toggle(deviceID string, functionID, status int) error {
	s.mu.Lock()
	d, ok := s.devices[deviceID]
	if !ok {
		s.mu.Unlock()
		return ErrDeviceUnknown
	}
	setSlotStatus(d.Relays, functionID, status)
	setSlotStatus(d.DigitalInputs, functionID, status)

	sub, subscribed := s.subs[functionID]
	push := s.onPush
	s.mu.Unlock()

	if subscribed && sub.active && push != nil {
		push(functionID, status, sub.noAck)
	}
	return nil
}

func setSlotStatus(slots []Slot, functionID, status int) {
	for i := range slots {
		if slots[i].Function == functionID {
			slots[i].Status = status
		}
	}
}

// statusOfLocked returns functionID's current status across every
// device's relay/digital-input slots, 0 if not found. Caller must hold
// s.mu.
func (s *Subsystem) statusOfLocked(functionID int) int {
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := s.devices[id]
		if v, ok := findSlot(d.Relays, functionID); ok {
			return v
		}
		if v, ok := findSlot(d.DigitalInputs, functionID); ok {
			return v
		}
	}
	return 0
}

func findSlot(slots []Slot, functionID int) (int, bool) {
	for _, s := range slots {
		if s.Function == functionID {
			return s.Status, true
		}
	}
	return 0, false
}

// ApplyRelayMappings ensures a slot exists (status 0) on the default
// device for every mapped function id that is not already present.
// Called when a profile carrying relay_mappings is applied. See
// companion spec §3 "Relay subscription set" and §4.7.
func (s *Subsystem) ApplyRelayMappings(mappings map[string]int) {
	if len(mappings) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.devices[s.defaultDeviceID]
	if d == nil {
		d = &Device{ID: s.defaultDeviceID}
		s.devices[s.defaultDeviceID] = d
	}
	for _, functionID := range mappings {
		if _, ok := findSlot(d.Relays, functionID); ok {
			continue
		}
		d.Relays = append(d.Relays, Slot{Function: functionID, Status: 0})
	}
}

// SubscribedNoAck reports whether functionID has an active subscription
// and, if so, its no-ack flag.
func (s *Subsystem) SubscribedNoAck(functionID int) (noAck bool, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[functionID]
	return sub.noAck, ok && sub.active
}
