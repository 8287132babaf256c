// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustywill/open-protocol-emulator/clog"
	"github.com/dustywill/open-protocol-emulator/controller"
	"github.com/dustywill/open-protocol-emulator/metrics"
	"github.com/dustywill/open-protocol-emulator/protocol"
	"github.com/dustywill/open-protocol-emulator/protocol/revision"
	"github.com/dustywill/open-protocol-emulator/pset"
	"github.com/dustywill/open-protocol-emulator/relay"
	"github.com/dustywill/open-protocol-emulator/simulator"
)

// Handlers is the MID handler table (companion spec §4.5): a function
// keyed by MID, each implementing one request/response per the
// component design, reading/writing controller.State and emitting
// through controller.Dispatcher. This is C5 in the spec's component
// graph.
type Handlers struct {
	state      *controller.State
	dispatcher *controller.Dispatcher
	revisions  *revision.Registry
	relays     *relay.Subsystem
	psets      *PsetTable
	sim        *simulator.Generator
	log        clog.Clog

	onSessionStart func()
	onSessionEnd   func()

	table map[int]func(protocol.Frame)
}

// NewHandlers builds the dispatch table.
func NewHandlers(state *controller.State, dispatcher *controller.Dispatcher, revisions *revision.Registry, relays *relay.Subsystem, psets *PsetTable, sim *simulator.Generator, log clog.Clog) *Handlers {
	h := &Handlers{
		state:      state,
		dispatcher: dispatcher,
		revisions:  revisions,
		relays:     relays,
		psets:      psets,
		sim:        sim,
		log:        log,
	}
	h.table = map[int]func(protocol.Frame){
		int(protocol.MIDCommunicationStart): h.handleStart,
		int(protocol.MIDCommunicationStop):  h.handleStop,
		int(protocol.MIDCommandError):        h.logOnly("MID 0004"),
		int(protocol.MIDCommandAccepted):     h.logOnly("MID 0005"),
		int(protocol.MIDKeepAlive):           h.handleKeepAlive,

		int(protocol.MIDParameterSetSubscribe):    h.handlePsetSubscribe,
		int(protocol.MIDParameterSetUnsubscribe):  h.handlePsetUnsubscribe,
		int(protocol.MIDParameterSetSelect):       h.handlePsetSelect,
		int(protocol.MIDParameterSetSubscribeOff): h.logOnly("MID 0016"),

		int(protocol.MIDToolDataRequest): h.handleToolDataRequest,
		int(protocol.MIDToolDisable):     h.handleToolDisable,
		int(protocol.MIDToolEnable):      h.handleToolEnable,
		int(protocol.MIDToolData):        h.logOnly("MID 0041"),

		int(protocol.MIDVinUpload):       h.handleVinDownload,
		int(protocol.MIDVinSubscribe):    h.handleVinSubscribe,
		int(protocol.MIDVinUnsubscribe):  h.handleVinUnsubscribe,
		int(protocol.MIDVinSubscribeOff): h.logOnly("MID 0053"),

		int(protocol.MIDResultSubscribe):    h.handleResultSubscribe,
		int(protocol.MIDResultUnsubscribe):  h.handleResultUnsubscribe,
		int(protocol.MIDResultSubscribeOff): h.logOnly("MID 0062"),

		int(protocol.MIDSetTime): h.handleSetTime,

		int(protocol.MIDMultiSpindleSubscribe):    h.handleMultiSpindleSubscribe,
		int(protocol.MIDMultiSpindleUnsubscribe):  h.handleMultiSpindleUnsubscribe,
		int(protocol.MIDMultiSpindleSubscribeOff): h.logOnly("MID 0102"),

		int(protocol.MIDDeviceStatusRequest): h.handleDeviceStatusRequest,
		int(protocol.MIDRelaySubscribe):      h.handleRelaySubscribe,
		int(protocol.MIDRelayUnsubscribe):    h.handleRelayUnsubscribe,
		int(protocol.MIDRelaySubscribeOff):   h.logOnly("MID 0218"),
	}
	return h
}

// Dispatch routes one decoded frame to its handler. An unrecognized MID
// yields MID 0004 error code 99, per companion spec §4.5.
func (h *Handlers) Dispatch(f protocol.Frame) {
	h.log.Info("recv MID %04d rev=%d len=%d station=%d spindle=%d", f.MID, f.Rev, len(f.Data), f.Station, f.Spindle)
	metrics.FramesReceived.WithLabelValues(fmt.Sprintf("%04d", f.MID)).Inc()
	fn, ok := h.table[f.MID]
	if !ok {
		h.sendError(f.MID, int(protocol.ErrUnknownOrParse))
		return
	}
	fn(f)
}

func (h *Handlers) logOnly(label string) func(protocol.Frame) {
	return func(f protocol.Frame) {
		h.log.Debug("%s: received, no action", label)
	}
}

// ack sends a MID 0005 acknowledging acknowledgedMID.
func (h *Handlers) ack(acknowledgedMID int) {
	data := protocol.BuildRevisioned(1, []protocol.FieldSpec{
		{MinRev: 1, Write: func(b *protocol.Builder) { b.Num(4, acknowledgedMID) }},
	})
	h.emit(protocol.MIDCommandAccepted, 1, false, data)
}

// sendError emits MID 0004 at rev 1 regardless of any negotiated
// error-channel revision — the open question in companion spec §9 is
// resolved in favor of the source's fixed-rev-1 behavior, since that is
// what the pinned test scenarios in §8 assume.
func (h *Handlers) sendError(failingMID, code int) {
	data := protocol.BuildRevisioned(1, []protocol.FieldSpec{
		{MinRev: 1, Write: func(b *protocol.Builder) { b.Num(4, failingMID); b.Num(2, code) }},
	})
	h.log.Warn("sending MID 0004: failing=%04d code=%d", failingMID, code)
	h.emit(protocol.MIDCommandError, 1, false, data)
}

func (h *Handlers) emit(mid protocol.MID, rev int, noAck bool, data []byte) {
	frame := protocol.Encode(protocol.Frame{MID: int(mid), Rev: rev, NoAck: noAck, Data: data})
	if err := h.dispatcher.Send(frame); err != nil {
		h.log.Error("send MID %04d failed: %v", mid, err)
		return
	}
	metrics.FramesSent.WithLabelValues(fmt.Sprintf("%04d", int(mid))).Inc()
	h.log.Info("sent MID %04d rev=%d len=%d", mid, rev, len(data))
}

// --- Session ---

func (h *Handlers) handleStart(f protocol.Frame) {
	if err := h.state.BeginSession(); err != nil {
		h.sendError(int(protocol.MIDCommunicationStart), int(protocol.ErrAlreadyConnected))
		return
	}
	h.relays.Reset()
	rev := h.revisions.Negotiate(protocol.MIDCommunicationStartAck, f.Rev)
	snap := h.state.Snapshot()
	data := buildStartAckData(snap, rev)
	h.emit(protocol.MIDCommunicationStartAck, rev, false, data)
	if h.onSessionStart != nil {
		h.onSessionStart()
	}
}

func buildStartAckData(snap controller.Snapshot, rev int) []byte {
	id := snap.Ident
	return protocol.BuildRevisioned(rev, []protocol.FieldSpec{
		{Tag: "01", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(4, snap.CellID) }},
		{Tag: "02", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(2, snap.ChannelID) }},
		{Tag: "03", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(25, snap.ControllerName) }},
		{Tag: "04", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(3, id.SupplierCode) }},
		{Tag: "05", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(19, id.SoftwareVersion1) }},
		{Tag: "06", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(19, id.SoftwareVersion2) }},
		{Tag: "07", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(19, id.SoftwareVersion3) }},
		{Tag: "08", MinRev: 3, Write: func(b *protocol.Builder) { b.Str(24, id.Serial) }},
		{Tag: "09", MinRev: 3, Write: func(b *protocol.Builder) { b.Str(10, id.SystemType) }},
		{Tag: "10", MinRev: 4, Write: func(b *protocol.Builder) { b.Str(10, id.StationID) }},
		{Tag: "11", MinRev: 4, Write: func(b *protocol.Builder) { b.Str(10, id.StationName) }},
		{Tag: "12", MinRev: 5, Write: func(b *protocol.Builder) { b.Num(1, id.ControllerType) }},
		{Tag: "13", MinRev: 5, Write: func(b *protocol.Builder) { b.Num(1, id.ToolInterface) }},
		{Tag: "14", MinRev: 5, Write: func(b *protocol.Builder) { b.Str(10, id.ClientID) }},
		{Tag: "15", MinRev: 5, Write: func(b *protocol.Builder) { b.Str(25, id.VinOnDownload) }},
		{Tag: "16", MinRev: 6, Write: func(b *protocol.Builder) { b.Num(1, id.Reserved16) }},
	})
}

func (h *Handlers) handleStop(f protocol.Frame) {
	h.ack(int(protocol.MIDCommunicationStop))
	h.state.EndSession()
	h.relays.Reset()
	if h.onSessionEnd != nil {
		h.onSessionEnd()
	}
	if err := h.dispatcher.Close(); err != nil {
		h.log.Debug("stop: close socket: %v", err)
	}
}

func (h *Handlers) handleKeepAlive(f protocol.Frame) {
	h.emit(protocol.MIDKeepAlive, 1, false, nil)
}

// --- Parameter set ---

func (h *Handlers) handlePsetSubscribe(f protocol.Frame) {
	rev := h.revisions.Negotiate(protocol.MIDParameterSetSelected, f.Rev)
	if err := h.state.Subscribe(controller.StreamPset, rev, f.NoAck); err != nil {
		h.sendError(int(protocol.MIDParameterSetSubscribe), int(protocol.ErrAlreadySubscribed))
		return
	}
	h.ack(int(protocol.MIDParameterSetSubscribe))
	snap := h.state.Snapshot()
	if !pset.IsNone(snap.CurrentPset) {
		h.pushPsetSelected(snap, rev, f.NoAck)
	}
}

func (h *Handlers) pushPsetSelected(snap controller.Snapshot, rev int, noAck bool) {
	data := protocol.BuildRevisioned(rev, []protocol.FieldSpec{
		{MinRev: 1, Write: func(b *protocol.Builder) {
			b.Str(3, snap.CurrentPset)
			b.Str(19, snap.PsetChangedAt.Format("2006-01-02:15:04:05"))
		}},
		{Tag: "01", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(3, snap.CurrentPset) }},
		{Tag: "02", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(19, snap.PsetChangedAt.Format("2006-01-02:15:04:05")) }},
		{Tag: "03", MinRev: 2, Write: func(b *protocol.Builder) { b.Num(4, 0) }},
		{Tag: "04", MinRev: 2, Write: func(b *protocol.Builder) { b.Num(4, 0) }},
		{Tag: "05", MinRev: 2, Write: func(b *protocol.Builder) { b.Num(4, 0) }},
	})
	h.emit(protocol.MIDParameterSetSelected, rev, noAck, data)
}

func (h *Handlers) handlePsetUnsubscribe(f protocol.Frame) {
	if err := h.state.Unsubscribe(controller.StreamPset); err != nil {
		h.sendError(int(protocol.MIDParameterSetUnsubscribe), int(protocol.ErrNotSubscribed))
		return
	}
	h.ack(int(protocol.MIDParameterSetUnsubscribe))
}

func (h *Handlers) handlePsetSelect(f protocol.Frame) {
	id := protocol.TrimLeftSpace(string(f.Data))
	if err := h.state.SelectPset(id, time.Now(), pset.IsAllowed, pset.IsNone); err != nil {
		h.sendError(int(protocol.MIDParameterSetSelect), int(protocol.ErrInvalidPset))
		return
	}
	h.ack(int(protocol.MIDParameterSetSelect))
	sub := h.state.Subscription(controller.StreamPset)
	if sub.Active {
		h.pushPsetSelected(h.state.Snapshot(), sub.Rev, sub.NoAck)
	}
}

// --- Tool ---

func (h *Handlers) handleToolDataRequest(f protocol.Frame) {
	rev := h.revisions.Negotiate(protocol.MIDToolData, f.Rev)
	h.emit(protocol.MIDToolData, rev, false, buildToolData(h.state.Snapshot(), rev))
}

func buildToolData(snap controller.Snapshot, rev int) []byte {
	return protocol.BuildRevisioned(rev, []protocol.FieldSpec{
		{Tag: "01", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(14, "") }},
		{Tag: "02", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(10, int(snap.LifetimeOK+snap.LifetimeNOK)) }},
		{Tag: "03", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(10, "") }},
		{Tag: "04", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(10, "") }},
		{Tag: "05", MinRev: 2, Write: func(b *protocol.Builder) { b.Num(6, 0) }},
		{Tag: "06", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(10, "") }},
		{Tag: "07", MinRev: 2, Write: func(b *protocol.Builder) { b.Num(10, 0) }},
		{Tag: "08", MinRev: 3, Write: func(b *protocol.Builder) { b.Num(2, 0) }},
		{Tag: "09", MinRev: 3, Write: func(b *protocol.Builder) { b.Num(4, 0) }},
		{Tag: "10", MinRev: 4, Write: func(b *protocol.Builder) { b.Str(20, "") }},
		{Tag: "11", MinRev: 5, Write: func(b *protocol.Builder) { b.Str(19, "") }},
	})
}

func (h *Handlers) handleToolDisable(f protocol.Frame) {
	h.state.SetToolEnabled(false)
	h.ack(int(protocol.MIDToolDisable))
	rev := h.revisions.Negotiate(protocol.MIDToolData, 1)
	h.emit(protocol.MIDToolData, rev, false, buildToolData(h.state.Snapshot(), rev))
}

func (h *Handlers) handleToolEnable(f protocol.Frame) {
	h.state.SetToolEnabled(true)
	h.ack(int(protocol.MIDToolEnable))
	rev := h.revisions.Negotiate(protocol.MIDToolData, 1)
	h.emit(protocol.MIDToolData, rev, false, buildToolData(h.state.Snapshot(), rev))
}

// --- VIN ---

func buildVinDataRev(vin string, rev int) []byte {
	return protocol.BuildRevisioned(rev, []protocol.FieldSpec{
		{MinRev: 1, Write: func(b *protocol.Builder) { b.Str(25, vin) }},
		{Tag: "01", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(25, vin) }},
		{Tag: "02", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(25, "") }},
		{Tag: "03", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(25, "") }},
		{Tag: "04", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(25, "") }},
	})
}

func (h *Handlers) handleVinDownload(f protocol.Frame) {
	raw := strings.TrimRight(string(f.Data), " ")
	vin, _ := h.state.DownloadVIN(raw)
	h.ack(int(protocol.MIDVinUpload))
	sub := h.state.Subscription(controller.StreamVin)
	if sub.Active {
		h.emit(protocol.MIDVin, sub.Rev, sub.NoAck, buildVinDataRev(vin.Raw, sub.Rev))
	}
}

func (h *Handlers) handleVinSubscribe(f protocol.Frame) {
	rev := h.revisions.Negotiate(protocol.MIDVin, f.Rev)
	if err := h.state.Subscribe(controller.StreamVin, rev, f.NoAck); err != nil {
		h.sendError(int(protocol.MIDVinSubscribe), int(protocol.ErrAlreadySubscribed))
		return
	}
	h.ack(int(protocol.MIDVinSubscribe))
	vin := h.state.VIN()
	h.emit(protocol.MIDVin, rev, f.NoAck, buildVinDataRev(vin.Raw, rev))
}

func (h *Handlers) handleVinUnsubscribe(f protocol.Frame) {
	if err := h.state.Unsubscribe(controller.StreamVin); err != nil {
		h.sendError(int(protocol.MIDVinUnsubscribe), int(protocol.ErrNotSubscribed))
		return
	}
	h.ack(int(protocol.MIDVinUnsubscribe))
}

// --- Tightening result ---

func (h *Handlers) handleResultSubscribe(f protocol.Frame) {
	rev := h.revisions.Negotiate(protocol.MIDResult, f.Rev)
	if err := h.state.Subscribe(controller.StreamResult, rev, f.NoAck); err != nil {
		h.sendError(int(protocol.MIDResultSubscribe), int(protocol.ErrResultAlreadySub))
		return
	}
	h.ack(int(protocol.MIDResultSubscribe))
}

func (h *Handlers) handleResultUnsubscribe(f protocol.Frame) {
	if err := h.state.Unsubscribe(controller.StreamResult); err != nil {
		h.sendError(int(protocol.MIDResultUnsubscribe), int(protocol.ErrResultNotSub))
		return
	}
	h.ack(int(protocol.MIDResultUnsubscribe))
}

// --- Time ---

func (h *Handlers) handleSetTime(f protocol.Frame) {
	raw := string(f.Data)
	if len(raw) != 19 {
		h.sendError(int(protocol.MIDSetTime), int(protocol.ErrBadTime))
		return
	}
	t, err := time.Parse("2006-01-02:15:04:05", raw)
	if err != nil {
		h.sendError(int(protocol.MIDSetTime), int(protocol.ErrBadTime))
		return
	}
	h.state.SetControllerTime(t)
	h.ack(int(protocol.MIDSetTime))
}

// --- Multi-spindle ---

func (h *Handlers) handleMultiSpindleSubscribe(f protocol.Frame) {
	if f.Rev > h.revisions.MaxRev(protocol.MIDMultiSpindleResult) {
		h.sendError(int(protocol.MIDMultiSpindleSubscribe), int(protocol.ErrUnsupportedRev))
		return
	}
	rev := f.Rev
	if rev < 1 {
		rev = 1
	}
	if err := h.state.Subscribe(controller.StreamMultiSpindle, rev, f.NoAck); err != nil {
		h.sendError(int(protocol.MIDMultiSpindleSubscribe), int(protocol.ErrResultAlreadySub))
		return
	}
	h.ack(int(protocol.MIDMultiSpindleSubscribe))
}

func (h *Handlers) handleMultiSpindleUnsubscribe(f protocol.Frame) {
	if err := h.state.Unsubscribe(controller.StreamMultiSpindle); err != nil {
		h.sendError(int(protocol.MIDMultiSpindleUnsubscribe), int(protocol.ErrResultNotSub))
		return
	}
	h.ack(int(protocol.MIDMultiSpindleUnsubscribe))
}

// --- I/O ---

func (h *Handlers) handleDeviceStatusRequest(f protocol.Frame) {
	if f.Rev > h.revisions.MaxRev(protocol.MIDDeviceStatus) {
		h.sendError(int(protocol.MIDDeviceStatusRequest), int(protocol.ErrUnsupportedRev))
		return
	}
	if len(f.Data) < 2 {
		h.sendError(int(protocol.MIDDeviceStatusRequest), int(protocol.ErrDeviceUnknown))
		return
	}
	deviceID := string(f.Data[:2])
	dev, ok := h.relays.Device(deviceID)
	if !ok {
		h.sendError(int(protocol.MIDDeviceStatusRequest), int(protocol.ErrDeviceUnknown))
		return
	}
	rev := h.revisions.Negotiate(protocol.MIDDeviceStatus, f.Rev)
	h.emit(protocol.MIDDeviceStatus, rev, false, buildDeviceStatusData(dev, rev))
}

func buildDeviceStatusData(dev relay.Device, rev int) []byte {
	if rev < 2 {
		b := protocol.NewBuilder()
		b.Tag("01")
		b.Str(2, dev.ID)
		b.Tag("02")
		writeFixedSlots(b, dev.Relays, 8)
		b.Tag("03")
		writeFixedSlots(b, dev.DigitalInputs, 8)
		return b.Bytes()
	}
	b := protocol.NewBuilder()
	b.Tag("01")
	b.Str(2, dev.ID)
	b.Tag("02")
	b.Num(2, len(dev.Relays))
	b.Tag("03")
	writeSlots(b, dev.Relays)
	b.Tag("04")
	b.Num(2, len(dev.DigitalInputs))
	b.Tag("05")
	writeSlots(b, dev.DigitalInputs)
	return b.Bytes()
}

func writeFixedSlots(b *protocol.Builder, slots []relay.Slot, count int) {
	for i := 0; i < count; i++ {
		if i < len(slots) {
			b.Num(3, slots[i].Function)
			b.Num(1, slots[i].Status)
		} else {
			b.Num(3, 0)
			b.Num(1, 0)
		}
	}
}

func writeSlots(b *protocol.Builder, slots []relay.Slot) {
	for _, s := range slots {
		b.Num(3, s.Function)
		b.Num(1, s.Status)
	}
}

func (h *Handlers) handleRelaySubscribe(f protocol.Frame) {
	functionID, err := parseFunctionID(f.Data)
	if err != nil {
		h.sendError(int(protocol.MIDRelaySubscribe), int(protocol.ErrUnknownOrParse))
		return
	}
	status, err := h.relays.Subscribe(functionID, f.NoAck)
	if errors.Is(err, relay.ErrAlreadySubscribed) {
		h.sendError(int(protocol.MIDRelaySubscribe), int(protocol.ErrAlreadySubscribed))
		return
	}
	h.ack(int(protocol.MIDRelaySubscribe))
	data := protocol.BuildRevisioned(1, []protocol.FieldSpec{
		{Tag: "01", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(3, functionID) }},
		{Tag: "02", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(1, status) }},
	})
	h.emit(protocol.MIDRelayStatus, 1, f.NoAck, data)
}

func (h *Handlers) handleRelayUnsubscribe(f protocol.Frame) {
	functionID, err := parseFunctionID(f.Data)
	if err != nil {
		h.sendError(int(protocol.MIDRelayUnsubscribe), int(protocol.ErrUnknownOrParse))
		return
	}
	if err := h.relays.Unsubscribe(functionID); errors.Is(err, relay.ErrNotSubscribed) {
		h.sendError(int(protocol.MIDRelayUnsubscribe), int(protocol.ErrNotSubscribed))
		return
	}
	h.ack(int(protocol.MIDRelayUnsubscribe))
}

func parseFunctionID(data []byte) (int, error) {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 0 {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(trimmed)
}
