package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dustywill/open-protocol-emulator/clog"
	"github.com/dustywill/open-protocol-emulator/controller"
	"github.com/dustywill/open-protocol-emulator/protocol"
	"github.com/dustywill/open-protocol-emulator/protocol/revision"
	"github.com/dustywill/open-protocol-emulator/pset"
	"github.com/dustywill/open-protocol-emulator/relay"
)

func newHandlersHarness(t *testing.T) (*Handlers, *controller.State, *relay.Subsystem, net.Conn) {
	t.Helper()
	state := controller.NewState("OpenProtocolSim", 1, 1, controller.Identification{})
	require.NoError(t, state.BeginSession())

	dispatcher := controller.NewDispatcher(clog.NewLogger("test"))
	client, srv := net.Pipe()
	dispatcher.Attach(srv)
	t.Cleanup(func() { client.Close(); srv.Close() })

	revs := revision.NewRegistry()
	relays := relay.NewSubsystem()
	psets := NewPsetTable(nil, clog.NewLogger("test"))
	psets.Set("001", pset.Pset{TargetTorque: 10, TorqueMin: 8, TorqueMax: 12, TargetAngle: 50, AngleMin: 40, AngleMax: 60, BatchSize: 1})

	h := NewHandlers(state, dispatcher, revs, relays, psets, nil, clog.NewLogger("test"))
	return h, state, relays, client
}

func readFrame(t *testing.T, client net.Conn) protocol.Frame {
	t.Helper()
	buf := make([]byte, 4096)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	dec := protocol.NewDecoder()
	dec.Feed(buf[:n])
	f, err := dec.Next()
	require.NoError(t, err)
	return f
}

func dispatchAsync(h *Handlers, f protocol.Frame) {
	go h.Dispatch(f)
}

func TestDispatch_UnknownMidSendsError99(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: 7777, Rev: 1})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "777799")
}

func TestHandleStart_BuildsAckAtNegotiatedRev(t *testing.T) {
	h, state, _, client := newHandlersHarness(t)
	state.EndSession() // the harness starts a session; MID 0001 needs an inactive one
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDCommunicationStart), Rev: 9})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommunicationStartAck), frame.MID)
	assert.Equal(t, 6, frame.Rev) // clamped to controller max
}

func TestHandlePsetSubscribe_DuplicateYieldsError6(t *testing.T) {
	h, state, _, client := newHandlersHarness(t)
	require.NoError(t, state.Subscribe(controller.StreamPset, 1, false))

	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDParameterSetSubscribe), Rev: 1})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "001406")
}

func TestHandlePsetSelect_InvalidIDYieldsError2(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDParameterSetSelect), Data: []byte("999")})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "001802")
}

func TestHandlePsetSelect_ValidIDAcksAndPushesWhenSubscribed(t *testing.T) {
	h, state, _, client := newHandlersHarness(t)
	require.NoError(t, state.Subscribe(controller.StreamPset, 1, false))

	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDParameterSetSelect), Data: []byte("001")})

	ack := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandAccepted), ack.MID)
	push := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDParameterSetSelected), push.MID)
}

func TestHandleVinDownload_AcksAndPushesWhenSubscribed(t *testing.T) {
	h, state, _, client := newHandlersHarness(t)
	require.NoError(t, state.Subscribe(controller.StreamVin, 1, false))

	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDVinUpload), Data: []byte("XYZ7                     ")})

	ack := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandAccepted), ack.MID)
	push := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDVin), push.MID)
}

func TestHandleResultSubscribe_DuplicateYieldsError9(t *testing.T) {
	h, state, _, client := newHandlersHarness(t)
	require.NoError(t, state.Subscribe(controller.StreamResult, 1, false))

	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDResultSubscribe), Rev: 1})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "006009")
}

func TestHandleResultUnsubscribe_NotSubscribedYieldsError10(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDResultUnsubscribe)})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "006310")
}

func TestHandleSetTime_BadLengthYieldsError20(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDSetTime), Data: []byte("short")})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "008220")
}

func TestHandleSetTime_WellFormedAcks(t *testing.T) {
	h, state, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDSetTime), Data: []byte("2024-01-02:03:04:05")})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandAccepted), frame.MID)
	assert.Equal(t, 2024, state.Snapshot().ControllerTime.Year())
}

func TestHandleMultiSpindleSubscribe_OverMaxRevRejectsWithError97(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDMultiSpindleSubscribe), Rev: 99})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "010097")
}

func TestHandleDeviceStatusRequest_OverMaxRevRejectsWithError97(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDDeviceStatusRequest), Rev: 99, Data: []byte("01")})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "021497")
}

func TestHandleDeviceStatusRequest_UnknownDeviceYieldsError1(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDDeviceStatusRequest), Rev: 1, Data: []byte("99")})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "021401")
}

func TestHandleDeviceStatusRequest_KnownDeviceEmitsStatus(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDDeviceStatusRequest), Rev: 1, Data: []byte("01")})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDDeviceStatus), frame.MID)
}

func TestHandleRelaySubscribe_AcksBeforePushingStatus(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDRelaySubscribe), Data: []byte("10")})

	ack := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandAccepted), ack.MID)
	push := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDRelayStatus), push.MID)
}

func TestHandleRelaySubscribe_DuplicateYieldsError6(t *testing.T) {
	h, _, relays, client := newHandlersHarness(t)
	_, err := relays.Subscribe(10, false)
	require.NoError(t, err)

	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDRelaySubscribe), Data: []byte("10")})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "021606")
}

func TestHandleRelayUnsubscribe_NotSubscribedYieldsError7(t *testing.T) {
	h, _, _, client := newHandlersHarness(t)
	dispatchAsync(h, protocol.Frame{MID: int(protocol.MIDRelayUnsubscribe), Data: []byte("42")})

	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "021907")
}
