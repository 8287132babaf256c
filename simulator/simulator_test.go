package simulator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dustywill/open-protocol-emulator/clog"
	"github.com/dustywill/open-protocol-emulator/controller"
	"github.com/dustywill/open-protocol-emulator/protocol"
	"github.com/dustywill/open-protocol-emulator/pset"
)

type fakePsets map[string]pset.Pset

func (f fakePsets) Lookup(id string) (pset.Pset, bool) {
	p, ok := f[id]
	return p, ok
}

func newHarness(t *testing.T, cfg Config) (*Generator, *controller.State, net.Conn) {
	t.Helper()
	state := controller.NewState("OpenProtocolSim", 1, 1, controller.Identification{})
	require.NoError(t, state.BeginSession())

	dispatcher := controller.NewDispatcher(clog.NewLogger("test"))
	client, server := net.Pipe()
	dispatcher.Attach(server)
	t.Cleanup(func() { client.Close(); server.Close() })

	require.NoError(t, cfg.Valid())
	gen := NewGenerator(state, dispatcher, fakePsets{
		"001": {TargetTorque: 10, TorqueMin: 9, TorqueMax: 11, TargetAngle: 50, AngleMin: 40, AngleMax: 60, BatchSize: 2},
	}, cfg, clog.NewLogger("test"), 1)
	return gen, state, client
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

func TestEmitSingle_SilentNoOpWhenNotSubscribed(t *testing.T) {
	gen, _, client := newHarness(t, DefaultConfig())
	done := make(chan struct{})
	go func() {
		gen.EmitSingle()
		close(done)
	}()
	<-done
	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 16)
	_, err := client.Read(buf)
	assert.Error(t, err) // nothing was sent
}

func TestEmitSingle_AllOkWithZeroNokProbability(t *testing.T) {
	gen, state, client := newHarness(t, Config{NokProbability: 0, AutoLoopInterval: time.Second, NumSpindles: 1})
	require.NoError(t, state.Subscribe(controller.StreamResult, 1, false))
	require.NoError(t, state.SelectPset("001", time.Now(), func(string) bool { return true }, pset.IsNone))

	go gen.EmitSingle()
	frame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDResult), frame.MID)
}

func TestBatchCompletion_IncrementsVIN(t *testing.T) {
	gen, state, client := newHarness(t, Config{NokProbability: 0, AutoLoopInterval: time.Second, NumSpindles: 1})
	require.NoError(t, state.Subscribe(controller.StreamResult, 1, false))
	require.NoError(t, state.Subscribe(controller.StreamVin, 1, false))
	require.NoError(t, state.SelectPset("001", time.Now(), func(string) bool { return true }, pset.IsNone))

	startVin := state.VIN()

	go func() {
		gen.EmitSingle() // batch 1/2
		gen.EmitSingle() // batch 2/2, completes; pushes VIN
	}()
	readFrame(t, client)
	readFrame(t, client)
	vinFrame := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDVin), vinFrame.MID)

	assert.NotEqual(t, startVin.Raw, state.VIN().Raw)
	assert.Equal(t, 0, state.Snapshot().BatchCounter)
}
