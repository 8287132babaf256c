package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dustywill/open-protocol-emulator/clog"
	"github.com/dustywill/open-protocol-emulator/protocol"
)

func newSessionForTest(t *testing.T) *Session {
	t.Helper()
	cfg := Config{}
	require.NoError(t, cfg.Valid())
	return NewSession(cfg, nil, clog.NewLogger("test"))
}

func TestHandleConn_RejectsSecondPeerWithError96(t *testing.T) {
	s := newSessionForTest(t)

	client1, srv1 := net.Pipe()
	t.Cleanup(func() { client1.Close(); srv1.Close() })
	s.handleConn(srv1)

	client2, srv2 := net.Pipe()
	t.Cleanup(func() { client2.Close(); srv2.Close() })
	go s.handleConn(srv2)

	frame := readFrame(t, client2)
	assert.Equal(t, int(protocol.MIDCommandError), frame.MID)
	assert.Contains(t, string(frame.Data), "000196")
}

func TestServe_DispatchesStartRequestAndAcks(t *testing.T) {
	s := newSessionForTest(t)

	client, srv := net.Pipe()
	t.Cleanup(func() { client.Close(); srv.Close() })
	s.handleConn(srv)

	frame := protocol.Encode(protocol.Frame{MID: int(protocol.MIDCommunicationStart), Rev: 1})
	go client.Write(frame)

	ack := readFrame(t, client)
	assert.Equal(t, int(protocol.MIDCommunicationStartAck), ack.MID)
}

func TestTeardown_IdempotentAcrossDoubleCall(t *testing.T) {
	s := newSessionForTest(t)

	client, srv := net.Pipe()
	t.Cleanup(func() { srv.Close() })
	s.handleConn(srv)
	client.Close()

	s.teardown()
	assert.NotPanics(t, func() { s.teardown() })
	assert.False(t, s.state.Active())
}

func TestHandleConn_AcceptsNewPeerAfterTeardown(t *testing.T) {
	s := newSessionForTest(t)

	client1, srv1 := net.Pipe()
	s.handleConn(srv1)
	client1.Close()
	s.teardown()

	client2, srv2 := net.Pipe()
	t.Cleanup(func() { client2.Close(); srv2.Close() })
	s.handleConn(srv2)

	frame := protocol.Encode(protocol.Frame{MID: int(protocol.MIDCommunicationStart), Rev: 1})
	go client2.Write(frame)

	ack := readFrame(t, client2)
	assert.Equal(t, int(protocol.MIDCommunicationStartAck), ack.MID)
}
