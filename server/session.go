// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package server

import (
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/rs/xid"

	"github.com/dustywill/open-protocol-emulator/clog"
	"github.com/dustywill/open-protocol-emulator/controller"
	"github.com/dustywill/open-protocol-emulator/protocol"
	"github.com/dustywill/open-protocol-emulator/protocol/revision"
	"github.com/dustywill/open-protocol-emulator/pset"
	"github.com/dustywill/open-protocol-emulator/relay"
	"github.com/dustywill/open-protocol-emulator/simulator"
)

// readBufSize is one socket read's buffer size. Open Protocol frames
// are small (a few hundred bytes at most); this comfortably holds
// several back-to-back frames per read without needing to grow.
const readBufSize = 4096

// Session is the single-listener, at-most-one-active-connection TCP
// controller (companion spec §4.8 "Session Controller"). It owns every
// collaborator a connection's handler table needs and serializes
// accepting a second peer while one is already active.
type Session struct {
	cfg Config
	log clog.Clog

	state      *controller.State
	dispatcher *controller.Dispatcher
	revisions  *revision.Registry
	relays     *relay.Subsystem
	psets      *PsetTable
	sim        *simulator.Generator
	handlers   *Handlers

	mu     sync.Mutex
	active bool
	conn   net.Conn
}

// NewSession wires State, Dispatcher, the revision Registry, the relay
// Subsystem, the Pset table and the tightening-result Generator behind
// one Handlers dispatch table, exactly as companion spec §4 lays out
// the component graph: C1 codec, C2 revision registry, C3 controller
// state, C4 dispatcher, C5 handlers, C6 simulator, C7 relay, C8
// session.
func NewSession(cfg Config, psetStore pset.Store, log clog.Clog) *Session {
	ident := controller.Identification{
		SupplierCode:     "OPE",
		SoftwareVersion1: "1.0.0",
		SoftwareVersion2: "1.0.0",
		SoftwareVersion3: "1.0.0",
		SystemType:       "PF6000",
		StationID:        "01",
		StationName:      "STATION01",
		ControllerType:   1,
		ToolInterface:    1,
	}
	state := controller.NewState(cfg.ControllerName, cfg.CellID, cfg.ChannelID, ident)
	dispatcher := controller.NewDispatcher(log)
	revisions := revision.NewRegistry()
	relays := relay.NewSubsystem()
	psets := NewPsetTable(psetStore, log)

	simCfg := simulator.Config{
		NokProbability:   cfg.NokProbability,
		AutoLoopInterval: cfg.AutoLoopInterval,
		NumSpindles:      cfg.NumSpindles,
	}
	sim := simulator.NewGenerator(state, dispatcher, psets, simCfg, log, 1)

	s := &Session{
		cfg:        cfg,
		log:        log,
		state:      state,
		dispatcher: dispatcher,
		revisions:  revisions,
		relays:     relays,
		psets:      psets,
		sim:        sim,
	}

	h := NewHandlers(state, dispatcher, revisions, relays, psets, sim, log)
	h.onSessionStart = func() { sim.StartLoop(state.Active) }
	h.onSessionEnd = func() { sim.StopLoop() }
	s.handlers = h

	relays.SetPushHandler(func(functionID, status int, noAck bool) {
		data := protocol.BuildRevisioned(1, []protocol.FieldSpec{
			{Tag: "01", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(3, functionID) }},
			{Tag: "02", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(1, status) }},
		})
		frame := protocol.Encode(protocol.Frame{MID: int(protocol.MIDRelayStatus), Rev: 1, NoAck: noAck, Data: data})
		if err := dispatcher.Send(frame); err != nil {
			log.Error("relay push failed: %v", err)
		}
	})

	dispatcher.OnError(func(err error) {
		s.teardown()
	})

	return s
}

// Listen binds cfg.Port and runs the accept loop until the listener
// errors or ctx-free caller-driven shutdown (there is no ctx
// parameter: the reference controller runs until killed, matching
// companion spec §1's process-lifetime scope).
func (s *Session) Listen() error {
	ln, err := net.Listen("tcp", addrForPort(s.cfg.Port))
	if err != nil {
		return err
	}
	defer ln.Close()
	s.log.Info("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.handleConn(conn)
	}
}

func addrForPort(port int) string {
	return ":" + strconv.Itoa(port)
}

// handleConn enforces at-most-one-active-session: a second concurrent
// peer is rejected with MID 0004 error 96 and its socket is closed
// immediately, per companion spec §4.8. The accepted peer is served
// synchronously in its own goroutine.
func (s *Session) handleConn(conn net.Conn) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		s.log.Warn("rejecting second peer %s: session already active", conn.RemoteAddr())
		rejectSecondPeer(conn)
		conn.Close()
		return
	}
	s.active = true
	s.conn = conn
	s.mu.Unlock()

	connID := xid.New().String()
	s.log.Info("accepted peer %s [%s]", conn.RemoteAddr(), connID)
	s.dispatcher.Attach(conn)
	go s.serve(conn, connID)
}

// rejectSecondPeer writes a standalone MID 0004 (failing MID 0001,
// code 96) without going through Handlers, since no Session is
// active for this peer to join.
func rejectSecondPeer(conn net.Conn) {
	data := protocol.BuildRevisioned(1, []protocol.FieldSpec{
		{MinRev: 1, Write: func(b *protocol.Builder) {
			b.Num(4, int(protocol.MIDCommunicationStart))
			b.Num(2, int(protocol.ErrAlreadyConnected))
		}},
	})
	frame := protocol.Encode(protocol.Frame{MID: int(protocol.MIDCommandError), Rev: 1, Data: data})
	_, _ = conn.Write(frame)
}

// serve runs one peer's read/dispatch loop until a read fails: EOF, or
// the socket being closed (by MID 0003 or by teardown after a write
// failure reported via dispatcher.OnError). Decode errors are handled
// inside drain and do not end the loop. Frames are dispatched one at a
// time, in the
// order they were received, per companion spec §5 "dispatch order".
func (s *Session) serve(conn net.Conn, connID string) {
	defer s.teardown()

	dec := protocol.NewDecoder()
	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			s.drain(dec)
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug("session [%s]: read loop ending: %v", connID, err)
			}
			return
		}
	}
}

// drain dispatches every complete frame currently buffered.
// ErrTruncated means "wait for more bytes" and is not an error worth
// logging; every other decode error is logged and, per the decoder's
// own resynchronization contract, either discards the rest of the
// buffer (ErrMalformedLength) or just the offending frame.
func (s *Session) drain(dec *protocol.Decoder) {
	for {
		f, err := dec.Next()
		if err != nil {
			if !errors.Is(err, protocol.ErrTruncated) {
				s.log.Warn("session: decode error: %v", err)
			}
			return
		}
		s.handlers.Dispatch(f)
	}
}

// teardown runs once per connection lifecycle (idempotent against
// being called from both the read loop's defer and a dispatcher
// write-error callback): it ends the session, resets subscriptions
// and relay state, detaches the dispatcher, and clears the active
// flag so the next peer can be accepted.
func (s *Session) teardown() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.sim.StopLoop()
	s.state.EndSession()
	s.relays.Reset()
	s.dispatcher.Detach()
	if conn != nil {
		conn.Close()
	}
}
