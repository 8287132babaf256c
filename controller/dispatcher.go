// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package controller

import (
	"errors"
	"net"
	"sync"

	"github.com/dustywill/open-protocol-emulator/clog"
)

// ErrNotConnected is returned by Send when no connection is attached.
var ErrNotConnected = errors.New("controller: dispatcher not connected")

// Dispatcher is the single serialized writer to the active client
// socket (companion spec §4.4 "Event Dispatcher"). It holds one write
// mutex, separate from State's mutex: callers must compute a response
// under State's lock, release it, and only then call Send — never the
// reverse — to satisfy the "state -> release -> write" ordering
// companion spec §5 mandates.
type Dispatcher struct {
	mu   sync.Mutex
	conn net.Conn
	log  clog.Clog

	onError func(error)
}

// NewDispatcher returns an unattached Dispatcher.
func NewDispatcher(log clog.Clog) *Dispatcher {
	return &Dispatcher{log: log}
}

// OnError registers the callback invoked (outside the write lock) when
// a send fails. The session controller uses this to mark the session
// inactive, reset subscriptions and close the socket, per companion
// spec §4.4.
func (d *Dispatcher) OnError(f func(error)) {
	d.mu.Lock()
	d.onError = f
	d.mu.Unlock()
}

// Attach binds conn as the active client socket.
func (d *Dispatcher) Attach(conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = conn
}

// Detach clears the active connection without closing it (the caller
// owns the close).
func (d *Dispatcher) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = nil
}

// Send writes one already-encoded frame as a single call, holding the
// write lock across the conn.Write itself (not just the conn lookup)
// so two concurrent emitters — the periodic single-spindle loop and an
// ad-hoc relay or VIN push, say — serialize against each other with no
// interleaving at the byte level, per companion spec §4.4/§5. A write
// error detaches the connection and invokes the registered error
// handler outside the lock, since that handler may call back into
// Detach/Close.
func (d *Dispatcher) Send(frame []byte) error {
	d.mu.Lock()
	if d.conn == nil {
		d.mu.Unlock()
		return ErrNotConnected
	}

	_, err := d.conn.Write(frame)
	if err != nil {
		d.conn = nil
		onError := d.onError
		d.mu.Unlock()
		d.log.Error("dispatcher: write failed: %v", err)
		if onError != nil {
			onError(err)
		}
		return err
	}
	d.mu.Unlock()
	return nil
}

// Connected reports whether a connection is currently attached.
func (d *Dispatcher) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Close closes the attached connection, if any, and detaches it. Used
// by the MID 0003 stop handler and the session controller's
// disconnect path, where the dispatcher (not the accept loop) is the
// one holding the live net.Conn at the point the socket must close.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
