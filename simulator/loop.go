// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package simulator

import (
	"time"

	"github.com/dustywill/open-protocol-emulator/controller"
)

// StartLoop spawns the periodic single-spindle emitter for one
// session: it waits AutoLoopInterval, decomposed into 1-second ticks
// so ending the session is observed promptly (companion spec §4.6
// "Periodic loop", §5 cancellation, §9 design note — the decomposition
// is a cancellation hook, not a functional requirement), then emits one
// result if the session is still active, result-subscribed, and the
// auto-loop flag is set. The loop exits once isActive reports false.
// Call StopLoop to cancel before that happens (e.g. session end racing
// the wait).
func (g *Generator) StartLoop(isActive func() bool) {
	g.stop = make(chan struct{})
	g.loopWG.Add(1)
	go g.runLoop(isActive)
}

// StopLoop cancels a running loop and waits for it to exit.
func (g *Generator) StopLoop() {
	if g.stop == nil {
		return
	}
	close(g.stop)
	g.loopWG.Wait()
	g.stop = nil
}

func (g *Generator) runLoop(isActive func() bool) {
	defer g.loopWG.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	elapsed := time.Duration(0)
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			if !isActive() {
				g.log.Debug("simulator: periodic loop exiting, session inactive")
				return
			}
			elapsed += time.Second
			if elapsed < g.cfg.AutoLoopInterval {
				continue
			}
			elapsed = 0
			snap := g.state.Snapshot()
			sub := g.state.Subscription(controller.StreamResult)
			if snap.Active && sub.Active && snap.AutoLoopEnabled {
				g.EmitSingle()
			}
		}
	}
}
