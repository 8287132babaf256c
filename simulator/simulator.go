// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package simulator generates simulated single-spindle (MID 0061) and
// multi-spindle (MID 0101) tightening results, and runs the periodic
// emitter loop that drives MID 0061 traffic without client input. See
// companion spec §4.6 "Tightening Simulator".
package simulator

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/dustywill/open-protocol-emulator/clog"
	"github.com/dustywill/open-protocol-emulator/controller"
	"github.com/dustywill/open-protocol-emulator/protocol"
	"github.com/dustywill/open-protocol-emulator/pset"
)

// PsetLookup resolves the currently selected Pset's parameters. The
// generator does not own the Pset table; it asks for one, mirroring
// companion spec §1's treatment of Pset persistence as an external
// collaborator.
type PsetLookup interface {
	Lookup(id string) (pset.Pset, bool)
}

// Config tunes the simulated distribution and pacing. Zero-value
// AutoLoopInterval and NumSpindles are filled in by Valid with the
// reference controller's factory defaults (20s, 2 spindles); a zero
// NokProbability is kept as 0 (every draw is OK). DefaultConfig carries
// the factory nok_probability of 0.3. This follows SPEC_FULL.md's
// ambient-stack Config/DefaultConfig/Valid pattern.
type Config struct {
	NokProbability   float64
	AutoLoopInterval time.Duration
	NumSpindles      int
}

// DefaultConfig returns the reference controller's factory defaults.
func DefaultConfig() Config {
	return Config{
		NokProbability:   0.3,
		AutoLoopInterval: 20 * time.Second,
		NumSpindles:      2,
	}
}

// Valid normalizes zero-value AutoLoopInterval and NumSpindles to their
// defaults and rejects an out-of-range nok probability.
func (c *Config) Valid() error {
	if c.NokProbability < 0 || c.NokProbability > 1 {
		return errInvalidNokProbability
	}
	if c.AutoLoopInterval <= 0 {
		c.AutoLoopInterval = 20 * time.Second
	}
	if c.NumSpindles <= 0 {
		c.NumSpindles = 2
	}
	return nil
}

// Generator owns the pieces needed to produce and push one simulated
// result: the shared controller state, the serialized dispatcher, a
// Pset lookup, and its own random source (never math/rand's shared
// global one, so concurrent ad-hoc and periodic emissions don't
// contend on a package-level lock more than necessary).
type Generator struct {
	state      *controller.State
	dispatcher *controller.Dispatcher
	psets      PsetLookup
	cfg        Config
	log        clog.Clog

	mu  sync.Mutex
	rng *rand.Rand

	stop   chan struct{}
	loopWG sync.WaitGroup
}

// NewGenerator returns a Generator. cfg is validated in place.
func NewGenerator(state *controller.State, dispatcher *controller.Dispatcher, psets PsetLookup, cfg Config, log clog.Clog, seed int64) *Generator {
	return &Generator{
		state:      state,
		dispatcher: dispatcher,
		psets:      psets,
		cfg:        cfg,
		log:        log,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// resolvedPset is the effective parameter set for one emission: either
// the selected Pset's values, or the global defaults from
// SPEC_FULL.md "Supplemented behavior" / companion spec §4.6 step 2.
type resolvedPset struct {
	TargetTorque, TorqueMin, TorqueMax float64
	TargetAngle, AngleMin, AngleMax    int
	BatchSize                          int
}

func (g *Generator) resolvePset(id string) resolvedPset {
	if !pset.IsNone(id) {
		if p, ok := g.psets.Lookup(id); ok {
			return resolvedPset{
				TargetTorque: p.TargetTorque, TorqueMin: p.TorqueMin, TorqueMax: p.TorqueMax,
				TargetAngle: p.TargetAngle, AngleMin: p.AngleMin, AngleMax: p.AngleMax,
				BatchSize: p.BatchSize,
			}
		}
	}
	d := pset.Default
	return resolvedPset{
		TargetTorque: d.TargetTorque, TorqueMin: d.TorqueMin, TorqueMax: d.TorqueMax,
		TargetAngle: d.TargetAngle, AngleMin: d.AngleMin, AngleMax: d.AngleMax,
		BatchSize: d.BatchSize,
	}
}

// spindleDraw is one spindle's simulated torque/angle outcome.
type spindleDraw struct {
	ok                  bool
	torqueStatus        int // 0 low, 1 ok, 2 high
	angleStatus         int
	actualTorque        float64
	actualAngle         float64
}

// draw simulates one spindle against p, per companion spec §4.6 step
// 3-4 (also used identically for the multi-spindle generator).
func (g *Generator) draw(p resolvedPset) spindleDraw {
	g.mu.Lock()
	defer g.mu.Unlock()

	isNok := g.rng.Float64() < g.cfg.NokProbability
	d := spindleDraw{
		ok:           !isNok,
		torqueStatus: 1,
		angleStatus:  1,
		actualTorque: uniform(g.rng, p.TorqueMin, p.TorqueMax),
		actualAngle:  uniform(g.rng, float64(p.AngleMin), float64(p.AngleMax)),
	}
	if !isNok {
		return d
	}

	if g.rng.Intn(2) == 0 {
		if g.rng.Intn(2) == 0 {
			d.torqueStatus = 0
			d.actualTorque = uniform(g.rng, p.TorqueMin-5, p.TorqueMin-0.1)
		} else {
			d.torqueStatus = 2
			d.actualTorque = uniform(g.rng, p.TorqueMax+0.1, p.TorqueMax+5)
		}
	} else {
		if g.rng.Intn(2) == 0 {
			d.angleStatus = 0
			d.actualAngle = uniform(g.rng, float64(p.AngleMin-20), float64(p.AngleMin-1))
		} else {
			d.angleStatus = 2
			d.actualAngle = uniform(g.rng, float64(p.AngleMax+1), float64(p.AngleMax+20))
		}
	}
	return d
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

var errInvalidNokProbability = errors.New("simulator: nok probability must be in [0, 1]")
