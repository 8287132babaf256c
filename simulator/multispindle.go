// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package simulator

import (
	"fmt"
	"time"

	"github.com/dustywill/open-protocol-emulator/controller"
	"github.com/dustywill/open-protocol-emulator/metrics"
	"github.com/dustywill/open-protocol-emulator/protocol"
)

// EmitMultiSpindle generates and pushes one MID 0101 multi-spindle
// result: N independent spindle draws, overall status = AND of
// per-spindle OKs. Same preconditions as EmitSingle, against the
// multi-spindle subscription. See companion spec §4.6.
func (g *Generator) EmitMultiSpindle() {
	snap := g.state.Snapshot()
	sub := g.state.Subscription(controller.StreamMultiSpindle)
	if !snap.Active || !sub.Active || !snap.ToolEnabled {
		g.log.Debug("simulator: multi-spindle emission skipped (active=%v subscribed=%v tool=%v)",
			snap.Active, sub.Active, snap.ToolEnabled)
		return
	}

	p := g.resolvePset(snap.CurrentPset)
	now := time.Now()
	changedAt := snap.PsetChangedAt
	if changedAt.IsZero() {
		changedAt = now
	}

	draws := make([]spindleDraw, g.cfg.NumSpindles)
	allOK := true
	for i := range draws {
		draws[i] = g.draw(p)
		if !draws[i].ok {
			allOK = false
		}
	}

	psetID := snap.CurrentPset
	if psetID == "" {
		psetID = "0"
	}
	overall := 0
	if allOK {
		overall = 1
	}

	data := buildMultiSpindleData(multiSpindleFields{
		NumSpindles:    len(draws),
		VIN:            snap.VIN.Raw,
		PsetID:         psetID,
		BatchSize:      p.BatchSize,
		BatchCounter:   snap.BatchCounter,
		TorqueMin:      p.TorqueMin,
		TorqueMax:      p.TorqueMax,
		TorqueTarget:   p.TargetTorque,
		AngleMin:       p.AngleMin,
		AngleMax:       p.AngleMax,
		AngleTarget:    p.TargetAngle,
		Timestamp:      now.Format(timeLayout),
		PsetChangeTime: changedAt.Format(timeLayout),
		OverallOK:      overall,
		Spindles:       draws,
	}, sub.Rev)

	frame := protocol.Encode(protocol.Frame{
		MID:   int(protocol.MIDMultiSpindleResult),
		Rev:   sub.Rev,
		NoAck: sub.NoAck,
		Data:  data,
	})
	if err := g.dispatcher.Send(frame); err != nil {
		return
	}
	metrics.FramesSent.WithLabelValues(fmt.Sprintf("%04d", int(protocol.MIDMultiSpindleResult))).Inc()
	outcome := "nok"
	if allOK {
		outcome = "ok"
	}
	metrics.TighteningResults.WithLabelValues(outcome).Inc()
	g.log.Info("multi-spindle result sent: spindles=%d overall_ok=%v", len(draws), allOK)
}

type multiSpindleFields struct {
	NumSpindles                     int
	VIN, PsetID                     string
	BatchSize, BatchCounter         int
	TorqueMin, TorqueMax            float64
	TorqueTarget                    float64
	AngleMin, AngleMax, AngleTarget int
	Timestamp, PsetChangeTime       string
	OverallOK                       int
	Spindles                        []spindleDraw
}

// buildMultiSpindleData renders the MID 0101 payload per companion
// spec §6: a header of 16 numbered fields, overall status, a
// per-spindle block, then rev-tiered extensions (sync count at rev 4,
// an extra N(5) field at rev 5).
func buildMultiSpindleData(f multiSpindleFields, rev int) []byte {
	return protocol.BuildRevisioned(rev, []protocol.FieldSpec{
		{Tag: "01", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(2, f.NumSpindles) }},
		{Tag: "02", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(25, f.VIN) }},
		{Tag: "03", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(2, 0) }},
		{Tag: "04", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(3, f.PsetID) }},
		{Tag: "05", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(4, f.BatchSize) }},
		{Tag: "06", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(4, f.BatchCounter) }},
		{Tag: "07", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(1, 0) }},
		{Tag: "08", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(6, centi(f.TorqueMin)) }},
		{Tag: "09", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(6, centi(f.TorqueMax)) }},
		{Tag: "10", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(6, centi(f.TorqueTarget)) }},
		{Tag: "11", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(5, f.AngleMin) }},
		{Tag: "12", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(5, f.AngleMax) }},
		{Tag: "13", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(5, f.AngleTarget) }},
		{Tag: "14", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(19, f.PsetChangeTime) }},
		{Tag: "15", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(19, f.Timestamp) }},
		{Tag: "16", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(5, 1) }},
		{Tag: "17", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(1, f.OverallOK) }},
		{Tag: "18", MinRev: 1, Write: func(b *protocol.Builder) { writeSpindleBlock(b, f.Spindles) }},
		{Tag: "19", MinRev: 4, Write: func(b *protocol.Builder) { b.Str(3, "001") }},
		{Tag: "20", MinRev: 5, Write: func(b *protocol.Builder) { b.Num(5, 0) }},
	})
}

func writeSpindleBlock(b *protocol.Builder, spindles []spindleDraw) {
	for i, s := range spindles {
		status := 0
		if s.ok {
			status = 1
		}
		b.Num(2, i+1)
		b.Num(2, i+1)
		b.Num(1, status)
		b.Num(1, s.torqueStatus)
		b.Num(6, centi(s.actualTorque))
		b.Num(1, s.angleStatus)
		b.Num(5, int(s.actualAngle))
	}
}
