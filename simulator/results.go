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

const timeLayout = "2006-01-02:15:04:05"

// EmitSingle generates and pushes one MID 0061 tightening result.
// Preconditions (session active, result-subscribed, tool enabled) are
// checked first; an unmet precondition is a silent no-op, logged at
// debug level, per companion spec §4.6/§7/§9.
func (g *Generator) EmitSingle() {
	snap := g.state.Snapshot()
	sub := g.state.Subscription(controller.StreamResult)
	if !snap.Active || !sub.Active || !snap.ToolEnabled {
		g.log.Debug("simulator: single-spindle emission skipped (active=%v subscribed=%v tool=%v)",
			snap.Active, sub.Active, snap.ToolEnabled)
		return
	}

	id := g.state.NextTighteningID()
	p := g.resolvePset(snap.CurrentPset)
	d := g.draw(p)

	batchCounter, batchTarget, complete := g.state.NoteTighteningOutcome(d.ok, p.BatchSize)

	now := time.Now()
	changedAt := snap.PsetChangedAt
	if changedAt.IsZero() {
		changedAt = now
	}

	status := 0
	if d.ok {
		status = 1
	}
	batchStatus := 0
	if complete {
		batchStatus = 1
	}
	psetID := snap.CurrentPset
	if psetID == "" {
		psetID = "0"
	}

	data := buildResultData(resultFields{
		CellID:          snap.CellID,
		ChannelID:       snap.ChannelID,
		ControllerName:  snap.ControllerName,
		VIN:             snap.VIN.Raw,
		JobID:           snap.JobID,
		PsetID:          psetID,
		BatchSize:       batchTarget,
		BatchCounter:    batchCounter,
		Status:          status,
		TorqueStatus:    d.torqueStatus,
		AngleStatus:     d.angleStatus,
		TorqueMin:       p.TorqueMin,
		TorqueMax:       p.TorqueMax,
		TorqueTarget:    p.TargetTorque,
		TorqueFinal:     d.actualTorque,
		AngleMin:        p.AngleMin,
		AngleMax:        p.AngleMax,
		AngleTarget:     p.TargetAngle,
		AngleFinal:      int(d.actualAngle),
		Timestamp:       now.Format(timeLayout),
		PsetChangeTime:  changedAt.Format(timeLayout),
		BatchStatus:     batchStatus,
		TighteningID:    id,
	}, sub.Rev)

	frame := protocol.Encode(protocol.Frame{
		MID:   int(protocol.MIDResult),
		Rev:   sub.Rev,
		NoAck: sub.NoAck,
		Data:  data,
	})
	if err := g.dispatcher.Send(frame); err != nil {
		return
	}
	metrics.FramesSent.WithLabelValues(fmt.Sprintf("%04d", int(protocol.MIDResult))).Inc()
	outcome := "nok"
	if d.ok {
		outcome = "ok"
	}
	metrics.TighteningResults.WithLabelValues(outcome).Inc()
	g.log.Info("tightening result sent: id=%d status=%d batch=%d/%d", id, status, batchCounter, batchTarget)

	if complete {
		g.pushVinOnBatchComplete()
	}
}

func (g *Generator) pushVinOnBatchComplete() {
	newVin := g.state.IncrementVIN()
	sub := g.state.Subscription(controller.StreamVin)
	if !sub.Active {
		return
	}
	data := buildVinData(newVin.Raw, sub.Rev)
	frame := protocol.Encode(protocol.Frame{
		MID:   int(protocol.MIDVin),
		Rev:   sub.Rev,
		NoAck: sub.NoAck,
		Data:  data,
	})
	if err := g.dispatcher.Send(frame); err == nil {
		metrics.FramesSent.WithLabelValues(fmt.Sprintf("%04d", int(protocol.MIDVin))).Inc()
	}
}

// buildVinData renders the MID 0052 payload at rev for the
// batch-completion VIN push. The server package's VIN-subscribe and
// VIN-download handlers build the same layout with their own helper.
func buildVinData(vin string, rev int) []byte {
	return protocol.BuildRevisioned(rev, []protocol.FieldSpec{
		{MinRev: 1, Write: func(b *protocol.Builder) { b.Str(25, vin) }},
		{Tag: "01", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(25, vin) }},
		{Tag: "02", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(25, "") }},
		{Tag: "03", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(25, "") }},
		{Tag: "04", MinRev: 2, Write: func(b *protocol.Builder) { b.Str(25, "") }},
	})
}

type resultFields struct {
	CellID, ChannelID                      int
	ControllerName, VIN                    string
	JobID                                  int
	PsetID                                 string
	BatchSize, BatchCounter                int
	Status, TorqueStatus, AngleStatus      int
	TorqueMin, TorqueMax, TorqueTarget      float64
	TorqueFinal                            float64
	AngleMin, AngleMax, AngleTarget         int
	AngleFinal                             int
	Timestamp, PsetChangeTime               string
	BatchStatus                            int
	TighteningID                           uint64
}

// buildResultData renders the MID 0061 payload per companion spec §6:
// 23 mandatory fields tagged 01-23 at every revision, plus rev-tiered
// extensions (strategy code at rev 3, strategy options at rev 4, a
// second error-status field at rev 5, stage-result count at rev 6).
func buildResultData(f resultFields, rev int) []byte {
	return protocol.BuildRevisioned(rev, []protocol.FieldSpec{
		{Tag: "01", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(4, f.CellID) }},
		{Tag: "02", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(2, f.ChannelID) }},
		{Tag: "03", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(25, f.ControllerName) }},
		{Tag: "04", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(25, f.VIN) }},
		{Tag: "05", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(2, f.JobID) }},
		{Tag: "06", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(3, f.PsetID) }},
		{Tag: "07", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(4, f.BatchSize) }},
		{Tag: "08", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(4, f.BatchCounter) }},
		{Tag: "09", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(1, f.Status) }},
		{Tag: "10", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(1, f.TorqueStatus) }},
		{Tag: "11", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(1, f.AngleStatus) }},
		{Tag: "12", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(6, centi(f.TorqueMin)) }},
		{Tag: "13", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(6, centi(f.TorqueMax)) }},
		{Tag: "14", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(6, centi(f.TorqueTarget)) }},
		{Tag: "15", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(6, centi(f.TorqueFinal)) }},
		{Tag: "16", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(5, f.AngleMin) }},
		{Tag: "17", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(5, f.AngleMax) }},
		{Tag: "18", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(5, f.AngleTarget) }},
		{Tag: "19", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(5, f.AngleFinal) }},
		{Tag: "20", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(19, f.Timestamp) }},
		{Tag: "21", MinRev: 1, Write: func(b *protocol.Builder) { b.Str(19, f.PsetChangeTime) }},
		{Tag: "22", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(1, f.BatchStatus) }},
		{Tag: "23", MinRev: 1, Write: func(b *protocol.Builder) { b.Num(10, int(f.TighteningID)) }},
		{Tag: "24", MinRev: 3, Write: func(b *protocol.Builder) { b.Num(4, 0) }},
		{Tag: "25", MinRev: 4, Write: func(b *protocol.Builder) { b.Str(5, "00000") }},
		{Tag: "26", MinRev: 5, Write: func(b *protocol.Builder) { b.Num(10, 0) }},
		{Tag: "27", MinRev: 6, Write: func(b *protocol.Builder) { b.Num(2, 0) }},
	})
}

// centi renders a 2-decimal Nm value as hundredths, matching §6's
// "N(6) encoded as hundredths of Nm".
func centi(v float64) int {
	return int(v*100 + 0.5)
}
