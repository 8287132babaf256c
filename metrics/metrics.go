// Package metrics holds the process-wide Prometheus collectors shared
// by the server and simulator packages. Splitting it out avoids an
// import cycle (server depends on simulator; both need to increment
// the same counters), mirroring how the reference controller's own
// exporters keep metric registration independent of any one
// component.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// FramesReceived counts inbound frames, labeled by 4-digit MID.
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "otpsimd",
		Name:      "frames_received_total",
		Help:      "Open Protocol frames received, labeled by MID.",
	}, []string{"mid"})

	// FramesSent counts outbound frames, labeled by 4-digit MID,
	// whether sent in response to a request or pushed unsolicited by
	// the simulator's periodic loop.
	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "otpsimd",
		Name:      "frames_sent_total",
		Help:      "Open Protocol frames sent, labeled by MID.",
	}, []string{"mid"})

	// TighteningResults counts simulated tightening outcomes, labeled
	// "ok" or "nok".
	TighteningResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "otpsimd",
		Name:      "tightening_results_total",
		Help:      "Simulated tightening results, labeled by outcome (ok/nok).",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(FramesReceived, FramesSent, TighteningResults)
}
