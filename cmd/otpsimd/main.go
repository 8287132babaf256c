// Command otpsimd runs a single Open Protocol tightening-tool
// controller emulator: one TCP listener serving at most one client
// session at a time, plus an optional Prometheus /metrics endpoint.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/dustywill/open-protocol-emulator/clog"
	"github.com/dustywill/open-protocol-emulator/pset"
	"github.com/dustywill/open-protocol-emulator/server"
)

func main() {
	var (
		port             = pflag.IntP("port", "p", 4545, "TCP port to listen on")
		metricsPort      = pflag.Int("metrics-port", 0, "Prometheus /metrics port (0 disables it)")
		name             = pflag.StringP("name", "n", "OpenProtocolSim", "controller name, padded/truncated to 25 chars")
		cellID           = pflag.Int("cell-id", 1, "cell id reported in MID 0002")
		channelID        = pflag.Int("channel-id", 1, "channel id reported in MID 0002")
		nokProbability   = pflag.Float64("nok-probability", 0.3, "probability a simulated tightening is NOK, in [0,1]")
		autoLoopInterval = pflag.Duration("auto-loop-interval", 20*time.Second, "interval between unsolicited single-spindle results")
		numSpindles      = pflag.Int("num-spindles", 2, "spindle count for simulated multi-spindle results")
		psetStorePath    = pflag.String("pset-store", "", "path to the JSON Pset table (empty disables persistence)")
		help             = pflag.BoolP("help", "h", false, "display help text")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: otpsimd [flags]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	cfg := server.Config{
		Port:             *port,
		MetricsPort:      *metricsPort,
		ControllerName:   *name,
		CellID:           *cellID,
		ChannelID:        *channelID,
		AutoLoopInterval: *autoLoopInterval,
		NokProbability:   *nokProbability,
		NumSpindles:      *numSpindles,
		PsetStorePath:    *psetStorePath,
	}
	if err := cfg.Valid(); err != nil {
		fmt.Fprintf(os.Stderr, "otpsimd: %v\n", err)
		os.Exit(1)
	}

	log := clog.NewLogger("otpsimd")

	var store pset.Store
	if cfg.PsetStorePath != "" {
		store = pset.JSONFileStore{Path: cfg.PsetStorePath}
	}

	if cfg.MetricsPort != 0 {
		startMetricsServer(cfg.MetricsPort, log)
	}

	sess := server.NewSession(cfg, store, log)
	if err := sess.Listen(); err != nil {
		log.Critical("otpsimd: listener exited: %v", err)
		os.Exit(1)
	}
}

// startMetricsServer exposes the default Prometheus registry (process
// and Go runtime collectors, registered automatically by the
// promhttp/client_golang init) on its own small listener, decoupled
// from the Open Protocol socket so a metrics scrape can never block or
// be blocked by tightening-result traffic.
func startMetricsServer(port int, log clog.Clog) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	addr := ":" + strconv.Itoa(port)
	go func() {
		log.Info("metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server exited: %v", err)
		}
	}()
}
