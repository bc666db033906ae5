// Command helper is the foreign-ABI side of the proxy: the process the
// client/host spawns, that opens its half of the transport, hosts one
// plugin instance, and runs the control and audio dispatch loops until
// Terminate arrives or the watchdog trips (§4.5, §4.6).
//
// The real adapter that would load an actual hosted CLAP/VST binary by
// its on-disk path is out of scope; this binary hosts
// internal/demoplugin instead, so the rest of the proxy has a concrete,
// runnable peer to exercise end-to-end.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/gainstage/rplugin/internal/config"
	"github.com/gainstage/rplugin/internal/demoplugin"
	"github.com/gainstage/rplugin/internal/metrics"
	"github.com/gainstage/rplugin/internal/rlog"
	"github.com/gainstage/rplugin/pkg/lifecycle"
	"github.com/gainstage/rplugin/pkg/server"
	"github.com/gainstage/rplugin/pkg/transport"
)

func main() {
	var (
		showGUI     = pflag.BoolP("gui", "g", false, "Show the plugin's editor on startup.")
		configPath  = pflag.StringP("config", "c", "", "Path to a tunables YAML file.")
		metricsAddr = pflag.StringP("metrics-addr", "m", "", "Address to serve /metrics on, e.g. :2112. Empty disables metrics.")
		help        = pflag.Bool("help", false, "Display help text.")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] '{pluginName},{transportId}'\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "exactly one positional argument required, got %d\n", pflag.NArg())
		pflag.Usage()
		os.Exit(2)
	}

	pluginName, names, err := lifecycle.ParseHelperArg(pflag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "helper: %v\n", err)
		os.Exit(2)
	}
	_ = showGUI // demoplugin draws no GUI; the flag is accepted and ignored, for parity with §4.6's invocation grammar.

	tunables, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "helper: %v\n", err)
		os.Exit(2)
	}

	log := rlog.New(fmt.Sprintf("helper[%s]", pluginName))

	reg, promReg := newMetrics(pluginName)
	if *metricsAddr != "" {
		serveMetrics(*metricsAddr, promReg, log)
	}

	t, err := transport.OpenPeer(names, tunables.RingCapacity, lifecycle.InitialAudioRegionSize, tunables.StartupTimeout, true)
	if err != nil {
		log.Fatalf("helper: opening transport: %v", err)
	}

	plugin := demoplugin.New()
	srv, err := server.New(plugin, plugin.ParamInfos(), t, tunables, log, reg)
	if err != nil {
		writeReadiness(t, false, log)
		log.Fatalf("helper: constructing server: %v", err)
	}

	writeReadiness(t, true, log)
	log.Infof("helper: ready, hosting %s", plugin.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Watchdog(ctx)

	go func() {
		for !srv.IsExiting() {
			if _, err := srv.DispatchControl(tunables.SemaphoreTimeout); err != nil {
				log.Warnf("helper: control dispatch: %v", err)
			}
		}
	}()

	for !srv.IsExiting() {
		srv.DispatchProcess(tunables.SemaphoreTimeout)
	}

	cancel()
	log.Infof("helper: exiting")
}

// writeReadiness completes the §6 handshake by writing the single
// readiness byte the spawning side blocks on in syncStartup.
func writeReadiness(t *transport.Transport, ok bool, log *rlog.Logger) {
	var b byte
	if ok {
		b = 1
	}
	if err := t.Pipes.WriteN([]byte{b}); err != nil {
		log.Errorf("helper: writing readiness byte: %v", err)
	}
}

func newMetrics(pluginName string) (*metrics.Registry, *prometheus.Registry) {
	promReg := prometheus.NewRegistry()
	reg := metrics.New(prometheus.Labels{"plugin": pluginName})
	reg.MustRegister(promReg)
	return reg, promReg
}

func serveMetrics(addr string, promReg *prometheus.Registry, log *rlog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("helper: metrics server: %v", err)
		}
	}()
}
