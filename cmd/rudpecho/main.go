// Command rudpecho is a two-role sample harness over the rudp engine:
// it listens for datagrams on --listen, echoes every delivered payload
// back to whichever peer sent it, and optionally dials --dial on
// startup to exercise the client side of the handshake. Adapted from
// the teacher's core/main.go banner/config/graceful-shutdown shape,
// generalized from an SA-MP server bootstrap to a transport-level
// harness.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/packetflow/rudp/config"
	"github.com/packetflow/rudp/engine"
	"github.com/packetflow/rudp/event"
	"github.com/packetflow/rudp/rudplog"
	"github.com/packetflow/rudp/rudpmetrics"
	"github.com/packetflow/rudp/socket"
)

const version = "1.0.0"

func main() {
	listen := flag.String("listen", "0.0.0.0:7777", "address to bind the RUDP socket on")
	configPath := flag.String("config", "", "optional YAML file overriding the default tunables")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	dial := flag.String("dial", "", "optional remote addr:port to dial and send a greeting to on startup")
	flag.Parse()

	rudplog.Banner("rudpecho", version)
	rudplog.Infof("starting, listen=%s", *listen)

	cfg, err := config.Load(*configPath)
	if err != nil {
		rudplog.Fatalf("loading config: %v", err)
	}

	reg := prometheus.NewRegistry()
	counters := rudpmetrics.NewCounters(reg, "rudpecho")

	var eng *engine.Engine
	sink := func(e event.Event) {
		rudplog.Event(e)
		switch e.Kind {
		case event.GotData:
			counters.PacketsReceived.Inc()
			echoBack(eng, e)
		case event.GotAck:
			counters.PacketsReceived.Inc()
			if e.HasRTT {
				counters.RTTMicros.Observe(float64(e.RTTSampleUS))
			}
		case event.GotAckPing:
			counters.PacketsReceived.Inc()
		case event.SendReset:
			counters.ResetsInitiated.Inc()
		case event.GotReset:
			counters.ResetsReceived.Inc()
		case event.Connected:
			counters.ChannelsConnected.Inc()
		case event.Disconnected:
			counters.ChannelsDisconnected.Inc()
		}
	}

	eng = engine.New(cfg, nowMicros, sink)
	rudplog.WithEngine(eng.ID).Infof("engine initialized")
	reg.MustRegister(rudpmetrics.NewChannelCollector(eng.Channels(), "rudpecho"))

	sock, err := socket.New(*listen, eng, 20*time.Millisecond, 1*time.Second)
	if err != nil {
		rudplog.Fatalf("binding socket: %v", err)
	}
	rudplog.Successf("listening on %s", sock.LocalAddr())

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *dial != "" {
		dialPeer(eng, *dial)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sock.Run(ctx, nowMicros)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			rudplog.Errorf("socket run: %v", err)
		}
	case sig := <-sigCh:
		rudplog.Warnf("received signal %v, shutting down", sig)
		cancel()
		sock.Close()
	}
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}

// echoBack sends e's payload back out on the channel it arrived on. The
// actual bytes reach the wire on the next ProcessSendQueues tick.
func echoBack(eng *engine.Engine, e event.Event) {
	ch, err := eng.NewChannel(e.Channel.Addr, e.Channel.Port, e.Channel.Channel)
	if err != nil {
		rudplog.Debugf("echo: %v", err)
		return
	}
	buf, err := ch.SendData(e.Payload)
	if err != nil {
		rudplog.Debugf("echo send: %v", err)
		return
	}
	ch.QueueWrite(buf)
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	rudplog.Infof("serving metrics on http://%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		rudplog.Errorf("metrics server: %v", err)
	}
}

func dialPeer(eng *engine.Engine, addr string) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		rudplog.Errorf("invalid --dial %q: %v", addr, err)
		return
	}
	ch, err := eng.NewChannel(host, port, 0)
	if err != nil {
		rudplog.Errorf("dialing %q: %v", addr, err)
		return
	}
	if _, err := ch.SendData([]byte("hello from rudpecho")); err != nil {
		rudplog.Errorf("greeting %q: %v", addr, err)
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port %q: %w", portStr, err)
	}
	return host, port, nil
}
