package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Clouded-Sabre/netconn/config"
	"github.com/Clouded-Sabre/netconn/lib"
	"github.com/Clouded-Sabre/netconn/lib/demux"
	"github.com/Clouded-Sabre/netconn/lib/sock"
	"github.com/google/gopacket"
	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// listenSpec is one --listen entry, protocol/address:port.
type listenSpec struct {
	ix    lib.ProtocolIndex
	local netip.AddrPort
}

func parseListen(value string) (listenSpec, error) {
	proto, addr, ok := strings.Cut(value, "/")
	if !ok {
		return listenSpec{}, fmt.Errorf("bad listen entry %q, want proto/addr:port", value)
	}
	local, err := netip.ParseAddrPort(addr)
	if err != nil {
		return listenSpec{}, fmt.Errorf("bad listen address %q: %w", addr, err)
	}

	v4 := local.Addr().Is4()
	var ix lib.ProtocolIndex
	switch {
	case proto == "tcp" && v4:
		ix = lib.ProtocolIxIPv4TCP
	case proto == "tcp":
		ix = lib.ProtocolIxIPv6TCP
	case proto == "udp" && v4:
		ix = lib.ProtocolIxIPv4UDP
	case proto == "udp":
		ix = lib.ProtocolIxIPv6UDP
	default:
		return listenSpec{}, fmt.Errorf("bad listen protocol %q", proto)
	}

	return listenSpec{ix: ix, local: local}, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "netconnd:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("netconnd", flag.ContinueOnError)
	var (
		configFile  = fs.String("config", "config.yaml", "path to the yaml config file; missing file means defaults")
		listens     = fs.String("listen", "", "comma-separated listeners, proto/addr:port, for example tcp/0.0.0.0:7000,udp/[::]:53")
		pcapFile    = fs.String("pcap", "", "pcap capture to replay through the demultiplexer")
		metricsAddr = fs.String("metrics-addr", "", "listen address for /metrics, overrides the config file")
		logLevel    = fs.String("log-level", "", "log level, overrides the config file")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("NETCONN")); err != nil {
		return err
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := lib.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	coreCfg, err := lib.NewCoreConfig(cfg, logger)
	if err != nil {
		return err
	}
	core, err := lib.NewCore(coreCfg)
	if err != nil {
		return err
	}
	defer core.Close()

	transport := sock.NewTransport(core.Table, logger)
	socks := sock.NewLayer(core, transport, logger)

	core.Table.Lock()
	err = openListeners(socks, *listens, logger)
	core.Table.Unlock()
	if err != nil {
		return err
	}

	dmx, err := demux.New(core.Table, &demux.Config{
		PoolSize:             cfg.FramePoolSize,
		BufferLength:         cfg.FrameBufferLength,
		ProcessTimeThreshold: demux.DefaultConfig().ProcessTimeThreshold,
	}, logger)
	if err != nil {
		return err
	}

	if *pcapFile != "" {
		if err := replay(dmx, *pcapFile, logger); err != nil {
			return err
		}
	}

	if cfg.MetricsAddr == "" {
		return nil
	}

	return serveMetrics(cfg.MetricsAddr, core.Table, logger)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.ReadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

func openListeners(socks *sock.Layer, listens string, logger *zap.Logger) error {
	for _, entry := range strings.Split(listens, ",") {
		if entry == "" {
			continue
		}
		spec, err := parseListen(entry)
		if err != nil {
			return err
		}
		ifNbr, err := lib.InterfaceOf(spec.local.Addr())
		if err != nil {
			logger.Warn("listener address is not on a local interface", zap.String("listen", entry), zap.Error(err))
		}
		if _, err := socks.Listen(spec.ix, spec.local, ifNbr); err != nil {
			return fmt.Errorf("listening on %s: %w", entry, err)
		}
	}
	return nil
}

func replay(dmx *demux.Demuxer, path string, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	matched := 0
	n, err := dmx.Replay(f, func(n int, ci gopacket.CaptureInfo, res demux.Result, err error) {
		if err != nil {
			fmt.Printf("%5d %s skipped: %v\n", n, ci.Timestamp.Format(time.RFC3339Nano), err)
			return
		}
		if res.Kind == lib.MatchNone {
			fmt.Printf("%5d %s %s %s -> %s miss (%s)\n", n, ci.Timestamp.Format(time.RFC3339Nano),
				res.ProtocolIx, res.Remote, res.Local, res.Miss)
			return
		}
		matched++
		fmt.Printf("%5d %s %s %s -> %s %s conn=%d app=%d transport=%d\n", n, ci.Timestamp.Format(time.RFC3339Nano),
			res.ProtocolIx, res.Remote, res.Local, res.Kind, res.ID, res.App, res.Transport)
	})
	if err != nil {
		return err
	}
	logger.Info("capture replayed", zap.String("file", path), zap.Int("frames", n), zap.Int("matched", matched))

	return nil
}

func serveMetrics(addr string, table *lib.ConnTable, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		lib.NewPoolCollector(table),
		collectors.NewGoCollector(),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
