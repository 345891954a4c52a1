// p2pd is the session/substream multiplexing engine's reference daemon: it
// loads a configuration file, wires the reference transport, multiplexer,
// and resolver implementations into a netmux.Service, and runs it until
// signaled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/meshward/p2pmux/internal/config"
	"github.com/meshward/p2pmux/internal/identity"
	netmuxmetrics "github.com/meshward/p2pmux/internal/metrics"
	"github.com/meshward/p2pmux/internal/netmux"
	"github.com/meshward/p2pmux/internal/securetransport"
	"github.com/meshward/p2pmux/internal/transport/dialer"
	appversion "github.com/meshward/p2pmux/internal/version"
	"github.com/meshward/p2pmux/internal/yamuxlike"
)

// shutdownTimeout bounds how long the metrics HTTP server gets to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("p2pd starting",
		slog.String("version", appversion.Version),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("listen_count", len(cfg.Listen)),
	)

	key, err := identity.LoadOrCreate(cfg.Identity.KeyFile)
	if err != nil {
		logger.Error("failed to load identity key", slog.String("error", err.Error()))
		return 1
	}

	reg := prometheus.NewRegistry()
	collector := netmuxmetrics.NewCollector(reg)

	if err := runServers(cfg, key, reg, collector, logger, *configPath, logLevel); err != nil {
		logger.Error("p2pd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("p2pd stopped")
	return 0
}

// runServers starts the netmux.Service and the metrics HTTP server under an
// errgroup with a signal-aware context: any one goroutine failing cancels
// the shared context and tears the rest down.
func runServers(
	cfg *config.Config,
	key netmux.PrivateKey,
	reg *prometheus.Registry,
	collector *netmuxmetrics.Collector,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	listenAddrs, err := parseListenAddrs(cfg.Listen)
	if err != nil {
		return fmt.Errorf("parse listen addrs: %w", err)
	}

	protocols, err := buildProtocols(cfg.Protos, logger, collector)
	if err != nil {
		return fmt.Errorf("build protocol table: %w", err)
	}

	svcCfg := netmux.Config{
		Protocols:      protocols,
		Listen:         listenAddrs,
		MaxConnections: cfg.Session.MaxConnections,
		SendEventSize:  cfg.Session.SendEventSize,
		RecvEventSize:  cfg.Session.RecvEventSize,
		KeepBuffer:     cfg.Session.KeepBuffer,
		Timeout:        cfg.Session.Timeout,
		LocalKey:       key,
		Transport:      securetransport.New(),
		MuxerFactory:   &yamuxlike.Factory{Config: yamuxlike.Config{MaxStreamWindow: defaultStreamWindow, MaxStreams: cfg.Yamux.MaxStreams, AcceptBacklog: cfg.Yamux.AcceptBacklog}},
		Dialer:         dialer.TCPDialer{},
		ListenerFunc:   dialer.NewListenerFunc(dialer.ListenerConfig{}),
		Resolver:       netmux.NewStdResolver(),
	}

	handle := &loggingServiceHandle{logger: logger, collector: collector}
	svc := netmux.NewService(svcCfg, handle, logger)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := startConfigWatch(configPath, logLevel, logger)
	if err != nil {
		logger.Warn("configuration live-reload disabled", slog.String("error", err.Error()))
	}
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", slog.String("error", err.Error()))
		}
		svc.Shutdown()
		return nil
	})

	return g.Wait()
}

// loggingServiceHandle implements netmux.ServiceHandle, translating every
// top-level Service notification into a structured log line and a metrics
// update. It never blocks: both methods are invoked from the Service's own
// dispatch loop.
type loggingServiceHandle struct {
	logger    *slog.Logger
	collector *netmuxmetrics.Collector
}

func (h *loggingServiceHandle) HandleEvent(_ *netmux.ServiceContext, ev netmux.ServiceEvent) {
	switch e := ev.(type) {
	case netmux.SessionOpenServiceEvent:
		h.collector.RegisterSession(e.Session.Ty.String())
		h.logger.Info("session opened",
			slog.Uint64("session_id", uint64(e.Session.ID)),
			slog.String("addr", e.Session.Addr.String()),
			slog.String("type", e.Session.Ty.String()),
		)
	case netmux.SessionCloseServiceEvent:
		h.logger.Info("session closed", slog.Uint64("session_id", uint64(e.Session)))
	case netmux.ListenStartedServiceEvent:
		h.logger.Info("listener started", slog.String("addr", e.Addr.String()))
	case netmux.ListenCloseServiceEvent:
		h.logger.Info("listener closed", slog.String("addr", e.Addr.String()))
	case netmux.DialerErrorServiceEvent:
		h.collector.IncDialFailures()
		h.logger.Warn("dial failed", slog.String("addr", e.Addr.String()), slog.String("error", e.Cause.Error()))
	}
}

func (h *loggingServiceHandle) HandleError(_ *netmux.ServiceContext, svcErr netmux.ServiceError) {
	if svcErr.Stage == "handshake" {
		h.collector.IncHandshakeFailures()
	}
	h.logger.Warn("service error",
		slog.String("stage", svcErr.Stage),
		slog.String("addr", svcErr.Addr.String()),
		slog.String("error", svcErr.Err.Error()),
	)
}

// echoProtocol is the reference ServiceProtocol every configured protocol
// entry is bound to: it logs traffic and metrics and echoes each frame
// back to its sender, enough to drive the engine end to end without a
// bespoke application built on top of it.
type echoProtocol struct {
	name      string
	logger    *slog.Logger
	collector *netmuxmetrics.Collector
}

func (p *echoProtocol) Init(*netmux.ServiceContext) {}

func (p *echoProtocol) Connected(ctx *netmux.ProtocolContext) {
	p.collector.RegisterSubstream(p.name)
	p.logger.Debug("substream connected", slog.String("protocol", p.name), slog.Uint64("session_id", uint64(ctx.Session.ID)))
}

func (p *echoProtocol) Disconnected(ctx *netmux.ProtocolContext) {
	p.collector.UnregisterSubstream(p.name)
	p.logger.Debug("substream disconnected", slog.String("protocol", p.name), slog.Uint64("session_id", uint64(ctx.Session.ID)))
}

func (p *echoProtocol) Received(ctx *netmux.ProtocolContext, data []byte) {
	p.collector.IncFramesReceived(p.name)
	if err := ctx.Control().SendMessageTo(ctx.Session.ID, ctx.Proto, data); err != nil {
		p.logger.Debug("echo send failed", slog.String("protocol", p.name), slog.String("error", err.Error()))
		return
	}
	p.collector.IncFramesSent(p.name, "normal")
}

func (p *echoProtocol) Notify(*netmux.ProtocolContext, uint64) {}

func (p *echoProtocol) Poll(*netmux.ServiceContext) {}

func buildProtocols(entries []config.ProtocolEntry, logger *slog.Logger, collector *netmuxmetrics.Collector) (map[netmux.ProtocolID]netmux.ProtocolInfo, error) {
	protos := make(map[netmux.ProtocolID]netmux.ProtocolInfo, len(entries))
	for i, e := range entries {
		id := netmux.ProtocolID(i + 1)
		handler := &echoProtocol{name: e.Name, logger: logger.With(slog.String("protocol", e.Name)), collector: collector}

		var codec netmux.Codec = netmux.NewLengthDelimitedCodec(0)
		if !e.Framed {
			codec = netmux.RawCodec{}
		}

		protos[id] = netmux.ProtocolInfo{
			ID:             id,
			Name:           e.Name,
			Versions:       e.Versions,
			Codec:          codec,
			ServiceHandler: handler,
			Event:          true,
		}
	}
	return protos, nil
}

func parseListenAddrs(addrs []string) ([]netmux.Multiaddr, error) {
	out := make([]netmux.Multiaddr, 0, len(addrs))
	for _, s := range addrs {
		m, err := netmux.ParseMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func startConfigWatch(path string, level *slog.LevelVar, logger *slog.Logger) (*config.Watcher, error) {
	if path == "" {
		return nil, nil
	}
	return config.NewWatcher(path, logger, func(cfg *config.Config) {
		level.Set(config.ParseLogLevel(cfg.Log.Level))
	})
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar so
// a live config reload (the fsnotify-driven Watcher) can change
// verbosity without restarting the process.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// defaultStreamWindow matches yamuxlike.DefaultConfig's window size; it is
// not currently exposed as a config knob.
const defaultStreamWindow = 256 * 1024
