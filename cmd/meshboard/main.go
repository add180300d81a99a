// Meshboard daemon -- a community message board gateway for one attached
// mesh radio node.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/meshboard/meshboard/internal/config"
	"github.com/meshboard/meshboard/internal/gateway"
	boardmetrics "github.com/meshboard/meshboard/internal/metrics"
	"github.com/meshboard/meshboard/internal/peersync"
	"github.com/meshboard/meshboard/internal/radio"
	"github.com/meshboard/meshboard/internal/server"
	"github.com/meshboard/meshboard/internal/store"
	appversion "github.com/meshboard/meshboard/internal/version"
)

// shutdownTimeout is the maximum time to wait for the admin HTTP server
// to drain during graceful shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("meshboard"))
		return 0
	}

	// 2. Load config.
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, logLevel)

	logger.Info("meshboard starting",
		slog.String("version", appversion.Version),
		slog.String("name", cfg.Name),
		slog.String("device", cfg.Device),
		slog.String("db", cfg.DB),
	)

	if err := serve(cfg, *configPath, logLevel, logger); err != nil {
		logger.Error("meshboard exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("meshboard stopped")
	return 0
}

// newLogger builds the root logger per the log config.
func newLogger(lc config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// serve wires the subsystems and runs them under an errgroup with a
// signal-aware context.
func serve(cfg *config.Config, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) error {
	// Persistence first: everything hangs off the store.
	st, err := store.Open(cfg.DB, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeQuietly(st.Close, "store", logger)

	seedSets(cfg, st, logger)

	// Metrics registry and collector.
	reg := prometheus.NewRegistry()
	collector := boardmetrics.NewCollector(reg)

	// Radio link: bus + opener; the gateway owns reconnects.
	bus := radio.NewBus()
	opener := func(ctx context.Context) (radio.Link, error) {
		return radio.OpenSerial(ctx, radio.SerialConfig{
			Device: cfg.Device,
			TXGap:  cfg.TXGapInterval(),
			Bus:    bus,
			Logger: logger,
		})
	}

	gw := gateway.New(cfg, st, collector, bus, opener, logger)
	gw.SetSyncEngine(peersync.New(peersync.Config{
		Store:     st,
		Send:      gw.Send,
		InvWindow: cfg.SyncInv,
		ChunkSize: cfg.SyncChunk,
		RxTTL:     time.Duration(cfg.RxPartsTTLHours) * time.Hour,
		Enabled:   cfg.Sync,
		Metrics:   collector,
		Logger:    logger,
	}))

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	// The initial open is the one fatal transport error: a gateway that
	// cannot find its radio at startup has nothing to do.
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("open radio link: %w", err)
	}
	defer gw.CloseLink()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return gw.Pump(gCtx) })
	g.Go(func() error { return gw.Watchdog(gCtx) })
	g.Go(func() error { return gw.SyncTicker(gCtx) })
	g.Go(func() error { return runSystemdWatchdog(gCtx, logger) })

	startAdminServer(gCtx, g, cfg, gw, st, reg, logger)
	startSIGHUPReload(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run gateway: %w", err)
	}

	notifyStopping(logger)
	return nil
}

// seedSets loads the configured initial admins and peers. Idempotent, so
// restarts with the same config never duplicate.
func seedSets(cfg *config.Config, st *store.Store, logger *slog.Logger) {
	ctx := context.Background()
	for _, id := range cfg.AdminIDs() {
		if err := st.AddAdmin(ctx, id); err != nil {
			logger.Warn("seed admin failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	for _, id := range cfg.PeerIDs() {
		if err := st.AddPeer(ctx, id); err != nil {
			logger.Warn("seed peer failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
}

// startAdminServer registers the admin HTTP goroutines when enabled.
func startAdminServer(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	gw *gateway.Gateway,
	st *store.Store,
	reg *prometheus.Registry,
	logger *slog.Logger,
) {
	if cfg.HTTP.Addr == "" {
		logger.Info("admin http endpoint disabled")
		return
	}

	srv := server.New(server.Options{
		Addr:     cfg.HTTP.Addr,
		Name:     cfg.Name,
		Version:  appversion.Version,
		Gateway:  gw,
		Store:    st,
		Registry: reg,
		Logger:   logger,
	})

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("admin http listening", slog.String("addr", cfg.HTTP.Addr))

		ln, err := lc.Listen(ctx, "tcp", cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startSIGHUPReload registers the log-level reload goroutine. Only the log
// level is hot-reloadable; everything else needs a restart.
func startSIGHUPReload(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)

	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				logger.Info("received SIGHUP, reloading log level")
				newCfg, err := config.Load(configPath)
				if err != nil {
					logger.Error("reload failed, keeping current settings",
						slog.String("error", err.Error()))
					continue
				}
				old := logLevel.Level()
				logLevel.Set(config.ParseLogLevel(newCfg.Log.Level))
				logger.Info("log level reloaded",
					slog.String("old", old.String()),
					slog.String("new", logLevel.Level().String()))
			}
		}
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd once the gateway is on the air.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 at the start of graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runSystemdWatchdog sends periodic keepalives at half the configured
// WatchdogSec. Exits immediately when no watchdog is configured.
func runSystemdWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tick := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tick))

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// closeQuietly closes a resource, logging failures.
func closeQuietly(closeFn func() error, what string, logger *slog.Logger) {
	if err := closeFn(); err != nil {
		logger.Warn("close failed",
			slog.String("resource", what),
			slog.String("error", err.Error()))
	}
}
