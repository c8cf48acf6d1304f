package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/voice-proxy/internal/bus"
	"github.com/loqalabs/voice-proxy/internal/config"
	"github.com/loqalabs/voice-proxy/internal/control"
	"github.com/loqalabs/voice-proxy/internal/eventstore"
	"github.com/loqalabs/voice-proxy/internal/monitor"
	"github.com/loqalabs/voice-proxy/internal/natsserver"
	"github.com/loqalabs/voice-proxy/internal/orchestrator"
	"github.com/loqalabs/voice-proxy/internal/server"
)

type Runtime struct {
	cfg         config.Config
	version     string
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeTelemetry()

	deps, voices, err := buildEngines(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build engines: %w", err)
	}
	orch, err := orchestrator.New(orchestrator.OptionsFromConfig(r.cfg), deps, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()
	var timeline server.Timeline
	if r.cfg.EventStore.RetentionMode != "ephemeral" {
		recorder := eventstore.NewRecorder(store, r.logger)
		recorder.Start(orch)
		defer recorder.Close()
		timeline = store
	}

	var busClient *bus.Client
	var publisher monitor.Publisher
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return err
		}
		defer busClient.Close()
		publisher = busClient

		adapter := control.NewAdapter(ctx, busClient, orch, r.logger)
		if err := adapter.Start(); err != nil {
			return fmt.Errorf("failed to start control adapter: %w", err)
		}
		defer adapter.Close()
	}

	if _, err := orch.Initialize(ctx); err != nil {
		return err
	}

	if r.cfg.Monitor.Enabled {
		mon := monitor.New(ctx, r.cfg.Monitor, r.cfg.ServiceName, orch, publisher, r.logger)
		defer mon.Close()
	}

	srv := server.New(orch, server.Options{
		Version:  r.version,
		Voices:   voices,
		Timeline: timeline,
		Metrics:  metricHandler,
		Ready: func() bool {
			return r.ready.Load() && (busClient == nil || busClient.Healthy())
		},
	}, r.logger)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	// flush the session so the final chunk and stop event are recorded
	if err := orch.Drain(shutdownCtx); err != nil {
		r.logger.Warn("pipeline drain incomplete", slog.String("error", err.Error()))
	}
	return nil
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}
