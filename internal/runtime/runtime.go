package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/busapi"
	"github.com/loqalabs/loqa-voice/internal/capability"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/httpapi"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/tts"
)

const journalPruneInterval = time.Hour

// Runtime wires the synthesis service to its transports.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	telemetryStop func(context.Context) error
	store         *eventstore.Store
	service       *tts.Service
	embedded      *natsserver.EmbeddedServer
	busClient     *bus.Client
	responder     *busapi.Responder
	announcer     *capability.Announcer
	wg            sync.WaitGroup

	addrMu sync.RWMutex
	addr   string
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Addr is the bound HTTP address once Start has opened the listener.
func (r *Runtime) Addr() string {
	r.addrMu.RLock()
	defer r.addrMu.RUnlock()
	return r.addr
}

// Start brings the node up and blocks until ctx is cancelled. The HTTP
// listener opens before the model loads so callers see 503 instead of
// connection refused; a model that fails to load is returned as an error.
func (r *Runtime) Start(parent context.Context) error {
	defer r.shutdown()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	telemetryStop, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryStop = telemetryStop
	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		r.serveMetrics(metricsHandler)
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open synthesis journal: %w", err)
	}
	r.store = store
	r.wg.Add(1)
	go r.pruneJournal(ctx, journalPruneInterval)

	loader, err := tts.NewLoader(r.cfg.Sidecar, r.logger)
	if err != nil {
		return err
	}
	r.service = tts.NewService(r.cfg.Sidecar, loader, store, r.logger)

	if err := r.serveHTTP(); err != nil {
		return err
	}

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			return err
		}
	}

	loadErr := make(chan error, 1)
	go func() { loadErr <- r.service.Load(ctx) }()

	select {
	case err := <-loadErr:
		if err != nil {
			r.logger.Error("model load failed", slog.String("error", err.Error()))
			return err
		}
		r.logger.Info("runtime ready", slog.String("addr", r.Addr()))
	case <-ctx.Done():
		r.logger.Info("runtime stopping during model load")
		return nil
	}

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) serveHTTP() error {
	api := httpapi.New(r.service, r.store, r.cfg.HTTP.MaxBodyBytes, r.logger)
	addr := net.JoinHostPort(r.cfg.HTTP.Bind, fmt.Sprint(r.cfg.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.addrMu.Lock()
	r.addr = ln.Addr().String()
	r.addrMu.Unlock()

	r.httpServer = &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http api listening", slog.String("addr", r.Addr()))
	return nil
}

func (r *Runtime) serveMetrics(handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	r.metricsServer = &http.Server{
		Addr:              r.cfg.Telemetry.PrometheusBind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}
	r.busClient = client

	timeout := time.Duration(r.cfg.Client.RequestTimeoutMS) * time.Millisecond
	responder, err := busapi.NewResponder(client, r.service, busCfg.QueueGroup, timeout, r.logger)
	if err != nil {
		return err
	}
	r.responder = responder

	announcer, err := capability.NewAnnouncer(ctx, r.cfg.Node, client, r.service, r.logger)
	if err != nil {
		return err
	}
	r.announcer = announcer
	return nil
}

func (r *Runtime) pruneJournal(ctx context.Context, every time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("journal prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r.announcer.Close()
	if r.responder != nil {
		r.responder.Close()
	}
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.service != nil {
		if err := r.service.Close(); err != nil {
			r.logger.Error("model close error", slog.String("error", err.Error()))
		}
	}
	r.busClient.Close()
	r.embedded.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("journal close error", slog.String("error", err.Error()))
	}

	if r.telemetryStop != nil {
		if err := r.telemetryStop(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
