package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/loqa-asr/internal/bus"
	"github.com/loqalabs/loqa-asr/internal/capability"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/engine"
	"github.com/loqalabs/loqa-asr/internal/ingest"
	"github.com/loqalabs/loqa-asr/internal/natsserver"
	"github.com/loqalabs/loqa-asr/internal/stt"
	"github.com/loqalabs/loqa-asr/internal/transcriptstore"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	nats          *natsserver.EmbeddedServer
	bus           *bus.Client
	store         *transcriptstore.Store
	stt           *stt.Service
	ingest        *ingest.Service
	announcer     *capability.Announcer
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component, blocks until ctx is cancelled and then
// tears them down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	a := &api{
		stt:       r.stt,
		store:     r.store,
		checks:    map[string]healthChecker{},
		engineCfg: r.cfg.Engine,
		maxBody:   r.cfg.HTTP.MaxBodyBytes,
		logger:    r.logger.With(slog.String("component", "http")),
	}
	if r.ingest != nil {
		a.checks["ingest"] = r.ingest
	}
	if r.announcer != nil {
		a.checks["announcer"] = r.announcer
		a.nodes = r.announcer
	}
	a.routes(mux)
	mux.Handle("GET /metrics", metricsHandler)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	if r.cfg.Engine.InitializeOnStart {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.stt.Initialize(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("engine initialization failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("engine", r.cfg.Engine.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	store, err := transcriptstore.Open(ctx, r.cfg.TranscriptStore, r.logger)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	r.store = store

	eng, err := engine.New(r.cfg.Engine, r.logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	svc, err := stt.NewService(eng, r.logger)
	if err != nil {
		return err
	}
	r.stt = svc

	if !r.cfg.Bus.Enabled {
		return nil
	}

	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client

	r.ingest = ingest.NewService(ctx, r.cfg.Ingest, client, svc, store, r.logger)
	if err := r.ingest.Start(); err != nil {
		return err
	}

	if r.cfg.Node.Announce {
		announcer, err := capability.NewAnnouncer(ctx, r.cfg.Node, client, r.capabilities, r.logger)
		if err != nil {
			return fmt.Errorf("start capability announcer: %w", err)
		}
		r.announcer = announcer
	}
	return nil
}

func (r *Runtime) capabilities() []capability.Capability {
	return []capability.Capability{{
		Name: capability.Transcribe,
		Attributes: map[string]string{
			"engine":         r.cfg.Engine.Mode,
			"language":       r.cfg.Engine.Language,
			"ready":          strconv.FormatBool(r.stt.State() == stt.StateInitialized),
			"models_present": strconv.FormatBool(stt.ModelsExist(r.cfg.Engine)),
			"ingest":         strconv.FormatBool(r.cfg.Ingest.Enabled),
		},
	}}
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.announcer != nil {
		r.announcer.Close()
	}
	if r.ingest != nil {
		r.ingest.Close()
	}
	if r.stt != nil {
		_ = r.stt.Close()
	}
	r.wg.Wait()
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("transcript store close error", slog.String("error", err.Error()))
		}
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
