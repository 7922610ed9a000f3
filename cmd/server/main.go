package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/automesh/meshheal/internal/config"
	"github.com/automesh/meshheal/internal/db"
	"github.com/automesh/meshheal/internal/handler"
	"github.com/automesh/meshheal/internal/healing"
	"github.com/automesh/meshheal/internal/logging"
	"github.com/automesh/meshheal/internal/observability"
	"github.com/automesh/meshheal/internal/safety"
	"github.com/automesh/meshheal/internal/topology"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log logging.Logger) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	topo, err := topology.Load(cfg.Topology)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	esm := safety.NewEmergencyStopManager(log)
	deps := healing.Deps{
		Rollback:      safety.NewRollbackManager(log),
		EmergencyStop: esm,
		Metrics:       metrics,
		Log:           log,
	}

	// Persistence is optional; without a database runs live in memory only
	var runs handler.RunReader
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := db.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		deps.Store = store
		deps.Snapshots = safety.NewSnapshotManager(store, log)
		runs = store
	} else {
		log.Warn(ctx, "DATABASE_URL not set; run history disabled")
		deps.Snapshots = safety.NewSnapshotManager(nil, log)
	}

	orch, err := healing.New(topo, healing.Config{
		DetectionDelay:          cfg.DetectionDelay,
		RerouteDelay:            cfg.RerouteDelay,
		StepDelay:               cfg.StepDelay,
		MaxBlastRadius:          cfg.MaxBlastRadius,
		ProtectedNodePattern:    cfg.ProtectedNodePattern,
		MonitorInterval:         cfg.MonitorInterval,
		MonitorFailureThreshold: cfg.MonitorFailureThreshold,
	}, deps)
	if err != nil {
		return err
	}
	defer orch.Close()

	if !cfg.GinDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handler.SetupRouter(
		handler.NewSimulationHandler(orch, runs, esm, log),
		handler.NewPathsHandler(orch, metrics),
		handler.NewTopologyHandler(orch),
		esm, metrics, cfg.CORSAllowOrigin, log,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "meshheal starting",
			logging.String("addr", srv.Addr),
			logging.String("topology", topo.Name),
			logging.Int("nodes", len(topo.Nodes)),
			logging.Int("links", len(topo.Links)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	// Shutdown does not wait for hijacked or streaming responses, so end
	// the SSE streams by closing the orchestrator's broker first
	orch.Close()
	return srv.Shutdown(shutdownCtx)
}
