package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	hbhttp "github.com/Strob0t/Habitat/internal/adapter/http"
	hbmcp "github.com/Strob0t/Habitat/internal/adapter/mcp"
	hbnats "github.com/Strob0t/Habitat/internal/adapter/nats"
	"github.com/Strob0t/Habitat/internal/adapter/natskv"
	hbotel "github.com/Strob0t/Habitat/internal/adapter/otel"
	"github.com/Strob0t/Habitat/internal/adapter/postgres"
	"github.com/Strob0t/Habitat/internal/adapter/ristretto"
	"github.com/Strob0t/Habitat/internal/adapter/tiered"
	"github.com/Strob0t/Habitat/internal/adapter/ws"
	"github.com/Strob0t/Habitat/internal/config"
	"github.com/Strob0t/Habitat/internal/logger"
	"github.com/Strob0t/Habitat/internal/middleware"
	"github.com/Strob0t/Habitat/internal/port/cache"
	"github.com/Strob0t/Habitat/internal/port/eventstore"
	"github.com/Strob0t/Habitat/internal/port/messagequeue"
	"github.com/Strob0t/Habitat/internal/resilience"
	"github.com/Strob0t/Habitat/internal/secrets"
	"github.com/Strob0t/Habitat/internal/service"
)

const (
	journalBuffer   = 4096
	journalFailures = 5
	requestTimeout  = 30 * time.Second
	limiterSweep    = time.Minute
	limiterIdle     = 10 * time.Minute
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			seedFile, _ := cmd.Flags().GetString("seed-file")
			return serve(cmd.Context(), cfg, path, seedFile)
		},
	}
	cmd.Flags().String("port", "", "HTTP listen port")
	cmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().String("nats-url", "", "NATS server URL for the event mirror and command subject")
	cmd.Flags().Bool("seed", false, "Create the demo room and agents at startup")
	cmd.Flags().String("seed-file", "", "YAML seed document used instead of the builtin demo")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, cfgPath, seedFile string) error {
	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"file", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"journal", cfg.Postgres.DSN != "",
		"nats", cfg.NATS.URL != "",
	)

	// --- Telemetry ---

	shutdownOTEL, err := hbotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownGrace)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := hbotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	var (
		queue   messagequeue.Queue
		natsQ   *hbnats.Queue
		l2      cache.Cache
		journal eventstore.Store
	)
	if cfg.NATS.URL != "" {
		natsQ, err = hbnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsQ.Close() }()
		queue = natsQ

		kv, err := natskv.Open(ctx, natsQ.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("snapshot bucket: %w", err)
		}
		l2 = kv
	}
	snapshots := tiered.New(l1, l2, cfg.Cache.L2TTL)

	if cfg.Postgres.DSN != "" {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		journal = postgres.NewEventStore(pool)
		slog.Info("event journal ready")
	}

	// --- Services ---

	simSvc, err := service.NewSimulationService(cfg.Simulation, time.Now)
	if err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	simSvc.SetMetrics(metrics)
	simSvc.SetSnapshotCache(snapshots, cfg.Cache.L2TTL)

	hub := ws.NewHub(cfg.Sync)
	hub.SetMetrics(metrics)

	syncSvc := service.NewSyncService(simSvc, hub, cfg.Sync.SnapshotInterval)
	syncSvc.SetMetrics(metrics)
	cmdLimiter := middleware.NewRateLimiter(cfg.Sync.CommandsPerSecond, cfg.Sync.CommandBurst)
	syncSvc.SetLimiter(cmdLimiter)
	syncSvc.Attach()
	defer syncSvc.Detach()
	hub.SetCommandHandler(syncSvc)

	var journalSvc *service.Journal
	if journal != nil || queue != nil {
		journalSvc = service.NewJournal(journal, queue, journalBuffer,
			resilience.NewBreaker(journalFailures, cfg.Sync.BreakerTimeout))
		journalSvc.Attach(simSvc.Bus())
	}

	// --- HTTP ---

	httpLimiter := middleware.NewRateLimiter(cfg.Server.RequestsPerSec, cfg.Server.RequestBurst)
	handlers := &hbhttp.Handlers{
		Sim:       simSvc,
		Journal:   journalSvc,
		Queue:     queue,
		Observers: hub,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(hbhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(hbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(hbhttp.SecurityHeaders)
	r.Use(hbotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	r.Get("/ws", hub.HandleWS)
	if cfg.MCP.Enabled {
		vault, err := secrets.NewVault(secrets.Chain(
			secrets.Static(map[string]string{secrets.KeyMCPAPIKey: cfg.MCP.APIKey}),
			secrets.File(cfg.MCP.SecretsFile),
		))
		if err != nil {
			return fmt.Errorf("secrets: %w", err)
		}
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		vault.ReloadOn(ctx, hup)

		mcpSrv := hbmcp.NewServer(hbmcp.ServerConfig{
			Name:    "habitat",
			Version: version,
			Path:    cfg.MCP.Path,
			APIKey:  vault.Getter(secrets.KeyMCPAPIKey),
		}, hbmcp.ServerDeps{Sim: simSvc})
		r.Handle(mcpSrv.Path(), mcpSrv.Handler())
		slog.Info("mcp tool server mounted", "path", mcpSrv.Path(), "api_key", vault.Redacted(secrets.KeyMCPAPIKey))
	}
	r.Group(func(r chi.Router) {
		r.Use(httpLimiter.Handler)
		r.Use(middleware.Idempotency(snapshots, cfg.Server.IdempotencyTTL))
		r.Use(chimw.Timeout(requestTimeout))
		hbhttp.MountRoutes(r, handlers)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Run ---

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return simSvc.Run(gctx) })
	g.Go(func() error { return simSvc.RunClock(gctx) })
	g.Go(func() error { return syncSvc.Run(gctx) })
	if journalSvc != nil {
		g.Go(func() error { return journalSvc.Run(gctx) })
	}
	httpLimiter.StartCleanup(gctx, limiterSweep, limiterIdle)
	cmdLimiter.StartCleanup(gctx, limiterSweep, limiterIdle)
	if queue != nil {
		cancelCommands, err := syncSvc.StartCommandSubscriber(gctx, queue)
		if err != nil {
			return fmt.Errorf("command subscriber: %w", err)
		}
		defer cancelCommands()
	}

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownGrace)
		defer cancel()
		hub.Close()
		return srv.Shutdown(sctx)
	})

	if err := bootstrap(gctx, simSvc, cfg.Simulation, seedFile); err != nil {
		slog.Error("bootstrap failed", "error", err)
	}

	err = g.Wait()
	if natsQ != nil {
		if derr := natsQ.Drain(); derr != nil {
			slog.Warn("nats drain", "error", derr)
		}
	}
	return err
}

// bootstrap seeds the world and starts the clock as configured.
func bootstrap(ctx context.Context, simSvc *service.SimulationService, cfg config.Simulation, seedFile string) error {
	if seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			return fmt.Errorf("read seed: %w", err)
		}
		sd, err := service.ParseSeed(data)
		if err != nil {
			return err
		}
		if err := simSvc.Seed(ctx, sd); err != nil {
			return fmt.Errorf("seed %s: %w", seedFile, err)
		}
	} else if cfg.Seed {
		if err := simSvc.Seed(ctx, service.DefaultSeed()); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	if cfg.AutoStart {
		return simSvc.Start(ctx)
	}
	return nil
}
