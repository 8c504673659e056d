package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/order-engine/internal/auth"
	"github.com/example/order-engine/internal/cart"
	"github.com/example/order-engine/internal/config"
	"github.com/example/order-engine/internal/drivers"
	"github.com/example/order-engine/internal/engine"
	"github.com/example/order-engine/internal/eta"
	"github.com/example/order-engine/internal/events"
	"github.com/example/order-engine/internal/geo"
	httpapi "github.com/example/order-engine/internal/http"
	"github.com/example/order-engine/internal/ingest"
	"github.com/example/order-engine/internal/jobs"
	"github.com/example/order-engine/internal/logging"
	"github.com/example/order-engine/internal/models"
	"github.com/example/order-engine/internal/observability"
	"github.com/example/order-engine/internal/realtime"
	"github.com/example/order-engine/internal/storage"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mirror drivers.LocationMirror
	var fleet httpapi.FleetLocator
	if cfg.RedisAddr != "" {
		rm := geo.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer rm.Close()
		if err := rm.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, mirroring will retry per sample", "addr", cfg.RedisAddr, "error", err)
		}
		mirror = rm
		fleet = rm
	}

	var store storage.OrderStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer ps.Close()
		if cfg.RunMigrations {
			path := filepath.Join(cfg.MigrationsDir, "001_create_orders.sql")
			if err := ps.Migrate(ctx, path); err != nil {
				return err
			}
			logger.Info("migration applied", "path", path)
		}
		store = ps
	}

	var producer *ingest.Producer
	var sink engine.LocationSink
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaLocationsTopic, logger.With("component", "outbox"))
		defer producer.Close()
		sink = producer
	}

	bus := events.NewBus(
		events.WithTap(events.TapFunc(func(e models.Event) {
			observability.EventsPublished.WithLabelValues(string(e.Type)).Inc()
			if producer != nil {
				producer.Forward(e)
			}
		})),
		events.WithDropHook(func(models.Event) { observability.EventsDropped.Inc() }),
	)

	pool := drivers.NewPool(drivers.Options{
		ConcurrencyCap: cfg.DriverConcurrencyCap,
		Freshness:      cfg.LocationFreshness,
		TrailSize:      cfg.LocationTrail,
		Mirror:         mirror,
		Logger:         logger.With("component", "drivers"),
	})

	eng := engine.New(engine.Options{
		Store:     store,
		Pool:      pool,
		Bus:       bus,
		Carts:     cart.NewService(),
		Locations: sink,
		ETA: eta.Estimator{
			AverageSpeedKmh:  cfg.ETAAverageSpeedKmh,
			FallbackMinutes:  cfg.ETAFallbackMinutes,
			UseObservedSpeed: cfg.ETAUseObservedSpeed,
		},
		Locale:          cfg.StatusLocale,
		BroadcastWindow: cfg.BroadcastWindow,
		BroadcastTopN:   cfg.BroadcastTopN,
		Logger:          logger.With("component", "engine"),
	})

	gateway := realtime.NewGateway(bus, eng.Snapshot, realtime.Options{
		PingInterval: cfg.WSPingInterval,
		PongWait:     cfg.WSPongWait,
		SendBuffer:   cfg.WSSendBuffer,
		Logger:       logger.With("component", "realtime"),
	})

	scheduler := jobs.NewManager(eng, eng, logger)
	if err := scheduler.Start(); err != nil {
		return err
	}

	authn := auth.NewAuthenticator(cfg.JWTSecret, 0)
	if !authn.TokensRequired() {
		logger.Warn("JWT_SECRET not set, trusting X-Actor-Role and X-Actor-ID headers")
	}

	api := httpapi.NewServer(eng, gateway, authn, logger.With("component", "http"))
	if fleet != nil {
		api.WithFleet(fleet)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("order-engine listening", "addr", cfg.HTTPAddr)
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	gateway.Close()
	err := srv.Shutdown(shutdownCtx)
	scheduler.Stop(shutdownCtx)
	return err
}
