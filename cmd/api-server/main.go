package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/princedwivedi2/pet-help-backend/internal/api"
	"github.com/princedwivedi2/pet-help-backend/internal/appointment"
	"github.com/princedwivedi2/pet-help-backend/internal/clock"
	"github.com/princedwivedi2/pet-help-backend/internal/config"
	"github.com/princedwivedi2/pet-help-backend/internal/db"
	"github.com/princedwivedi2/pet-help-backend/internal/logging"
	"github.com/princedwivedi2/pet-help-backend/internal/notify"
	"github.com/princedwivedi2/pet-help-backend/internal/observability"
	redisclient "github.com/princedwivedi2/pet-help-backend/internal/redis"
	"github.com/princedwivedi2/pet-help-backend/internal/vet"
)

var version = "dev"

func main() {
	migrate := flag.Bool("migrate", false, "apply embedded schema migrations before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	if err := run(cfg, logger, *migrate); err != nil {
		logger.Fatal().Err(err).Msg("api-server stopped with error")
	}
	logger.Info().Msg("api-server shut down")
}

func run(cfg config.Config, logger zerolog.Logger, migrate bool) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(rootCtx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	if migrate {
		applied, err := db.Migrate(rootCtx, pgPool)
		if err != nil {
			return err
		}
		logger.Info().Strs("applied", applied).Msg("migrations complete")
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		return err
	}

	deps := appointment.Deps{
		Repo:   appointment.NewPgRepository(pgPool),
		Vets:   vet.NewPgDirectory(pgPool),
		Clock:  clock.System{},
		Logger: logger,
	}
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		deps.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		if cfg.SlotCacheTTL > 0 {
			deps.Cache = redisclient.NewSlotCache(rdb, cfg.SlotCacheTTL)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	} else {
		logger.Warn().Msg("redis not configured, booking relies on database locking only")
	}

	dispatchers := notify.Multi{
		notify.NewLogDispatcher(logger),
		notify.NewEventLogDispatcher(pgPool),
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := notify.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.NotifyTopic)
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing kafka writer")
			}
		}()
		dispatchers = append(dispatchers, kafka)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.NotifyTopic).Msg("kafka notifications enabled")
	}
	deps.Notifier = dispatchers

	svc := appointment.NewService(deps, cfg)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:  svc,
			PgPool:   pgPool,
			Redis:    rdb,
			Location: cfg.Location(),
			Logger:   logger,
			Env:      cfg.Env,
			Version:  version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-rootCtx.Done():
	}

	logger.Info().Msg("shutting down api-server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
