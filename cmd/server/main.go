package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aman-churiwal/request-governance/internal/cache"
	"github.com/aman-churiwal/request-governance/internal/circuitbreaker"
	"github.com/aman-churiwal/request-governance/internal/config"
	"github.com/aman-churiwal/request-governance/internal/healthcheck"
	"github.com/aman-churiwal/request-governance/internal/logger"
	"github.com/aman-churiwal/request-governance/internal/ratelimit"
	"github.com/aman-churiwal/request-governance/internal/repository"
	"github.com/aman-churiwal/request-governance/internal/server"
	"github.com/aman-churiwal/request-governance/internal/service"
	"github.com/aman-churiwal/request-governance/internal/storage"
)

type statsBackend interface {
	ratelimit.Recorder
	ratelimit.StatsReader
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", logger.Error(err))
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Environment)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}

	log.Info("server exited")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		base   storage.Store
		stats  statsBackend
		probes []healthcheck.Probe
	)

	switch cfg.Storage.Driver {
	case config.DriverRedis:
		rc, err := storage.NewRedis(ctx, cfg.Redis.Storage())
		if err != nil {
			return err
		}
		defer rc.Close()

		log.Info("connected to redis")

		base = rc
		stats = ratelimit.NewRedisStats(rc.Client(),
			ratelimit.WithStatsPrefix(cfg.Stats.Prefix),
			ratelimit.WithStatsTTL(cfg.Stats.TTL),
		)
		probes = append(probes, healthcheck.Probe{Name: "redis", Check: rc.Ping})
	default:
		log.Warn("using the in-memory store, counters are not shared between instances")

		base = storage.NewMemoryStore()
		stats = ratelimit.NewMemoryStats()
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "store",
		MaxFailures: cfg.Breaker.MaxFailures,
		Timeout:     cfg.Breaker.Timeout,
		IsFailure:   storage.IsStoreFailure,
		Logger:      log,
	})
	store := storage.WithBreaker(base, breaker)

	limiterOpts := []ratelimit.Option{ratelimit.WithLogger(log)}
	var statsReader ratelimit.StatsReader
	if cfg.Stats.Enabled {
		limiterOpts = append(limiterOpts, ratelimit.WithStats(stats))
		statsReader = stats
	}

	limits, err := ratelimit.NewRegistry(store, cfg.RateLimits, limiterOpts...)
	if err != nil {
		return err
	}

	cacheStore := cache.New(store,
		cache.WithLogger(log),
		cache.WithDefaultTTL(cfg.Cache.TTL),
	)

	deps := server.Deps{
		Config:  cfg,
		Logger:  log,
		Limits:  limits,
		Cache:   cacheStore,
		Stats:   statsReader,
		Breaker: breaker,
	}

	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgres(cfg.Database.Postgres(!cfg.IsProduction()))
		if err != nil {
			return err
		}
		defer pg.Close()

		if cfg.Database.AutoMigrate {
			if err := pg.AutoMigrate(); err != nil {
				return err
			}
		}

		log.Info("connected to postgres")

		repo := repository.NewUserRepository(pg)
		deps.Auth = service.NewAuthService(repo, cfg.JWT.Secret, cfg.JWT.Expiry)
		deps.Users = service.NewUserService(repo, deps.Auth, cacheStore)
		probes = append(probes, healthcheck.Probe{Name: "postgres", Check: pg.Ping})
	}

	checker := healthcheck.NewChecker(healthcheck.Config{
		Probes: probes,
		Logger: log,
	})
	checker.Start(ctx)
	defer checker.Stop()
	deps.Checker = checker

	srv, err := server.New(deps)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Run(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
