package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/liveloop/backend/internal/auth"
	"github.com/liveloop/backend/internal/battle"
	"github.com/liveloop/backend/internal/config"
	"github.com/liveloop/backend/internal/db"
	"github.com/liveloop/backend/internal/handlers"
	"github.com/liveloop/backend/internal/leaderboard"
	"github.com/liveloop/backend/internal/middleware"
	"github.com/liveloop/backend/internal/presence"
	"github.com/liveloop/backend/internal/repositories"
	"github.com/liveloop/backend/internal/storage"
	"github.com/liveloop/backend/internal/ws"
)

// Runtime aggregates the handler dependencies together with the background
// collaborators that need an ordered shutdown.
type Runtime struct {
	Deps handlers.Dependencies

	reaper   *presence.Reaper
	archiver *battle.SummaryArchiver
	redis    *redis.Client
	logger   *slog.Logger
}

// buildRuntime wires together concrete implementations used by the HTTP handlers.
func buildRuntime(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	presenceRepo := repositories.NewPostgresPresenceRepository(pool)
	profileRepo := repositories.NewPostgresProfileRepository(pool)
	sessionRepo := repositories.NewPostgresSessionRepository(pool)
	scoreRepo := repositories.NewPostgresScoreRepository(pool)
	streamRepo := repositories.NewPostgresStreamRepository(pool)

	presenceService := presence.NewService(presenceRepo, profileRepo, cfg.StaleCutoff, cfg.ViewerListLimit)
	reaper := presence.NewReaper(presenceRepo, cfg.PresenceRetention, cfg.ReaperInterval, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	hubs := ws.NewManager(logger)

	battleService := battle.NewService(sessionRepo, scoreRepo, profileRepo).
		WithLeaderboard(leaderboard.NewRedis(redisClient, 24*time.Hour)).
		WithBroadcaster(hubs)

	rt := &Runtime{
		reaper: reaper,
		redis:  redisClient,
		logger: logger,
	}

	// Archival is optional: without a bucket the battle summary simply is
	// not persisted to object storage.
	if cfg.ObjectStore.Bucket != "" {
		store, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		archiver := battle.NewSummaryArchiver(store, battle.ArchiverConfig{
			QueueSize: cfg.ArchiveQueue,
			Workers:   cfg.ArchiveWorkers,
		}, logger)
		battleService.WithArchiver(archiver)
		rt.archiver = archiver
	}

	rt.Deps = handlers.Dependencies{
		Presence: presenceService,
		Battles:  battleService,
		Streams:  streamRepo,
		Profiles: profileRepo,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Guard:    auth.NewServiceKeyGuard(cfg.ServiceKey),
		Limiter:  middleware.NewIPRateLimiter(cfg.BattleRateLimit, time.Minute, cfg.BattleRateBurst, 5*time.Minute),
		Hubs:     hubs,
	}

	return rt, nil
}

// Start launches the background collaborators.
func (rt *Runtime) Start() {
	rt.reaper.Start()
}

// Shutdown drains the background collaborators in dependency order: the
// archiver first so queued summaries flush, then the reaper, then the
// leaderboard connection.
func (rt *Runtime) Shutdown(ctx context.Context) {
	if rt.archiver != nil {
		if err := rt.archiver.Shutdown(ctx); err != nil {
			rt.logger.Error("archiver shutdown failed", "error", err)
		}
	}
	if err := rt.reaper.Shutdown(ctx); err != nil {
		rt.logger.Error("reaper shutdown failed", "error", err)
	}
	if err := rt.redis.Close(); err != nil {
		rt.logger.Error("redis close failed", "error", err)
	}
}
