package main // Entry point package

import (
	"log"      // Logging for startup failures
	"log/slog" // Structured logging for the sync subsystem
	"os"

	"github.com/joho/godotenv" // Loads .env files in development
	"github.com/labstack/echo/v4"

	"github.com/gitshone/ht-cal-01-sub000/internal/config"
	"github.com/gitshone/ht-cal-01-sub000/internal/database"
	"github.com/gitshone/ht-cal-01-sub000/internal/handler"
	"github.com/gitshone/ht-cal-01-sub000/internal/jobs"
	"github.com/gitshone/ht-cal-01-sub000/internal/middleware"
	"github.com/gitshone/ht-cal-01-sub000/internal/provider"
	"github.com/gitshone/ht-cal-01-sub000/internal/queue"
	"github.com/gitshone/ht-cal-01-sub000/internal/repository"
	"github.com/gitshone/ht-cal-01-sub000/internal/router"
	queue_publisher "github.com/gitshone/ht-cal-01-sub000/internal/service"
	syncpkg "github.com/gitshone/ht-cal-01-sub000/internal/sync"
	"github.com/gitshone/ht-cal-01-sub000/internal/ws"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment directly
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, database.Pool{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Repositories over the shared pool.
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	events := repository.NewEventRepo(db)
	integrations := repository.NewIntegrationRepo(db)
	syncJobs := repository.NewSyncJobRepo(db)
	settings := repository.NewSettingsRepo(db)

	// Only providers with complete OAuth credentials are registered.
	var adapters []provider.Adapter
	if cfg.Google.Enabled() {
		adapters = append(adapters, provider.NewGoogle(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL, logger))
	}
	if cfg.Microsoft.Enabled() {
		adapters = append(adapters, provider.NewMicrosoft(cfg.Microsoft.ClientID, cfg.Microsoft.ClientSecret, cfg.Microsoft.RedirectURL, cfg.Microsoft.Tenant, logger))
	}
	if cfg.Zoom.Enabled() {
		adapters = append(adapters, provider.NewZoom(cfg.Zoom.ClientID, cfg.Zoom.ClientSecret, cfg.Zoom.RedirectURL, logger))
	}
	if len(adapters) == 0 {
		logger.Warn("no calendar providers configured; connect endpoints will reject all requests")
	}
	registry := provider.NewRegistry(adapters...)

	orch := syncpkg.NewOrchestrator(events, integrations, registry, logger, cfg.ProviderTimeout)
	hub := ws.NewHub(cfg.JWTSecret)
	publisher := queue_publisher.New(cfg.RabbitURL)
	tracker := jobs.NewTracker(syncJobs, hub, publisher, logger, cfg.JobTimeout)

	// The audit consumer keeps its own reconnect loop alive for the whole
	// process lifetime.
	go func() {
		if err := queue.StartSyncAuditConsumer(); err != nil {
			log.Printf("sync audit consumer stopped: %v", err)
		}
	}()

	e := echo.New()

	// Redis-backed rate limiting and response caching; both degrade to
	// no-ops when Redis is unreachable.  They are attached per route group
	// behind JWTAuth, never globally: the cache and the limiter key by the
	// authenticated user, which only exists after the JWT middleware ran.
	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting and response cache disabled")
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	respCache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	router.RegisterRoutes(e)

	authHandler := handler.NewAuthHandler(cfg, users, tokens)
	router.RegisterAuth(e, authHandler, cfg.JWTSecret, limiter)

	eventHandler := handler.NewEventHandler(events, integrations, settings, registry, tracker, logger)
	integrationHandler := handler.NewIntegrationHandler(integrations, settings, registry, tracker, orch, cfg.SyncWindowMonths, logger)
	settingsHandler := handler.NewSettingsHandler(settings)
	router.RegisterCalendar(e, eventHandler, integrationHandler, settingsHandler, hub, cfg.JWTSecret, limiter, respCache)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
