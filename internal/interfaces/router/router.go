package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartfolio-backend/internal/application/gateway"
	"smartfolio-backend/internal/application/insights"
	"smartfolio-backend/internal/application/narrative"
	"smartfolio-backend/internal/application/portfolios"
	"smartfolio-backend/internal/application/pricing"
	"smartfolio-backend/internal/application/sharing"
	"smartfolio-backend/internal/application/valuation"
	"smartfolio-backend/internal/config"
	"smartfolio-backend/internal/health"
	"smartfolio-backend/internal/infrastructure/database"
	"smartfolio-backend/internal/infrastructure/scheduler"
	healthhandler "smartfolio-backend/internal/interfaces/handlers/health"
	insighthandler "smartfolio-backend/internal/interfaces/handlers/insights"
	portfoliohandler "smartfolio-backend/internal/interfaces/handlers/portfolios"
	"smartfolio-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	quoteTimeout = 10 * time.Second
	probeSymbol  = "AAPL"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Services is everything CreateApp wired, for entry points that need more than the HTTP app.
type Services struct {
	DB         *gorm.DB
	Rdb        *redis.Client
	Prices     pricing.Provider
	Narrator   narrative.Narrator
	Portfolios *portfolios.Service
	Shares     *sharing.Service
	Insights   *insights.Cache
	Gateway    *gateway.Gateway
}

// NewPriceProvider picks the quote source from config and fronts it with the Redis quote cache
// when Redis is available.
func NewPriceProvider(cfg *config.Config, rdb *redis.Client) pricing.Provider {
	var p pricing.Provider
	switch cfg.PriceProvider {
	case "twelvedata":
		p = pricing.NewTwelveData(cfg.TwelveDataURL, cfg.TwelveDataAPIKey, quoteTimeout)
	default:
		p = pricing.NewSimulated(cfg.PriceSeed)
	}
	if rdb != nil && cfg.PriceCacheTTL > 0 {
		p = &pricing.Cached{Inner: p, Rdb: rdb, TTL: cfg.PriceCacheTTL}
	}
	return p
}

// NewNarrator picks the narrative provider. A provider without credentials degrades to
// narrative.Unavailable so every insight takes the fallback path.
func NewNarrator(ctx context.Context, cfg *config.Config) narrative.Narrator {
	switch cfg.NarrativeProvider {
	case "openai":
		if cfg.OpenAIAPIKey != "" {
			return narrative.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		}
		log.Warn().Msg("OPENAI_API_KEY not set, narrative insights disabled")
	case "gemini":
		if cfg.GeminiAPIKey != "" {
			g, err := narrative.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
			if err == nil {
				return g
			}
			log.Error().Err(err).Msg("gemini client init failed, narrative insights disabled")
		} else {
			log.Warn().Msg("GEMINI_API_KEY not set, narrative insights disabled")
		}
	}
	return narrative.Unavailable{}
}

// NewServices builds the application services on top of an open database.
func NewServices(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Services {
	prices := NewPriceProvider(cfg, rdb)
	narrator := NewNarrator(ctx, cfg)

	s := &Services{
		DB:         db,
		Rdb:        rdb,
		Prices:     prices,
		Narrator:   narrator,
		Portfolios: &portfolios.Service{DB: db},
		Shares:     &sharing.Service{DB: db, BaseURL: cfg.ShareBaseURL},
		Insights: &insights.Cache{
			DB:       db,
			Narrator: narrator,
			TTL:      cfg.InsightTTL,
			Timeout:  cfg.NarrativeTimeout,
		},
	}
	s.Gateway = &gateway.Gateway{
		Portfolios:  s.Portfolios,
		Shares:      s.Shares,
		Valuation:   &valuation.Aggregator{Prices: prices},
		Insights:    s.Insights,
		Narrator:    narrator,
		ChatTimeout: cfg.NarrativeTimeout,
	}
	log.Info().Str("prices", prices.Name()).Str("narrator", narrator.Name()).Msg("services wired")
	return s
}

// ScheduleMaintenance registers the background jobs on sch.
func ScheduleMaintenance(sch *scheduler.Scheduler, cfg *config.Config, s *Services) error {
	if cfg.PriceRefreshInterval > 0 {
		err := sch.NewIntervalJob("refresh-last-known-prices", func(ctx context.Context) error {
			_, err := s.Portfolios.RefreshLastKnownPrices(ctx, s.Prices)
			return err
		}, cfg.PriceRefreshInterval, false)
		if err != nil {
			return err
		}
	}
	if cfg.VisibilityReconcileInterval > 0 {
		err := sch.NewIntervalJob("reconcile-share-visibility", func(ctx context.Context) error {
			n, err := s.Shares.ReconcileVisibility(ctx)
			if n > 0 {
				log.Info().Int64("portfolios", n).Msg("share visibility reconciled")
			}
			return err
		}, cfg.VisibilityReconcileInterval, true)
		if err != nil {
			return err
		}
	}
	return nil
}

func openRedis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// CreateApp opens the stores, wires the services and mounts every route.
func CreateApp(cfg *config.Config) (*fiber.App, *Services, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("no database URL configured for " + cfg.Env)
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	s := NewServices(context.Background(), cfg, db, rdb)
	return Mount(cfg, s), s, nil
}

// Mount builds the Fiber app around already wired services.
func Mount(cfg *config.Config, s *Services) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.NewErrorHandler(s.Rdb),
		EnableTrustedProxyCheck: true,
		ProxyHeader:             cfg.ProxyHeader,
		TrustedProxies:          cfg.TrustedProxies,
		EnableIPValidation:      true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix:  cfg.FrontendURLEndsWith,
		DevPassword:    cfg.DevPassword,
		AllowLocalhost: !cfg.IsProduction() || cfg.AllowCrossSiteDev,
	}))
	app.Use(middleware.Tracing())
	app.Use(middleware.HealthMarker(s.Rdb))
	app.Use(middleware.RouteLogger())
	app.Use(middleware.Session(s.Rdb))

	hh := &healthhandler.Handlers{
		Rdb:            s.Rdb,
		DB:             &gormDBPinger{db: s.DB},
		HealthAdminKey: cfg.HealthAdminKey,
		Probes: map[string]health.Probe{
			"prices": func(ctx context.Context) error {
				_, err := s.Prices.Lookup(ctx, []string{probeSymbol})
				return err
			},
		},
	}
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	ph := &portfoliohandler.Handlers{Service: s.Portfolios, Shares: s.Shares, Insights: s.Insights}
	pg := app.Group("/api/v1/portfolios", middleware.RequireAuth())
	pg.Post("/", ph.Create)
	pg.Get("/", ph.List)
	pg.Get("/public", ph.ListPublic)
	pg.Get("/:id", ph.Get)
	pg.Put("/:id", ph.Update)
	pg.Post("/:id/share", ph.Share)
	pg.Delete("/:id/share", ph.Revoke)
	pg.Get("/:id/share/analytics", ph.Analytics)
	pg.Get("/:id/share/analytics/export", ph.ExportAnalytics)
	pg.Get("/:id/insights/history", ph.InsightHistory)

	// Session or token; the gateway enforces which.
	ih := &insighthandler.Handlers{Gateway: s.Gateway}
	app.Get("/api/v1/insights/:portfolioId", ih.Snapshot)
	app.Post("/api/v1/insights/:portfolioId/chat", ih.Chat)
	app.Get("/api/v1/shared", ih.Shared)

	return app
}
