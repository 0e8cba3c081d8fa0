package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/funds/internal/config"
	"github.com/congo-pay/funds/internal/funds"
	"github.com/congo-pay/funds/internal/ledger"
	"github.com/congo-pay/funds/internal/metrics"
	"github.com/congo-pay/funds/internal/middleware"
	"github.com/congo-pay/funds/internal/notification"
	"github.com/congo-pay/funds/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.PrometheusCollector

	// Notifiers receive funds notifications in addition to the log notifier.
	Notifiers []notification.Notifier
}

// Setup configures middlewares and all application routes. Without a database the
// service runs on the in-memory store; without Redis idempotency replay is off.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	var collector metrics.Collector = metrics.NoOpCollector{}
	if d.Metrics != nil {
		collector = d.Metrics
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDevelopment() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	var responseCache *middleware.RedisResponseCache
	if d.Cache != nil {
		responseCache = middleware.NewRedisResponseCache(d.Cache, middleware.DefaultBreakerSettings(), collector, d.Logger)
	}

	RegisterHealthRoutes(app, d, responseCache)
	if d.Metrics != nil {
		RegisterMetricsRoute(app, d.Metrics)
	}

	// Backends
	var (
		store      ledger.Store
		walletRepo wallet.Repository
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB, d.Cfg.LockTimeout)
		walletRepo = wallet.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := ledger.NewMemoryStore(ledger.WithLockTimeout(d.Cfg.LockTimeout))
		store = mem
		walletRepo = mem
	}

	engine := ledger.NewEngine(store,
		ledger.WithLogger(d.Logger.With(slog.String("component", "ledger"))),
		ledger.WithMetrics(collector),
	)
	walletSvc := wallet.NewService(walletRepo)
	notifier := append(notification.Multi{notification.NewLoggerNotifier(d.Logger)}, d.Notifiers...)
	fundsSvc := funds.NewService(engine, walletSvc, notifier, d.Logger)

	walletHandler := wallet.NewHandler(walletSvc)
	fundsHandler := funds.NewHandler(fundsSvc)

	var mutating []fiber.Handler
	if d.Cache != nil && d.Cfg.RateLimitPerMinute > 0 {
		mutating = append(mutating, middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute, d.Logger))
	}
	if responseCache != nil {
		mutating = append(mutating, middleware.Idempotency(responseCache, d.Cfg.IdempotencyTTL, d.Logger, collector))
	}

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, walletHandler, fundsHandler)
	RegisterFundsRoutes(api, fundsHandler, mutating...)

	return nil
}
