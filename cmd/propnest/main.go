package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PropNest/app/controllers"
	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/app/repository/memory"
	"github.com/ManuelReschke/PropNest/internal/pkg/archive"
	"github.com/ManuelReschke/PropNest/internal/pkg/billing"
	"github.com/ManuelReschke/PropNest/internal/pkg/cache"
	"github.com/ManuelReschke/PropNest/internal/pkg/catalog"
	"github.com/ManuelReschke/PropNest/internal/pkg/config"
	"github.com/ManuelReschke/PropNest/internal/pkg/coupon"
	"github.com/ManuelReschke/PropNest/internal/pkg/database"
	"github.com/ManuelReschke/PropNest/internal/pkg/env"
	"github.com/ManuelReschke/PropNest/internal/pkg/gateway"
	"github.com/ManuelReschke/PropNest/internal/pkg/idempotency"
	"github.com/ManuelReschke/PropNest/internal/pkg/ledger"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
	"github.com/ManuelReschke/PropNest/internal/pkg/router"
	"github.com/ManuelReschke/PropNest/internal/pkg/subscription"
	"github.com/ManuelReschke/PropNest/internal/pkg/webhook"
)

func main() {
	app, cfg := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *config.Config) {
	env.SetupEnvFile()
	cfg := config.Load()

	zl, err := logger.Setup(cfg.App.IsDev())
	if err != nil {
		log.Fatalf("could not set up logger: %v", err)
	}
	// secrets must be present before the first webhook arrives
	if err := cfg.Validate(); err != nil {
		zl.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	store := setupStore(cfg, zl)
	cacheClient := cache.SetupCache(cfg.Cache, zl)

	gateways, err := setupGateways(cfg.Gateway)
	if err != nil {
		zl.Fatal("invalid payment gateway configuration", zap.Error(err))
	}
	archiver, err := archive.New(ctx, cfg.Archive, zl.Named("archive"))
	if err != nil {
		zl.Fatal("could not set up invoice archive", zap.Error(err))
	}

	subs := subscription.NewManager(nil, zl.Named("subscription"))
	ldg := ledger.New(store, gateways, subs, ledger.WithArchiver(archiver), ledger.WithLogger(zl.Named("ledger")))
	plans := catalog.New(store.Repos().Plan, cache.NewStore(cacheClient, "catalog:"), cfg.Cache.CatalogTTL, zl.Named("catalog"))
	svc := billing.NewService(billing.Deps{
		Store:    store,
		Catalog:  plans,
		Coupons:  coupon.NewEngine(nil),
		Manager:  subs,
		Ledger:   ldg,
		Gateways: gateways,
		Logger:   zl.Named("billing"),
	})

	// init fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: controllers.ErrorHandler,
		BodyLimit:    1 << 20,
	})

	// recovery, request ids and logging
	app.Use(recover.New(), requestid.New(requestid.Config{Generator: uuid.NewString}), fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} - ${latency} ${method} ${path} ${locals:requestid}\n",
	}))

	// fiber metrics
	if cfg.App.MetricsPassword != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				cfg.App.MetricsUser: cfg.App.MetricsPassword,
			},
		}), monitor.New())
	}

	// SWAGGER / OPENAPI
	if specPath, ok := findOpenAPISpec(); ok {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	} else {
		zl.Warn("openapi document not found, /docs/api/v1 disabled")
	}

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Billing:    svc,
		Catalog:    plans,
		Reconciler: webhook.NewReconciler(store, gateways, ldg, subs, zl.Named("webhook")),
		Gateways:   gateways,
		Guard:      setupIdempotency(cfg, store, cacheClient),
		RateLimit: router.RateLimit{
			Max:        cfg.RateLimit.Max,
			Expiration: cfg.RateLimit.Expiration,
			Storage:    setupLimiterStorage(cfg.Cache),
		},
		Logger: zl,
	})

	return app, cfg
}

func setupStore(cfg *config.Config, zl *zap.Logger) repository.Store {
	if cfg.DB.Driver == config.DriverMemory {
		zl.Warn("using the in-memory store, data is lost on restart")
		return memory.New()
	}
	db, err := database.SetupDatabase(cfg.DB, zl)
	if err != nil {
		zl.Fatal("could not connect to database", zap.Error(err))
	}
	repository.InitializeFactory(db)
	return repository.GetGlobalFactory()
}

func setupGateways(cfg config.GatewayConfig) (*gateway.Registry, error) {
	clients := make([]gateway.Client, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		creds, _ := cfg.Credentials(name)
		switch name {
		case config.GatewayRazorpay:
			clients = append(clients, gateway.NewRazorpayClient(creds))
		case config.GatewaySandbox:
			clients = append(clients, gateway.NewSandboxClient(creds))
		default:
			return nil, fmt.Errorf("unknown payment gateway %q", name)
		}
	}
	return gateway.NewRegistry(cfg.Default, clients...), nil
}

func setupIdempotency(cfg *config.Config, store repository.Store, cacheClient *redis.Client) *idempotency.Guard {
	var backend idempotency.Backend
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendRedis:
		backend = idempotency.NewRedisBackend(cacheClient)
	default:
		backend = idempotency.NewDBBackend(store.Repos().Idempotency)
	}
	return idempotency.NewGuard(backend, idempotency.WithTTL(cfg.Idempotency.TTL))
}

// setupLimiterStorage shares rate limit counters between instances. Database
// 1 keeps them apart from the cache in database 0.
func setupLimiterStorage(cfg config.CacheConfig) fiber.Storage {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: 1,
		Reset:    false,
	})
}

func findOpenAPISpec() (string, bool) {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/propnest to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		file := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(file); err == nil {
			return file, true
		}
	}
	return "", false
}
