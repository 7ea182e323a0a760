package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/MockupSuite/app/controllers"
	"github.com/ManuelReschke/MockupSuite/app/repository"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/billing"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/cache"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/database"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/genai"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/generation"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/handoff"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/integrations"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/middleware"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/migration"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/oauth"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/quota"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/router"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/storage"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/tokenvault"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// legacy exports carry inline images
	app := fiber.New(fiber.Config{
		BodyLimit: 200 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: findFile("docs/v1/openapi.yml"),
		Path:     "v1",
	}))

	deps, err := buildDependencies(context.Background())
	if err != nil {
		log.Fatalf("[Startup] %v", err)
	}

	// ROUTER
	router.InstallRouter(app, deps)

	return app
}

func buildDependencies(ctx context.Context) (*controllers.Dependencies, error) {
	if err := repository.InitializeFactory(database.GetDB()); err != nil {
		return nil, err
	}
	repos, err := repository.GlobalRepositories()
	if err != nil {
		return nil, err
	}
	rdb := cache.GetClient()

	vault, err := tokenvault.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("token vault: %w", err)
	}

	s3, err := storage.NewS3ClientFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	signedTTL := env.GetDuration("S3_SIGNED_URL_TTL", time.Hour)
	store := storage.NewSignedURLCache(s3, signedTTL, cache.SystemClock)

	provider, err := genai.NewClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}

	quotas := quota.NewService(repos.Quota)
	gen := generation.NewService(quotas, provider, store, repos.Mockup, repos.BrandKit).
		WithVideoTimeout(generation.VideoTimeoutFromEnv())

	gateway, err := billing.NewStripeGatewayFromEnv()
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	payments := billing.NewService(gateway, repos.Payment, quotas)

	catalog, err := integrations.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if err := catalog.Seed(ctx, repos.Integration); err != nil {
		return nil, fmt.Errorf("seed integrations: %w", err)
	}

	baseURL := env.AppURL()
	origin := env.GetEnv("APP_ORIGIN", baseURL)
	coordinator := oauth.NewCoordinator(repos.Integration, repos.Connection, repos.OAuthState, vault,
		oauth.ProvidersFromEnv(), baseURL,
		oauth.WithStateTTL(env.GetDuration("OAUTH_STATE_TTL", oauth.DefaultStateTTL)))
	coordinator.StartSweeper(ctx, env.GetDuration("OAUTH_SWEEP_INTERVAL", time.Minute))

	engine := integrations.NewEngine(repos.Integration, repos.Connection, repos.Product, vault, coordinator, store, catalog,
		integrations.WithParallelism(env.GetInt("SYNC_PARALLELISM", 4)))

	return &controllers.Dependencies{
		Repos:        repos,
		Catalog:      catalog,
		OAuth:        coordinator,
		Handshakes:   oauth.NewBroker(rdb, origin),
		Sync:         engine,
		Quota:        quotas,
		Generation:   gen,
		Billing:      payments,
		Handoff:      handoff.New(handoff.NewRedis(rdb), env.GetDuration("HANDOFF_TTL", handoff.DefaultTTL)),
		Migrator:     migration.NewMigrator(repos.Project, repos.Mockup, repos.BrandKit, repos.PromptTemplate, store),
		Storage:      store,
		TokenSecret:  middleware.TokenSecret(),
		TokenTTL:     env.GetDuration("JWT_TTL", middleware.DefaultTokenTTL),
		WebhookKey:   env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		BaseURL:      baseURL,
		AppOrigin:    origin,
		SignedURLTTL: signedTTL,
		AwaitTimeout: env.GetDuration("OAUTH_AWAIT_TIMEOUT", 25*time.Second),
	}, nil
}

// findFile resolves rel from the working directory or the repository root
// when started from cmd/mockupsuite.
func findFile(rel string) string {
	for _, base := range []string{"./", "../../"} {
		if _, err := os.Stat(base + rel); err == nil {
			return base + rel
		}
	}
	return rel
}
