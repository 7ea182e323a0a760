package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/MockupSuite/app/controllers"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/middleware"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/oauth"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/session"
)

type HttpRouter struct {
	deps *controllers.Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	store := session.NewSessionStore()

	// social login providers
	oauth.SetupLogin()

	app.Use(cors.New(cors.Config{
		AllowOrigins:     h.deps.AppOrigin,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-API-Key",
	}))
	app.Use(middleware.UserContextMiddleware(store, h.deps.Repos.User))

	metrics.Registry()
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", controllers.HandleHealth)

	// social login
	app.Get("/auth/:provider", gothfiber.BeginAuthHandler)
	app.Get("/auth/:provider/callback", controllers.HandleSocialCallback)

	// browser returns from providers and the payment gateway
	app.Get("/integrations/:slug/callback", controllers.HandleIntegrationCallback)
	app.Get("/payments/callback", controllers.HandlePaymentCallback)

	// signature-verified in the controller
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)
}

func NewHttpRouter(deps *controllers.Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
