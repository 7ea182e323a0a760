package router

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/MockupSuite/app/controllers"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/middleware"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
)

type ApiRouter struct {
	deps *controllers.Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetInt("API_RATE_LIMIT", 120),
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if uid := usercontext.GetUserID(c); uid != 0 {
				return fmt.Sprintf("user:%d", uid)
			}
			return c.IP()
		},
	}))
	v1 := api.Group("/v1")

	// public auth endpoints
	v1.Post("/auth/signup", controllers.HandleSignup)
	v1.Post("/auth/signin", controllers.HandleSignin)
	v1.Post("/auth/token", controllers.HandleIssueToken)

	authed := v1.Group("", middleware.APIAuth(middleware.APIAuthConfig{
		Secret: h.deps.TokenSecret,
		Users:  h.deps.Repos.User,
	}))
	authed.Post("/auth/signout", middleware.RequireAPISessionAuth, controllers.HandleSignout)
	authed.Get("/auth/me", controllers.HandleMe)

	authed.Get("/integrations", controllers.HandleListIntegrations)
	authed.Post("/integrations/:slug/connect", controllers.HandleConnect)
	authed.Get("/integrations/:slug/handshake/:state", controllers.HandleAwaitHandshake)
	authed.Post("/integrations/:slug/handshake/:state/close", controllers.HandleCloseHandshake)
	authed.Delete("/integrations/:slug", controllers.HandleDisconnect)
	authed.Post("/integrations/:slug/sync", controllers.HandleSync)

	authed.Get("/quota", controllers.HandleQuotaSummary)
	authed.Post("/quota/check", controllers.HandleQuotaCheck)

	authed.Post("/generate/image", controllers.HandleGenerateImages)
	authed.Post("/generate/video", controllers.HandleGenerateVideo)
	authed.Post("/generate/background-removal", controllers.HandleRemoveBackground)

	authed.Post("/payments/checkout", middleware.RequireAPISessionAuth, controllers.HandleCheckoutStart)
	authed.Get("/payments/status", middleware.RequireAPISessionAuth, controllers.HandlePaymentStatus)

	authed.Post("/handoff/view", controllers.HandleSaveView)
	authed.Get("/handoff/view", controllers.HandleRestoreView)
	authed.Post("/handoff/upload", controllers.HandleStashUpload)
	authed.Get("/handoff/upload", controllers.HandleClaimUpload)

	authed.Post("/migration", controllers.HandleMigration)
	authed.Get("/assets/signed-url", controllers.HandleSignedURL)

	authed.Get("/projects", controllers.HandleListProjects)
	authed.Post("/projects", controllers.HandleCreateProject)
	authed.Get("/projects/:id", controllers.HandleGetProject)
	authed.Put("/projects/:id", controllers.HandleUpdateProject)
	authed.Delete("/projects/:id", controllers.HandleDeleteProject)

	authed.Get("/templates", controllers.HandleListTemplates)
	authed.Post("/templates", controllers.HandleCreateTemplate)
	authed.Put("/templates/:id", controllers.HandleUpdateTemplate)
	authed.Delete("/templates/:id", controllers.HandleDeleteTemplate)
}

func NewApiRouter(deps *controllers.Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
