package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MockupSuite/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, deps *controllers.Dependencies) {
	controllers.Initialize(deps)
	// HttpRouter first: it creates the session store and the global
	// UserContext middleware the API routes depend on.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
