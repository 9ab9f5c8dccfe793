package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router installs a route group onto the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter wires all route groups.
func InstallRouter(app *fiber.App, routers ...Router) {
	for _, r := range routers {
		r.InstallRouter(app)
	}
}
