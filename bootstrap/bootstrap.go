package bootstrap

import (
	"smartfolio-backend/internal/config"
	"smartfolio-backend/internal/interfaces/router"

	"github.com/gofiber/fiber/v2"
)

// New creates the Fiber app for serverless deployments (the api handler imports this package, not
// internal). Maintenance jobs are not started here; serverless instances do not live long enough.
func New() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	app, _, err := router.CreateApp(cfg)
	return app, err
}
