package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sugawarayuuta/sonnet"

	"github.com/smartcity/trafficcore/internal/service"
)

// NewApp creates the fiber app with the shared error handler and JSON codec.
// writeTimeout must outlast the verification wait of set_state_duration.
// In the production environment the startup banner is off and health checks
// are not logged.
func NewApp(writeTimeout time.Duration, env string) *fiber.App {
	production := env == "production"
	app := fiber.New(fiber.Config{
		AppName:               "TrafficCore API v1.0",
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          writeTimeout,
		ErrorHandler:          ErrorHandler,
		JSONEncoder:           sonnet.Marshal,
		JSONDecoder:           sonnet.Unmarshal,
		DisableStartupMessage: production,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Next: func(c *fiber.Ctx) bool {
			return production && c.Path() == "/health"
		},
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	return app
}

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, snapshots *service.SnapshotService, control *service.ControlService) {
	handler := NewHandler(snapshots, control)

	// Health check
	app.Get("/health", handler.HealthCheck)

	// API v1 routes
	api := app.Group("/api/v1")
	{
		api.Get("/status", handler.GetStatus)
		api.Get("/simulation/time", handler.GetSimulationTime)

		// Snapshot reads (never touch the simulation)
		api.Get("/edges/:id", handler.GetEdge)
		api.Get("/trafficlights/:id", handler.GetTrafficLight)
		api.Get("/junctions/:id", handler.GetJunctionMetrics)
		api.Get("/emergency-vehicles/:id", handler.GetEmergencyVehicle)
		api.Get("/events/active", handler.GetActiveEvents)
		api.Get("/events/logs", handler.GetEventLogs)

		// Live reads through the simulation gate
		api.Get("/junctions/:id/exists", handler.JunctionExists)
		api.Get("/vehicles/:id", handler.GetVehicleStatus)

		// Control
		api.Post("/trafficlights/set_duration", handler.SetDuration)
		api.Post("/trafficlights/set_state_duration", handler.SetStateDuration)
		api.Post("/events", handler.TriggerEvent)
	}
}
