package routes

import (
	controller "coldreach/controllers"
	"coldreach/middleware"
	"coldreach/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SetupTrackingRoutes registers the public engagement endpoints. They are
// unauthenticated (mail clients hit them) but rate limited.
func SetupTrackingRoutes(app *fiber.App, db *gorm.DB, suppression *utils.SuppressionList,
	notifier utils.Notifier, appLogger *logrus.Logger) {

	trackingController := controller.NewTrackingController(db, suppression, notifier, appLogger)

	track := app.Group("/track", middleware.TrackingRateLimiter())
	track.Get("/open/:token", trackingController.HandleOpen)
	track.Get("/click/:token", trackingController.HandleClick)
	track.Get("/unsubscribe/:token", trackingController.HandleUnsubscribe)
}

// SetupAPIRoutes registers the authenticated sequence management API and the
// event websocket.
func SetupAPIRoutes(app *fiber.App, db *gorm.DB, hub *controller.EventHub, appLogger *logrus.Logger) {
	sequenceController := controller.NewSequenceController(db, appLogger)

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	sequences := api.Group("/sequences")
	sequences.Post("/", sequenceController.CreateSequence)
	sequences.Get("/", sequenceController.ListSequences)
	sequences.Get("/:id", sequenceController.GetSequence)
	sequences.Post("/:id/start", sequenceController.StartSequence)
	sequences.Post("/:id/pause", sequenceController.PauseSequence)
	sequences.Post("/:id/leads", sequenceController.EnrollLead)

	// Event stream. The upgrade check runs after Protected, so the user is
	// already resolved into locals by the time the socket opens.
	app.Use("/ws", middleware.Protected(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(hub.HandleEvents))
}
