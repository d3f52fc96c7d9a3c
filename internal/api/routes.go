package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fieldwire/modgate/internal/api/middleware"
)

// Register mounts every façade route on app.
func (a *App) Register(app *fiber.App) {
	app.Get("/healthz", a.healthz)
	app.Get("/metrics", a.metrics)
	app.Get("/debug/config", a.configDump)

	api := app.Group("/api/v1")
	api.Get("/devices", a.listDeviceIDs)
	api.Get("/devices/:device_id/online", a.getDeviceOnline)
	api.Get("/devices/:device_id/values", a.readAllValues)
	api.Get("/devices/:device_id/values/:tag_id", a.readValue)
	api.Get("/devices/:device_id/variables", a.getVariableDefinitions)
	api.Get("/devices/:device_id/actions", a.getActionDefinitions)

	invoke := api.Group("/devices/:device_id/actions/:action")
	if a.AuthEnabled {
		invoke.Use(middleware.JWTMiddleware(a.JWTConfig))
	}
	invoke.Post("/invoke", a.invokeAction)

	app.Use("/ws/value/:device_id/:tag_id", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/value/:device_id/:tag_id", websocket.New(a.handleListenValue))

	app.Use("/ws/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(a.Hub.HandleWebSocket))
}

// handleListenValue implements listen_value: each connection
// subscribes directly to gateway.Core's per-tag broadcast, bypassing
// the event hub since it is already scoped to one (device_id, tag_id).
func (a *App) handleListenValue(c *websocket.Conn) {
	deviceID := c.Params("device_id")
	tagID := c.Params("tag_id")

	ch, unsubscribe := a.Core.ListenValue(deviceID, tagID)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(fiber.Map{"device_id": deviceID, "tag_id": tagID, "value": v.Any()}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
