package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// listDeviceIDs implements list_device_ids.
func (a *App) listDeviceIDs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"device_ids": a.Core.ListDeviceIDs()})
}

// getDeviceOnline implements get_device_online.
func (a *App) getDeviceOnline(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")
	online, known := a.Core.GetDeviceOnline(deviceID)
	if !known {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown device"})
	}
	return c.JSON(fiber.Map{"device_id": deviceID, "online": online})
}

// readValue implements read_value.
func (a *App) readValue(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")
	tagID := c.Params("tag_id")
	v := a.Core.ReadValue(deviceID, tagID)
	return c.JSON(fiber.Map{"device_id": deviceID, "tag_id": tagID, "value": v.Any()})
}

// readAllValues implements read_all_values.
func (a *App) readAllValues(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")
	values := a.Core.ReadAllValues(deviceID)
	out := make(fiber.Map, len(values))
	for tag, v := range values {
		out[tag] = v.Any()
	}
	return c.JSON(fiber.Map{"device_id": deviceID, "values": out})
}

// getVariableDefinitions implements get_variable_definitions.
func (a *App) getVariableDefinitions(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")
	tpl, ok := a.Templates[deviceID]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown device"})
	}
	infos, err := tpl.VariableInfos()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"device_id": deviceID, "variables": infos})
}

// getActionDefinitions implements get_action_definitions.
func (a *App) getActionDefinitions(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")
	tpl, ok := a.Templates[deviceID]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown device"})
	}
	actions, err := tpl.Actions()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"device_id": deviceID, "actions": actions})
}

// invokeActionRequest is invoke_action's JSON body.
type invokeActionRequest struct {
	Value interface{} `json:"value"`
}

// invokeAction implements invoke_action, guarded by JWT auth when
// enabled.
func (a *App) invokeAction(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")
	action := c.Params("action")

	var req invokeActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	if err := a.Core.InvokeAction(ctx, deviceID, action, req.Value); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"device_id": deviceID, "action": action, "status": "ok"})
}

// healthz reports the aggregate health status, registered checks
// included.
func (a *App) healthz(c *fiber.Ctx) error {
	status := a.Health.GetOverallStatus()
	code := fiber.StatusOK
	if status != "healthy" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": a.Health.GetCheckResults(),
	})
}

// metrics renders the performance monitor in Prometheus exposition
// format.
func (a *App) metrics(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/plain; version=0.0.4")
	return c.SendString(a.Monitor.PrometheusFormat())
}

// configDump renders the effective, secret-redacted configuration as
// YAML, for operators debugging a running gateway.
func (a *App) configDump(c *fiber.Ctx) error {
	out, err := a.Config.Dump()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set("Content-Type", "application/yaml")
	return c.Send(out)
}
