// Package api wires the gateway's façade: a small set of HTTP
// and WebSocket endpoints exposing list_device_ids, get_device_online,
// read_value, read_all_values, listen_value, listen_event<T>,
// get_variable_definitions, get_action_definitions, and invoke_action
// over gofiber.
package api

import (
	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/api/middleware"
	"github.com/fieldwire/modgate/internal/config"
	"github.com/fieldwire/modgate/internal/gateway"
	"github.com/fieldwire/modgate/internal/health"
	"github.com/fieldwire/modgate/internal/perfmon"
	"github.com/fieldwire/modgate/internal/websocket"
)

// App holds everything a façade handler needs: the gateway core, each
// device's template (for the definition endpoints), the event hub, the
// performance monitor, and the health checker.
type App struct {
	Core *gateway.Core
	Templates map[string]*config.TemplateConfig
	Hub *websocket.Hub
	Monitor *perfmon.Monitor
	Health *health.HealthChecker
	Logger *zap.Logger
	Config *config.Config

	AuthEnabled bool
	JWTConfig middleware.JWTConfig
}

// NewApp constructs a façade App. Templates maps device_id to the
// template that device was configured with.
func NewApp(core *gateway.Core, templates map[string]*config.TemplateConfig, hub *websocket.Hub, monitor *perfmon.Monitor, hc *health.HealthChecker, cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		Core: core,
		Templates: templates,
		Hub: hub,
		Monitor: monitor,
		Health: hc,
		Config: cfg,
		Logger: logger,
	}
}
