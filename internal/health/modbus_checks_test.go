package health

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/gateway"
)

func TestDeviceOnlineHealthCheckNoDevices(t *testing.T) {
	core := gateway.New(zap.NewNop())
	defer core.Close()

	status, _ := DeviceOnlineHealthCheck(core)(context.Background())
	if status != StatusHealthy {
		t.Fatalf("status = %v, want healthy with no devices configured", status)
	}
}
