package health

import (
	"context"
	"fmt"

	"github.com/fieldwire/modgate/internal/gateway"
)

// DeviceOnlineHealthCheck reports degraded when some but not all
// configured devices are reporting online, and unhealthy when every
// configured device is offline.
func DeviceOnlineHealthCheck(core *gateway.Core) func(context.Context) (Status, string) {
	return func(ctx context.Context) (Status, string) {
		ids := core.ListDeviceIDs()
		if len(ids) == 0 {
			return StatusHealthy, "no devices configured"
		}

		online := 0
		for _, id := range ids {
			if isOnline, known := core.GetDeviceOnline(id); known && isOnline {
				online++
			}
		}

		switch {
		case online == len(ids):
			return StatusHealthy, fmt.Sprintf("%d/%d devices online", online, len(ids))
		case online == 0:
			return StatusUnhealthy, fmt.Sprintf("0/%d devices online", len(ids))
		default:
			return StatusDegraded, fmt.Sprintf("%d/%d devices online", online, len(ids))
		}
	}
}
