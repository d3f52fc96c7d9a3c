// Package worker isolates one protocol family's device sessions behind
// a crash-contained goroutine, talking to the gateway core over typed
// channels rather than shared memory.
package worker

import (
	"time"

	"github.com/fieldwire/modgate/internal/model"
)

// S2C messages flow from a worker to the gateway core (server-to-core).
type S2C interface{ isS2C() }

// ReadyEvent is the one-shot announcement a worker sends immediately
// after starting, before any device events.
type ReadyEvent struct {
	Factory string
}

func (ReadyEvent) isS2C() {}

// DeviceStatusEvent reports a device's online/offline transition.
type DeviceStatusEvent struct {
	DeviceID string
	Online bool
	At time.Time
}

func (DeviceStatusEvent) isS2C() {}

// UpdateEvent carries freshly-polled variable values for a device.
type UpdateEvent struct {
	DeviceID string
	Vars []model.Variable
}

func (UpdateEvent) isS2C() {}

// WriteAckEvent reports the outcome of a previously dispatched write.
type WriteAckEvent struct {
	DeviceID string
	Action string
	Err error
	At time.Time
}

func (WriteAckEvent) isS2C() {}

// PerformanceTimeEvent reports a named operation's duration, consumed by
// perfmon.
type PerformanceTimeEvent struct {
	Name string
	Duration time.Duration
}

func (PerformanceTimeEvent) isS2C() {}

// PerformanceCountEvent reports a named counter increment, consumed by
// perfmon.
type PerformanceCountEvent struct {
	Name string
	Delta int64
}

func (PerformanceCountEvent) isS2C() {}

// C2S messages flow from the gateway core to a worker (core-to-server).
type C2S interface{ isC2S() }

// DeviceSpec describes one device this worker should run a session for.
type DeviceSpec struct {
	DeviceID string
	UnitID byte
	// ConnectionKey identifies the transport pool entry this device's
	// channel session dials through, e.g. "tcp:10.0.0.5:502".
	ConnectionKey string
	PollGroups []model.PollGroup
	Actions map[string]model.Push
}

// AddDeviceCommand tells the worker to start (or replace) a device
// session.
type AddDeviceCommand struct {
	Spec DeviceSpec
}

func (AddDeviceCommand) isC2S() {}

// RemoveDeviceCommand tells the worker to stop a device session.
type RemoveDeviceCommand struct {
	DeviceID string
}

func (RemoveDeviceCommand) isC2S() {}

// InvokeActionCommand asks the worker to dispatch a write for
// DeviceID/Action with Value, reporting the outcome via ReplyTo.
type InvokeActionCommand struct {
	DeviceID string
	Action string
	Value interface{}
	ReplyTo chan error
}

func (InvokeActionCommand) isC2S() {}

// ShutdownCommand asks the worker to stop every session and exit.
type ShutdownCommand struct{}

func (ShutdownCommand) isC2S() {}
