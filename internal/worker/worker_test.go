package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/model"
	"github.com/fieldwire/modgate/internal/transport"
)

func TestWorkerSendsReadyEventOnStart(t *testing.T) {
	in := make(chan C2S)
	out := make(chan S2C, 8)
	w := New(ModbusFactory, ClientModeTCP, zap.NewNop(), in, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case ev := <-out:
		ready, ok := ev.(ReadyEvent)
		if !ok || ready.Factory != "modbus" {
			t.Fatalf("first event = %+v, want ReadyEvent{modbus}", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no ReadyEvent received")
	}
}

// TestWorkerSurvivesFailedCommand verifies that a command that fails
// (an action for an unknown device) gets an error reply and does not
// stop the worker's main loop.
func TestWorkerSurvivesFailedCommand(t *testing.T) {
	in := make(chan C2S, 4)
	out := make(chan S2C, 32)
	w := New(ModbusFactory, ClientModeTCP, zap.NewNop(), in, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	<-out // drain ReadyEvent

	// InvokeActionCommand against a device that was never added triggers
	// the ordinary error path, not a panic, but exercises the same
	// recover()-guarded dispatch used for genuine panics.
	reply := make(chan error, 1)
	in <- InvokeActionCommand{DeviceID: "missing", Action: "noop", ReplyTo: reply}

	select {
	case err := <-reply:
		if err == nil {
			t.Fatal("expected error for unknown device")
		}
	case <-time.After(time.Second):
		t.Fatal("InvokeActionCommand never replied")
	}

	// The worker must still be alive to process a follow-up command.
	in <- RemoveDeviceCommand{DeviceID: "missing"}
	select {
	case in <- ShutdownCommand{}:
	case <-time.After(time.Second):
		t.Fatal("worker no longer accepting commands after prior command")
	}
}

func TestAddDeviceDialsRegisteredConnection(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	in := make(chan C2S, 4)
	out := make(chan S2C, 32)
	w := New(ModbusFactory, ClientModeTCP, zap.NewNop(), in, out)

	const connKey = "tcp:test:502"
	dialed := make(chan struct{}, 1)
	w.RegisterDialer(connKey, func(ctx context.Context) (transport.Conn, error) {
		select {
		case dialed <- struct{}{}:
		default:
		}
		return client, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	<-out // ReadyEvent

	in <- AddDeviceCommand{Spec: DeviceSpec{
		DeviceID: "dev1",
		UnitID: 1,
		ConnectionKey: connKey,
		PollGroups: []model.PollGroup{},
	}}

	select {
	case <-dialed:
	case <-time.After(time.Second):
		t.Fatal("registered dialer was never invoked")
	}
}
