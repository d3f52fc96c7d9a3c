package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBackoffScheduleMatchesSpec(t *testing.T) {
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := BackoffFor(i + 1); got != w {
			t.Errorf("BackoffFor(%d) = %v, want %v", i+1, got, w)
		}
	}
	// Every attempt beyond the table holds at the final value.
	if got := BackoffFor(9); got != 30*time.Second {
		t.Errorf("BackoffFor(9) = %v, want 30s", got)
	}
}

func TestEntryConnectsAndReportsEvents(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	dialed := make(chan struct{}, 1)
	dial := func(ctx context.Context) (Conn, error) {
		select {
		case dialed <- struct{}{}:
		default:
		}
		return client, nil
	}

	events := make(chan Event, 16)
	connected := make(chan Conn, 1)
	entry := NewEntry("tcp:test:502", dial, zap.NewNop(), events, func(c Conn) {
		connected <- c
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go entry.Run(ctx)

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("onConnect was never called")
	}

	if entry.State() != StateConnected {
		t.Fatalf("state = %v, want Connected", entry.State())
	}

	var sawAttempt, sawSuccess bool
	drain := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventAttempt {
				sawAttempt = true
			}
			if ev.Kind == EventSuccess {
				sawSuccess = true
			}
		case <-drain:
			break loop
		}
	}
	if !sawAttempt || !sawSuccess {
		t.Fatalf("sawAttempt=%v sawSuccess=%v", sawAttempt, sawSuccess)
	}
}

func TestPoolAddIsIdempotentByKey(t *testing.T) {
	p := NewPool(zap.NewNop())
	defer p.Close()

	calls := 0
	dial := func(ctx context.Context) (Conn, error) {
		calls++
		return nil, errors.New("always fails")
	}
	ctx := context.Background()
	e1 := p.Add(ctx, "tcp:a:1", dial, func(Conn) {})
	e2 := p.Add(ctx, "tcp:a:1", dial, func(Conn) {})
	if e1 != e2 {
		t.Fatal("Add with the same key should return the same entry")
	}
	if len(p.Keys()) != 1 {
		t.Fatalf("Keys() = %v, want 1 entry", p.Keys())
	}
}
