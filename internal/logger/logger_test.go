package logger

import (
	"testing"
)

func TestInitAndGet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = ""
	if err := Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Get() == nil {
		t.Fatal("Get() returned nil after Init")
	}
}

func TestWithDeviceAppliesLevelOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = ""
	cfg.Level = "info"
	if err := Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	l := WithDevice("dev1", "debug")
	if l == nil {
		t.Fatal("WithDevice returned nil")
	}
	if !l.Core().Enabled(-1) { // zapcore.DebugLevel == -1
		t.Fatal("expected debug level to be enabled after override")
	}
}

func TestWithDeviceFallsBackOnInvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = ""
	if err := Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	l := WithDevice("dev1", "not-a-level")
	if l == nil {
		t.Fatal("WithDevice returned nil")
	}
}

func TestBroadcasterReceivesLogEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = ""
	if err := Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	received := make(chan string, 1)
	SetBroadcaster(func(level, message, source string, fields map[string]interface{}) {
		select {
		case received <- message:
		default:
		}
	})
	defer SetBroadcaster(nil)

	Get().Info("hello from test")

	select {
	case msg := <-received:
		if msg != "hello from test" {
			t.Fatalf("message = %q", msg)
		}
	default:
		t.Fatal("broadcaster was not invoked")
	}
}
