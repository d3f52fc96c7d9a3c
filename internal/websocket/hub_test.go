package websocket

import (
	"testing"
	"time"
)

func waitForClientCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if h.GetClientCount() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("client count did not reach %d in time", want)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHubClientCountStartsZero(t *testing.T) {
	h := NewHub()
	if h.GetClientCount() != 0 {
		t.Fatalf("GetClientCount = %d, want 0", h.GetClientCount())
	}
}

func TestRegisterAndUnregisterClient(t *testing.T) {
	h := NewHub()
	go h.Run()

	client := &Client{ID: "c1", Send: make(chan Message, 4), Hub: h}
	h.register <- client
	waitForClientCount(t, h, 1)

	h.unregister <- client
	waitForClientCount(t, h, 0)
}

func TestBroadcastDeviceStatusDeliversToClient(t *testing.T) {
	h := NewHub()
	go h.Run()

	client := &Client{ID: "c1", Send: make(chan Message, 4), Hub: h}
	h.register <- client
	waitForClientCount(t, h, 1)

	h.BroadcastDeviceStatus("dev1", true)

	select {
	case msg := <-client.Send:
		if msg.Type != MessageTypeDeviceStatus {
			t.Fatalf("type = %v, want %v", msg.Type, MessageTypeDeviceStatus)
		}
		if msg.Data["device_id"] != "dev1" || msg.Data["online"] != true {
			t.Fatalf("data = %+v", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive broadcast message")
	}
}
