package mbclient

import (
	"context"
	"testing"
	"time"

	"github.com/fieldwire/modgate/internal/codec"
)

func TestDoTCPRoundTrip(t *testing.T) {
	var sent []byte
	c := New(func(frame []byte) error {
		sent = frame
		return nil
	}, Config{Mode: codec.ModeTCP})

	go func() {
		for len(sent) == 0 {
			time.Sleep(time.Millisecond)
		}
		pkt, err := codec.ParseTCP(sent)
		if err != nil {
			t.Errorf("parse sent frame: %v", err)
			return
		}
		resp := codec.Packet{
			UnitID:        pkt.UnitID,
			TransactionID: pkt.TransactionID,
			PDU:           codec.PDU{FunctionCode: codec.FuncReadHoldingRegisters, Data: []byte{0x02, 0x00, 0x7B}},
		}
		c.Deliver(resp)
	}()

	data, err := c.ReadHoldingRegisters(context.Background(), 0x11, 0x0000, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if len(data) != 2 || data[0] != 0x00 || data[1] != 0x7B {
		t.Fatalf("data = % X", data)
	}
}

func TestDoTimesOutWithoutResponse(t *testing.T) {
	c := New(func(frame []byte) error { return nil }, Config{Mode: codec.ModeTCP, Timeout: 10 * time.Millisecond})
	_, err := c.ReadHoldingRegisters(context.Background(), 1, 0, 1)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestRTUForcesInFlightLimitOne(t *testing.T) {
	c := New(func(frame []byte) error { return nil }, Config{Mode: codec.ModeRTU, InFlightLimit: 5})
	if cap(c.sem) != 1 {
		t.Fatalf("RTU in-flight cap = %d, want 1", cap(c.sem))
	}
}

func TestDeliverWithNoPendingRequestIsDropped(t *testing.T) {
	c := New(func(frame []byte) error { return nil }, Config{Mode: codec.ModeTCP})
	tid := uint16(42)
	c.Deliver(codec.Packet{UnitID: 1, TransactionID: &tid, PDU: codec.PDU{FunctionCode: codec.FuncReadHoldingRegisters, Data: []byte{0x00}}})
}

func TestCloseAbortsPendingRequests(t *testing.T) {
	c := New(func(frame []byte) error { return nil }, Config{Mode: codec.ModeTCP, Timeout: time.Second})
	done := make(chan error, 1)
	go func() {
		_, err := c.ReadHoldingRegisters(context.Background(), 1, 0, 1)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	c.Close()
	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after Close")
	}
}
