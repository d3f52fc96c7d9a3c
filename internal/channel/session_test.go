package channel

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/codec"
	"github.com/fieldwire/modgate/internal/mbclient"
	"github.com/fieldwire/modgate/internal/model"
)

func TestDecodeRegisterMappingsShortDataYieldsNull(t *testing.T) {
	g := model.PollGroup{
		Name:   "grp",
		Length: 2,
		Mapping: []model.PointMapping{
			{Tag: "t1", Offset: 0, Length: 2, Type: model.TypeUint, Endian: model.EndianABCD},
		},
	}
	vars := decodeRegisterMappings("dev", g, []byte{0x00, 0x01}) // only 1 register, mapping wants 2
	if !vars[0].Value.IsNull() {
		t.Fatalf("expected null value for short read, got %+v", vars[0].Value)
	}
}

func TestDecodeBitMappingsOutOfRangeYieldsNull(t *testing.T) {
	g := model.PollGroup{
		Mapping: []model.PointMapping{{Tag: "c1", Offset: 5}},
	}
	vars := decodeBitMappings("dev", g, []bool{true, false})
	if !vars[0].Value.IsNull() {
		t.Fatalf("expected null for out-of-range bit offset")
	}
}

func TestWriteRejectsReadOnlyFunctionCodes(t *testing.T) {
	client := mbclient.New(func([]byte) error { return nil }, mbclient.Config{Mode: codec.ModeTCP})
	s := NewSession("dev1", 1, client, nil, nil, nil, nil, zap.NewNop())

	err := s.Write(context.Background(), model.Push{FunctionCode: codec.FuncReadInputRegisters}, 1)
	if err == nil {
		t.Fatal("expected error for read-only function code")
	}
}

func TestWriteSingleCoilDispatch(t *testing.T) {
	var sent []byte
	client := mbclient.New(func(frame []byte) error {
		sent = frame
		return nil
	}, mbclient.Config{Mode: codec.ModeRTU})

	s := NewSession("dev1", 0x01, client, nil, nil, nil, nil, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- s.Write(context.Background(), model.Push{FunctionCode: codec.FuncReadCoils, Address: 0x00AC}, true)
	}()

	deadline := time.After(time.Second)
	for len(sent) == 0 {
		select {
		case <-deadline:
			t.Fatal("write never reached the wire")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	pkt, err := codec.ParseRTU(sent)
	if err != nil {
		t.Fatalf("ParseRTU: %v", err)
	}
	client.Deliver(codec.Packet{UnitID: pkt.UnitID, PDU: pkt.PDU})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write never returned")
	}
}

func TestSessionStateTransitions(t *testing.T) {
	s := &Session{state: StateIdle, logger: zap.NewNop()}
	if s.State() != StateIdle {
		t.Fatalf("initial state = %v, want Idle", s.State())
	}
	s.setState(StateRunning)
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want Running", s.State())
	}
	s.setState(StateDegraded)
	if s.State() != StateDegraded {
		t.Fatalf("state = %v, want Degraded", s.State())
	}
}
