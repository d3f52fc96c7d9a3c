package codec

import (
	"bytes"
	"testing"
)

func u16p(v uint16) *uint16 { return &v }

// TestS1TCPReadHoldingRegisters exercises the literal scenario from the
// spec: transaction 1, unit 0x11, function 3, start 0x006B, quantity 3.
func TestS1TCPReadHoldingRegisters(t *testing.T) {
	pdu, err := ReadRequest(FuncReadHoldingRegisters, 0x006B, 3)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	req := Packet{UnitID: 0x11, PDU: pdu, TransactionID: u16p(1)}
	frame, err := SerializeTCP(req)
	if err != nil {
		t.Fatalf("SerializeTCP: %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	if !bytes.Equal(frame, want) {
		t.Fatalf("request frame = % X, want % X", frame, want)
	}

	respFrame := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x11, 0x03, 0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64}
	resp, err := ParseTCP(respFrame)
	if err != nil {
		t.Fatalf("ParseTCP: %v", err)
	}
	if *resp.TransactionID != 1 || resp.UnitID != 0x11 {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	data, err := DecodeReadResponse(resp.PDU)
	if err != nil {
		t.Fatalf("DecodeReadResponse: %v", err)
	}
	regs := []uint16{
		uint16(data[0])<<8 | uint16(data[1]),
		uint16(data[2])<<8 | uint16(data[3]),
		uint16(data[4])<<8 | uint16(data[5]),
	}
	wantRegs := []uint16{0x022B, 0x0000, 0x0064}
	for i := range wantRegs {
		if regs[i] != wantRegs[i] {
			t.Errorf("register[%d] = 0x%04X, want 0x%04X", i, regs[i], wantRegs[i])
		}
	}
}

// TestS2RTUWriteSingleCoil exercises the canonical write-single-coil
// scenario: unit 0x01, function 5, address 0x00AC, value true.
func TestS2RTUWriteSingleCoil(t *testing.T) {
	pdu := WriteSingleCoilRequest(0x00AC, true)
	if !bytes.Equal(pdu.Data, []byte{0x00, 0xAC, 0xFF, 0x00}) {
		t.Fatalf("pdu data = % X", pdu.Data)
	}
	frame, err := SerializeRTU(Packet{UnitID: 0x01, PDU: pdu})
	if err != nil {
		t.Fatalf("SerializeRTU: %v", err)
	}
	want := []byte{0x01, 0x05, 0x00, 0xAC, 0xFF, 0x00, 0x4C, 0x1B}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = % X, want % X", frame, want)
	}

	parsed, err := ParseRTU(frame)
	if err != nil {
		t.Fatalf("ParseRTU: %v", err)
	}
	echo, err := DecodeWriteSingleEcho(parsed.PDU, FuncWriteSingleCoil)
	if err != nil {
		t.Fatalf("DecodeWriteSingleEcho: %v", err)
	}
	if echo.Address != 0x00AC || echo.Value != 0xFF00 {
		t.Fatalf("echo = %+v", echo)
	}
}

func TestCRC16KnownVector(t *testing.T) {
	// unit 0x01, fc 0x05, addr 0x00AC, value 0xFF00 -> crc 0x1B4C on the
	// wire (low byte 0x4C first).
	body := []byte{0x01, 0x05, 0x00, 0xAC, 0xFF, 0x00}
	got := CRC16(body)
	if got != 0x1B4C {
		t.Fatalf("CRC16 = 0x%04X, want 0x1B4C", got)
	}
}

// TestFramerTCPArbitrarySplit verifies property 4: framing a stream in
// one Push call or split across arbitrary chunk boundaries must yield
// identical packets.
func TestFramerTCPArbitrarySplit(t *testing.T) {
	f1 := NewFramer(ModeTCP, RoleRequest)
	pdu, _ := ReadRequest(FuncReadHoldingRegisters, 0x0000, 2)
	frame1, _ := SerializeTCP(Packet{UnitID: 1, PDU: pdu, TransactionID: u16p(1)})
	frame2, _ := SerializeTCP(Packet{UnitID: 1, PDU: pdu, TransactionID: u16p(2)})
	stream := append(append([]byte{}, frame1...), frame2...)

	whole, err := f1.Push(stream)
	if err != nil {
		t.Fatalf("whole push: %v", err)
	}
	if len(whole) != 2 {
		t.Fatalf("expected 2 packets from whole push, got %d", len(whole))
	}

	for split := 1; split < len(stream); split++ {
		f2 := NewFramer(ModeTCP, RoleRequest)
		var got []Packet
		a, err := f2.Push(stream[:split])
		if err != nil {
			t.Fatalf("split %d first half: %v", split, err)
		}
		got = append(got, a...)
		b, err := f2.Push(stream[split:])
		if err != nil {
			t.Fatalf("split %d second half: %v", split, err)
		}
		got = append(got, b...)
		if len(got) != len(whole) {
			t.Fatalf("split %d: got %d packets, want %d", split, len(got), len(whole))
		}
		for i := range got {
			if got[i].PDU.FunctionCode != whole[i].PDU.FunctionCode ||
				!bytes.Equal(got[i].PDU.Data, whole[i].PDU.Data) {
				t.Fatalf("split %d: packet %d mismatch: %+v vs %+v", split, i, got[i], whole[i])
			}
		}
	}
}

// TestFramerRTUArbitrarySplit mirrors the TCP property for RTU framing,
// one byte at a time in the worst case.
func TestFramerRTUArbitrarySplit(t *testing.T) {
	pdu1 := WriteSingleCoilRequest(0x00AC, true)
	pdu2 := WriteSingleRegisterRequest(0x0001, 0x00FF)
	frame1, _ := SerializeRTU(Packet{UnitID: 1, PDU: pdu1})
	frame2, _ := SerializeRTU(Packet{UnitID: 2, PDU: pdu2})
	stream := append(append([]byte{}, frame1...), frame2...)

	whole, err := NewFramer(ModeRTU, RoleRequest).Push(stream)
	if err != nil {
		t.Fatalf("whole push: %v", err)
	}
	if len(whole) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(whole))
	}

	f := NewFramer(ModeRTU, RoleRequest)
	var got []Packet
	for i := 0; i < len(stream); i++ {
		pkts, err := f.Push(stream[i : i+1])
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		got = append(got, pkts...)
	}
	if len(got) != len(whole) {
		t.Fatalf("byte-at-a-time: got %d packets, want %d", len(got), len(whole))
	}
	for i := range got {
		if got[i].UnitID != whole[i].UnitID || got[i].PDU.FunctionCode != whole[i].PDU.FunctionCode {
			t.Fatalf("packet %d mismatch: %+v vs %+v", i, got[i], whole[i])
		}
	}
}

func TestFramerRTUCrcMismatchResyncs(t *testing.T) {
	pdu := WriteSingleCoilRequest(0x00AC, true)
	good, _ := SerializeRTU(Packet{UnitID: 1, PDU: pdu})
	corrupt := append([]byte{}, good...)
	corrupt[len(corrupt)-1] ^= 0xFF // break the CRC of the first frame

	f := NewFramer(ModeRTU, RoleRequest)
	stream := append(corrupt, good...)
	var got []Packet
	remaining := stream
	for len(remaining) > 0 {
		pkts, err := f.Push(remaining[:1])
		remaining = remaining[1:]
		got = append(got, pkts...)
		if err != nil && err != ErrCrcMismatch {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(got) == 0 {
		t.Fatal("expected framer to resynchronize and decode the trailing good frame")
	}
}

func TestUnpackCoilsLSBFirst(t *testing.T) {
	got := UnpackCoils([]byte{0xCD, 0x01}, 10)
	want := []bool{true, false, true, true, false, false, true, true, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bit %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodeReadResponseRejectsException(t *testing.T) {
	pdu := PDU{FunctionCode: FuncReadHoldingRegisters | exceptionBit, Data: []byte{0x02}}
	_, err := DecodeReadResponse(pdu)
	if err == nil {
		t.Fatal("expected exception error")
	}
	modbusErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if modbusErr.ExceptionCode != 0x02 {
		t.Fatalf("exception code = %d, want 2", modbusErr.ExceptionCode)
	}
}
