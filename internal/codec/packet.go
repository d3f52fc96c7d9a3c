package codec

import "encoding/binary"

// Packet is a wire-level Modbus message: a unit id plus PDU, optionally
// carrying a TCP transaction id. TransactionID is non-nil iff the framing
// is TCP; nil iff RTU.
type Packet struct {
	UnitID byte
	PDU PDU
	TransactionID *uint16
}

const (
	tcpProtocolID = 0x0000
	tcpHeaderSize = 7 // transaction(2) + protocol(2) + length(2) + unit(1)
)

// SerializeTCP emits the 7-byte MBAP header followed by the PDU. p must
// carry a TransactionID; a request/response produced for RTU framing is
// rejected.
func SerializeTCP(p Packet) ([]byte, error) {
	if p.TransactionID == nil {
		return nil, ErrMalformedPDU
	}
	if !isSupportedFunctionCode(p.PDU.FunctionCode) && !p.PDU.IsException() {
		return nil, ErrUnsupportedFunctionCode
	}

	pduLen := 1 + len(p.PDU.Data) // function code + data
	length := 1 + pduLen // unit id + pdu
	buf := make([]byte, tcpHeaderSize+pduLen)

	binary.BigEndian.PutUint16(buf[0:2], *p.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], tcpProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(length))
	buf[6] = p.UnitID
	buf[7] = p.PDU.FunctionCode
	copy(buf[8:], p.PDU.Data)
	return buf, nil
}

// ParseTCP parses one full MBAP frame (header already known to be
// complete by the caller, see Framer). It performs no function-code
// specific validation beyond what the header's length field implies,
// so it round-trips both requests and responses.
func ParseTCP(frame []byte) (Packet, error) {
	if len(frame) < tcpHeaderSize+1 {
		return Packet{}, ErrShortFrame
	}
	transactionID := binary.BigEndian.Uint16(frame[0:2])
	length := binary.BigEndian.Uint16(frame[4:6])
	if int(length)+6 != len(frame) {
		return Packet{}, ErrMalformedPDU
	}
	unitID := frame[6]
	fc := frame[7]
	data := append([]byte(nil), frame[8:]...)
	return Packet{
		UnitID: unitID,
		TransactionID: &transactionID,
		PDU: PDU{FunctionCode: fc, Data: data},
	}, nil
}

// SerializeRTU emits unit_id || pdu || crc16 (little-endian on the wire).
// p must not carry a TransactionID.
func SerializeRTU(p Packet) ([]byte, error) {
	if p.TransactionID != nil {
		return nil, ErrMalformedPDU
	}
	if !isSupportedFunctionCode(p.PDU.FunctionCode) && !p.PDU.IsException() {
		return nil, ErrUnsupportedFunctionCode
	}

	body := make([]byte, 2+len(p.PDU.Data))
	body[0] = p.UnitID
	body[1] = p.PDU.FunctionCode
	copy(body[2:], p.PDU.Data)

	crc := CRC16(body)
	frame := make([]byte, len(body)+2)
	copy(frame, body)
	frame[len(body)] = byte(crc) // low byte first
	frame[len(body)+1] = byte(crc >> 8) // high byte second
	return frame, nil
}

// ParseRTU parses one full RTU frame and verifies its CRC. The caller is
// responsible for knowing how many bytes make up the frame (see
// rtuFrameLength); this function only validates and slices.
func ParseRTU(frame []byte) (Packet, error) {
	if len(frame) < 4 {
		return Packet{}, ErrShortFrame
	}
	body := frame[:len(frame)-2]
	wantCRC := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	if CRC16(body) != wantCRC {
		return Packet{}, ErrCrcMismatch
	}
	unitID := body[0]
	fc := body[1]
	data := append([]byte(nil), body[2:]...)
	return Packet{
		UnitID: unitID,
		PDU: PDU{FunctionCode: fc, Data: data},
	}, nil
}
