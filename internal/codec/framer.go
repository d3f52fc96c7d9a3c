package codec

import "encoding/binary"

// Role tells an RTU framer whether the byte stream it is decoding carries
// requests or responses; the two have different length rules for the
// same function code.
type Role int

const (
	RoleResponse Role = iota
	RoleRequest
)

// Mode selects which framing a Framer decodes.
type Mode int

const (
	ModeTCP Mode = iota
	ModeRTU
)

// Framer is a streaming byte-to-Packet decoder. Feed it arbitrarily
// chunked bytes via Push; it returns every Packet it can fully decode
// from what has accumulated so far. Splitting a valid serialized stream
// into any chunk boundaries and concatenating Framer output must equal
// framing the whole stream at once.
type Framer struct {
	mode Mode
	role Role
	buf []byte

	// resyncing is set after an RTU CRC mismatch and cleared once a
	// frame decodes again.
	resyncing bool
}

// NewFramer constructs a Framer for the given mode. role is only
// consulted in ModeRTU.
func NewFramer(mode Mode, role Role) *Framer {
	return &Framer{mode: mode, role: role}
}

// Push appends newly-received bytes and returns every Packet that could
// be fully decoded from the accumulated buffer, in order. Errors are
// returned alongside any packets decoded before the error was hit; on a
// CRC error the framer drops one byte and resynchronizes so the next
// Push call can make progress. While resynchronizing, a byte that does
// not start a frame with a supported function code is dropped too,
// without an error.
func (f *Framer) Push(chunk []byte) ([]Packet, error) {
	f.buf = append(f.buf, chunk...)

	var out []Packet
	for {
		switch f.mode {
		case ModeTCP:
			pkt, consumed, err := f.tryTCP()
			if err == errNeedMore {
				return out, nil
			}
			if err != nil {
				// Malformed header: nothing we can do but drop everything
				// accumulated so far and let the next frame resync.
				f.buf = nil
				return out, err
			}
			f.buf = f.buf[consumed:]
			out = append(out, pkt)
		case ModeRTU:
			pkt, consumed, err := f.tryRTU()
			if err == errNeedMore {
				return out, nil
			}
			if err == ErrCrcMismatch {
				// Resync by dropping a single byte and retrying.
				if len(f.buf) > 0 {
					f.buf = f.buf[1:]
				}
				f.resyncing = true
				if len(out) > 0 {
					return out, nil
				}
				return out, err
			}
			if err == ErrUnsupportedFunctionCode && f.resyncing {
				f.buf = f.buf[1:]
				continue
			}
			if err != nil {
				f.buf = nil
				return out, err
			}
			f.buf = f.buf[consumed:]
			f.resyncing = false
			out = append(out, pkt)
		}
	}
}

var errNeedMore = &needMoreError{}

type needMoreError struct{}

func (*needMoreError) Error() string { return "modbus: need more data" }

func (f *Framer) tryTCP() (Packet, int, error) {
	if len(f.buf) < 6 {
		return Packet{}, 0, errNeedMore
	}
	length := binary.BigEndian.Uint16(f.buf[4:6])
	total := 6 + int(length)
	if length == 0 {
		return Packet{}, 0, ErrMalformedPDU
	}
	if len(f.buf) < total {
		return Packet{}, 0, errNeedMore
	}
	pkt, err := ParseTCP(f.buf[:total])
	if err != nil {
		return Packet{}, 0, err
	}
	return pkt, total, nil
}

func (f *Framer) tryRTU() (Packet, int, error) {
	total, ok := rtuFrameLength(f.buf, f.role)
	if !ok {
		return Packet{}, 0, errNeedMore
	}
	if total < 0 {
		return Packet{}, 0, ErrUnsupportedFunctionCode
	}
	if len(f.buf) < total {
		return Packet{}, 0, errNeedMore
	}
	pkt, err := ParseRTU(f.buf[:total])
	if err != nil {
		return Packet{}, 0, err
	}
	return pkt, total, nil
}

// rtuFrameLength computes the total byte length (pdu+unit+crc) of the RTU
// frame starting at buf[0] by function code. ok is false when not
// enough bytes are buffered yet to know; total is -1 for a function
// code this codec does not support.
func rtuFrameLength(buf []byte, role Role) (total int, ok bool) {
	if len(buf) < 2 {
		return 0, false
	}
	fc := buf[1]

	if fc&exceptionBit != 0 {
		// unit(1) + fc(1) + exception(1) + crc(2)
		return 5, true
	}

	if role == RoleRequest {
		switch fc {
		case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters,
			FuncWriteSingleCoil, FuncWriteSingleRegister:
			return 8, true
		case FuncWriteMultipleCoils, FuncWriteMultipleRegs:
			if len(buf) < 7 {
				return 0, false
			}
			byteCount := int(buf[6])
			return 7 + byteCount + 2, true
		default:
			return -1, true
		}
	}

	// RoleResponse
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		if len(buf) < 3 {
			return 0, false
		}
		byteCount := int(buf[2])
		return 3 + byteCount + 2, true
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegs:
		return 8, true
	default:
		return -1, true
	}
}
