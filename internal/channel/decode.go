// Package channel runs one device's periodic poll schedule and write
// dispatch over an mbclient.Client, decoding raw register/coil bytes
// into tagged model.Variable values and encoding write requests back
// onto the wire.
package channel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fieldwire/modgate/internal/model"
)

// swapWords32 permutes the 16-bit words of a big-endian value according
// to endian, covering four variants: ABCD (no
// change), DCBA (full byte reversal), BADC (swap bytes within each
// word), CDAB (swap word order only). This table applies to 32-bit
// values; 64-bit integers are NOT swapped.
func swapWords32(words [2]uint16, endian model.Endian) [2]uint16 {
	switch endian {
	case model.EndianABCD:
		return words
	case model.EndianCDAB:
		return [2]uint16{words[1], words[0]}
	case model.EndianDCBA:
		return [2]uint16{swapBytes(words[1]), swapBytes(words[0])}
	case model.EndianBADC:
		return [2]uint16{swapBytes(words[0]), swapBytes(words[1])}
	default:
		return words
	}
}

func swapBytes(w uint16) uint16 {
	return w<<8 | w>>8
}

// DecodeValue interprets raw big-endian register bytes (as returned by
// a read response) as the type/length/endian combination from a
// VariableInfo or PointMapping, yielding a model.Value. data must be
// exactly info length*2 bytes.
func DecodeValue(data []byte, dataType model.DataType, length int, endian model.Endian) (model.Value, error) {
	switch dataType {
	case model.TypeBool:
		if len(data) < 2 {
			return model.Value{}, fmt.Errorf("channel: decode bool: need 2 bytes, got %d", len(data))
		}
		return model.Bool(binary.BigEndian.Uint16(data[:2]) != 0), nil

	case model.TypeUint:
		switch length {
		case 1:
			if len(data) < 2 {
				return model.Value{}, shortRead(data, 2)
			}
			return model.Uint(uint64(binary.BigEndian.Uint16(data[:2]))), nil
		case 2:
			raw, err := decode32(data, endian)
			if err != nil {
				return model.Value{}, err
			}
			return model.Uint(uint64(raw)), nil
		case 4:
			if len(data) < 8 {
				return model.Value{}, shortRead(data, 8)
			}
			return model.Uint(binary.BigEndian.Uint64(data[:8])), nil
		}

	case model.TypeInt:
		switch length {
		case 1:
			if len(data) < 2 {
				return model.Value{}, shortRead(data, 2)
			}
			return model.Int(int64(int16(binary.BigEndian.Uint16(data[:2])))), nil
		case 2:
			raw, err := decode32(data, endian)
			if err != nil {
				return model.Value{}, err
			}
			return model.Int(int64(int32(raw))), nil
		case 4:
			if len(data) < 8 {
				return model.Value{}, shortRead(data, 8)
			}
			return model.Int(int64(binary.BigEndian.Uint64(data[:8]))), nil
		}

	case model.TypeFloat:
		switch length {
		case 2:
			raw, err := decode32(data, endian)
			if err != nil {
				return model.Value{}, err
			}
			return model.Float(float64(math.Float32frombits(raw))), nil
		case 4:
			if len(data) < 8 {
				return model.Value{}, shortRead(data, 8)
			}
			bits := binary.BigEndian.Uint64(data[:8])
			return model.Float(math.Float64frombits(bits)), nil
		}
	}
	return model.Value{}, fmt.Errorf("channel: unsupported decode combination type=%s length=%d", dataType, length)
}

func decode32(data []byte, endian model.Endian) (uint32, error) {
	if len(data) < 4 {
		return 0, shortRead(data, 4)
	}
	words := [2]uint16{
		binary.BigEndian.Uint16(data[0:2]),
		binary.BigEndian.Uint16(data[2:4]),
	}
	words = swapWords32(words, endian)
	return uint32(words[0])<<16 | uint32(words[1]), nil
}

func shortRead(data []byte, want int) error {
	return fmt.Errorf("channel: need %d bytes to decode, got %d", want, len(data))
}

// ApplyScale multiplies a decoded numeric value by scale, returning the
// original value unchanged for scale == 0 (meaning "no scale applied")
// and for non-numeric values (bool).
func ApplyScale(v model.Value, scale float64) model.Value {
	if scale == 0 {
		return v
	}
	switch v.Kind {
	case model.KindInt:
		return model.Float(float64(v.Int) * scale)
	case model.KindUint:
		return model.Float(float64(v.Uint) * scale)
	case model.KindFloat:
		return model.Float(v.Float * scale)
	default:
		return v
	}
}
