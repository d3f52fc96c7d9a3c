package channel

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fieldwire/modgate/internal/model"
)

// ErrUnsupportedValue is returned when a write value cannot be coerced
// to the target point's declared type.
var ErrUnsupportedValue = fmt.Errorf("channel: unsupported value for target type")

// CoerceBool accepts a bool, any numeric type (nonzero is true), or one
// of the case-insensitive strings "true"/"false"/"1"/"0"/"on"/"off".
func CoerceBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return toInt64(x) != 0, nil
	case float32:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "on":
			return true, nil
		case "false", "0", "off":
			return false, nil
		}
	}
	return false, ErrUnsupportedValue
}

// CoerceInt accepts any integer, float (truncated), or numeric string.
func CoerceInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return toInt64(x), nil
	case float32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return int64(f), nil
		}
	}
	return 0, ErrUnsupportedValue
}

// CoerceUint accepts any unsigned or non-negative integer, float
// (truncated), or numeric string.
func CoerceUint(v interface{}) (uint64, error) {
	i, err := CoerceInt(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, ErrUnsupportedValue
	}
	return uint64(i), nil
}

// CoerceFloat accepts any numeric type or numeric string.
func CoerceFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return float64(toInt64(x)), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f, nil
		}
	}
	return 0, ErrUnsupportedValue
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	default:
		return 0
	}
}

// EncodeRegisters coerces v to the target type/length/endian and
// returns the big-endian register bytes a write request's data section
// should carry (2*length bytes). Bool targets are the caller's
// responsibility via the single-coil write path, not this function.
func EncodeRegisters(v interface{}, dataType model.DataType, length int, endian model.Endian) ([]byte, error) {
	switch dataType {
	case model.TypeUint:
		u, err := CoerceUint(v)
		if err != nil {
			return nil, err
		}
		switch length {
		case 1:
			buf := make([]byte, 2)
			binary.BigEndian.PutUint16(buf, uint16(u))
			return buf, nil
		case 2:
			return encode32(uint32(u), endian), nil
		case 4:
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, u)
			return buf, nil
		}
	case model.TypeInt:
		i, err := CoerceInt(v)
		if err != nil {
			return nil, err
		}
		switch length {
		case 1:
			buf := make([]byte, 2)
			binary.BigEndian.PutUint16(buf, uint16(int16(i)))
			return buf, nil
		case 2:
			return encode32(uint32(int32(i)), endian), nil
		case 4:
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(i))
			return buf, nil
		}
	case model.TypeFloat:
		f, err := CoerceFloat(v)
		if err != nil {
			return nil, err
		}
		switch length {
		case 2:
			return encode32(math.Float32bits(float32(f)), endian), nil
		case 4:
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, math.Float64bits(f))
			return buf, nil
		}
	}
	return nil, fmt.Errorf("channel: unsupported encode combination type=%s length=%d", dataType, length)
}

func encode32(raw uint32, endian model.Endian) []byte {
	words := [2]uint16{uint16(raw >> 16), uint16(raw)}
	words = swapWords32(words, endian)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], words[0])
	binary.BigEndian.PutUint16(buf[2:4], words[1])
	return buf
}

// RegistersToUint16 splits big-endian register bytes into a uint16
// slice, for use with mbclient.WriteMultipleRegisters.
func RegistersToUint16(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(data[i*2: i*2+2])
	}
	return out
}
