// Package codec implements the Modbus wire protocol: protocol data unit
// encoding/decoding plus TCP (MBAP) and RTU framing.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Function codes supported by this gateway. Anything else is
// rejected with ErrUnsupportedFunctionCode.
const (
	FuncReadCoils byte = 0x01
	FuncReadDiscreteInputs byte = 0x02
	FuncReadHoldingRegisters byte = 0x03
	FuncReadInputRegisters byte = 0x04
	FuncWriteSingleCoil byte = 0x05
	FuncWriteSingleRegister byte = 0x06
	FuncWriteMultipleCoils byte = 0x0F
	FuncWriteMultipleRegs byte = 0x10

	exceptionBit byte = 0x80
)

// PDU is the protocol data unit shared by both TCP and RTU framings:
// function code plus the raw big-endian payload. Requests and responses
// are both represented this way; callers that need a typed view use the
// Decode* helpers below.
type PDU struct {
	FunctionCode byte
	Data []byte
}

// IsException reports whether this PDU is an exception response (function
// code with bit 0x80 set).
func (p PDU) IsException() bool {
	return p.FunctionCode&exceptionBit != 0
}

// ExceptionCode returns the single exception byte carried in Data. Callers
// must first check IsException.
func (p PDU) ExceptionCode() byte {
	if len(p.Data) == 0 {
		return 0
	}
	return p.Data[0]
}

// BaseFunctionCode strips the exception bit, returning the function code
// the exception was raised for.
func (p PDU) BaseFunctionCode() byte {
	return p.FunctionCode &^ exceptionBit
}

// Error implements error so a PDU carrying an exception can be returned
// directly from request paths.
type Error struct {
	FunctionCode byte
	ExceptionCode byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("modbus: exception %d on function 0x%02X", e.ExceptionCode, e.FunctionCode)
}

// Errors returned by the codec. Upper layers decide retry policy; none of
// these are retried automatically here.
var (
	ErrUnsupportedFunctionCode = fmt.Errorf("modbus: unsupported function code")
	ErrMalformedPDU = fmt.Errorf("modbus: malformed protocol data unit")
	ErrCrcMismatch = fmt.Errorf("modbus: crc mismatch")
	ErrShortFrame = fmt.Errorf("modbus: short frame")
)

func isSupportedFunctionCode(fc byte) bool {
	switch fc &^ exceptionBit {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters,
		FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegs:
		return true
	default:
		return false
	}
}

// ReadRequest builds the PDU for a read of coils/discrete inputs/holding or
// input registers (function codes 1-4).
func ReadRequest(fc byte, address, quantity uint16) (PDU, error) {
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
	default:
		return PDU{}, ErrUnsupportedFunctionCode
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], quantity)
	return PDU{FunctionCode: fc, Data: data}, nil
}

// DecodeReadResponse extracts the raw byte payload of a read response
// (byte_count || data), validating the byte-count header against the
// remaining length.
func DecodeReadResponse(p PDU) ([]byte, error) {
	if p.IsException() {
		return nil, &Error{FunctionCode: p.BaseFunctionCode(), ExceptionCode: p.ExceptionCode()}
	}
	if len(p.Data) < 1 {
		return nil, ErrMalformedPDU
	}
	byteCount := int(p.Data[0])
	if len(p.Data) != 1+byteCount {
		return nil, ErrMalformedPDU
	}
	return p.Data[1:], nil
}

// WriteSingleCoilRequest builds function code 5. Modbus encodes true as
// 0xFF00 and false as 0x0000 on the wire.
func WriteSingleCoilRequest(address uint16, value bool) PDU {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	if value {
		binary.BigEndian.PutUint16(data[2:], 0xFF00)
	} else {
		binary.BigEndian.PutUint16(data[2:], 0x0000)
	}
	return PDU{FunctionCode: FuncWriteSingleCoil, Data: data}
}

// WriteSingleRegisterRequest builds function code 6.
func WriteSingleRegisterRequest(address uint16, value uint16) PDU {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], value)
	return PDU{FunctionCode: FuncWriteSingleRegister, Data: data}
}

// WriteMultipleRegistersRequest builds function code 16.
func WriteMultipleRegistersRequest(address uint16, values []uint16) PDU {
	quantity := len(values)
	data := make([]byte, 5+quantity*2)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], uint16(quantity))
	data[4] = byte(quantity * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+i*2:], v)
	}
	return PDU{FunctionCode: FuncWriteMultipleRegs, Data: data}
}

// WriteMultipleCoilsRequest builds function code 15. Coils are packed
// LSB-first within each byte.
func WriteMultipleCoilsRequest(address uint16, values []bool) PDU {
	quantity := len(values)
	byteCount := (quantity + 7) / 8
	data := make([]byte, 5+byteCount)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], uint16(quantity))
	data[4] = byte(byteCount)
	for i, v := range values {
		if v {
			data[5+i/8] |= 1 << uint(i%8)
		}
	}
	return PDU{FunctionCode: FuncWriteMultipleCoils, Data: data}
}

// WriteEcho describes the address/value echoed back by a single-target
// write response, used by client-level write helpers to confirm success.
type WriteEcho struct {
	Address uint16
	Value uint16
}

// DecodeWriteSingleEcho parses the 4-byte echo payload shared by function
// codes 5, 6, 15, and 16 responses.
func DecodeWriteSingleEcho(p PDU, expectFC byte) (WriteEcho, error) {
	if p.IsException() {
		return WriteEcho{}, &Error{FunctionCode: p.BaseFunctionCode(), ExceptionCode: p.ExceptionCode()}
	}
	if p.FunctionCode != expectFC || len(p.Data) != 4 {
		return WriteEcho{}, ErrMalformedPDU
	}
	return WriteEcho{
		Address: binary.BigEndian.Uint16(p.Data[0:2]),
		Value: binary.BigEndian.Uint16(p.Data[2:4]),
	}, nil
}

// UnpackCoils extracts up to count LSB-first packed bits starting at bit
// offset 0 of data.
func UnpackCoils(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			break
		}
		out[i] = data[byteIdx]&(1<<uint(i%8)) != 0
	}
	return out
}
