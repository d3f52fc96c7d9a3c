package mbclient

import (
	"context"

	"github.com/fieldwire/modgate/internal/codec"
)

// ReadCoils requests quantity contiguous coil states starting at
// address (function code 1).
func (c *Client) ReadCoils(ctx context.Context, unitID byte, address, quantity uint16) ([]bool, error) {
	data, err := c.read(ctx, unitID, codec.FuncReadCoils, address, quantity)
	if err != nil {
		return nil, err
	}
	return codec.UnpackCoils(data, int(quantity)), nil
}

// ReadDiscreteInputs requests quantity contiguous discrete inputs
// starting at address (function code 2).
func (c *Client) ReadDiscreteInputs(ctx context.Context, unitID byte, address, quantity uint16) ([]bool, error) {
	data, err := c.read(ctx, unitID, codec.FuncReadDiscreteInputs, address, quantity)
	if err != nil {
		return nil, err
	}
	return codec.UnpackCoils(data, int(quantity)), nil
}

// ReadHoldingRegisters requests quantity contiguous holding registers
// starting at address (function code 3), returning the raw big-endian
// register bytes (2*quantity bytes).
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error) {
	return c.read(ctx, unitID, codec.FuncReadHoldingRegisters, address, quantity)
}

// ReadInputRegisters requests quantity contiguous input registers
// starting at address (function code 4).
func (c *Client) ReadInputRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error) {
	return c.read(ctx, unitID, codec.FuncReadInputRegisters, address, quantity)
}

func (c *Client) read(ctx context.Context, unitID byte, fc byte, address, quantity uint16) ([]byte, error) {
	req, err := codec.ReadRequest(fc, address, quantity)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, unitID, req)
	if err != nil {
		return nil, err
	}
	return codec.DecodeReadResponse(resp)
}

// coilWireValue encodes a coil write request's value the way the wire
// protocol and its echo represent it: 0xFF00 for true, 0x0000 for false.
func coilWireValue(value bool) uint16 {
	if value {
		return 0xFF00
	}
	return 0x0000
}

// WriteSingleCoil sets the coil at address to value (function code 5).
// It returns true iff the device echoed back the same address and
// value; a mismatched echo is reported as ok == false with a nil
// error, since the round trip itself succeeded.
func (c *Client) WriteSingleCoil(ctx context.Context, unitID byte, address uint16, value bool) (bool, error) {
	resp, err := c.Do(ctx, unitID, codec.WriteSingleCoilRequest(address, value))
	if err != nil {
		return false, err
	}
	echo, err := codec.DecodeWriteSingleEcho(resp, codec.FuncWriteSingleCoil)
	if err != nil {
		return false, err
	}
	return echo.Address == address && echo.Value == coilWireValue(value), nil
}

// WriteSingleRegister writes value to the holding register at address
// (function code 6), returning true iff the echo matches the request.
func (c *Client) WriteSingleRegister(ctx context.Context, unitID byte, address, value uint16) (bool, error) {
	resp, err := c.Do(ctx, unitID, codec.WriteSingleRegisterRequest(address, value))
	if err != nil {
		return false, err
	}
	echo, err := codec.DecodeWriteSingleEcho(resp, codec.FuncWriteSingleRegister)
	if err != nil {
		return false, err
	}
	return echo.Address == address && echo.Value == value, nil
}

// WriteMultipleCoils sets the coils starting at address (function code
// 15). The response echoes (address, quantity) rather than the coil
// values themselves; ok is true iff both match the request.
func (c *Client) WriteMultipleCoils(ctx context.Context, unitID byte, address uint16, values []bool) (bool, error) {
	resp, err := c.Do(ctx, unitID, codec.WriteMultipleCoilsRequest(address, values))
	if err != nil {
		return false, err
	}
	echo, err := codec.DecodeWriteSingleEcho(resp, codec.FuncWriteMultipleCoils)
	if err != nil {
		return false, err
	}
	return echo.Address == address && int(echo.Value) == len(values), nil
}

// WriteMultipleRegisters writes values to the holding registers starting
// at address (function code 16). The response echoes (address,
// quantity); ok is true iff both match the request.
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID byte, address uint16, values []uint16) (bool, error) {
	resp, err := c.Do(ctx, unitID, codec.WriteMultipleRegistersRequest(address, values))
	if err != nil {
		return false, err
	}
	echo, err := codec.DecodeWriteSingleEcho(resp, codec.FuncWriteMultipleRegs)
	if err != nil {
		return false, err
	}
	return echo.Address == address && int(echo.Value) == len(values), nil
}
