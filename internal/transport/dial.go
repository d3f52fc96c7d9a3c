package transport

import (
	"context"
	"fmt"
	"net"

	"go.bug.st/serial"
)

// TCPKey formats the connection-pool key for a TCP endpoint.
func TCPKey(host string, port int) string {
	return fmt.Sprintf("tcp:%s:%d", host, port)
}

// UnixKey formats the connection-pool key for a unix domain socket.
func UnixKey(path string) string {
	return fmt.Sprintf("unix:%s", path)
}

// RTUKey formats the connection-pool key for a serial device.
func RTUKey(devicePath string) string {
	return fmt.Sprintf("rtu:%s", devicePath)
}

// DialTCP returns a Dialer for a TCP Modbus endpoint.
func DialTCP(host string, port int) Dialer {
	addr := fmt.Sprintf("%s:%d", host, port)
	return func(ctx context.Context) (Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("transport: dial tcp %s: %w", addr, err)
		}
		return conn, nil
	}
}

// DialUnix returns a Dialer for a unix domain socket endpoint, used for
// on-host gateways that front a local Modbus bridge.
func DialUnix(path string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return nil, fmt.Errorf("transport: dial unix %s: %w", path, err)
		}
		return conn, nil
	}
}

// SerialConfig carries the RTU line parameters a serial.Port needs.
type SerialConfig struct {
	DevicePath string
	BaudRate int
	DataBits int
	Parity serial.Parity
	StopBits serial.StopBits
}

// DialRTU returns a Dialer that opens an RTU serial port. Serial ports
// have no real "dial" step; DialRTU opens the device and returns
// immediately, relying on the pool's backoff loop to retry if the
// device node is missing (e.g. a USB-serial adapter unplugged).
func DialRTU(cfg SerialConfig) Dialer {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity: cfg.Parity,
		StopBits: cfg.StopBits,
	}
	return func(ctx context.Context) (Conn, error) {
		port, err := serial.Open(cfg.DevicePath, mode)
		if err != nil {
			return nil, fmt.Errorf("transport: open serial %s: %w", cfg.DevicePath, err)
		}
		return port, nil
	}
}
