// Package mbclient correlates Modbus requests with their responses over
// an already-framed byte stream. It knows nothing about dialing or
// reconnecting (that is internal/transport's job) and nothing about
// polling schedules or decoding into tagged values (internal/channel);
// it only owns the request/response correlation table, the in-flight
// cap, and per-request timeouts.
package mbclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fieldwire/modgate/internal/codec"
)

// ErrTimeout is returned when a request receives no matching response
// within its timeout.
var ErrTimeout = errors.New("mbclient: request timed out")

// ErrClosed is returned by Do once the client has been closed, and is
// delivered to any request still pending when Close is called.
var ErrClosed = errors.New("mbclient: client closed")

// DefaultTimeout is the per-request timeout applied when Config.Timeout
// is zero.
const DefaultTimeout = 100 * time.Millisecond

// Config configures request correlation behavior. TCP transaction ids
// allow more than one in-flight request; RTU is inherently sequential
// (one request at a time) since the wire carries no correlation id.
type Config struct {
	Mode codec.Mode
	InFlightLimit int // default 1; forced to 1 for RTU
	Timeout time.Duration // default DefaultTimeout
}

func (c Config) normalized() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.InFlightLimit <= 0 {
		c.InFlightLimit = 1
	}
	if c.Mode == codec.ModeRTU {
		c.InFlightLimit = 1
	}
	return c
}

// Writer sends a fully serialized frame on the underlying transport. It
// is supplied by the transport pool connection currently owning the
// wire.
type Writer func(frame []byte) error

type pending struct {
	unitID byte
	result chan result
}

type result struct {
	pdu codec.PDU
	err error
}

// Client correlates one logical Modbus session's requests and
// responses. It is safe for concurrent use; concurrent Do calls are
// serialized by the in-flight semaphore.
type Client struct {
	cfg Config
	write Writer

	sem chan struct{}

	mu sync.Mutex
	nextTID uint16
	pending map[uint16]*pending
	closed bool
}

// New constructs a Client. write is invoked to push a fully serialized
// frame to the wire; the caller is responsible for feeding decoded
// packets back in via Deliver as they arrive off the transport.
func New(write Writer, cfg Config) *Client {
	cfg = cfg.normalized()
	return &Client{
		cfg: cfg,
		write: write,
		sem: make(chan struct{}, cfg.InFlightLimit),
		pending: make(map[uint16]*pending),
	}
}

// Close releases any requests still waiting on a response with
// ErrClosed. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for key, p := range c.pending {
		p.result <- result{err: ErrClosed}
		delete(c.pending, key)
	}
}

// key returns the correlation key for a packet: its transaction id in
// TCP mode, or the fixed sentinel 0 in RTU mode (RTU has exactly one
// request in flight at a time).
func (c *Client) key(tid *uint16) uint16 {
	if c.cfg.Mode == codec.ModeRTU || tid == nil {
		return 0
	}
	return *tid
}

// Deliver feeds a decoded response packet into the correlator. It is
// called by the transport read loop for every Packet the Framer
// produces. Responses with no matching pending request (late arrivals
// after a timeout, or unsolicited traffic) are silently dropped.
func (c *Client) Deliver(pkt codec.Packet) {
	key := c.key(pkt.TransactionID)
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.result <- result{pdu: pkt.PDU}
}

// DeliverError aborts whatever is waiting on key (TCP transaction id, or
// 0 for RTU) with a parse-level error, e.g. when the framer reports a
// malformed frame it could not attribute to a transaction.
func (c *Client) DeliverError(tid *uint16, err error) {
	key := c.key(tid)
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if ok {
		p.result <- result{err: err}
	}
}

// Do sends pdu addressed to unitID and waits for its correlated
// response, honoring ctx cancellation and the configured per-request
// timeout, whichever elapses first.
func (c *Client) Do(ctx context.Context, unitID byte, pdu codec.PDU) (codec.PDU, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return codec.PDU{}, ctx.Err()
	}
	defer func() { <-c.sem }()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return codec.PDU{}, ErrClosed
	}
	var tid *uint16
	var key uint16
	if c.cfg.Mode == codec.ModeTCP {
		c.nextTID++
		v := c.nextTID
		tid = &v
		key = v
	}
	p := &pending{unitID: unitID, result: make(chan result, 1)}
	c.pending[key] = p
	c.mu.Unlock()

	frame, err := serialize(c.cfg.Mode, codec.Packet{UnitID: unitID, PDU: pdu, TransactionID: tid})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return codec.PDU{}, err
	}
	if err := c.write(frame); err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return codec.PDU{}, fmt.Errorf("mbclient: write: %w", err)
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()
	select {
	case r := <-p.result:
		return r.pdu, r.err
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return codec.PDU{}, ErrTimeout
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return codec.PDU{}, ctx.Err()
	}
}

func serialize(mode codec.Mode, pkt codec.Packet) ([]byte, error) {
	if mode == codec.ModeTCP {
		return codec.SerializeTCP(pkt)
	}
	return codec.SerializeRTU(pkt)
}
