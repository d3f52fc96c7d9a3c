// Package gateway is the host core: it owns the value map, the
// per-tag/per-event broadcast streams, action dispatch to workers (each
// InvokeAction waits for its outcome on its own reply channel), and
// the worker crash/restart policy. It is the only package that talks
// to more than one worker at a time.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/model"
	"github.com/fieldwire/modgate/internal/transport"
	"github.com/fieldwire/modgate/internal/worker"
)

// DefaultInvokeActionTimeout is applied when a caller's context carries
// no deadline.
const DefaultInvokeActionTimeout = 10 * time.Second

// DefaultMaxRestartAttempts and DefaultRestartDelaySec govern worker
// crash recovery: once a factory's worker has exited more than
// MaxRestartAttempts times it is not restarted again and its devices
// stay offline. The exit count is never reset.
const (
	DefaultMaxRestartAttempts = 3
	DefaultRestartDelaySec = 5
)

// valueEntry pairs a variable's last-known value with the listener
// streams currently subscribed to it. Cloned on every mutation so
// readers holding an old slice/map never observe a write in progress
// (copy-on-write).
type valueEntry struct {
	value model.Value
	listeners []chan model.Value
}

// DeviceEntry tracks one configured device's online flag and the
// factory worker that owns its session, so façade operations can route
// writes and report online status without consulting config again.
type DeviceEntry struct {
	DeviceID string
	Factory worker.FactoryName
	Online bool
}

// factoryHandle is everything the core keeps about one running worker:
// its command/event channels, its restart bookkeeping, and the device
// specs it was last told to run (replayed across a restart).
type factoryHandle struct {
	name worker.FactoryName
	mode worker.ClientMode
	in chan worker.C2S
	out chan worker.S2C
	cancel context.CancelFunc
	devices map[string]worker.DeviceSpec
	dialers map[string]transport.Dialer

	attempts int
}

// Core is the gateway's host process: one instance per running
// gateway, holding every worker, every device's last-known values, and
// every live listener.
type Core struct {
	logger *zap.Logger

	mu sync.RWMutex
	values map[string]map[string]*valueEntry // deviceID -> tagID -> entry
	devices map[string]*DeviceEntry

	factoriesMu sync.Mutex
	factories map[worker.FactoryName]*factoryHandle

	maxRestartAttempts int
	restartDelay time.Duration

	perfMu sync.RWMutex
	onPerf func(worker.S2C)

	sinkMu sync.RWMutex
	onUpdate func(deviceID string, vars []model.Variable)
	onStatus func(deviceID string, online bool)

	ctx context.Context
	cancel context.CancelFunc
}

// SetPerformanceSink registers fn to receive every
// worker.PerformanceTimeEvent/PerformanceCountEvent the factory workers
// emit. Core stays decoupled from any concrete metrics implementation;
// callers typically pass a perfmon.Monitor's Observe method.
func (c *Core) SetPerformanceSink(fn func(worker.S2C)) {
	c.perfMu.Lock()
	defer c.perfMu.Unlock()
	c.onPerf = fn
}

// SetUpdateSink registers fn to be called with every freshly-polled
// variable batch, after the value map itself has been updated and
// after per-tag listeners are notified. Used by historical sinks
// (influx time series, mqtt republish) that need every sample, not
// just the live per-tag subscription listen_value offers.
func (c *Core) SetUpdateSink(fn func(deviceID string, vars []model.Variable)) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.onUpdate = fn
}

// SetStatusSink registers fn to be called on every device online/offline
// transition, used to fan status out over the façade's listen_event<T>
// hub and to republish it to external sinks.
func (c *Core) SetStatusSink(fn func(deviceID string, online bool)) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.onStatus = fn
}

// New constructs an empty Core. AddDevice registers a device's protocol
// family with RegisterFactory if it is not registered yet.
func New(logger *zap.Logger) *Core {
	ctx, cancel := context.WithCancel(context.Background())
	return &Core{
		logger: logger,
		values: make(map[string]map[string]*valueEntry),
		devices: make(map[string]*DeviceEntry),
		factories: make(map[worker.FactoryName]*factoryHandle),
		maxRestartAttempts: DefaultMaxRestartAttempts,
		restartDelay: DefaultRestartDelaySec * time.Second,
		ctx: ctx,
		cancel: cancel,
	}
}

// RegisterFactory spawns a worker for the named protocol family and
// begins consuming its event stream.
func (c *Core) RegisterFactory(name worker.FactoryName, mode worker.ClientMode) {
	c.factoriesMu.Lock()
	defer c.factoriesMu.Unlock()
	if _, ok := c.factories[name]; ok {
		return
	}
	fh := &factoryHandle{
		name: name,
		mode: mode,
		devices: make(map[string]worker.DeviceSpec),
		dialers: make(map[string]transport.Dialer),
	}
	c.factories[name] = fh
	c.spawnWorker(fh)
}

func (c *Core) spawnWorker(fh *factoryHandle) {
	in := make(chan worker.C2S, 64)
	out := make(chan worker.S2C, 256)
	ctx, cancel := context.WithCancel(c.ctx)
	fh.in = in
	fh.out = out
	fh.cancel = cancel

	w := worker.New(fh.name, fh.mode, c.logger, in, out)
	for key, dial := range fh.dialers {
		w.RegisterDialer(key, dial)
	}
	go w.Run(ctx)
	go c.consumeEvents(fh)
}

func (c *Core) consumeEvents(fh *factoryHandle) {
	for ev := range fh.out {
		switch e := ev.(type) {
		case worker.ReadyEvent:
			c.logger.Info("worker ready", zap.String("factory", e.Factory))
			c.replayDevices(fh)
		case worker.DeviceStatusEvent:
			c.setOnline(e.DeviceID, e.Online)
		case worker.UpdateEvent:
			c.applyUpdate(e.DeviceID, e.Vars)
		case worker.WriteAckEvent:
			c.resolveWriteAck(e.DeviceID, e.Action, e.Err)
		case worker.PerformanceTimeEvent, worker.PerformanceCountEvent:
			c.perfMu.RLock()
			fn := c.onPerf
			c.perfMu.RUnlock()
			if fn != nil {
				fn(ev)
			}
		}
	}
	c.handleWorkerExit(fh)
}

// replayDevices resends every AddDeviceCommand the core had previously
// issued for this factory, used both on first start and after a
// restart.
func (c *Core) replayDevices(fh *factoryHandle) {
	for _, spec := range fh.devices {
		select {
		case fh.in <- worker.AddDeviceCommand{Spec: spec}:
		default:
			c.logger.Warn("worker command queue full during device replay", zap.String("device", spec.DeviceID))
		}
	}
}

// handleWorkerExit applies the restart policy: respawn up to
// maxRestartAttempts times with restartDelay between attempts, marking
// every device of this factory offline while it is down, and giving up
// permanently past the limit.
func (c *Core) handleWorkerExit(fh *factoryHandle) {
	c.factoriesMu.Lock()
	fh.attempts++
	attempts := fh.attempts
	c.factoriesMu.Unlock()

	for deviceID := range fh.devices {
		c.setOnline(deviceID, false)
	}

	if attempts > c.maxRestartAttempts {
		c.logger.Error("worker exceeded restart attempts, giving up permanently",
			zap.String("factory", string(fh.name)), zap.Int("attempts", attempts))
		return
	}

	c.logger.Warn("worker exited, scheduling restart",
		zap.String("factory", string(fh.name)), zap.Int("attempt", attempts), zap.Duration("delay", c.restartDelay))

	timer := time.NewTimer(c.restartDelay)
	go func() {
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			return
		}
		c.factoriesMu.Lock()
		c.spawnWorker(fh)
		c.factoriesMu.Unlock()
	}()
}

// AddDevice registers a device spec with its factory worker, spawning
// the factory if this is the first device assigned to it.
func (c *Core) AddDevice(factory worker.FactoryName, mode worker.ClientMode, spec worker.DeviceSpec, connDialer transport.Dialer) error {
	c.factoriesMu.Lock()
	fh, ok := c.factories[factory]
	if !ok {
		c.factoriesMu.Unlock()
		c.RegisterFactory(factory, mode)
		c.factoriesMu.Lock()
		fh = c.factories[factory]
	}
	if connDialer != nil {
		fh.dialers[spec.ConnectionKey] = connDialer
	}
	fh.devices[spec.DeviceID] = spec
	in := fh.in
	c.factoriesMu.Unlock()

	c.mu.Lock()
	c.devices[spec.DeviceID] = &DeviceEntry{DeviceID: spec.DeviceID, Factory: factory}
	if _, ok := c.values[spec.DeviceID]; !ok {
		c.values[spec.DeviceID] = make(map[string]*valueEntry)
	}
	c.mu.Unlock()

	if in == nil {
		return fmt.Errorf("gateway: factory %q has no running worker yet", factory)
	}
	select {
	case in <- worker.AddDeviceCommand{Spec: spec}:
		return nil
	default:
		return fmt.Errorf("gateway: factory %q command queue is full", factory)
	}
}

// RemoveDevice stops a device's session and drops its cached values.
func (c *Core) RemoveDevice(deviceID string) {
	c.mu.Lock()
	entry, ok := c.devices[deviceID]
	delete(c.devices, deviceID)
	delete(c.values, deviceID)
	c.mu.Unlock()
	if !ok {
		return
	}

	c.factoriesMu.Lock()
	fh, ok := c.factories[entry.Factory]
	if ok {
		delete(fh.devices, deviceID)
	}
	in := fh.in
	c.factoriesMu.Unlock()
	if ok && in != nil {
		select {
		case in <- worker.RemoveDeviceCommand{DeviceID: deviceID}:
		default:
		}
	}
}

func (c *Core) setOnline(deviceID string, online bool) {
	c.mu.Lock()
	entry, ok := c.devices[deviceID]
	if ok {
		entry.Online = online
	}
	c.mu.Unlock()

	c.sinkMu.RLock()
	fn := c.onStatus
	c.sinkMu.RUnlock()
	if fn != nil {
		fn(deviceID, online)
	}
}

func (c *Core) applyUpdate(deviceID string, vars []model.Variable) {
	c.mu.Lock()
	tags, ok := c.values[deviceID]
	if !ok {
		tags = make(map[string]*valueEntry)
		c.values[deviceID] = tags
	}
	var toNotify []struct {
		ch chan model.Value
		val model.Value
	}
	for _, v := range vars {
		old, exists := tags[v.TagID]
		next := &valueEntry{value: v.Value}
		if exists {
			next.listeners = old.listeners
			for _, ch := range old.listeners {
				toNotify = append(toNotify, struct {
					ch chan model.Value
					val model.Value
				}{ch, v.Value})
			}
		}
		tags[v.TagID] = next
	}
	c.mu.Unlock()

	for _, n := range toNotify {
		select {
		case n.ch <- n.val:
		default:
		}
	}

	c.sinkMu.RLock()
	fn := c.onUpdate
	c.sinkMu.RUnlock()
	if fn != nil {
		fn(deviceID, vars)
	}
}

// ListDeviceIDs returns every configured device id.
func (c *Core) ListDeviceIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	return ids
}

// GetDeviceOnline reports whether a device's most recent poll round
// succeeded.
func (c *Core) GetDeviceOnline(deviceID string) (online bool, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.devices[deviceID]
	if !ok {
		return false, false
	}
	return entry.Online, true
}

// ReadValue returns the last-known value for (deviceID, tagID).
// IsNull() on the returned Value if it was never polled or its latest
// poll failed.
func (c *Core) ReadValue(deviceID, tagID string) model.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tags, ok := c.values[deviceID]
	if !ok {
		return model.Null()
	}
	entry, ok := tags[tagID]
	if !ok {
		return model.Null()
	}
	return entry.value
}

// ReadAllValues returns every known tag value for a device.
func (c *Core) ReadAllValues(deviceID string) map[string]model.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tags, ok := c.values[deviceID]
	out := make(map[string]model.Value, len(tags))
	if !ok {
		return out
	}
	for tag, entry := range tags {
		out[tag] = entry.value
	}
	return out
}

// ListenValue registers a listener channel for (deviceID, tagID) value
// changes. The returned cancel func unregisters it.
func (c *Core) ListenValue(deviceID, tagID string) (<-chan model.Value, func()) {
	ch := make(chan model.Value, 8)
	c.mu.Lock()
	tags, ok := c.values[deviceID]
	if !ok {
		tags = make(map[string]*valueEntry)
		c.values[deviceID] = tags
	}
	entry, ok := tags[tagID]
	if !ok {
		entry = &valueEntry{value: model.Null()}
	}
	next := &valueEntry{value: entry.value, listeners: append(append([]chan model.Value{}, entry.listeners...), ch)}
	tags[tagID] = next
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		tags, ok := c.values[deviceID]
		if !ok {
			return
		}
		entry, ok := tags[tagID]
		if !ok {
			return
		}
		filtered := make([]chan model.Value, 0, len(entry.listeners))
		for _, existing := range entry.listeners {
			if existing != ch {
				filtered = append(filtered, existing)
			}
		}
		tags[tagID] = &valueEntry{value: entry.value, listeners: filtered}
	}
	return ch, cancel
}

// InvokeAction dispatches a write through the owning factory worker and
// waits for its WriteAckEvent, honoring ctx's deadline or
// DefaultInvokeActionTimeout if ctx carries none.
func (c *Core) InvokeAction(ctx context.Context, deviceID, action string, value interface{}) error {
	c.mu.RLock()
	entry, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("gateway: unknown device %q", deviceID)
	}

	c.factoriesMu.Lock()
	fh, ok := c.factories[entry.Factory]
	var in chan worker.C2S
	if ok {
		in = fh.in
	}
	c.factoriesMu.Unlock()
	if !ok || in == nil {
		return fmt.Errorf("gateway: factory %q is not running", entry.Factory)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultInvokeActionTimeout)
		defer cancel()
	}

	reply := make(chan error, 1)
	select {
	case in <- worker.InvokeActionCommand{DeviceID: deviceID, Action: action, Value: value, ReplyTo: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Core) resolveWriteAck(deviceID, action string, err error) {
	// WriteAckEvent already carries its reply through InvokeAction's
	// own reply channel; this hook exists for future FIFO fan-out (e.g.
	// an audit log subscriber) and currently just logs failures.
	if err != nil {
		c.logger.Warn("write failed", zap.String("device", deviceID), zap.String("action", action), zap.Error(err))
	}
}

// Close stops every worker and releases resources.
func (c *Core) Close() {
	c.cancel()
}
