package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/channel"
	"github.com/fieldwire/modgate/internal/codec"
	"github.com/fieldwire/modgate/internal/mbclient"
	"github.com/fieldwire/modgate/internal/model"
	"github.com/fieldwire/modgate/internal/transport"
)

// FactoryName identifies a protocol family. Only "modbus" exists today;
// the type exists so the gateway's registry is not hardcoded
// to a single string literal everywhere it is consulted.
type FactoryName string

const ModbusFactory FactoryName = "modbus"

// ClientMode tells a worker whether its devices speak Modbus TCP or
// Modbus RTU, which determines the codec.Mode and mbclient.Config used
// for every connection it dials.
type ClientMode int

const (
	ClientModeTCP ClientMode = iota
	ClientModeRTU
)

// Worker runs every device session for one protocol family inside its
// own goroutine tree, isolated from the gateway core by the C2S/S2C
// channel pair: a panic in a device session is recovered and reported
// as a DeviceStatusEvent(online=false) rather than bringing down the
// host process.
type Worker struct {
	Factory FactoryName
	Mode ClientMode

	logger *zap.Logger
	pool *transport.Pool

	in <-chan C2S
	out chan<- S2C

	mu sync.Mutex
	sessions map[string]*channel.Session
	cancels map[string]context.CancelFunc
	clients map[string]*mbclient.Client // keyed by connection key
	refcount map[string]int
	dialers map[string]transport.Dialer
	deviceActions map[string]map[string]model.Push
}

// New constructs a Worker. in is the command channel the gateway core
// writes to; out is the event channel the worker writes to. The
// gateway core owns both channels' lifetimes.
func New(factory FactoryName, mode ClientMode, logger *zap.Logger, in <-chan C2S, out chan<- S2C) *Worker {
	return &Worker{
		Factory: factory,
		Mode: mode,
		logger: logger.With(zap.String("factory", string(factory))),
		pool: transport.NewPool(logger),
		in: in,
		out: out,
		sessions: make(map[string]*channel.Session),
		cancels: make(map[string]context.CancelFunc),
		clients: make(map[string]*mbclient.Client),
		refcount: make(map[string]int),
	}
}

// Run is the worker's main loop. It sends ReadyEvent immediately, then
// processes commands until ctx is cancelled or it receives
// ShutdownCommand.
func (w *Worker) Run(ctx context.Context) {
	w.send(ReadyEvent{Factory: string(w.Factory)})
	defer w.pool.Close()

	go w.relayPoolEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			w.stopAll()
			return
		case cmd, ok := <-w.in:
			if !ok {
				w.stopAll()
				return
			}
			if w.handle(ctx, cmd) {
				w.stopAll()
				return
			}
		}
	}
}

// relayPoolEvents turns the transport pool's connect/reconnect telemetry
// into named counters for the performance monitor.
func (w *Worker) relayPoolEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.pool.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.EventAttempt:
				w.send(PerformanceCountEvent{Name: "reconnect.attempt", Delta: 1})
			case transport.EventSuccess:
				w.send(PerformanceCountEvent{Name: "reconnect.success", Delta: 1})
			case transport.EventFail:
				w.send(PerformanceCountEvent{Name: "reconnect.fail", Delta: 1})
			}
		}
	}
}

func (w *Worker) send(ev S2C) {
	select {
	case w.out <- ev:
	default:
		// The core is expected to keep pace; a full buffer here means a
		// slow consumer, which we do not want to block the whole worker
		// on. The event is dropped rather than risk deadlocking a
		// crash-isolated component.
		w.logger.Warn("dropped event, core consumer is behind", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

// handle dispatches one C2S command, returning true if the worker
// should shut down.
func (w *Worker) handle(ctx context.Context, cmd C2S) (shutdown bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("recovered from panic handling command", zap.Any("panic", r), zap.String("type", fmt.Sprintf("%T", cmd)))
		}
	}()

	switch c := cmd.(type) {
	case AddDeviceCommand:
		w.addDevice(ctx, c.Spec)
	case RemoveDeviceCommand:
		w.removeDevice(c.DeviceID)
	case InvokeActionCommand:
		w.invokeAction(ctx, c)
	case ShutdownCommand:
		return true
	default:
		w.logger.Warn("unknown command type", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
	return false
}

func (w *Worker) clientFor(ctx context.Context, connKey string) *mbclient.Client {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.clients[connKey]; ok {
		w.refcount[connKey]++
		return c
	}

	mode := codec.ModeTCP
	if w.Mode == ClientModeRTU {
		mode = codec.ModeRTU
	}

	var currentWriter func([]byte) error
	var writerMu sync.Mutex
	write := func(frame []byte) error {
		writerMu.Lock()
		wfn := currentWriter
		writerMu.Unlock()
		if wfn == nil {
			return fmt.Errorf("worker: connection %q not yet established", connKey)
		}
		return wfn(frame)
	}

	client := mbclient.New(write, mbclient.Config{Mode: mode})

	dial := w.dialerFor(connKey)
	w.pool.Add(ctx, connKey, dial, func(conn transport.Conn) {
		writerMu.Lock()
		currentWriter = func(frame []byte) error {
			_, err := conn.Write(frame)
			return err
		}
		writerMu.Unlock()
		go w.readLoop(conn, mode, client)
	})

	w.clients[connKey] = client
	w.refcount[connKey] = 1
	return client
}

func (w *Worker) dialerFor(connKey string) transport.Dialer {
	// Address resolution is performed by the gateway core when it built
	// the DeviceSpec; connKey already encodes everything needed (see
	// transport.TCPKey/UnixKey/RTUKey), so the worker only needs to know
	// which family of dialer to reconstruct. The core registers the
	// concrete Dialer via RegisterDialer before adding any device that
	// uses it.
	w.mu.Lock()
	d, ok := w.dialers[connKey]
	w.mu.Unlock()
	if ok {
		return d
	}
	return func(ctx context.Context) (transport.Conn, error) {
		return nil, fmt.Errorf("worker: no dialer registered for connection %q", connKey)
	}
}

func (w *Worker) readLoop(conn transport.Conn, mode codec.Mode, client *mbclient.Client) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("recovered from panic in read loop", zap.Any("panic", r))
		}
	}()
	f := codec.NewFramer(mode, codec.RoleResponse)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pkts, ferr := f.Push(buf[:n])
			for _, pkt := range pkts {
				client.Deliver(pkt)
			}
			if ferr != nil {
				w.logger.Debug("framer error", zap.Error(ferr))
			}
		}
		if err != nil {
			return
		}
	}
}

func (w *Worker) addDevice(ctx context.Context, spec DeviceSpec) {
	client := w.clientFor(ctx, spec.ConnectionKey)

	sessionCtx, cancel := context.WithCancel(ctx)
	onUpdate := func(deviceID string, vars []model.Variable) {
		w.send(UpdateEvent{DeviceID: deviceID, Vars: vars})
	}
	onStatus := func(deviceID string, online bool) {
		w.send(DeviceStatusEvent{DeviceID: deviceID, Online: online, At: time.Now()})
	}
	onPerf := func(name string, d time.Duration) {
		w.send(PerformanceTimeEvent{Name: name, Duration: d})
	}

	sess := channel.NewSession(spec.DeviceID, spec.UnitID, client, spec.PollGroups, onUpdate, onStatus, onPerf, w.logger)

	w.mu.Lock()
	if old, ok := w.cancels[spec.DeviceID]; ok {
		old()
	}
	w.sessions[spec.DeviceID] = sess
	w.cancels[spec.DeviceID] = cancel
	w.actions(spec.DeviceID, spec.Actions)
	w.mu.Unlock()

	go w.runSessionIsolated(sessionCtx, sess)
}

func (w *Worker) runSessionIsolated(ctx context.Context, sess *channel.Session) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("recovered from panic in device session", zap.String("device", sess.DeviceID), zap.Any("panic", r))
			w.send(DeviceStatusEvent{DeviceID: sess.DeviceID, Online: false, At: time.Now()})
		}
	}()
	if err := sess.Start(ctx); err != nil {
		w.logger.Error("failed to start session", zap.String("device", sess.DeviceID), zap.Error(err))
		w.send(DeviceStatusEvent{DeviceID: sess.DeviceID, Online: false, At: time.Now()})
	}
}

func (w *Worker) removeDevice(deviceID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.cancels[deviceID]; ok {
		cancel()
		delete(w.cancels, deviceID)
	}
	delete(w.sessions, deviceID)
	delete(w.deviceActions, deviceID)
}

func (w *Worker) actions(deviceID string, actions map[string]model.Push) {
	if w.deviceActions == nil {
		w.deviceActions = make(map[string]map[string]model.Push)
	}
	w.deviceActions[deviceID] = actions
}

func (w *Worker) invokeAction(ctx context.Context, cmd InvokeActionCommand) {
	w.mu.Lock()
	sess, sessOK := w.sessions[cmd.DeviceID]
	actions, actOK := w.deviceActions[cmd.DeviceID]
	w.mu.Unlock()

	var err error
	switch {
	case !sessOK:
		err = fmt.Errorf("worker: unknown device %q", cmd.DeviceID)
	case !actOK:
		err = fmt.Errorf("worker: device %q has no actions configured", cmd.DeviceID)
	default:
		push, ok := actions[cmd.Action]
		if !ok {
			err = fmt.Errorf("worker: device %q has no action %q", cmd.DeviceID, cmd.Action)
		} else {
			err = sess.Write(ctx, push, cmd.Value)
		}
	}

	w.send(WriteAckEvent{DeviceID: cmd.DeviceID, Action: cmd.Action, Err: err, At: time.Now()})
	if cmd.ReplyTo != nil {
		select {
		case cmd.ReplyTo <- err:
		default:
		}
	}
}

func (w *Worker) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, cancel := range w.cancels {
		cancel()
	}
	w.sessions = make(map[string]*channel.Session)
	w.cancels = make(map[string]context.CancelFunc)
}

// RegisterDialer associates a concrete Dialer with a connection key
// before any AddDeviceCommand referencing it is sent. The gateway core
// calls this once per distinct connection it discovers in config.
func (w *Worker) RegisterDialer(connKey string, dial transport.Dialer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dialers == nil {
		w.dialers = make(map[string]transport.Dialer)
	}
	w.dialers[connKey] = dial
}
