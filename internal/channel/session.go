package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fieldwire/modgate/internal/codec"
	"github.com/fieldwire/modgate/internal/mbclient"
	"github.com/fieldwire/modgate/internal/model"
)

// State is a channel session's position in its lifecycle:
// Idle before the first successful poll, Running while polls succeed,
// Degraded once a poll round trip fails but the connection is still
// considered usable, Stopped once the session is torn down.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// UpdateFunc receives the variables decoded from one poll round, and
// StatusFunc receives the device's online flag after each poll round.
type UpdateFunc func(deviceID string, vars []model.Variable)
type StatusFunc func(deviceID string, online bool)

// PerfFunc receives a named operation's wall-clock duration
// ("poll.<name>", "write.push.<action_id>").
type PerfFunc func(name string, d time.Duration)

// Session runs one device's poll groups on independent interval
// schedules (one cron entry per PollGroup, mirroring the "@every"
// interval-trigger idiom this codebase uses for scheduled work) and
// serves write requests against the same mbclient.Client.
type Session struct {
	DeviceID string
	UnitID byte

	client *mbclient.Client
	groups []model.PollGroup
	onUpdate UpdateFunc
	onStatus StatusFunc
	onPerf PerfFunc
	logger *zap.Logger

	mu sync.Mutex
	state State

	cron *cron.Cron
}

// NewSession constructs a poll/write session for one device. groups
// must already have passed model.PollGroup.Validate.
func NewSession(deviceID string, unitID byte, client *mbclient.Client, groups []model.PollGroup, onUpdate UpdateFunc, onStatus StatusFunc, onPerf PerfFunc, logger *zap.Logger) *Session {
	return &Session{
		DeviceID: deviceID,
		UnitID: unitID,
		client: client,
		groups: groups,
		onUpdate: onUpdate,
		onStatus: onStatus,
		onPerf: onPerf,
		logger: logger.With(zap.String("device", deviceID)),
		state: StateIdle,
		cron: cron.New(cron.WithParser(cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
	}
}

func (s *Session) recordPerf(name string, start time.Time) {
	if s.onPerf != nil {
		s.onPerf(name, time.Since(start))
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Info("session state change", zap.String("from", prev.String()), zap.String("to", next.String()))
	}
}

// Start schedules every poll group and runs until ctx is cancelled or
// Stop is called.
func (s *Session) Start(ctx context.Context) error {
	for i := range s.groups {
		g := s.groups[i]
		spec := fmt.Sprintf("@every %s", time.Duration(g.IntervalMS)*time.Millisecond)
		job := func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("recovered from panic in poll", zap.String("group", g.Name), zap.Any("panic", r))
					s.setState(StateDegraded)
					if s.onStatus != nil {
						s.onStatus(s.DeviceID, false)
					}
				}
			}()
			s.pollOnce(ctx, g)
		}
		if _, err := s.cron.AddFunc(spec, job); err != nil {
			return fmt.Errorf("channel: schedule poll group %q: %w", g.Name, err)
		}
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts all scheduled polling.
func (s *Session) Stop() {
	s.cron.Stop()
	s.setState(StateStopped)
}

func (s *Session) pollOnce(ctx context.Context, g model.PollGroup) {
	if s.State() == StateStopped {
		return
	}
	start := time.Now()
	defer s.recordPerf("poll."+g.Name, start)
	vars, err := s.readGroup(ctx, g)
	if err != nil {
		s.logger.Debug("poll failed", zap.String("group", g.Name), zap.Error(err))
		s.setState(StateDegraded)
		if s.onStatus != nil {
			s.onStatus(s.DeviceID, false)
		}
		if s.onUpdate != nil && len(g.Mapping) > 0 {
			nulls := make([]model.Variable, 0, len(g.Mapping))
			for _, m := range g.Mapping {
				nulls = append(nulls, model.Variable{DeviceID: s.DeviceID, TagID: m.Tag, Value: model.Null()})
			}
			s.onUpdate(s.DeviceID, nulls)
		}
		return
	}
	s.setState(StateRunning)
	if s.onStatus != nil {
		s.onStatus(s.DeviceID, true)
	}
	if s.onUpdate != nil && len(vars) > 0 {
		s.onUpdate(s.DeviceID, vars)
	}
}

func (s *Session) readGroup(ctx context.Context, g model.PollGroup) ([]model.Variable, error) {
	if g.IsBitwise() {
		bits, err := s.readBits(ctx, g)
		if err != nil {
			return nil, err
		}
		return decodeBitMappings(s.DeviceID, g, bits), nil
	}
	data, err := s.readRegisters(ctx, g)
	if err != nil {
		return nil, err
	}
	return decodeRegisterMappings(s.DeviceID, g, data), nil
}

func (s *Session) readBits(ctx context.Context, g model.PollGroup) ([]bool, error) {
	if g.FunctionCode == codec.FuncReadCoils {
		return s.client.ReadCoils(ctx, s.UnitID, g.BeginAddress, g.Length)
	}
	return s.client.ReadDiscreteInputs(ctx, s.UnitID, g.BeginAddress, g.Length)
}

func (s *Session) readRegisters(ctx context.Context, g model.PollGroup) ([]byte, error) {
	if g.FunctionCode == codec.FuncReadInputRegisters {
		return s.client.ReadInputRegisters(ctx, s.UnitID, g.BeginAddress, g.Length)
	}
	return s.client.ReadHoldingRegisters(ctx, s.UnitID, g.BeginAddress, g.Length)
}

func decodeRegisterMappings(deviceID string, g model.PollGroup, data []byte) []model.Variable {
	vars := make([]model.Variable, 0, len(g.Mapping))
	for _, m := range g.Mapping {
		start := m.Offset * 2
		end := start + m.Length*2
		if end > len(data) {
			vars = append(vars, model.Variable{DeviceID: deviceID, TagID: m.Tag, Value: model.Null()})
			continue
		}
		v, err := DecodeValue(data[start:end], m.Type, m.Length, m.Endian)
		if err != nil {
			v = model.Null()
		}
		vars = append(vars, model.Variable{DeviceID: deviceID, TagID: m.Tag, Value: v})
	}
	return vars
}

func decodeBitMappings(deviceID string, g model.PollGroup, bits []bool) []model.Variable {
	vars := make([]model.Variable, 0, len(g.Mapping))
	for _, m := range g.Mapping {
		if m.Offset >= len(bits) {
			vars = append(vars, model.Variable{DeviceID: deviceID, TagID: m.Tag, Value: model.Null()})
			continue
		}
		vars = append(vars, model.Variable{DeviceID: deviceID, TagID: m.Tag, Value: model.Bool(bits[m.Offset])})
	}
	return vars
}

// Write dispatches a write-capable action by the same function code
// domain a PollGroup uses: 1 (coil) encodes to a single-coil write, 3
// (holding register) encodes to a single- or multiple-register write
// depending on push.Length. Read-only function codes 2 and 4 are
// rejected immediately.
func (s *Session) Write(ctx context.Context, push model.Push, value interface{}) error {
	start := time.Now()
	defer s.recordPerf("write.push."+push.Action, start)
	switch push.FunctionCode {
	case codec.FuncReadDiscreteInputs, codec.FuncReadInputRegisters:
		return fmt.Errorf("channel: function code 0x%02X is read-only", push.FunctionCode)
	case codec.FuncReadCoils:
		b, err := CoerceBool(value)
		if err != nil {
			return err
		}
		ok, err := s.client.WriteSingleCoil(ctx, s.UnitID, push.Address, b)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("channel: write single coil echo mismatch")
		}
		return nil
	case codec.FuncReadHoldingRegisters:
		data, err := EncodeRegisters(value, push.Type, push.Length, push.Endian)
		if err != nil {
			return err
		}
		var ok bool
		if push.Length == 1 {
			ok, err = s.client.WriteSingleRegister(ctx, s.UnitID, push.Address, RegistersToUint16(data)[0])
		} else {
			ok, err = s.client.WriteMultipleRegisters(ctx, s.UnitID, push.Address, RegistersToUint16(data))
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("channel: write register echo mismatch")
		}
		return nil
	default:
		return fmt.Errorf("channel: unsupported write function code 0x%02X", push.FunctionCode)
	}
}
