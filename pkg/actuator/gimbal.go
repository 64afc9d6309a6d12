package actuator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/command"
)

// Defaults for the servo gimbal.
const (
	DefaultServoBaud = 1_000_000
	// DefaultGain is the normalized travel per cycle for a channel value of 1.
	DefaultGain = 0.005
)

// servoGroup is the subset of a feetech servo group the gimbal drives.
type servoGroup interface {
	EnableAll(ctx context.Context) error
	DisableAll(ctx context.Context) error
	Positions(ctx context.Context) (map[int]int, error)
	SetPositions(ctx context.Context, positions map[int]int) error
}

type feetechGroup struct {
	g *feetech.ServoGroup
}

func (f feetechGroup) EnableAll(ctx context.Context) error  { return f.g.EnableAll(ctx) }
func (f feetechGroup) DisableAll(ctx context.Context) error { return f.g.DisableAll(ctx) }

func (f feetechGroup) Positions(ctx context.Context) (map[int]int, error) {
	raw, err := f.g.Positions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(raw))
	for id, pos := range raw {
		out[id] = pos
	}
	return out, nil
}

func (f feetechGroup) SetPositions(ctx context.Context, positions map[int]int) error {
	return f.g.SetPositions(ctx, feetech.PositionMap(positions))
}

// GimbalConfig configures a servo gimbal.
type GimbalConfig struct {
	Port        string
	BaudRate    int
	Calibration Calibration
	// Gain scales gimbal channels into normalized travel per command.
	Gain   float64
	Logger zerolog.Logger
}

// Gimbal steers a two-servo pan/tilt head from gimbal commands. Each
// command moves the targets by gain·channel: roll drives tilt and the
// yaw offset drives pan. Hold keeps the current targets; chassis and
// shooter commands do not apply to a gimbal.
type Gimbal struct {
	mu      sync.Mutex
	group   servoGroup
	closer  io.Closer
	cal     Calibration
	gain    float64
	targets map[AxisName]float64
	log     zerolog.Logger
}

// OpenGimbal connects to the servo bus, enables torque and starts from the
// servos' current positions.
func OpenGimbal(ctx context.Context, cfg GimbalConfig) (*Gimbal, error) {
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("gimbal calibration: %w", err)
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultServoBaud
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	group := feetech.NewServoGroupByIDs(bus, cfg.Calibration.ServoIDs()...)
	g, err := newGimbal(ctx, feetechGroup{g: group}, bus, cfg)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return g, nil
}

func newGimbal(ctx context.Context, group servoGroup, closer io.Closer, cfg GimbalConfig) (*Gimbal, error) {
	if cfg.Gain == 0 {
		cfg.Gain = DefaultGain
	}
	g := &Gimbal{
		group:   group,
		closer:  closer,
		cal:     cfg.Calibration,
		gain:    cfg.Gain,
		targets: make(map[AxisName]float64, len(cfg.Calibration)),
		log:     cfg.Logger,
	}

	positions, err := g.ReadPositions(ctx)
	if err != nil {
		return nil, err
	}
	for name, pos := range positions {
		g.targets[name] = pos
	}
	if err := group.EnableAll(ctx); err != nil {
		return nil, fmt.Errorf("enable torque: %w", err)
	}
	return g, nil
}

// ReadPositions reads current positions in the range [-100, 100].
func (g *Gimbal) ReadPositions(ctx context.Context) (map[AxisName]float64, error) {
	raw, err := g.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	positions := make(map[AxisName]float64, len(raw))
	for id, pos := range raw {
		name, ac, ok := g.cal.ByID(id)
		if !ok {
			continue
		}
		positions[name] = ac.Normalize(pos)
	}
	return positions, nil
}

// WritePositions moves the axes to normalized positions.
func (g *Gimbal) WritePositions(ctx context.Context, positions map[AxisName]float64) error {
	raw := make(map[int]int, len(positions))
	for name, norm := range positions {
		ac, ok := g.cal[name]
		if !ok {
			continue
		}
		raw[ac.ID] = ac.Denormalize(norm)
	}
	if err := g.group.SetPositions(ctx, raw); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

// Targets returns the current normalized targets.
func (g *Gimbal) Targets() map[AxisName]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[AxisName]float64, len(g.targets))
	for k, v := range g.targets {
		out[k] = v
	}
	return out
}

// Send applies one command frame.
func (g *Gimbal) Send(ctx context.Context, f command.Frame) error {
	if f.Tag != command.Gimbal {
		g.log.Trace().Stringer("frame", f).Msg("ignored")
		return nil
	}
	if len(f.Channels) != 2 {
		return fmt.Errorf("%w: gimbal frame has %d channels", command.ErrChannelCount, len(f.Channels))
	}

	g.mu.Lock()
	g.targets[Tilt] = Clamp(g.targets[Tilt] + g.gain*float64(f.Channels[0]))
	g.targets[Pan] = Clamp(g.targets[Pan] + g.gain*float64(f.Channels[1]))
	targets := map[AxisName]float64{Pan: g.targets[Pan], Tilt: g.targets[Tilt]}
	g.mu.Unlock()

	return g.WritePositions(ctx, targets)
}

// Close releases torque and closes the bus.
func (g *Gimbal) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.group.DisableAll(ctx); err != nil {
		g.log.Warn().Err(err).Msg("disable torque")
	}
	if g.closer == nil {
		return nil
	}
	return g.closer.Close()
}
