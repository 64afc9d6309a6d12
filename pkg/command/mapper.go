package command

import (
	"math"

	"github.com/gwillem/glove/pkg/gesture"
	"github.com/gwillem/glove/pkg/imu"
)

// Gesture labels the mapper acts on.
const (
	LabelHold    = 0
	LabelChassis = 1
	LabelGimbal  = 2
	LabelShooter = 3
)

// Axis scales an angle in radians to channel units and suppresses jitter.
type Axis struct {
	Gain     float64 `toml:"gain"`
	DeadZone float64 `toml:"dead_zone"` // in channel units, after gain
}

// Apply returns gain·angle rounded to int16, or 0 when its magnitude is
// below the dead zone. Values beyond the int16 range saturate.
func (a Axis) Apply(angle float64) int16 {
	v := a.Gain * angle
	if math.Abs(v) < a.DeadZone || math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Config holds the per-axis scaling and the feedback rate.
type Config struct {
	Pitch Axis
	Roll  Axis
	Yaw   Axis

	// FeedbackEvery is the number of consecutive cycles a feedback
	// condition must persist before each feedback request.
	FeedbackEvery int

	Unrecognized Feedback // sent while no gesture matches
	Holding      Feedback // sent while the hold gesture persists
}

// DefaultConfig returns the stock tuning: 1000 units per radian, a dead
// zone of about 8.6°, and feedback once a second at 20 Hz.
func DefaultConfig() Config {
	axis := Axis{Gain: 1000, DeadZone: 150}
	return Config{
		Pitch:         axis,
		Roll:          axis,
		Yaw:           axis,
		FeedbackEvery: 20,
		Unrecognized:  Feedback{Kind: Vibration, Value: VibrateSlight},
		Holding:       Feedback{Kind: Buzzer, Value: BuzzDouble},
	}
}

type condition int

const (
	condNone condition = iota
	condUnrecognized
	condHold
)

// State is the per-session mapper state.
type State struct {
	ZeroYaw float64
	HasZero bool

	counter   int
	condition condition
}

// Output is what one cycle produced. Either field may be nil.
type Output struct {
	Frame    *Frame
	Feedback *Feedback
}

// Mapper converts classification results into command frames. It is not
// safe for concurrent use; one control loop owns it.
type Mapper struct {
	cfg   Config
	state State
}

// NewMapper returns a mapper with fresh session state.
func NewMapper(cfg Config) *Mapper {
	if cfg.FeedbackEvery <= 0 {
		cfg.FeedbackEvery = 1
	}
	return &Mapper{cfg: cfg}
}

// State returns a copy of the session state.
func (m *Mapper) State() State {
	return m.state
}

// Reset clears the zero reference and feedback counter.
func (m *Mapper) Reset() {
	m.state = State{}
}

// Map handles one control cycle. Movement gestures are ignored until a
// hold gesture has set the yaw origin.
func (m *Mapper) Map(res gesture.Result, angles imu.Euler) Output {
	var out Output

	switch {
	case !res.Recognized():
		out.Feedback = m.tick(condUnrecognized, m.cfg.Unrecognized)
		return out
	case res.Label == LabelHold:
		m.state.ZeroYaw = angles.Yaw
		m.state.HasZero = true
		out.Frame = &Frame{Tag: Hold}
		out.Feedback = m.tick(condHold, m.cfg.Holding)
		return out
	}

	m.tick(condNone, Feedback{})
	if !m.state.HasZero {
		return out
	}

	switch res.Label {
	case LabelChassis:
		dz := WrapAngle(angles.Yaw - m.state.ZeroYaw)
		out.Frame = &Frame{Tag: Chassis, Channels: []int16{
			m.cfg.Pitch.Apply(angles.Pitch),
			m.cfg.Roll.Apply(angles.Roll),
			m.cfg.Yaw.Apply(dz),
		}}
	case LabelGimbal:
		dz := WrapAngle(angles.Yaw - m.state.ZeroYaw)
		out.Frame = &Frame{Tag: Gimbal, Channels: []int16{
			m.cfg.Roll.Apply(angles.Roll),
			m.cfg.Yaw.Apply(dz),
		}}
	case LabelShooter:
		out.Frame = &Frame{Tag: Shooter}
	}
	return out
}

// tick advances the feedback counter for c and returns fb when it fires.
func (m *Mapper) tick(c condition, fb Feedback) *Feedback {
	if c != m.state.condition {
		m.state.condition = c
		m.state.counter = 0
	}
	if c == condNone {
		return nil
	}
	m.state.counter++
	if m.state.counter < m.cfg.FeedbackEvery {
		return nil
	}
	m.state.counter = 0
	return &fb
}

// WrapAngle maps a into (-π, π].
func WrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
