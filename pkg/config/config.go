// Package config loads and saves the glove.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/gwillem/glove/pkg/actuator"
	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/command"
	"github.com/gwillem/glove/pkg/gesture"
	"github.com/gwillem/glove/pkg/imu"
	"github.com/gwillem/glove/pkg/session"
)

const DefaultFile = "glove.toml"

// Actuator kinds.
const (
	ActuatorSerial = "serial"
	ActuatorServo  = "servo"
	ActuatorNone   = "none"
)

// Config holds the glove host configuration.
type Config struct {
	Hz        int       `toml:"hz"`
	Log       Log       `toml:"log"`
	Glove     Port      `toml:"glove"`
	Link      Port      `toml:"link"`
	Actuator  Actuator  `toml:"actuator"`
	Gestures  Gestures  `toml:"gestures"`
	Mapper    Mapper    `toml:"mapper"`
	Telemetry Telemetry `toml:"telemetry"`
	Sensors   []Sensor  `toml:"sensors"`
}

// Log selects the log output.
type Log struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
	File  string `toml:"file,omitempty"`
}

// Port names a serial device and its line settings.
type Port struct {
	Path string `toml:"port"`
	channel.PortOptions
}

// Actuator selects the command sink.
type Actuator struct {
	Kind        string               `toml:"kind"`
	Port        string               `toml:"port"`
	Baud        int                  `toml:"baud,omitempty"`
	Gain        float64              `toml:"gain,omitempty"`
	Calibration actuator.Calibration `toml:"calibration,omitempty"`
}

// IsCalibrated reports whether the servo gimbal has calibration data.
func (a *Actuator) IsCalibrated() bool {
	return len(a.Calibration) > 0
}

// Gestures locates the gesture database.
type Gestures struct {
	Database    string  `toml:"database"`
	Sensitivity float64 `toml:"sensitivity"`
}

// Mapper holds the command mapper tuning.
type Mapper struct {
	Pitch         command.Axis `toml:"pitch"`
	Roll          command.Axis `toml:"roll"`
	Yaw           command.Axis `toml:"yaw"`
	FeedbackEvery int          `toml:"feedback_every"`
	Unrecognized  string       `toml:"unrecognized_feedback"`
	Holding       string       `toml:"hold_feedback"`
}

// Telemetry configures the MQTT publisher and the classification trace.
type Telemetry struct {
	Broker   string `toml:"broker,omitempty"`
	Topic    string `toml:"topic,omitempty"`
	ClientID string `toml:"client_id,omitempty"`
	Trace    string `toml:"trace,omitempty"`
}

// Sensor assigns a glove position to an IMU bus address.
type Sensor struct {
	Position string `toml:"position"`
	Address  int    `toml:"address"`
}

// Default returns the stock configuration.
func Default() Config {
	mc := command.DefaultConfig()
	return Config{
		Hz:  20,
		Log: Log{Level: "info"},
		Glove: Port{
			PortOptions: channel.PortOptions{BaudRate: 115200},
		},
		Link: Port{
			PortOptions: channel.PortOptions{BaudRate: 115200},
		},
		Actuator: Actuator{Kind: ActuatorSerial},
		Gestures: Gestures{
			Database:    "gestures.db",
			Sensitivity: gesture.DefaultSensitivity,
		},
		Mapper: Mapper{
			Pitch:         mc.Pitch,
			Roll:          mc.Roll,
			Yaw:           mc.Yaw,
			FeedbackEvery: mc.FeedbackEvery,
			Unrecognized:  mc.Unrecognized.String(),
			Holding:       mc.Holding.String(),
		},
		Telemetry: Telemetry{
			Topic:    "glove/telemetry",
			ClientID: "glovectl",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("load glove config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("load glove config: unknown keys %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load glove config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save glove config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("save glove config: %w", err)
	}
	return f.Close()
}

// Exists reports whether a configuration file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	var errs []error
	if c.Hz <= 0 || c.Hz > 1000 {
		errs = append(errs, fmt.Errorf("hz %d out of range 1..1000", c.Hz))
	}
	if c.Gestures.Sensitivity <= 0 {
		errs = append(errs, fmt.Errorf("gestures.sensitivity must be positive"))
	}
	if c.Mapper.FeedbackEvery <= 0 {
		errs = append(errs, fmt.Errorf("mapper.feedback_every must be positive"))
	}
	for _, fb := range []string{c.Mapper.Unrecognized, c.Mapper.Holding} {
		if _, err := command.ParseFeedback([]byte(fb)); err != nil {
			errs = append(errs, fmt.Errorf("mapper: %w", err))
		}
	}
	for name, p := range map[string]Port{"glove": c.Glove, "link": c.Link} {
		if _, err := p.PortOptions.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch c.Actuator.Kind {
	case ActuatorSerial, ActuatorNone:
	case ActuatorServo:
		if c.Actuator.IsCalibrated() {
			if err := c.Actuator.Calibration.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("actuator: %w", err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("actuator.kind %q: expected %s, %s or %s",
			c.Actuator.Kind, ActuatorSerial, ActuatorServo, ActuatorNone))
	}

	if _, err := c.Assignments(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Assignments converts the sensor table into handshake assignments.
func (c *Config) Assignments() ([]session.Assignment, error) {
	out := make([]session.Assignment, 0, len(c.Sensors))
	var seen []imu.SensorID
	for i, s := range c.Sensors {
		id, err := imu.ParseSensor(s.Position)
		if err != nil {
			return nil, fmt.Errorf("sensors[%d]: %w", i, err)
		}
		if slices.Contains(seen, id) {
			return nil, fmt.Errorf("sensors[%d]: duplicate position %s", i, id)
		}
		seen = append(seen, id)
		out = append(out, session.Assignment{Sensor: id, Address: s.Address})
	}
	return out, nil
}

// MapperConfig converts the mapper section into command mapper settings.
func (c *Config) MapperConfig() (command.Config, error) {
	unrec, err := command.ParseFeedback([]byte(c.Mapper.Unrecognized))
	if err != nil {
		return command.Config{}, err
	}
	hold, err := command.ParseFeedback([]byte(c.Mapper.Holding))
	if err != nil {
		return command.Config{}, err
	}
	return command.Config{
		Pitch:         c.Mapper.Pitch,
		Roll:          c.Mapper.Roll,
		Yaw:           c.Mapper.Yaw,
		FeedbackEvery: c.Mapper.FeedbackEvery,
		Unrecognized:  unrec,
		Holding:       hold,
	}, nil
}
