// Package teleop runs the glove teleoperation control loop.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/actuator"
	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/command"
	"github.com/gwillem/glove/pkg/gesture"
	"github.com/gwillem/glove/pkg/imu"
	"github.com/gwillem/glove/pkg/telemetry"
)

// DefaultHz is the control loop rate.
const DefaultHz = 20

// State is the outcome of one control cycle.
type State struct {
	Timestamp time.Time
	Result    gesture.Result
	Angles    imu.Euler
	Frame     *command.Frame
	Feedback  *command.Feedback
	HasZero   bool
	Error     error
}

// Config holds configuration for the controller.
type Config struct {
	// Frames is the glove sensor stream.
	Frames      io.Reader
	Database    *gesture.Database
	Sensitivity float64
	Mapper      command.Config
	// Reference is the sensor whose angles drive the mapper.
	Reference imu.SensorID

	Actuator actuator.Actuator
	// Channel, when set, carries feedback requests on the bluetooth category.
	Channel   *channel.Channel
	Publisher telemetry.Publisher
	Trace     *telemetry.TraceWriter

	Hz     int
	Logger zerolog.Logger
}

// Controller manages the teleoperation control loop.
type Controller struct {
	cfg    Config
	mapper *command.Mapper
	hz     int
	log    zerolog.Logger

	mu      sync.RWMutex
	running bool
	frames  *FrameSource
	stateCh chan State
	logCh   chan string
}

// NewController checks cfg and fills in defaults.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Frames == nil {
		return nil, errors.New("teleop: no frame source")
	}
	if cfg.Database == nil {
		return nil, errors.New("teleop: no gesture database")
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = gesture.DefaultSensitivity
	}
	if cfg.Reference == 0 {
		cfg.Reference = imu.Hand
	}
	if !cfg.Reference.Valid() {
		return nil, fmt.Errorf("teleop: invalid reference sensor %v", cfg.Reference)
	}
	if cfg.Actuator == nil {
		cfg.Actuator = actuator.Discard{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = telemetry.Nop{}
	}
	if cfg.Hz <= 0 {
		cfg.Hz = DefaultHz
	}

	return &Controller{
		cfg:     cfg,
		mapper:  command.NewMapper(cfg.Mapper),
		hz:      cfg.Hz,
		log:     cfg.Logger,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
	}, nil
}

// Close releases the actuator and telemetry sinks.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	var errs []error
	if err := c.cfg.Actuator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close actuator: %w", err))
	}
	if c.cfg.Trace != nil {
		if err := c.cfg.Trace.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace: %w", err))
		}
	}
	c.cfg.Publisher.Close()
	return errors.Join(errs...)
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// logf records a message to the logger and to the log channel.
func (c *Controller) logf(level zerolog.Level, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	c.log.WithLevel(level).Msg(text)

	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), text)
	select {
	case c.logCh <- msg:
	default:
	}
}

// Start runs the control loop until ctx is done or the frame stream ends.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.frames = NewFrameSource(ctx, c.cfg.Frames)
	c.mu.Unlock()

	c.mapper.Reset()
	c.logf(zerolog.InfoLevel, "Teleoperation started at %d Hz with %d references", c.hz, c.cfg.Database.Len())
	if c.cfg.Database.Len() == 0 {
		c.logf(zerolog.WarnLevel, "Gesture database is empty; every pose is unrecognized")
	}

	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-c.frames.Done():
			err := c.frames.Err()
			if Stopped(err) && ctx.Err() != nil {
				c.shutdown()
				return ctx.Err()
			}
			c.logf(zerolog.ErrorLevel, "Frame stream ended: %v", err)
			c.shutdown()
			return fmt.Errorf("frame stream: %w", err)
		case <-ticker.C:
			frame, ok := c.frames.Latest()
			if !ok {
				continue
			}
			c.step(ctx, frame, time.Now())
		}
	}
}

// step runs one cycle on frame.
func (c *Controller) step(ctx context.Context, frame []byte, now time.Time) State {
	samples, err := imu.Decode(frame)
	if errors.Is(err, imu.ErrMalformedFrame) {
		c.logf(zerolog.WarnLevel, "Dropped frame: %v", err)
		st := State{Timestamp: now, Error: err}
		c.sendState(st)
		return st
	}
	if err != nil {
		c.logf(zerolog.WarnLevel, "Frame: %v", err)
	}

	set := imu.NewOrientationSet(samples)
	res := gesture.Classify(set, c.cfg.Database, c.cfg.Sensitivity)
	angles := set.Angles(c.cfg.Reference)
	out := c.mapper.Map(res, angles)

	st := State{
		Timestamp: now,
		Result:    res,
		Angles:    angles,
		Frame:     out.Frame,
		Feedback:  out.Feedback,
		HasZero:   c.mapper.State().HasZero,
	}

	if out.Frame != nil {
		if err := c.cfg.Actuator.Send(ctx, *out.Frame); err != nil {
			c.logf(zerolog.WarnLevel, "Actuator: %v", err)
			st.Error = err
		}
	}
	if out.Feedback != nil && c.cfg.Channel != nil {
		if err := c.cfg.Channel.Send(channel.Bluetooth, out.Feedback.Payload()); err != nil {
			c.logf(zerolog.WarnLevel, "Feedback: %v", err)
		}
	}
	c.record(st)

	c.sendState(st)
	return st
}

func (c *Controller) record(st State) {
	sample := telemetry.NewSample(st.Timestamp, st.Result, st.Angles)
	if st.Frame != nil {
		sample.Command = st.Frame.String()
	}
	if st.Feedback != nil {
		sample.Feedback = st.Feedback.String()
	}
	if err := c.cfg.Publisher.Publish(sample); err != nil {
		c.log.Debug().Err(err).Msg("publish failed")
	}

	if c.cfg.Trace != nil {
		if err := c.cfg.Trace.Write(st.Result); err != nil {
			c.logf(zerolog.WarnLevel, "Trace: %v", err)
		}
	}
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.cfg.Actuator.Send(ctx, command.Frame{Tag: command.Hold}); err != nil {
		c.logf(zerolog.WarnLevel, "Final hold: %v", err)
	}
	if c.cfg.Trace != nil {
		if err := c.cfg.Trace.Flush(); err != nil {
			c.logf(zerolog.WarnLevel, "Trace: %v", err)
		}
	}
	c.logf(zerolog.InfoLevel, "Teleoperation stopped")
}
