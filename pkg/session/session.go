// Package session runs the configuration handshakes between the glove
// host and the main controller over a message channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/imu"
)

// DefaultBootInterval is how often Boot repeats its announcement.
const DefaultBootInterval = 300 * time.Millisecond

var (
	// ErrUnexpectedReply is returned when the peer confirms with the wrong word.
	ErrUnexpectedReply = errors.New("session: unexpected reply")
	// ErrInvalidName is returned for advertising names the peer would refuse.
	ErrInvalidName = errors.New("session: invalid bluetooth name")
)

// RejectedError carries the peer's rejection reason.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("session: %s rejected: %s", e.Op, e.Reason)
}

// Assignment binds a glove position to an IMU bus address.
type Assignment struct {
	Sensor  imu.SensorID
	Address int
}

func (a Assignment) String() string {
	return fmt.Sprintf("%c,%d", byte(a.Sensor), a.Address)
}

// ParseAssignment parses the "position,address" wire form.
func ParseAssignment(s string) (Assignment, error) {
	pos, addr, ok := strings.Cut(s, ",")
	if !ok {
		return Assignment{}, fmt.Errorf("invalid assignment %q", s)
	}
	id, err := imu.ParseSensor(pos)
	if err != nil {
		return Assignment{}, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(addr))
	if err != nil {
		return Assignment{}, fmt.Errorf("invalid address in %q: %w", s, err)
	}
	return Assignment{Sensor: id, Address: n}, nil
}

// PollingRate is the controller's measured sampling rate in reports per
// second, for Euler-angle and quaternion reports.
type PollingRate struct {
	Euler      float64
	Quaternion float64
}

func (r PollingRate) String() string {
	return fmt.Sprintf("E%g,Q%g", r.Euler, r.Quaternion)
}

// ParsePollingRate parses the "E<rate>,Q<rate>" report.
func ParsePollingRate(s string) (PollingRate, error) {
	e, q, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(e, "E") || !strings.HasPrefix(q, "Q") {
		return PollingRate{}, fmt.Errorf("invalid polling rate report %q", s)
	}
	var r PollingRate
	var err error
	if r.Euler, err = strconv.ParseFloat(e[1:], 64); err != nil {
		return PollingRate{}, fmt.Errorf("invalid polling rate report %q: %w", s, err)
	}
	if r.Quaternion, err = strconv.ParseFloat(q[1:], 64); err != nil {
		return PollingRate{}, fmt.Errorf("invalid polling rate report %q: %w", s, err)
	}
	return r, nil
}

// Session drives the initiator side of the handshakes. The channel's
// receive task must be running for replies to arrive.
type Session struct {
	ch           *channel.Channel
	log          zerolog.Logger
	bootInterval time.Duration
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithBootInterval sets how often Boot repeats its announcement.
func WithBootInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.bootInterval = d
		}
	}
}

// New returns a session over ch.
func New(ch *channel.Channel, opts ...Option) *Session {
	s := &Session{ch: ch, log: zerolog.Nop(), bootInterval: DefaultBootInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Boot announces the host until the peer answers, then drops any further
// boot replies.
func (s *Session) Boot(ctx context.Context) error {
	ticker := time.NewTicker(s.bootInterval)
	defer ticker.Stop()

	for {
		if err := s.ch.SendString(channel.Boot, ""); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("boot: %w", ctx.Err())
		case <-ticker.C:
		}
		if s.ch.ReadAll(channel.Boot) != nil {
			s.ch.DiscardAll(channel.Boot)
			s.log.Info().Msg("peer booted")
			return nil
		}
	}
}

// CheckBluetooth reports whether the bridge is connected. When it is not,
// the advertised name is returned so the operator can pair.
func (s *Session) CheckBluetooth(ctx context.Context) (connected bool, name string, err error) {
	if err := s.ch.SendString(channel.Bluetooth, channel.Connected); err != nil {
		return false, "", err
	}
	ok, _, err := s.ch.WaitForRejectOrConfirm(ctx)
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}
	name, err = s.BluetoothName(ctx)
	return false, name, err
}

// BluetoothName queries the bridge's advertised name.
func (s *Session) BluetoothName(ctx context.Context) (string, error) {
	if err := s.ch.SendString(channel.Bluetooth, channel.Name); err != nil {
		return "", err
	}
	msg, err := s.ch.BlockingRead(ctx, channel.Confirm)
	if err != nil {
		return "", err
	}
	return string(msg), nil
}

// RenameBluetooth changes the advertised name. The peer accepts names of
// 1 to 8 characters.
func (s *Session) RenameBluetooth(ctx context.Context, name string) error {
	if n := len(name); n < 1 || n > MaxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := s.ch.SendString(channel.Bluetooth, channel.Bulk); err != nil {
		return err
	}
	if err := s.expect(ctx, "rename", channel.Bulk); err != nil {
		return err
	}
	if err := s.ch.SendString(channel.Bluetooth, name); err != nil {
		return err
	}
	return s.expect(ctx, "rename", channel.Terminate)
}

// QueryAddresses lists the IMU bus addresses the controller sees.
func (s *Session) QueryAddresses(ctx context.Context) ([]int, error) {
	if err := s.ch.SendString(channel.IMU, channel.Address); err != nil {
		return nil, err
	}
	msg, err := s.ch.BlockingRead(ctx, channel.Confirm)
	if err != nil {
		return nil, err
	}
	if len(msg) == 0 {
		return nil, nil
	}

	var addrs []int
	for _, f := range strings.Split(string(msg), ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid address list %q: %w", msg, err)
		}
		addrs = append(addrs, n)
	}
	return addrs, nil
}

// QueryPollingRate asks the controller to measure its IMU sampling rate.
func (s *Session) QueryPollingRate(ctx context.Context) (PollingRate, error) {
	if err := s.ch.SendString(channel.IMU, channel.Speed); err != nil {
		return PollingRate{}, err
	}
	ok, msg, err := s.ch.WaitForRejectOrConfirm(ctx)
	if err != nil {
		return PollingRate{}, err
	}
	if !ok {
		return PollingRate{}, &RejectedError{Op: "polling rate", Reason: string(msg)}
	}
	return ParsePollingRate(string(msg))
}

// ConfigureSensors sends the position assignments in one bulk exchange.
// The first rejected line stops the transfer; the bulk exchange is still
// closed before the rejection is returned.
func (s *Session) ConfigureSensors(ctx context.Context, assignments []Assignment) error {
	if err := s.ch.SendString(channel.IMU, channel.Bulk); err != nil {
		return err
	}
	if err := s.expect(ctx, "bulk", channel.Bulk); err != nil {
		return err
	}

	var rejected error
	for _, a := range assignments {
		if err := s.ch.SendString(channel.IMU, a.String()); err != nil {
			return err
		}
		ok, msg, err := s.ch.WaitForRejectOrConfirm(ctx)
		if err != nil {
			return err
		}
		if !ok {
			rejected = &RejectedError{Op: "assign " + a.String(), Reason: string(msg)}
			s.log.Warn().Err(rejected).Msg("sensor assignment rejected")
			break
		}
		s.log.Debug().Stringer("sensor", a.Sensor).Int("address", a.Address).Msg("sensor assigned")
	}

	if err := s.Terminate(ctx); err != nil {
		return err
	}
	return rejected
}

// Begin starts sensor streaming.
func (s *Session) Begin(ctx context.Context) error {
	if err := s.ch.SendString(channel.IMU, channel.Begin); err != nil {
		return err
	}
	return s.expect(ctx, "begin", channel.Begin)
}

// Terminate closes a bulk exchange or stops streaming.
func (s *Session) Terminate(ctx context.Context) error {
	if err := s.ch.SendString(channel.IMU, channel.Terminate); err != nil {
		return err
	}
	return s.expect(ctx, "terminate", channel.Terminate)
}

// Start runs the operation start-up sequence: bluetooth check, sensor
// configuration, then begin.
func (s *Session) Start(ctx context.Context, assignments []Assignment) error {
	connected, name, err := s.CheckBluetooth(ctx)
	if err != nil {
		return fmt.Errorf("check bluetooth: %w", err)
	}
	if !connected {
		return &RejectedError{Op: "start", Reason: fmt.Sprintf("bluetooth not connected, pair with %q", name)}
	}
	if err := s.ConfigureSensors(ctx, assignments); err != nil {
		return fmt.Errorf("configure sensors: %w", err)
	}
	if err := s.Begin(ctx); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.log.Info().Int("sensors", len(assignments)).Msg("operation started")
	return nil
}

func (s *Session) expect(ctx context.Context, op, word string) error {
	ok, msg, err := s.ch.WaitForRejectOrConfirm(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &RejectedError{Op: op, Reason: string(msg)}
	}
	if string(msg) != word {
		return fmt.Errorf("%w: %s got %q, want %q", ErrUnexpectedReply, op, msg, word)
	}
	return nil
}
