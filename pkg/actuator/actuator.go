// Package actuator delivers command frames to the device being
// teleoperated.
package actuator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/command"
)

// Actuator consumes command frames.
type Actuator interface {
	Send(ctx context.Context, f command.Frame) error
	Close() error
}

// SerialActuator writes encoded frames to a byte stream, typically the
// serial link to the robot controller.
type SerialActuator struct {
	mu  sync.Mutex
	w   io.WriteCloser
	log zerolog.Logger
}

// NewSerial returns an actuator writing to w.
func NewSerial(w io.WriteCloser, log zerolog.Logger) *SerialActuator {
	return &SerialActuator{w: w, log: log}
}

// OpenSerial opens the serial port at path and returns an actuator on it.
func OpenSerial(path string, opts channel.PortOptions, log zerolog.Logger) (*SerialActuator, error) {
	port, err := channel.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerial(port, log.With().Str("port", path).Logger()), nil
}

// Send encodes f and writes it in one call.
func (a *SerialActuator) Send(_ context.Context, f command.Frame) error {
	b, err := f.Encode()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.w.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", f.Tag, err)
	}
	a.log.Trace().Stringer("frame", f).Msg("sent")
	return nil
}

// Close closes the underlying stream.
func (a *SerialActuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.w.Close()
}

// Discard accepts and drops every frame. It stands in when no actuator is
// configured, e.g. while recording gestures.
type Discard struct{}

func (Discard) Send(context.Context, command.Frame) error { return nil }
func (Discard) Close() error                              { return nil }
