package actuator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/command"
)

func TestSerialActuator_Send(t *testing.T) {
	port := channel.NewMockPort()
	a := NewSerial(port, zerolog.Nop())

	require.NoError(t, a.Send(context.Background(), command.Frame{Tag: command.Hold}))
	require.NoError(t, a.Send(context.Background(), command.Frame{Tag: command.Gimbal, Channels: []int16{1, -1}}))
	assert.Equal(t, []byte("hldgim\x00\x01\xff\xff"), port.Written())

	err := a.Send(context.Background(), command.Frame{Tag: command.Gimbal})
	assert.ErrorIs(t, err, command.ErrChannelCount)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(context.Background(), command.Frame{Tag: command.Hold}), channel.ErrPortClosed)
}

type fakeGroup struct {
	mu        sync.Mutex
	positions map[int]int
	writes    []map[int]int
	enabled   bool
	readErr   error
}

func (f *fakeGroup) EnableAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
	return nil
}

func (f *fakeGroup) DisableAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	return nil
}

func (f *fakeGroup) Positions(context.Context) (map[int]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[int]int, len(f.positions))
	for k, v := range f.positions {
		out[k] = v
	}
	return out, nil
}

func (f *fakeGroup) SetPositions(_ context.Context, p map[int]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, p)
	for k, v := range p {
		f.positions[k] = v
	}
	return nil
}

func testCalibration() Calibration {
	return Calibration{
		Pan:  AxisCalibration{ID: 1, RangeMin: 1000, RangeMax: 3000},
		Tilt: AxisCalibration{ID: 2, RangeMin: 1000, RangeMax: 3000},
	}
}

func TestGimbal_StartsFromCurrentPosition(t *testing.T) {
	group := &fakeGroup{positions: map[int]int{1: 2500, 2: 1500}}
	g, err := newGimbal(context.Background(), group, nil, GimbalConfig{Calibration: testCalibration()})
	require.NoError(t, err)

	assert.True(t, group.enabled)
	assert.InDelta(t, 50, g.Targets()[Pan], 1e-9)
	assert.InDelta(t, -50, g.Targets()[Tilt], 1e-9)

	require.NoError(t, g.Close())
	assert.False(t, group.enabled)
}

func TestGimbal_Send(t *testing.T) {
	group := &fakeGroup{positions: map[int]int{1: 2000, 2: 2000}}
	g, err := newGimbal(context.Background(), group, nil, GimbalConfig{
		Calibration: testCalibration(),
		Gain:        0.01,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// roll 1000 tilts by +10, yaw offset -500 pans by -5
	require.NoError(t, g.Send(ctx, command.Frame{Tag: command.Gimbal, Channels: []int16{1000, -500}}))
	require.Len(t, group.writes, 1)
	assert.Equal(t, map[int]int{1: 1950, 2: 2100}, group.writes[0])

	require.NoError(t, g.Send(ctx, command.Frame{Tag: command.Hold}))
	require.NoError(t, g.Send(ctx, command.Frame{Tag: command.Chassis, Channels: []int16{1, 2, 3}}))
	require.NoError(t, g.Send(ctx, command.Frame{Tag: command.Shooter}))
	assert.Len(t, group.writes, 1)

	// Targets saturate at the calibrated limits.
	for range 20 {
		require.NoError(t, g.Send(ctx, command.Frame{Tag: command.Gimbal, Channels: []int16{32767, 0}}))
	}
	assert.Equal(t, 100.0, g.Targets()[Tilt])
	assert.Equal(t, 3000, group.positions[2])
}

func TestGimbal_ReadError(t *testing.T) {
	group := &fakeGroup{readErr: errors.New("bus timeout")}
	_, err := newGimbal(context.Background(), group, nil, GimbalConfig{Calibration: testCalibration()})
	assert.ErrorContains(t, err, "bus timeout")
	assert.False(t, group.enabled)
}

func TestDiscard(t *testing.T) {
	var a Actuator = Discard{}
	assert.NoError(t, a.Send(context.Background(), command.Frame{Tag: command.Hold}))
	assert.NoError(t, a.Close())
}
