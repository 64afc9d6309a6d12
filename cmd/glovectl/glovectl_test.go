package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"

	"github.com/gwillem/glove/pkg/command"
	"github.com/gwillem/glove/pkg/gesture"
	"github.com/gwillem/glove/pkg/imu"
	"github.com/gwillem/glove/pkg/teleop"
	"github.com/gwillem/glove/pkg/telemetry"
)

func TestSwayingHand_Encodes(t *testing.T) {
	samples := swayingHand(time.UnixMilli(2000))
	require.Len(t, samples, imu.NumSensors)

	back, err := imu.Decode(imu.Encode(samples))
	require.NoError(t, err)
	assert.Len(t, back, imu.NumSensors)
	assert.InDelta(t, 0.6, imu.EulerFromQuat(samples[0].Orientation).Yaw, 1e-9)
}

func TestEmulateReplay_Cycles(t *testing.T) {
	half := quat.Number{Real: 0.7071067811865476, Imag: 0.7071067811865476}
	var bent imu.OrientationSet
	bent.Set(imu.Index, half)
	refs := []gesture.Reference{
		gesture.NewReference(command.LabelHold, &imu.OrientationSet{}),
		gesture.NewReference(command.LabelGimbal, &bent),
	}

	path := filepath.Join(t.TempDir(), "poses.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gesture.WriteCollection(f, refs))
	require.NoError(t, f.Close())

	c := &EmulateCommand{Replay: path, Period: time.Second}
	pose, err := c.replay()
	require.NoError(t, err)

	now := time.Now()
	first := imu.NewOrientationSet(pose(now))
	assert.Equal(t, imu.Identity, first.Get(imu.Index))

	second := imu.NewOrientationSet(pose(now.Add(1500 * time.Millisecond)))
	assert.InDelta(t, half.Imag, second.Get(imu.Index).Imag, 1e-9)

	third := imu.NewOrientationSet(pose(now.Add(2500 * time.Millisecond)))
	assert.Equal(t, imu.Identity, third.Get(imu.Index))
}

func TestEmulateReplay_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"frame_count": 0, "dataset": {}}`), 0o644))

	_, err := (&EmulateCommand{Replay: path}).replay()
	assert.Error(t, err)
}

func TestTeleopModel_Status(t *testing.T) {
	m := teleopModel{names: map[int]string{command.LabelGimbal: "gimbal"}}
	assert.Contains(t, m.renderStatus(), "Waiting")

	m.last = teleop.State{
		Timestamp: time.Now(),
		Result:    gesture.Result{Label: command.LabelGimbal, Error: 0.25},
		Frame:     &command.Frame{Tag: command.Gimbal, Channels: []int16{0, 300}},
		HasZero:   true,
	}
	status := m.renderStatus()
	assert.Contains(t, status, "gimbal")
	assert.Contains(t, status, "0.25")
	assert.Contains(t, status, "gim")

	m.last.Result = gesture.Result{Label: gesture.Unrecognized}
	m.last.Frame = nil
	m.last.HasZero = false
	status = m.renderStatus()
	assert.Contains(t, status, "no gesture")
	assert.Contains(t, status, "hold to set zero")
	assert.Equal(t, "label 7", m.labelName(7))
}

func TestTeleopModel_Logs(t *testing.T) {
	m := initialTeleopModel(nil, nil)
	var model tea.Model = m
	for i := range maxLogs + 2 {
		model, _ = model.Update(logMsg(string(rune('a' + i))))
	}
	got := model.(teleopModel).logs
	require.Len(t, got, maxLogs)
	assert.Equal(t, "c", got[0])

	model, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	sized := model.(teleopModel)
	w, h := sized.chartSize()
	assert.Equal(t, 120-borderSize-2, w)
	assert.Equal(t, 40-headerHeight-statusHeight-legendHeight-footerHeight-borderSize, h)
}

type closeCounter struct {
	bytes.Buffer
	closed int
}

func (c *closeCounter) Send(context.Context, command.Frame) error { return nil }

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

type publisherFunc func()

func (publisherFunc) Publish(telemetry.Sample) error { return nil }
func (f publisherFunc) Close() { f() }

func TestNewController_ClosesSinksOnError(t *testing.T) {
	act := &closeCounter{}
	file := &closeCounter{}
	published := 0
	tc := teleop.Config{
		Actuator:  act,
		Publisher: publisherFunc(func() { published++ }),
		Trace:     telemetry.NewTraceWriter(file),
	}

	_, err := newController(tc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create controller")
	assert.Equal(t, 1, act.closed)
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, file.closed)
}
