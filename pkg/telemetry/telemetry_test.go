package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/glove/pkg/gesture"
	"github.com/gwillem/glove/pkg/imu"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	msgs         []published
	token        *fakeToken
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	if c.token != nil {
		return c.token
	}
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := newMQTTPublisher(client, MQTTConfig{Topic: "glove/telemetry", Logger: zerolog.Nop()})
	_, err := uuid.Parse(p.Session())
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := gesture.Result{Label: 2, Error: 0.5, Errors: []float64{3, 0.5}}
	s := NewSample(now, res, imu.Euler{Roll: 0.1})
	s.Command = "gim[100 0]"
	require.NoError(t, p.Publish(s))
	require.NoError(t, p.Publish(NewSample(now, gesture.Result{Label: gesture.Unrecognized, Error: math.Inf(1)}, imu.Euler{})))

	require.Len(t, client.msgs, 2)
	assert.Equal(t, "glove/telemetry", client.msgs[0].topic)
	assert.False(t, client.msgs[0].retained)

	var got Sample
	require.NoError(t, json.Unmarshal(client.msgs[0].payload, &got))
	assert.Equal(t, p.Session(), got.Session)
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, 2, got.Label)
	require.NotNil(t, got.Error)
	assert.Equal(t, 0.5, *got.Error)
	assert.Equal(t, []float64{3, 0.5}, got.Errors)
	assert.Equal(t, "gim[100 0]", got.Command)
	assert.True(t, now.Equal(got.Time))

	var second map[string]any
	require.NoError(t, json.Unmarshal(client.msgs[1].payload, &second))
	assert.NotContains(t, second, "error")
	assert.EqualValues(t, 2, second["seq"])

	p.Close()
	assert.True(t, client.disconnected)
}

func TestMQTTPublisher_Errors(t *testing.T) {
	client := &fakeClient{token: &fakeToken{timeout: true}}
	p := newMQTTPublisher(client, MQTTConfig{Topic: "t"})
	assert.ErrorIs(t, p.Publish(Sample{}), ErrPublishTimeout)

	brokerErr := errors.New("not connected")
	client.token = &fakeToken{err: brokerErr}
	assert.ErrorIs(t, p.Publish(Sample{}), brokerErr)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(Sample{}))
	p.Close()
}

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestTrace_WriteRead(t *testing.T) {
	var buf closeBuffer
	tw := NewTraceWriter(&buf)
	require.NoError(t, tw.Write(gesture.Result{Label: 1, Errors: []float64{2.5, 0.125, 9}}))
	require.NoError(t, tw.Write(gesture.Result{Label: gesture.Unrecognized, Errors: []float64{7, 8, 9}}))
	require.NoError(t, tw.Write(gesture.Result{Label: gesture.Unrecognized}))
	require.NoError(t, tw.Close())
	assert.True(t, buf.closed)

	assert.Equal(t, "2.5,0.125,9,1\n7,8,9,-1\n-1\n", buf.String())

	rows, err := ReadTrace(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, []TraceRow{
		{Errors: []float64{2.5, 0.125, 9}, Prediction: 1},
		{Errors: []float64{7, 8, 9}, Prediction: -1},
		{Errors: []float64{}, Prediction: -1},
	}, rows)
}

func TestReadTrace_FloatPrediction(t *testing.T) {
	rows, err := ReadTrace(strings.NewReader("1.5,2.0,3.0\n"))
	require.NoError(t, err)
	assert.Equal(t, []TraceRow{{Errors: []float64{1.5, 2}, Prediction: 3}}, rows)
}

func TestReadTrace_Invalid(t *testing.T) {
	_, err := ReadTrace(strings.NewReader("1,2,x\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = ReadTrace(strings.NewReader("1,oops,0\n"))
	assert.Error(t, err)
}

func TestPlotTrace(t *testing.T) {
	rows := make([]TraceRow, 40)
	for i := range rows {
		rows[i] = TraceRow{
			Errors:     []float64{float64(i % 7), float64(40 - i), 3, float64(i) / 4},
			Prediction: i%5 - 1,
		}
	}

	var buf bytes.Buffer
	require.NoError(t, PlotTrace(&buf, rows, gesture.DefaultSensitivity))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
	assert.Greater(t, img.Bounds().Dy(), img.Bounds().Dx()/2)
}

func TestPlotTrace_Empty(t *testing.T) {
	assert.ErrorIs(t, PlotTrace(&bytes.Buffer{}, nil, 1), ErrEmptyTrace)
}
