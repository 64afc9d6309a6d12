package imu

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

func record(id byte, q [4]int16, a [3]int16) []byte {
	b := []byte{id}
	for _, v := range q {
		b = append(b, byte(uint16(v)), byte(uint16(v)>>8))
	}
	for _, v := range a {
		b = append(b, byte(uint16(v)), byte(uint16(v)>>8))
	}
	return b
}

func TestDecode_SingleRecord(t *testing.T) {
	buf := append(record('T', [4]int16{0, 0, 0, 32767}, [3]int16{}), "\r\n"...)
	require.Len(t, buf, 17)

	samples, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, samples, 1)

	s := samples[0]
	assert.Equal(t, Thumb, s.ID)
	assert.Equal(t, 0.0, s.Orientation.Real)
	assert.Equal(t, 0.0, s.Orientation.Imag)
	assert.Equal(t, 0.0, s.Orientation.Jmag)
	assert.InDelta(t, 0.99997, s.Orientation.Kmag, 1e-5)
	assert.Equal(t, [3]float64{}, s.Accel)
}

func TestDecode_AccelScale(t *testing.T) {
	buf := append(record('H', [4]int16{32767, 0, 0, 0}, [3]int16{16384, -16384, 2048}), "\r\n"...)

	samples, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 0.5*16*9.8, samples[0].Accel[0], 1e-9)
	assert.InDelta(t, -0.5*16*9.8, samples[0].Accel[1], 1e-9)
	assert.InDelta(t, 9.8, samples[0].Accel[2], 1e-9)
}

func TestDecode_LengthProperty(t *testing.T) {
	t.Parallel()
	full := Encode([]Sample{{ID: Thumb}, {ID: Index}, {ID: Hand}})
	for n := 0; n <= len(full)+3; n++ {
		buf := bytes.Repeat([]byte{'T'}, n)
		samples, err := Decode(buf)
		if n%RecordSize != 2 {
			assert.ErrorIs(t, err, ErrMalformedFrame, "len %d", n)
			assert.Empty(t, samples, "len %d", n)
			continue
		}
		assert.NotErrorIs(t, err, ErrMalformedFrame, "len %d", n)
		assert.Len(t, samples, (n-2)/RecordSize, "len %d", n)
	}
}

func TestDecode_EmptyFrame(t *testing.T) {
	samples, err := Decode([]byte("\r\n"))
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestDecode_UnknownSensorSkipped(t *testing.T) {
	var buf []byte
	buf = append(buf, record('T', [4]int16{32767}, [3]int16{})...)
	buf = append(buf, record('X', [4]int16{32767}, [3]int16{})...)
	buf = append(buf, record('I', [4]int16{32767}, [3]int16{})...)
	buf = append(buf, "\r\n"...)

	samples, err := Decode(buf)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedFrame)

	var unknown *UnknownSensorError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, byte('X'), unknown.ID)
	assert.Equal(t, RecordSize, unknown.Offset)

	require.Len(t, samples, 2)
	assert.Equal(t, Thumb, samples[0].ID)
	assert.Equal(t, Index, samples[1].ID)
}

func TestEncode_RoundTrip(t *testing.T) {
	in := []Sample{
		{ID: Thumb, Orientation: quat.Number{Real: 0.5, Imag: -0.5, Jmag: 0.5, Kmag: -0.5}, Accel: [3]float64{0, 0, 9.8}},
		{ID: Ring, Orientation: quat.Number{Real: 0.7071, Kmag: 0.7071}, Accel: [3]float64{-3.2, 1.1, 0}},
		{ID: Hand, Orientation: Identity},
	}

	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Len(t, out, len(in))

	const qTol = 1.0 / 32768
	const aTol = 16 * 9.8 / 32768
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.InDelta(t, in[i].Orientation.Real, out[i].Orientation.Real, qTol)
		assert.InDelta(t, in[i].Orientation.Imag, out[i].Orientation.Imag, qTol)
		assert.InDelta(t, in[i].Orientation.Jmag, out[i].Orientation.Jmag, qTol)
		assert.InDelta(t, in[i].Orientation.Kmag, out[i].Orientation.Kmag, qTol)
		for k := range in[i].Accel {
			assert.InDelta(t, in[i].Accel[k], out[i].Accel[k], aTol)
		}
	}
}

func TestEncode_Saturates(t *testing.T) {
	out, err := Decode(Encode([]Sample{{ID: Middle, Orientation: quat.Number{Real: 2, Imag: -2}}}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 32767.0/32768, out[0].Orientation.Real, 1e-12)
	assert.Equal(t, -1.0, out[0].Orientation.Imag)
}

func TestParseSensor(t *testing.T) {
	tests := []struct {
		in   string
		want SensorID
		ok   bool
	}{
		{"T", Thumb, true},
		{"h", Hand, true},
		{"little", Little, true},
		{" Middle ", Middle, true},
		{"X", 0, false},
		{"arm", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSensor(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEulerFromQuat(t *testing.T) {
	half := math.Sqrt2 / 2
	tests := []struct {
		name string
		q    quat.Number
		want Euler
	}{
		{"identity", Identity, Euler{}},
		{"yaw 90", quat.Number{Real: half, Kmag: half}, Euler{Yaw: math.Pi / 2}},
		{"roll 90", quat.Number{Real: half, Imag: half}, Euler{Roll: math.Pi / 2}},
		{"pitch 30", quat.Number{Real: math.Cos(math.Pi / 12), Jmag: math.Sin(math.Pi / 12)}, Euler{Pitch: math.Pi / 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EulerFromQuat(tt.q)
			assert.InDelta(t, tt.want.Roll, got.Roll, 1e-6)
			assert.InDelta(t, tt.want.Pitch, got.Pitch, 1e-6)
			assert.InDelta(t, tt.want.Yaw, got.Yaw, 1e-6)
		})
	}

	// Non-unit input pushes the pitch sine past 1.
	assert.Equal(t, math.Pi/2, EulerFromQuat(quat.Number{Real: 1, Jmag: 1}).Pitch)
	assert.Equal(t, -math.Pi/2, EulerFromQuat(quat.Number{Real: 1, Jmag: -1}).Pitch)
}
