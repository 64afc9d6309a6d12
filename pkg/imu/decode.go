package imu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

const (
	// RecordSize is the length of one sensor record: identifier, four
	// quaternion components and three acceleration components.
	RecordSize = 1 + 4*2 + 3*2

	quatScale  = 32768.0
	accelRange = 16 * 9.8 // m/s² at full scale
)

// Delimiter terminates every frame.
const Delimiter = "\r\n"

// ErrMalformedFrame is returned when a frame's length is not a whole number
// of records plus the delimiter. The whole frame is discarded.
var ErrMalformedFrame = errors.New("imu: malformed frame")

// UnknownSensorError reports a record skipped because of an unrecognised
// identifier byte. It never aborts decoding of the remaining records.
type UnknownSensorError struct {
	ID     byte
	Offset int
}

func (e *UnknownSensorError) Error() string {
	return fmt.Sprintf("imu: unknown sensor %q at offset %d", e.ID, e.Offset)
}

// Sample is one decoded sensor record.
type Sample struct {
	ID          SensorID
	Orientation quat.Number // w, x, y, z
	Accel       [3]float64  // m/s²
}

// Decode splits a delimiter-terminated frame into samples, in the order
// they appear. A frame of the wrong length yields ErrMalformedFrame and no
// samples. Records with unknown identifiers are skipped; the returned error
// then joins one *UnknownSensorError per skipped record alongside the
// samples that did decode.
func Decode(buf []byte) ([]Sample, error) {
	if len(buf)%RecordSize != len(Delimiter) {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedFrame, len(buf))
	}

	body := buf[:len(buf)-len(Delimiter)]
	samples := make([]Sample, 0, len(body)/RecordSize)
	var errs []error
	for off := 0; off < len(body); off += RecordSize {
		rec := body[off : off+RecordSize]
		id := SensorID(rec[0])
		if !id.Valid() {
			errs = append(errs, &UnknownSensorError{ID: rec[0], Offset: off})
			continue
		}
		samples = append(samples, decodeRecord(id, rec[1:]))
	}
	return samples, errors.Join(errs...)
}

func decodeRecord(id SensorID, b []byte) Sample {
	s := Sample{ID: id}
	s.Orientation = quat.Number{
		Real: component(b[0:]) / quatScale,
		Imag: component(b[2:]) / quatScale,
		Jmag: component(b[4:]) / quatScale,
		Kmag: component(b[6:]) / quatScale,
	}
	for i := range s.Accel {
		s.Accel[i] = component(b[8+2*i:]) / quatScale * accelRange
	}
	return s
}

func component(b []byte) float64 {
	return float64(int16(binary.LittleEndian.Uint16(b)))
}

// Encode produces a frame in the wire format Decode accepts. Values are
// quantised to the 16-bit grid and saturate at the ends of the range.
func Encode(samples []Sample) []byte {
	buf := make([]byte, 0, len(samples)*RecordSize+len(Delimiter))
	for _, s := range samples {
		buf = append(buf, byte(s.ID))
		q := s.Orientation
		for _, v := range []float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(quantize(v*quatScale)))
		}
		for _, a := range s.Accel {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(quantize(a/accelRange*quatScale)))
		}
	}
	return append(buf, Delimiter...)
}

func quantize(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
