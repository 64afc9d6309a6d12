package imu

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Identity is the orientation reported for a sensor before its first sample.
var Identity = quat.Number{Real: 1}

// OrientationSet holds the latest quaternion for each tracked sensor.
// The zero value is ready to use and reports Identity for every sensor.
type OrientationSet struct {
	q   [NumSensors]quat.Number
	set [NumSensors]bool
}

// NewOrientationSet returns a set built from samples.
func NewOrientationSet(samples []Sample) *OrientationSet {
	s := &OrientationSet{}
	s.Apply(samples)
	return s
}

// Set stores the orientation for id. Unknown identifiers are ignored.
func (s *OrientationSet) Set(id SensorID, q quat.Number) {
	i := id.Index()
	if i < 0 {
		return
	}
	s.q[i] = q
	s.set[i] = true
}

// Get returns the orientation for id, or Identity if none was set.
func (s *OrientationSet) Get(id SensorID) quat.Number {
	i := id.Index()
	if i < 0 || !s.set[i] {
		return Identity
	}
	return s.q[i]
}

// Has reports whether a sample for id has been applied.
func (s *OrientationSet) Has(id SensorID) bool {
	i := id.Index()
	return i >= 0 && s.set[i]
}

// Apply stores every sample's orientation; later samples for the same
// sensor overwrite earlier ones.
func (s *OrientationSet) Apply(samples []Sample) {
	for _, smp := range samples {
		s.Set(smp.ID, smp.Orientation)
	}
}

// Quaternions returns the orientations in AllSensors order.
func (s *OrientationSet) Quaternions() []quat.Number {
	out := make([]quat.Number, 0, NumSensors)
	for _, id := range AllSensors() {
		out = append(out, s.Get(id))
	}
	return out
}

// Angles returns the Euler angles of the sensor's orientation.
func (s *OrientationSet) Angles(id SensorID) Euler {
	return EulerFromQuat(s.Get(id))
}

// Euler holds roll, pitch and yaw in radians (Z-Y-X convention).
type Euler struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Degrees returns the angles converted to degrees.
func (e Euler) Degrees() Euler {
	const k = 180 / math.Pi
	return Euler{Roll: e.Roll * k, Pitch: e.Pitch * k, Yaw: e.Yaw * k}
}

// EulerFromQuat converts an orientation quaternion to Euler angles. Pitch
// saturates at ±π/2 in gimbal lock.
func EulerFromQuat(q quat.Number) Euler {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))

	sinp := 2 * (w*y - z*x)
	var pitch float64
	switch {
	case sinp >= 1:
		pitch = math.Pi / 2
	case sinp <= -1:
		pitch = -math.Pi / 2
	default:
		pitch = math.Asin(sinp)
	}

	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return Euler{Roll: roll, Pitch: pitch, Yaw: yaw}
}
