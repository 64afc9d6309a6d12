// Package gesture recognises hand gestures by nearest-reference matching
// of pairwise joint angles.
package gesture

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/num/quat"

	"github.com/gwillem/glove/pkg/imu"
)

// FeatureLen is the number of unordered sensor pairs.
const FeatureLen = imu.NumSensors * (imu.NumSensors - 1) / 2

// Unrecognized is the label reported when no reference is close enough.
const Unrecognized = -1

// DefaultSensitivity is the largest squared error still accepted as a match.
const DefaultSensitivity = 4.0

// Result is the outcome of one classification.
type Result struct {
	Label  int       // matched label, or Unrecognized
	Error  float64   // squared error of the nearest reference
	Errors []float64 // squared error per reference, in database order
}

// Recognized reports whether a reference matched within sensitivity.
func (r Result) Recognized() bool {
	return r.Label != Unrecognized
}

// Angle returns the geodesic angle between two orientations in [0, π].
// q and -q describe the same rotation and give the same result. A zero
// quaternion is treated as the identity.
func Angle(a, b quat.Number) float64 {
	na, nb := quat.Abs(a), quat.Abs(b)
	if na == 0 {
		a, na = imu.Identity, 1
	}
	if nb == 0 {
		b, nb = imu.Identity, 1
	}
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	c := math.Abs(dot) / (na * nb)
	if c > 1 {
		c = 1
	}
	return 2 * math.Acos(c)
}

// Features returns the pairwise angles of set in fixed (i, j), i < j,
// order over imu.AllSensors.
func Features(set *imu.OrientationSet) []float64 {
	qs := set.Quaternions()
	out := make([]float64, 0, FeatureLen)
	for i := 0; i < len(qs); i++ {
		for j := i + 1; j < len(qs); j++ {
			out = append(out, Angle(qs[i], qs[j]))
		}
	}
	return out
}

// SquaredError is the sum of squared differences of two feature vectors.
func SquaredError(a, b []float64) float64 {
	diff := make([]float64, len(a))
	floats.SubTo(diff, a, b)
	return floats.Dot(diff, diff)
}

// Classify matches live against every reference in db order. The first
// reference with the smallest error wins; if that error exceeds
// sensitivity the result is Unrecognized. An empty database never
// recognises anything.
func Classify(live *imu.OrientationSet, db *Database, sensitivity float64) Result {
	return classifyFeatures(Features(live), db, sensitivity)
}

func classifyFeatures(feat []float64, db *Database, sensitivity float64) Result {
	res := Result{Label: Unrecognized, Error: math.Inf(1)}
	if db == nil || len(db.refs) == 0 {
		return res
	}

	res.Errors = make([]float64, len(db.refs))
	best := -1
	for i, ref := range db.refs {
		e := SquaredError(feat, ref.features)
		res.Errors[i] = e
		if best < 0 || e < res.Error {
			best, res.Error = i, e
		}
	}
	if res.Error <= sensitivity {
		res.Label = db.refs[best].Label
	}
	return res
}
