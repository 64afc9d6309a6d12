package gesture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"

	"github.com/gwillem/glove/pkg/imu"
)

func rotZ(rad float64) quat.Number {
	return quat.Number{Real: math.Cos(rad / 2), Kmag: math.Sin(rad / 2)}
}

func rotX(rad float64) quat.Number {
	return quat.Number{Real: math.Cos(rad / 2), Imag: math.Sin(rad / 2)}
}

// pose bends every finger by bend radians around X relative to the hand.
func pose(bend float64) *imu.OrientationSet {
	var s imu.OrientationSet
	for _, id := range imu.AllSensors() {
		if id == imu.Hand {
			s.Set(id, imu.Identity)
			continue
		}
		s.Set(id, rotX(bend))
	}
	return &s
}

func TestAngle(t *testing.T) {
	tests := []struct {
		name string
		a, b quat.Number
		want float64
	}{
		{"same", rotZ(0.3), rotZ(0.3), 0},
		{"double cover", rotZ(0.3), quat.Scale(-1, rotZ(0.3)), 0},
		{"quarter turn", imu.Identity, rotZ(math.Pi / 2), math.Pi / 2},
		{"unnormalised", quat.Scale(3, imu.Identity), quat.Scale(0.5, rotX(1)), 1},
		{"zero is identity", quat.Number{}, rotZ(0.5), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Angle(tt.a, tt.b), 1e-6)
			assert.InDelta(t, Angle(tt.a, tt.b), Angle(tt.b, tt.a), 1e-12)
		})
	}
}

func TestFeatures_LengthAndIdentity(t *testing.T) {
	var s imu.OrientationSet
	f := Features(&s)
	require.Len(t, f, FeatureLen)
	assert.Equal(t, 15, FeatureLen)
	for _, v := range f {
		assert.Equal(t, 0.0, v)
	}
}

func TestFeatures_PairOrder(t *testing.T) {
	var s imu.OrientationSet
	s.Set(imu.Thumb, rotZ(1))
	f := Features(&s)

	// Thumb pairs come first.
	for i := 0; i < imu.NumSensors-1; i++ {
		assert.InDelta(t, 1.0, f[i], 1e-9, "pair %d", i)
	}
	for i := imu.NumSensors - 1; i < FeatureLen; i++ {
		assert.Equal(t, 0.0, f[i], "pair %d", i)
	}
}

func TestClassify_IdenticalReferenceZeroError(t *testing.T) {
	var zero imu.OrientationSet
	db := NewDatabase(NewReference(7, &zero))

	res := Classify(&zero, db, 1)
	assert.Equal(t, 7, res.Label)
	assert.Equal(t, 0.0, res.Error)
	assert.True(t, res.Recognized())
	assert.Equal(t, []float64{0}, res.Errors)
}

func TestClassify_NearestWins(t *testing.T) {
	db := NewDatabase(
		NewReference(0, pose(0)),
		NewReference(1, pose(math.Pi/2)),
		NewReference(2, pose(math.Pi/4)),
	)

	res := Classify(pose(math.Pi/2-0.05), db, 1)
	assert.Equal(t, 1, res.Label)
	require.Len(t, res.Errors, 3)
	assert.Less(t, res.Errors[1], res.Errors[2])
	assert.Less(t, res.Errors[2], res.Errors[0])
	assert.Equal(t, res.Errors[1], res.Error)
}

func TestClassify_FirstSeenWinsTies(t *testing.T) {
	db := NewDatabase(
		NewReference(4, pose(0.5)),
		NewReference(2, pose(0.5)),
	)
	res := Classify(pose(0.5), db, 1)
	assert.Equal(t, 4, res.Label)
}

func TestClassify_AboveSensitivityUnrecognized(t *testing.T) {
	db := NewDatabase(NewReference(0, pose(0)), NewReference(1, pose(1)))
	live := pose(2.5)

	res := Classify(live, db, 0.01)
	assert.Equal(t, Unrecognized, res.Label)
	assert.False(t, res.Recognized())
	assert.Greater(t, res.Error, 0.01)

	// The threshold is inclusive.
	res = Classify(live, db, res.Error)
	assert.Equal(t, 1, res.Label)
}

func TestClassify_EmptyDatabase(t *testing.T) {
	res := Classify(pose(0), NewDatabase(), 100)
	assert.Equal(t, Unrecognized, res.Label)
	assert.True(t, math.IsInf(res.Error, 1))
	assert.Empty(t, res.Errors)

	res = Classify(pose(0), nil, 100)
	assert.Equal(t, Unrecognized, res.Label)
}

func TestClassify_Idempotent(t *testing.T) {
	db := NewDatabase(NewReference(0, pose(0)), NewReference(1, pose(1)))
	live := pose(0.7)

	first := Classify(live, db, 2)
	for range 10 {
		assert.Equal(t, first, Classify(live, db, 2))
	}
}

func TestDatabase_Labels(t *testing.T) {
	db := NewDatabase(
		NewReference(3, pose(0)),
		NewReference(1, pose(0)),
		NewReference(3, pose(1)),
	)
	assert.Equal(t, 3, db.Len())
	assert.Equal(t, []int{3, 1}, db.Labels())
	assert.Len(t, db.References()[0].Features(), FeatureLen)
}
