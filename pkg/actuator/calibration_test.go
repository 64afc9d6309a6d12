package actuator

import (
	"math"
	"testing"
)

func TestAxisCalibration_Normalize(t *testing.T) {
	cal := AxisCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
	}

	tests := []struct {
		raw      int
		expected float64
	}{
		{1000, -100.0},
		{3000, 100.0},
		{2000, 0.0},
		{1500, -50.0},
		{2500, 50.0},
	}

	for _, tt := range tests {
		got := cal.Normalize(tt.raw)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("Normalize(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestAxisCalibration_NormalizeInverted(t *testing.T) {
	cal := AxisCalibration{RangeMin: 1000, RangeMax: 3000, Inverted: true}
	if got := cal.Normalize(1500); math.Abs(got-50) > 0.001 {
		t.Errorf("Normalize(1500) = %f, want 50", got)
	}
	if got := cal.Denormalize(50); got != 1500 {
		t.Errorf("Denormalize(50) = %d, want 1500", got)
	}
}

func TestAxisCalibration_NormalizeEmptyRange(t *testing.T) {
	cal := AxisCalibration{RangeMin: 2048, RangeMax: 2048}
	if got := cal.Normalize(2100); got != 0 {
		t.Errorf("Normalize on empty range = %f, want 0", got)
	}
}

func TestAxisCalibration_Denormalize(t *testing.T) {
	cal := AxisCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
	}

	tests := []struct {
		norm     float64
		expected int
	}{
		{-100.0, 1000},
		{100.0, 3000},
		{0.0, 2000},
		{-50.0, 1500},
		{50.0, 2500},
		{150.0, 3000}, // clamped
		{-180.0, 1000},
	}

	for _, tt := range tests {
		got := cal.Denormalize(tt.norm)
		if got != tt.expected {
			t.Errorf("Denormalize(%f) = %d, want %d", tt.norm, got, tt.expected)
		}
	}
}

func TestAxisCalibration_RoundTrip(t *testing.T) {
	cal := AxisCalibration{
		RangeMin: 823,
		RangeMax: 3540,
	}

	for raw := cal.RangeMin; raw <= cal.RangeMax; raw += 100 {
		norm := cal.Normalize(raw)
		back := cal.Denormalize(norm)
		if math.Abs(float64(back-raw)) > 1 {
			t.Errorf("Round-trip failed: %d -> %f -> %d", raw, norm, back)
		}
	}
}

func TestCalibration_ServoIDs(t *testing.T) {
	cal := Calibration{
		Tilt: AxisCalibration{ID: 2},
		Pan:  AxisCalibration{ID: 1},
	}

	ids := cal.ServoIDs()
	expected := []int{1, 2}

	if len(ids) != len(expected) {
		t.Fatalf("ServoIDs returned %d IDs, want %d", len(ids), len(expected))
	}
	for i, id := range ids {
		if id != expected[i] {
			t.Errorf("ServoIDs()[%d] = %d, want %d", i, id, expected[i])
		}
	}
}

func TestCalibration_ByID(t *testing.T) {
	cal := Calibration{
		Pan:  AxisCalibration{ID: 1, RangeMin: 100, RangeMax: 200},
		Tilt: AxisCalibration{ID: 2, RangeMin: 300, RangeMax: 400},
	}

	name, ac, ok := cal.ByID(2)
	if !ok {
		t.Fatal("ByID(2) returned false")
	}
	if name != Tilt {
		t.Errorf("ByID(2) returned name %s, want tilt", name)
	}
	if ac.RangeMin != 300 {
		t.Errorf("ByID(2) returned wrong calibration: %+v", ac)
	}

	if _, _, ok := cal.ByID(99); ok {
		t.Error("ByID(99) should return false")
	}
}

func TestCalibration_Validate(t *testing.T) {
	good := Calibration{
		Pan:  AxisCalibration{ID: 1, RangeMin: 1000, RangeMax: 3000},
		Tilt: AxisCalibration{ID: 2, RangeMin: 1500, RangeMax: 2500},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	tests := map[string]Calibration{
		"missing axis": {Pan: good[Pan]},
		"empty range": {
			Pan:  good[Pan],
			Tilt: AxisCalibration{ID: 2, RangeMin: 2000, RangeMax: 2000},
		},
		"shared id": {
			Pan:  good[Pan],
			Tilt: AxisCalibration{ID: 1, RangeMin: 1500, RangeMax: 2500},
		},
	}
	for name, cal := range tests {
		if err := cal.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", name)
		}
	}
}
