package actuator

import (
	"fmt"
	"math"
)

// AxisCalibration holds the servo range recorded for one gimbal axis.
type AxisCalibration struct {
	ID       int  `toml:"id"`
	RangeMin int  `toml:"range_min"`
	RangeMax int  `toml:"range_max"`
	Inverted bool `toml:"inverted,omitempty"`
}

// Calibration holds calibration data for the gimbal, keyed by axis.
type Calibration map[AxisName]AxisCalibration

// Normalize converts a raw servo position to a value in [-100, 100].
func (c AxisCalibration) Normalize(raw int) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return 0
	}
	norm := (float64(raw-c.RangeMin)/rangeSize)*200 - 100
	if c.Inverted {
		norm = -norm
	}
	return norm
}

// Denormalize converts a value in [-100, 100] to a raw servo position.
// Values outside the range are clamped to the recorded limits.
func (c AxisCalibration) Denormalize(norm float64) int {
	norm = Clamp(norm)
	if c.Inverted {
		norm = -norm
	}
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int(math.Round((norm+100)/200*rangeSize)) + c.RangeMin
}

// Validate checks that every axis has a servo and a usable range.
func (c Calibration) Validate() error {
	seen := make(map[int]AxisName, len(c))
	for _, name := range AllAxes() {
		ac, ok := c[name]
		if !ok {
			return fmt.Errorf("axis %s not calibrated", name)
		}
		if ac.RangeMax <= ac.RangeMin {
			return fmt.Errorf("axis %s: range_max %d must exceed range_min %d", name, ac.RangeMax, ac.RangeMin)
		}
		if other, dup := seen[ac.ID]; dup {
			return fmt.Errorf("axis %s: servo id %d already used by %s", name, ac.ID, other)
		}
		seen[ac.ID] = name
	}
	return nil
}

// ServoIDs returns the servo IDs in AllAxes order.
func (c Calibration) ServoIDs() []int {
	ids := make([]int, 0, len(c))
	for _, name := range AllAxes() {
		if ac, ok := c[name]; ok {
			ids = append(ids, ac.ID)
		}
	}
	return ids
}

// ByID returns the axis and calibration for a servo ID.
func (c Calibration) ByID(id int) (AxisName, AxisCalibration, bool) {
	for name, ac := range c {
		if ac.ID == id {
			return name, ac, true
		}
	}
	return "", AxisCalibration{}, false
}

// Clamp limits a normalized position to [-100, 100].
func Clamp(norm float64) float64 {
	switch {
	case norm > 100:
		return 100
	case norm < -100:
		return -100
	}
	return norm
}
