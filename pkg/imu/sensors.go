// Package imu decodes the glove's per-joint orientation and acceleration reports.
package imu

import (
	"fmt"
	"strings"
)

// SensorID identifies a tracked point on the glove. The wire value is the
// single ASCII byte that prefixes each record.
type SensorID byte

// Tracked points, one IMU each.
const (
	Thumb  SensorID = 'T'
	Index  SensorID = 'I'
	Middle SensorID = 'M'
	Ring   SensorID = 'R'
	Little SensorID = 'L'
	Hand   SensorID = 'H'
)

// NumSensors is the size of the fixed sensor set.
const NumSensors = 6

var sensorNames = map[SensorID]string{
	Thumb:  "Thumb",
	Index:  "Index",
	Middle: "Middle",
	Ring:   "Ring",
	Little: "Little",
	Hand:   "Hand",
}

// AllSensors returns all sensor identifiers in their fixed order.
// Feature vectors and stored references follow this order.
func AllSensors() []SensorID {
	return []SensorID{Thumb, Index, Middle, Ring, Little, Hand}
}

// Valid reports whether id is one of the tracked sensors.
func (id SensorID) Valid() bool {
	return id.Index() >= 0
}

// Index returns the position of id in AllSensors, or -1.
func (id SensorID) Index() int {
	switch id {
	case Thumb:
		return 0
	case Index:
		return 1
	case Middle:
		return 2
	case Ring:
		return 3
	case Little:
		return 4
	case Hand:
		return 5
	}
	return -1
}

func (id SensorID) String() string {
	if name, ok := sensorNames[id]; ok {
		return name
	}
	return fmt.Sprintf("SensorID(%#02x)", byte(id))
}

// ParseSensor accepts either the wire letter ("T") or the full name
// ("thumb"), case-insensitively.
func ParseSensor(s string) (SensorID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 1 {
		id := SensorID(strings.ToUpper(s)[0])
		if id.Valid() {
			return id, nil
		}
	}
	for id, name := range sensorNames {
		if strings.EqualFold(name, s) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown sensor %q", s)
}
