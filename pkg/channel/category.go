// Package channel multiplexes category-tagged messages over one serial line.
//
// Each message travels as a single line
//
//	category|payload\n
//
// and lands in a per-category FIFO on the receiving side.
package channel

// Category names one logical conversation on the line.
type Category string

// The closed set of categories.
const (
	Boot      Category = "boot" // boot handshake
	IMU       Category = "imu"  // sensor queries and bulk configuration
	Bluetooth Category = "blt"  // bluetooth bridge and operator feedback
	Confirm   Category = "cfm"
	Reject    Category = "rjt"
)

// Control words carried as payloads.
const (
	Bulk      = "bulk"
	Terminate = "end"
	Begin     = "begin"
	Address   = "addr"
	Speed     = "speed"
	Name      = "name"
	Connected = "conn"
)

const (
	separator = '|'
	delimiter = '\n'
)

// Categories returns every category in a fixed order.
func Categories() []Category {
	return []Category{Boot, IMU, Bluetooth, Confirm, Reject}
}

// Valid reports whether c is part of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case Boot, IMU, Bluetooth, Confirm, Reject:
		return true
	}
	return false
}
