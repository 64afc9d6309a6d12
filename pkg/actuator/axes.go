package actuator

// AxisName identifies a servo on the gimbal.
type AxisName string

// Gimbal axes.
const (
	Pan  AxisName = "pan"
	Tilt AxisName = "tilt"
)

// AllAxes returns the gimbal axes in servo ID order.
func AllAxes() []AxisName {
	return []AxisName{Pan, Tilt}
}
