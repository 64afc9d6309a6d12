// Package glove is the host side of a gesture glove teleoperation rig.
//
// Six IMUs on the glove stream orientation frames to the host, which
// classifies the hand pose against recorded reference gestures and turns
// the result into actuator commands and operator feedback.
//
// # Installation
//
//	go install github.com/gwillem/glove/cmd/glovectl@latest
//
// # Usage
//
// First, run setup to pick the serial ports and assign the glove sensors:
//
//	glovectl setup
//
// Record a few references for each gesture:
//
//	glovectl gestures record 0 --name hold
//
// Then start teleoperation:
//
//	glovectl teleoperate
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/glovectl: CLI with setup, teleoperate, gestures, plot and emulate commands
//   - pkg/imu: Sensor frame decoding and orientation sets
//   - pkg/channel: Category-tagged message channel over a serial line
//   - pkg/session: Start-up handshake with the glove, and an emulated peer
//   - pkg/gesture: Reference database and nearest-reference classifier
//   - pkg/command: Gesture to command mapping and operator feedback
//   - pkg/actuator: Serial command link and pan/tilt servo gimbal
//   - pkg/teleop: Teleoperation controller
//   - pkg/telemetry: MQTT sample publisher, classification trace and plots
//   - pkg/config, pkg/logging: Configuration file and loggers
package glove
