// Package dofbot drives a 6-axis Dofbot arm over the network.
//
// A small HTTP service runs next to the arm and owns the servo bus and the
// wrist camera. A control station talks to it with a client, either from
// an interactive keyboard session or by replaying motion plans.
//
// # Installation
//
//	go install github.com/gwillem/dofbot/cmd/dofbot@latest
//
// # Usage
//
// On the machine wired to the arm, find and calibrate it, then serve:
//
//	dofbot setup
//	dofbot serve
//
// On the control station:
//
//	dofbot control --device http://192.168.31.157:5000
//	dofbot play wave.yaml
//	dofbot move 90,90,90,90,90,90 -t 1000
//
// # Packages
//
//   - cmd/dofbot: CLI with setup, serve, control, play and one-shot commands
//   - pkg/robot: joint angles, safety envelope, servo drivers, calibration and configuration
//   - pkg/actuator: the device-side service and its HTTP surface
//   - pkg/client: the control-station proxy for the service
//   - pkg/camera: frame sets and the grid compositor (uvc: OpenCV devices)
//   - pkg/teleop: the keyboard control loop
//   - pkg/plan: motion plans and their executor
//   - pkg/journal: the device's move journal
package dofbot
