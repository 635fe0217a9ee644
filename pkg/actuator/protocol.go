package actuator

import (
	"time"

	"github.com/gwillem/dofbot/pkg/robot"
)

// Routes served by the device.
const (
	PathIndex     = "/"
	PathAngles    = "/angles"
	PathSetAngles = "/set_angles"
	PathHome      = "/home"
	PathImage     = "/image"
	PathMoves     = "/moves"
)

// Query parameters.
const (
	ParamAngles   = "angles"
	ParamDuration = "t"
	ParamGrip     = "grip"
	ParamLimit    = "limit"
)

// StatusOK is the status string of a completed move.
const StatusOK = "OK"

// AnglesResponse is the body of angles, set_angles and home.
type AnglesResponse struct {
	Status string            `json:"status,omitempty"`
	Angles robot.JointAngles `json:"angles"`
	// Clamped is set when the envelope altered the requested target.
	Clamped bool `json:"clamped,omitempty"`
	// Applied is the post-clamp target that was sent to the servos.
	Applied robot.JointAngles `json:"applied,omitempty"`
}

// MoveRecord is one entry of the move journal.
type MoveRecord struct {
	ID         string            `json:"id"`
	Requested  robot.JointAngles `json:"requested"`
	Applied    robot.JointAngles `json:"applied"`
	Result     robot.JointAngles `json:"result"`
	DurationMs int64             `json:"duration_ms"`
	CreatedAt  time.Time         `json:"created_at"`
}

// MovesResponse is the body of the moves route.
type MovesResponse struct {
	Moves []MoveRecord `json:"moves"`
}
