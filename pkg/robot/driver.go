package robot

import (
	"context"
	"time"
)

// Driver is the servo-level capability the actuator service drives.
// Implementations do not clamp; the service applies the envelope first.
type Driver interface {
	// ReadAngles reads the live position of every servo.
	ReadAngles(ctx context.Context) (JointAngles, error)
	// WriteAngles starts a synchronized move of all servos that should take
	// the given duration. It returns once the command is sent.
	WriteAngles(ctx context.Context, angles JointAngles, duration time.Duration) error
	Close() error
}
