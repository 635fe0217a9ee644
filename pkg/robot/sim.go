package robot

import (
	"context"
	"sync"
	"time"
)

// SimArm is an in-memory Driver. Moves complete instantly; every joint starts
// at HomeDegrees.
type SimArm struct {
	mu     sync.Mutex
	angles JointAngles
	moves  int
}

// NewSimArm returns a simulated arm resting at the home pose.
func NewSimArm() *SimArm {
	return &SimArm{angles: Uniform(HomeDegrees)}
}

// ReadAngles returns the last commanded angles.
func (s *SimArm) ReadAngles(context.Context) (JointAngles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angles.Clone(), nil
}

// WriteAngles records the target as the new position.
func (s *SimArm) WriteAngles(_ context.Context, angles JointAngles, _ time.Duration) error {
	if err := angles.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.angles = angles.Clone()
	s.moves++
	s.mu.Unlock()
	return nil
}

// Moves returns the number of writes the arm received.
func (s *SimArm) Moves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}

// Close is a no-op.
func (s *SimArm) Close() error { return nil }
