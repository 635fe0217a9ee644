// Package robot provides the joint model, safety envelope and servo drivers
// for a 6-axis arm.
package robot

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NumJoints is the number of servos on the arm.
const NumJoints = 6

// Joint indexes a servo in the arm, 0 (base) through 5 (gripper).
type Joint int

// Joints of the arm, matching servo IDs 1-6.
const (
	Base Joint = iota
	Shoulder
	Elbow
	WristPitch
	WristRoll
	Gripper
)

var jointNames = [NumJoints]string{
	"base",
	"shoulder",
	"elbow",
	"wrist_pitch",
	"wrist_roll",
	"gripper",
}

// String returns the joint's name.
func (j Joint) String() string {
	if j < 0 || int(j) >= NumJoints {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// ServoID returns the bus ID of the joint's servo.
func (j Joint) ServoID() int {
	return int(j) + 1
}

// AllJoints returns all joints in servo order.
func AllJoints() []Joint {
	return []Joint{Base, Shoulder, Elbow, WristPitch, WristRoll, Gripper}
}

// JointAngles holds one integer angle in degrees per joint, indexed by Joint.
// A valid value always has exactly NumJoints entries.
type JointAngles []int

// Uniform returns JointAngles with every joint set to deg.
func Uniform(deg int) JointAngles {
	a := make(JointAngles, NumJoints)
	for i := range a {
		a[i] = deg
	}
	return a
}

// Validate reports ErrInvalidInput unless a has exactly NumJoints entries.
func (a JointAngles) Validate() error {
	if len(a) != NumJoints {
		return fmt.Errorf("%w: got %d angles, need %d", ErrInvalidInput, len(a), NumJoints)
	}
	return nil
}

// Clone returns a copy of a.
func (a JointAngles) Clone() JointAngles {
	if a == nil {
		return nil
	}
	out := make(JointAngles, len(a))
	copy(out, a)
	return out
}

// Equal reports whether a and b hold the same angles.
func (a JointAngles) Equal(b JointAngles) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String formats the angles the way the wire protocol expects: a0,a1,...,a5.
func (a JointAngles) String() string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// ParseAngles parses a comma separated list of integer degrees.
// Count and integrality are both checked.
func ParseAngles(s string) (JointAngles, error) {
	fields := strings.Split(s, ",")
	if len(fields) != NumJoints {
		return nil, fmt.Errorf("%w: invalid number of angles %d, must be %d", ErrInvalidInput, len(fields), NumJoints)
	}
	angles := make(JointAngles, NumJoints)
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%w: angle %d (%q) is not an integer", ErrInvalidInput, i, f)
		}
		angles[i] = v
	}
	return angles, nil
}

// AnglesFromFloats converts JSON numbers (90 or 90.0) into
// JointAngles, rejecting wrong counts and non-integral values.
func AnglesFromFloats(values []float64) (JointAngles, error) {
	if len(values) != NumJoints {
		return nil, fmt.Errorf("%w: got %d angles, need %d", ErrInvalidInput, len(values), NumJoints)
	}
	angles := make(JointAngles, NumJoints)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: angle %d (%v) is not an integer", ErrInvalidInput, i, v)
		}
		angles[i] = int(v)
	}
	return angles, nil
}
