package robot

// SafetyRange is the inclusive range of degrees a joint may be commanded to.
type SafetyRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Clamp limits deg to the range.
func (r SafetyRange) Clamp(deg int) int {
	return min(max(deg, r.Min), r.Max)
}

// Contains reports whether deg lies inside the range.
func (r SafetyRange) Contains(deg int) bool {
	return deg >= r.Min && deg <= r.Max
}

// Envelope is the per-joint safety table.
type Envelope [NumJoints]SafetyRange

// DefaultEnvelope is the recommended safe operating range of each servo.
var DefaultEnvelope = Envelope{
	{Min: 10, Max: 170}, // base rotation
	{Min: 15, Max: 165}, // shoulder
	{Min: 15, Max: 165}, // elbow
	{Min: 10, Max: 170}, // wrist pitch
	{Min: 10, Max: 260}, // wrist rotation
	{Min: 10, Max: 170}, // gripper
}

// Clamp returns a new JointAngles with every joint limited to its range.
// It is applied once, on the device, right before a hardware write.
// Angles beyond NumJoints are dropped; callers validate length first.
func (e Envelope) Clamp(angles JointAngles) JointAngles {
	out := make(JointAngles, NumJoints)
	for i := range out {
		if i < len(angles) {
			out[i] = e[i].Clamp(angles[i])
		} else {
			out[i] = e[i].Clamp(0)
		}
	}
	return out
}

// Contains reports whether every angle is inside its joint's range.
func (e Envelope) Contains(angles JointAngles) bool {
	if len(angles) != NumJoints {
		return false
	}
	for i, a := range angles {
		if !e[i].Contains(a) {
			return false
		}
	}
	return true
}
