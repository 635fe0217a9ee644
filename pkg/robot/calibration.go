package robot

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// StepsPerRevolution is the raw position resolution of an STS servo.
const StepsPerRevolution = 4096

// HomeDegrees is the joint angle every servo reports at its homing offset.
const HomeDegrees = 90

// MotorCalibration maps raw servo steps to joint degrees for a single servo.
type MotorCalibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`    // 1 inverts the direction of rotation
	HomingOffset int `json:"homing_offset"` // raw position at HomeDegrees
	RangeMin     int `json:"range_min"`     // raw travel limits, 0 when unset
	RangeMax     int `json:"range_max"`
}

// Calibration holds calibration data for all servos, keyed by joint.
type Calibration map[Joint]MotorCalibration

// DefaultCalibration assumes servo IDs 1-6 mounted with the mid position at 90°.
func DefaultCalibration() Calibration {
	cal := make(Calibration, NumJoints)
	for _, j := range AllJoints() {
		cal[j] = MotorCalibration{
			ID:           j.ServoID(),
			HomingOffset: StepsPerRevolution / 2,
		}
	}
	return cal
}

// LoadCalibration loads calibration data from a JSON file keyed by joint name.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}
	return cal, nil
}

// MarshalJSON writes the calibration keyed by joint name.
func (c Calibration) MarshalJSON() ([]byte, error) {
	raw := make(map[string]MotorCalibration, len(c))
	for j, mc := range c {
		raw[j.String()] = mc
	}
	return json.Marshal(raw)
}

// UnmarshalJSON reads a calibration keyed by joint name.
func (c *Calibration) UnmarshalJSON(data []byte) error {
	var raw map[string]MotorCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Calibration, len(raw))
	for name, mc := range raw {
		j, ok := JointByName(name)
		if !ok {
			return fmt.Errorf("unknown joint %q", name)
		}
		out[j] = mc
	}
	*c = out
	return nil
}

// JointByName looks up a joint by its String() name.
func JointByName(name string) (Joint, bool) {
	for _, j := range AllJoints() {
		if j.String() == name {
			return j, true
		}
	}
	return 0, false
}

func (c MotorCalibration) sign() float64 {
	if c.DriveMode == 1 {
		return -1
	}
	return 1
}

// Degrees converts a raw servo position to a joint angle in degrees.
func (c MotorCalibration) Degrees(raw int) int {
	delta := float64(raw-c.HomingOffset) * 360 / StepsPerRevolution
	return HomeDegrees + int(math.Round(c.sign()*delta))
}

// Raw converts a joint angle in degrees to a raw servo position, limited to
// the recorded travel range when one is set.
func (c MotorCalibration) Raw(deg int) int {
	delta := c.sign() * float64(deg-HomeDegrees) * StepsPerRevolution / 360
	raw := c.HomingOffset + int(math.Round(delta))
	if c.RangeMax > c.RangeMin {
		raw = min(max(raw, c.RangeMin), c.RangeMax)
	}
	return raw
}

// MotorIDs returns the servo IDs for all joints in the calibration, in joint order.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	for _, j := range AllJoints() {
		if mc, ok := c[j]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// ByID returns the joint and calibration for a given servo ID.
func (c Calibration) ByID(id int) (Joint, MotorCalibration, bool) {
	for j, mc := range c {
		if mc.ID == id {
			return j, mc, true
		}
	}
	return 0, MotorCalibration{}, false
}
