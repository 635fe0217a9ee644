package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// BusConfig describes the serial bus the arm's servos share.
type BusConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
}

// Arm drives the six servos of the arm over a Feetech STS bus.
type Arm struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	calibration Calibration
}

// NewArm opens the bus, verifies that every calibrated servo answers and
// returns a torque-enabled arm.
func NewArm(ctx context.Context, cfg BusConfig, cal Calibration) (*Arm, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1_000_000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	if len(cal) == 0 {
		cal = DefaultCalibration()
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	found, err := bus.Scan(ctx, 1, NumJoints)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan bus: %w", err)
	}

	models := make(map[int]feetech.FoundServo, len(found))
	for _, s := range found {
		models[s.ID] = s
	}

	for _, j := range AllJoints() {
		mc, ok := cal[j]
		if !ok {
			bus.Close()
			return nil, fmt.Errorf("no calibration for %s", j)
		}
		if _, ok := models[mc.ID]; !ok {
			bus.Close()
			return nil, fmt.Errorf("servo %d (%s) not found on %s", mc.ID, j, cfg.Port)
		}
	}

	arm := &Arm{
		bus:         bus,
		group:       feetech.NewServoGroupByIDs(bus, cal.MotorIDs()...),
		calibration: cal,
	}

	if err := arm.group.EnableAll(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("enable torque: %w", err)
	}

	return arm, nil
}

// Close disables torque and closes the bus connection.
func (a *Arm) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Release torque before closing the port.
	_ = a.group.DisableAll(ctx)
	return a.bus.Close()
}

// ReadAngles reads current positions from all servos in one sync read.
func (a *Arm) ReadAngles(ctx context.Context) (JointAngles, error) {
	raw, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardwareRead, err)
	}

	angles := make(JointAngles, NumJoints)
	for _, j := range AllJoints() {
		mc := a.calibration[j]
		pos, ok := raw[mc.ID]
		if !ok {
			return nil, fmt.Errorf("%w: servo %d (%s) did not answer", ErrHardwareRead, mc.ID, j)
		}
		angles[j] = mc.Degrees(pos)
	}
	return angles, nil
}

// WriteAngles sends a timed goal position to every servo in a single sync
// write, so all joints start together and a failed write moves none.
func (a *Arm) WriteAngles(ctx context.Context, angles JointAngles, duration time.Duration) error {
	if err := angles.Validate(); err != nil {
		return err
	}
	ms := int(duration / time.Millisecond)
	positions, times := goalPositions(a.calibration, angles, ms)
	if err := a.group.SetPositionsWithTime(ctx, positions, times); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

// goalPositions converts angles into raw goal positions and move times keyed
// by servo ID.
func goalPositions(cal Calibration, angles JointAngles, ms int) (feetech.PositionMap, feetech.PositionMap) {
	positions := make(feetech.PositionMap, NumJoints)
	times := make(feetech.PositionMap, NumJoints)
	for _, j := range AllJoints() {
		mc := cal[j]
		positions[mc.ID] = mc.Raw(angles[j])
		times[mc.ID] = ms
	}
	return positions, times
}
