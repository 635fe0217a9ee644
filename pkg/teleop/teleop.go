// Package teleop provides the interactive keyboard control loop for the arm.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gwillem/dofbot/pkg/actuator"
	"github.com/gwillem/dofbot/pkg/camera"
	"github.com/gwillem/dofbot/pkg/plan"
	"github.com/gwillem/dofbot/pkg/robot"
)

const (
	DefaultStepSize     = 5
	DefaultMultiplier   = 4
	DefaultMoveDuration = time.Second
	DefaultPollInterval = 30 * time.Millisecond
)

// Arm is the actuator the loop drives, usually a client.Client.
type Arm interface {
	ReadAngles(ctx context.Context) (robot.JointAngles, error)
	WriteAngles(ctx context.Context, target robot.JointAngles, duration time.Duration) (robot.JointAngles, error)
	MoveHome(ctx context.Context, grip actuator.Grip) (robot.JointAngles, error)
}

// FrameSource captures the frame sets of one display cycle.
type FrameSource interface {
	Capture(ctx context.Context) []camera.FrameSet
}

// Compositor turns frame sets into one image.
type Compositor interface {
	Compose(frames []camera.FrameSet) *image.RGBA
}

// Display shows composited frames.
type Display interface {
	Show(img image.Image) error
}

// State is published after every iteration that changed something.
type State struct {
	Angles    robot.JointAngles
	StepSize  int
	Recorded  int
	Timestamp time.Time
	Error     error
}

// Config holds the loop's collaborators and tunables. Arm and Input are
// required; Frames, Display and Recorder are optional.
type Config struct {
	Arm        Arm
	Input      Input
	Frames     FrameSource
	Compositor Compositor
	Display    Display
	Recorder   *plan.Recorder
	Keys       KeyMap
	Logger     *slog.Logger

	StepSize     int
	Multiplier   int
	MoveDuration time.Duration
	PollInterval time.Duration
	// HomeGrip is the gripper pose used by the home key.
	HomeGrip actuator.Grip
}

// Loop is a single-goroutine, turn-based control session. Each iteration
// shows a frame, polls for one key and dispatches it. Moves block until
// settled, so at most one is ever in flight.
type Loop struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	stepSize int
	running  bool

	stateCh chan State
	logCh   chan string
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Loop, error) {
	if cfg.Arm == nil {
		return nil, errors.New("teleop: arm is required")
	}
	if cfg.Input == nil {
		return nil, errors.New("teleop: input is required")
	}
	if cfg.Keys == nil {
		cfg.Keys = DefaultKeyMap()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Frames != nil && cfg.Compositor == nil {
		cfg.Compositor = camera.NewCompositor(camera.DefaultWidth, camera.DefaultHeight)
	}
	if !slices.Contains(StepPresets, cfg.StepSize) {
		cfg.StepSize = DefaultStepSize
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.MoveDuration <= 0 {
		cfg.MoveDuration = DefaultMoveDuration
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HomeGrip == "" {
		cfg.HomeGrip = actuator.GripClosed
	}

	return &Loop{
		cfg:      cfg,
		logger:   cfg.Logger,
		stepSize: cfg.StepSize,
		stateCh:  make(chan State, 1),
		logCh:    make(chan string, 10),
	}, nil
}

// States returns a channel that receives state updates.
func (l *Loop) States() <-chan State {
	return l.stateCh
}

// Logs returns a channel that receives log messages.
func (l *Loop) Logs() <-chan string {
	return l.logCh
}

// StepSize returns the current step size in presets units.
func (l *Loop) StepSize() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stepSize
}

// SetStepSize selects a preset. Values outside StepPresets are ignored.
func (l *Loop) SetStepSize(n int) bool {
	if !slices.Contains(StepPresets, n) {
		return false
	}
	l.mu.Lock()
	l.stepSize = n
	l.mu.Unlock()
	return true
}

func (l *Loop) log(level slog.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Log(context.Background(), level, msg)
	select {
	case l.logCh <- fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), msg):
	default:
		// Drop if channel full
	}
}

// Run loops until the cancel key is pressed (nil) or ctx is done
// (ctx.Err()). Cancellation is observed between iterations; a move in
// progress always completes.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("teleop: already running")
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.log(slog.LevelInfo, "Control loop started, step size %d", l.StepSize())
	for {
		if err := ctx.Err(); err != nil {
			l.log(slog.LevelInfo, "Control loop stopped")
			return err
		}
		if !l.Step(ctx) {
			l.log(slog.LevelInfo, "Control loop stopped")
			return nil
		}
	}
}

// Step runs one iteration and reports whether the loop should continue.
func (l *Loop) Step(ctx context.Context) bool {
	l.showFrame(ctx)

	key, ok := l.cfg.Input.Poll(l.cfg.PollInterval)
	if !ok {
		return true
	}
	return l.Dispatch(ctx, l.cfg.Keys.Lookup(key))
}

// Dispatch handles one event and reports whether the loop should continue.
func (l *Loop) Dispatch(ctx context.Context, ev Event) bool {
	switch ev.Kind {
	case EventCancel:
		return false
	case EventStepSize:
		if l.SetStepSize(ev.StepSize) {
			l.log(slog.LevelInfo, "Step size set to %d", ev.StepSize)
			l.sendState(State{StepSize: ev.StepSize, Recorded: l.recorded(), Timestamp: time.Now()})
		}
	case EventJoint:
		l.nudge(ctx, ev.Joint, ev.Direction)
	case EventHome:
		l.home(ctx)
	case EventRecord:
		l.record(ctx)
	}
	return true
}

func (l *Loop) showFrame(ctx context.Context) {
	if l.cfg.Frames == nil || l.cfg.Display == nil {
		return
	}
	img := l.cfg.Compositor.Compose(l.cfg.Frames.Capture(ctx))
	if err := l.cfg.Display.Show(img); err != nil {
		l.logger.Debug("display frame", "error", err)
	}
}

func (l *Loop) nudge(ctx context.Context, j robot.Joint, dir int) {
	if j < robot.Base || j >= robot.Gripper {
		l.log(slog.LevelWarn, "Joint %s is not under keyboard control", j)
		return
	}
	// Moves run to completion even if ctx is cancelled meanwhile.
	ctx = context.WithoutCancel(ctx)

	angles, err := l.cfg.Arm.ReadAngles(ctx)
	if err != nil {
		l.fail("Read error: %v", err)
		return
	}
	target := angles.Clone()
	target[j] += dir * l.StepSize() * l.cfg.Multiplier

	got, err := l.cfg.Arm.WriteAngles(ctx, target, l.cfg.MoveDuration)
	if err != nil {
		l.fail("Write error: %v", err)
		return
	}
	l.logger.Debug("moved", "joint", j.String(), "target", target.String(), "angles", got.String())
	if got[j] != target[j] {
		l.log(slog.LevelInfo, "%s limited to %d", j, got[j])
	}
	l.sendState(State{Angles: got, StepSize: l.StepSize(), Recorded: l.recorded(), Timestamp: time.Now()})
}

func (l *Loop) home(ctx context.Context) {
	got, err := l.cfg.Arm.MoveHome(context.WithoutCancel(ctx), l.cfg.HomeGrip)
	if err != nil {
		l.fail("Home error: %v", err)
		return
	}
	l.log(slog.LevelInfo, "Moved home (gripper %s)", l.cfg.HomeGrip)
	l.sendState(State{Angles: got, StepSize: l.StepSize(), Recorded: l.recorded(), Timestamp: time.Now()})
}

func (l *Loop) record(ctx context.Context) {
	if l.cfg.Recorder == nil {
		l.log(slog.LevelWarn, "Recording is disabled")
		return
	}
	angles, err := l.cfg.Arm.ReadAngles(ctx)
	if err != nil {
		l.fail("Read error: %v", err)
		return
	}
	if err := l.cfg.Recorder.Add(angles, 0); err != nil {
		l.fail("Record error: %v", err)
		return
	}
	n := l.cfg.Recorder.Len()
	l.log(slog.LevelInfo, "Recorded pose %d: %s", n, angles)
	l.sendState(State{Angles: angles, StepSize: l.StepSize(), Recorded: n, Timestamp: time.Now()})
}

func (l *Loop) fail(format string, err error) {
	l.log(slog.LevelError, format, err)
	l.sendState(State{Error: err, StepSize: l.StepSize(), Recorded: l.recorded(), Timestamp: time.Now()})
}

func (l *Loop) recorded() int {
	if l.cfg.Recorder == nil {
		return 0
	}
	return l.cfg.Recorder.Len()
}

func (l *Loop) sendState(s State) {
	select {
	case l.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-l.stateCh:
		default:
		}
		select {
		case l.stateCh <- s:
		default:
		}
	}
}
