package teleop

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dlog "github.com/gwillem/dofbot/internal/log"
	"github.com/gwillem/dofbot/pkg/actuator"
	"github.com/gwillem/dofbot/pkg/camera"
	"github.com/gwillem/dofbot/pkg/plan"
	"github.com/gwillem/dofbot/pkg/robot"
)

type fakeArm struct {
	angles   robot.JointAngles
	readErr  error
	writeErr error
	writes   []robot.JointAngles
	duration time.Duration
	homes    []actuator.Grip
}

func newFakeArm() *fakeArm {
	return &fakeArm{angles: robot.Uniform(90)}
}

func (f *fakeArm) ReadAngles(context.Context) (robot.JointAngles, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.angles.Clone(), nil
}

func (f *fakeArm) WriteAngles(_ context.Context, target robot.JointAngles, d time.Duration) (robot.JointAngles, error) {
	f.writes = append(f.writes, target.Clone())
	f.duration = d
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.angles = robot.DefaultEnvelope.Clamp(target)
	return f.angles.Clone(), nil
}

func (f *fakeArm) MoveHome(_ context.Context, grip actuator.Grip) (robot.JointAngles, error) {
	f.homes = append(f.homes, grip)
	f.angles = robot.Uniform(90)
	return f.angles.Clone(), nil
}

// scriptedInput returns its keys in order, then reports no key.
type scriptedInput struct {
	keys  []string
	polls int
}

func (s *scriptedInput) Poll(time.Duration) (string, bool) {
	s.polls++
	if len(s.keys) == 0 {
		return "", false
	}
	k := s.keys[0]
	s.keys = s.keys[1:]
	return k, true
}

func quietLogger() *slog.Logger {
	return dlog.Discard()
}

func newLoop(t *testing.T, arm Arm, keys ...string) (*Loop, *scriptedInput) {
	t.Helper()
	in := &scriptedInput{keys: keys}
	l, err := New(Config{Arm: arm, Input: in, Logger: quietLogger()})
	require.NoError(t, err)
	return l, in
}

func TestRun_ExitsOnCancelKey(t *testing.T) {
	for _, key := range []string{"esc", "q", "ctrl+c"} {
		t.Run(key, func(t *testing.T) {
			arm := newFakeArm()
			l, _ := newLoop(t, arm, "x", key, "a")
			require.NoError(t, l.Run(context.Background()))
			assert.Len(t, arm.writes, 1, "keys after cancel are not processed")
		})
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	l, in := newLoop(t, newFakeArm())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
	assert.Equal(t, 0, in.polls)
}

func TestJointKeys(t *testing.T) {
	tests := []struct {
		key   string
		joint robot.Joint
		delta int
	}{
		{"a", robot.Base, 20},
		{"z", robot.Base, -20},
		{"s", robot.Shoulder, 20},
		{"x", robot.Shoulder, -20},
		{"d", robot.Elbow, 20},
		{"c", robot.Elbow, -20},
		{"f", robot.WristPitch, 20},
		{"v", robot.WristPitch, -20},
		{"g", robot.WristRoll, 20},
		{"b", robot.WristRoll, -20},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			arm := newFakeArm()
			l, _ := newLoop(t, arm, tt.key, "esc")
			require.NoError(t, l.Run(context.Background()))

			require.Len(t, arm.writes, 1)
			want := robot.Uniform(90)
			want[tt.joint] += tt.delta
			assert.Equal(t, want, arm.writes[0])
			assert.Equal(t, DefaultMoveDuration, arm.duration)
		})
	}
}

func TestStepSizeKeys(t *testing.T) {
	arm := newFakeArm()
	l, _ := newLoop(t, arm, "2", "a", "9", "a", "0", "7", "a", "esc")
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, arm.writes, 3)
	// Step 2 gives +8 each time; 9, 0 and 7 are not presets.
	assert.Equal(t, 98, arm.writes[0][robot.Base])
	assert.Equal(t, 106, arm.writes[1][robot.Base])
	assert.Equal(t, 114, arm.writes[2][robot.Base])
	assert.Equal(t, 2, l.StepSize())
}

func TestSetStepSize(t *testing.T) {
	l, _ := newLoop(t, newFakeArm())
	assert.Equal(t, DefaultStepSize, l.StepSize())
	for _, n := range []int{0, 6, 10, -1} {
		assert.False(t, l.SetStepSize(n))
		assert.Equal(t, DefaultStepSize, l.StepSize())
	}
	for _, n := range StepPresets {
		assert.True(t, l.SetStepSize(n))
		assert.Equal(t, n, l.StepSize())
	}
}

func TestGripperIsNotBound(t *testing.T) {
	km := DefaultKeyMap()
	for key, ev := range km {
		if ev.Kind == EventJoint {
			assert.NotEqual(t, robot.Gripper, ev.Joint, "key %q", key)
		}
	}

	arm := newFakeArm()
	l, _ := newLoop(t, arm)
	assert.True(t, l.Dispatch(context.Background(), Event{Kind: EventJoint, Joint: robot.Gripper, Direction: 1}))
	assert.Empty(t, arm.writes)
}

func TestFailuresAreNotFatal(t *testing.T) {
	arm := newFakeArm()
	arm.readErr = robot.ErrUnreachable
	l, _ := newLoop(t, arm, "a", "s", "esc")
	require.NoError(t, l.Run(context.Background()))
	assert.Empty(t, arm.writes)

	s := <-l.States()
	assert.ErrorIs(t, s.Error, robot.ErrUnreachable)

	arm.readErr = nil
	arm.writeErr = errors.New("servo timeout")
	l, _ = newLoop(t, arm, "a", "a", "esc")
	require.NoError(t, l.Run(context.Background()))
	assert.Len(t, arm.writes, 2)
}

func TestUnknownKeysIgnored(t *testing.T) {
	arm := newFakeArm()
	l, _ := newLoop(t, arm, "p", "enter", "F1", "esc")
	require.NoError(t, l.Run(context.Background()))
	assert.Empty(t, arm.writes)
}

func TestHomeKey(t *testing.T) {
	arm := newFakeArm()
	l, _ := newLoop(t, arm, "h", "esc")
	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, []actuator.Grip{actuator.GripClosed}, arm.homes)
}

func TestRecordKey(t *testing.T) {
	arm := newFakeArm()
	rec := &plan.Recorder{}
	in := &scriptedInput{keys: []string{"r", "a", "r", "esc"}}
	l, err := New(Config{Arm: arm, Input: in, Recorder: rec, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, l.Run(context.Background()))

	p := rec.Plan("")
	require.Len(t, p.Steps, 2)
	assert.Equal(t, 90, p.Steps[0].Angles[robot.Base])
	assert.Equal(t, 110, p.Steps[1].Angles[robot.Base])
}

func TestStatesKeepLatest(t *testing.T) {
	arm := newFakeArm()
	l, _ := newLoop(t, arm, "a", "a", "a", "esc")
	require.NoError(t, l.Run(context.Background()))

	s := <-l.States()
	assert.Equal(t, 150, s.Angles[robot.Base])
	select {
	case <-l.States():
		t.Fatal("only the latest state is kept")
	default:
	}
}

type fakeFrames struct{ captures int }

func (f *fakeFrames) Capture(context.Context) []camera.FrameSet {
	f.captures++
	return nil
}

type fakeDisplay struct{ shown []image.Image }

func (d *fakeDisplay) Show(img image.Image) error {
	d.shown = append(d.shown, img)
	return nil
}

func TestShowsFrameEveryIteration(t *testing.T) {
	frames := &fakeFrames{}
	disp := &fakeDisplay{}
	in := &scriptedInput{keys: []string{"1", "2", "esc"}}
	l, err := New(Config{
		Arm:        newFakeArm(),
		Input:      in,
		Frames:     frames,
		Display:    disp,
		Compositor: camera.NewCompositor(64, 36),
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, l.Run(context.Background()))

	assert.Equal(t, 3, frames.captures)
	require.Len(t, disp.shown, 3)
	assert.Equal(t, image.Rect(0, 0, 64, 36), disp.shown[0].Bounds())
}

func TestNew_Requires(t *testing.T) {
	_, err := New(Config{Input: &scriptedInput{}})
	assert.Error(t, err)
	_, err = New(Config{Arm: newFakeArm()})
	assert.Error(t, err)
}

func TestKeyInput(t *testing.T) {
	in := NewKeyInput()
	_, ok := in.Poll(time.Millisecond)
	assert.False(t, ok)

	in.Send("a")
	key, ok := in.Poll(0)
	assert.True(t, ok)
	assert.Equal(t, "a", key)

	go func() {
		time.Sleep(5 * time.Millisecond)
		in.Send("esc")
	}()
	key, ok = in.Poll(time.Second)
	assert.True(t, ok)
	assert.Equal(t, "esc", key)
}

func TestMultiInput(t *testing.T) {
	a, b := NewKeyInput(), NewKeyInput()
	b.Send("q")
	key, ok := MultiInput{a, b}.Poll(10 * time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, "q", key)
}
