package plan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dofbot/pkg/robot"
)

type call struct {
	angles   robot.JointAngles
	duration time.Duration
}

// fakeArm fails the write with index failAt (1-based) when set.
type fakeArm struct {
	calls  []call
	failAt int
}

var errServo = errors.New("servo 3 not responding")

func (f *fakeArm) WriteAngles(_ context.Context, target robot.JointAngles, d time.Duration) (robot.JointAngles, error) {
	f.calls = append(f.calls, call{target.Clone(), d})
	if len(f.calls) == f.failAt {
		return nil, errServo
	}
	return target.Clone(), nil
}

func threeSteps() *Plan {
	return &Plan{Steps: []Step{
		{Angles: robot.JointAngles{90, 90, 90, 90, 90, 90}},
		{Angles: robot.JointAngles{60, 100, 80, 90, 90, 120}},
		{Angles: robot.JointAngles{30, 110, 70, 90, 90, 170}},
	}}
}

func TestRun_InOrder(t *testing.T) {
	arm := &fakeArm{}
	p := threeSteps()
	p.Steps[1].DurationMs = 1500

	var progress []int
	e := &Executor{Arm: arm, OnStep: func(pr Progress) { progress = append(progress, pr.Step) }}
	require.NoError(t, e.Run(context.Background(), p))

	want := []call{
		{p.Steps[0].Angles, DefaultStepDuration},
		{p.Steps[1].Angles, 1500 * time.Millisecond},
		{p.Steps[2].Angles, DefaultStepDuration},
	}
	if diff := cmp.Diff(want, arm.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{1, 2, 3}, progress)
}

func TestRun_FailFast(t *testing.T) {
	arm := &fakeArm{failAt: 2}
	e := &Executor{Arm: arm, StepDuration: time.Second}

	err := e.Run(context.Background(), threeSteps())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	assert.ErrorIs(t, err, errServo)
	assert.Len(t, arm.calls, 2, "step 3 must never be attempted")
	assert.Equal(t, "step 2: servo 3 not responding", err.Error())
}

func TestRun_Repeat(t *testing.T) {
	arm := &fakeArm{failAt: 5}
	e := &Executor{Arm: arm, Repeat: 3}

	err := e.Run(context.Background(), threeSteps())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	assert.Equal(t, 2, stepErr.Pass)
	assert.Len(t, arm.calls, 5)
	assert.Contains(t, err.Error(), "pass 2")
}

func TestRun_Cancelled(t *testing.T) {
	arm := &fakeArm{}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{Arm: arm, OnStep: func(Progress) { cancel() }}

	err := e.Run(ctx, threeSteps())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, arm.calls, 1)
}

func TestRun_Empty(t *testing.T) {
	arm := &fakeArm{}
	require.NoError(t, (&Executor{Arm: arm}).Run(context.Background(), &Plan{}))
	assert.Empty(t, arm.calls)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wave.yaml")
	p := threeSteps()
	p.Name = "wave"
	p.Steps[2].DurationMs = 800
	require.NoError(t, p.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"short step", "steps:\n  - angles: [90, 90, 90]\n"},
		{"negative duration", "steps:\n  - angles: [90, 90, 90, 90, 90, 90]\n    duration_ms: -1\n"},
		{"not yaml", "steps: [\n"},
		{"fractional angle", "steps:\n  - angles: [90.5, 90, 90, 90, 90, 90]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plan.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReportsStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	data := "steps:\n  - angles: [90, 90, 90, 90, 90, 90]\n  - angles: [1, 2]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	_, err := Load(path)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	assert.ErrorIs(t, err, robot.ErrInvalidInput)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	pose := robot.JointAngles{90, 80, 70, 60, 50, 40}
	require.NoError(t, r.Add(pose, 0))
	require.NoError(t, r.Add(robot.Uniform(90), 1000))
	assert.ErrorIs(t, r.Add(robot.JointAngles{1}, 0), robot.ErrInvalidInput)

	pose[0] = 0 // recorder keeps its own copy
	p := r.Plan("session")
	require.Len(t, p.Steps, 2)
	assert.Equal(t, 90, p.Steps[0].Angles[0])
	assert.Equal(t, 1000, p.Steps[1].DurationMs)
	assert.Equal(t, "session", p.Name)
	assert.Equal(t, 2, r.Len())
}
