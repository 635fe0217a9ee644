// Package plan stores and replays motion plans: ordered lists of joint
// targets executed one after another.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/dofbot/pkg/robot"
)

// DefaultStepDuration is the move time of steps without their own duration.
const DefaultStepDuration = 5 * time.Second

// Step is one target pose.
type Step struct {
	Angles robot.JointAngles `yaml:"angles,flow"`
	// DurationMs overrides the executor's step duration when > 0.
	DurationMs int `yaml:"duration_ms,omitempty"`
}

// Plan is an ordered list of steps.
type Plan struct {
	Name  string `yaml:"name,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Validate checks every step has six angles and a non-negative duration.
func (p *Plan) Validate() error {
	for i, s := range p.Steps {
		if err := s.Angles.Validate(); err != nil {
			return &StepError{Step: i + 1, Err: err}
		}
		if s.DurationMs < 0 {
			return &StepError{Step: i + 1, Err: fmt.Errorf("%w: negative duration %d", robot.ErrInvalidInput, s.DurationMs)}
		}
	}
	return nil
}

// Load reads a YAML plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return &p, nil
}

// Save writes p to path as YAML.
func (p *Plan) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Arm is what the executor drives: the local actuator service or a client.
type Arm interface {
	WriteAngles(ctx context.Context, target robot.JointAngles, duration time.Duration) (robot.JointAngles, error)
}

// StepError reports the failing step. Step is 1-based; Pass is the 1-based
// repetition when the plan is replayed.
type StepError struct {
	Step int
	Pass int
	Err  error
}

func (e *StepError) Error() string {
	if e.Pass > 1 {
		return fmt.Sprintf("step %d (pass %d): %v", e.Step, e.Pass, e.Err)
	}
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Progress is reported after every completed step.
type Progress struct {
	Step, Steps int
	Pass        int
	Angles      robot.JointAngles
}

// Executor replays plans step by step. WriteAngles blocks until the move
// has settled, so a step never starts before the previous one finished.
type Executor struct {
	Arm Arm
	// StepDuration applies to steps without their own duration.
	StepDuration time.Duration
	// Repeat replays the plan this many times; values below 1 mean once.
	Repeat int
	// OnStep, if set, is called after each completed step.
	OnStep func(Progress)
	Logger *slog.Logger
}

// Run executes p. The first failing step aborts the run; later steps are
// not attempted. Cancellation is checked between steps only: the step in
// progress finishes first.
func (e *Executor) Run(ctx context.Context, p *Plan) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	passes := max(e.Repeat, 1)

	for pass := 1; pass <= passes; pass++ {
		for i, s := range p.Steps {
			if err := ctx.Err(); err != nil {
				return &StepError{Step: i + 1, Pass: pass, Err: err}
			}
			d := e.StepDuration
			if d <= 0 {
				d = DefaultStepDuration
			}
			if s.DurationMs > 0 {
				d = time.Duration(s.DurationMs) * time.Millisecond
			}

			logger.Info("plan step", "step", i+1, "of", len(p.Steps), "pass", pass, "angles", s.Angles.String(), "duration", d)
			// A step that has started always runs to completion.
			got, err := e.Arm.WriteAngles(context.WithoutCancel(ctx), s.Angles, d)
			if err != nil {
				logger.Error("plan step failed", "step", i+1, "pass", pass, "error", err)
				return &StepError{Step: i + 1, Pass: pass, Err: err}
			}
			if e.OnStep != nil {
				e.OnStep(Progress{Step: i + 1, Steps: len(p.Steps), Pass: pass, Angles: got})
			}
		}
	}
	return nil
}

// Recorder collects poses into a plan. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	steps []Step
}

// Add appends a pose. durationMs of zero leaves the step at the executor
// default.
func (r *Recorder) Add(angles robot.JointAngles, durationMs int) error {
	if err := angles.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.steps = append(r.steps, Step{Angles: angles.Clone(), DurationMs: durationMs})
	r.mu.Unlock()
	return nil
}

// Len returns the number of recorded poses.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// Plan returns a copy of the recorded poses.
func (r *Recorder) Plan(name string) *Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make([]Step, len(r.steps))
	copy(steps, r.steps)
	return &Plan{Name: name, Steps: steps}
}
