package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gwillem/dofbot/pkg/plan"
)

type PlayCommand struct {
	Duration int `short:"t" long:"duration" default:"5000" description:"Move time per step in milliseconds, unless the step sets its own"`
	Repeat   int `short:"n" long:"repeat" default:"1" description:"Number of passes through the plan"`
	Args     struct {
		Plan string `positional-arg-name:"plan.yaml" required:"yes"`
	} `positional-args:"yes"`
}

func (c *PlayCommand) Execute(args []string) error {
	logger := newLogger()
	p, err := plan.Load(c.Args.Plan)
	if err != nil {
		return err
	}

	// Interrupt stops the plan after the current step.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cl, _, err := connect(ctx, logger)
	if err != nil {
		return err
	}

	exec := &plan.Executor{
		Arm:          cl,
		StepDuration: time.Duration(c.Duration) * time.Millisecond,
		Repeat:       c.Repeat,
		Logger:       logger,
		OnStep: func(pr plan.Progress) {
			fmt.Printf("%s step %d/%d  %s\n", successStyle.Render("✓"), pr.Step, pr.Steps, pr.Angles)
		},
	}
	if err := exec.Run(ctx, p); err != nil {
		return fmt.Errorf("plan %s: %w", c.Args.Plan, err)
	}
	fmt.Println(successStyle.Render("Plan complete."))
	return nil
}
