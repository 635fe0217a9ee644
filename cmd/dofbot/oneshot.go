package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/dofbot/pkg/actuator"
	"github.com/gwillem/dofbot/pkg/robot"
)

type AnglesCommand struct{}

func (c *AnglesCommand) Execute(args []string) error {
	cl, _, err := connect(context.Background(), newLogger())
	if err != nil {
		return err
	}
	angles, err := cl.ReadAngles(context.Background())
	if err != nil {
		return err
	}
	printAngles(angles)
	return nil
}

type MoveCommand struct {
	Duration int `short:"t" long:"duration" description:"Move time in milliseconds (device default 5000)"`
	Args     struct {
		Angles string `positional-arg-name:"a0,a1,a2,a3,a4,a5" required:"yes"`
	} `positional-args:"yes"`
}

func (c *MoveCommand) Execute(args []string) error {
	target, err := robot.ParseAngles(c.Args.Angles)
	if err != nil {
		return err
	}
	cl, _, err := connect(context.Background(), newLogger())
	if err != nil {
		return err
	}
	got, err := cl.WriteAngles(context.Background(), target, time.Duration(c.Duration)*time.Millisecond)
	if err != nil {
		return err
	}
	if !got.Equal(target) {
		fmt.Println(dimStyle.Render("Some joints were limited by the safety envelope."))
	}
	printAngles(got)
	return nil
}

type HomeCommand struct {
	Closed bool `long:"closed" description:"Close the gripper"`
}

func (c *HomeCommand) Execute(args []string) error {
	cl, _, err := connect(context.Background(), newLogger())
	if err != nil {
		return err
	}
	grip := actuator.GripOpen
	if c.Closed {
		grip = actuator.GripClosed
	}
	got, err := cl.MoveHome(context.Background(), grip)
	if err != nil {
		return err
	}
	printAngles(got)
	return nil
}

type SnapshotCommand struct {
	Output string `short:"o" long:"output" default:"snapshot.jpg" description:"Output file"`
}

func (c *SnapshotCommand) Execute(args []string) error {
	cl, _, err := connect(context.Background(), newLogger())
	if err != nil {
		return err
	}
	data, err := cl.CaptureImage(context.Background())
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Output, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Saved %d bytes to %s\n", len(data), c.Output)
	return nil
}

type MovesCommand struct {
	Limit int `short:"n" long:"limit" default:"20" description:"Number of moves to show"`
}

func (c *MovesCommand) Execute(args []string) error {
	cl, _, err := connect(context.Background(), newLogger())
	if err != nil {
		return err
	}
	moves, err := cl.Moves(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if len(moves) == 0 {
		fmt.Println("No moves recorded.")
		return nil
	}

	rows := make([][]string, 0, len(moves))
	for _, m := range moves {
		rows = append(rows, []string{
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			m.Requested.String(),
			m.Result.String(),
			fmt.Sprintf("%d", m.DurationMs),
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Time", "Requested", "Result", "ms").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 2 && row >= 0 && row < len(moves) && !moves[row].Applied.Equal(moves[row].Requested) {
				return tableWarnStyle
			}
			return tableCellStyle
		})
	fmt.Println(t.Render())
	return nil
}

func printAngles(a robot.JointAngles) {
	for _, j := range robot.AllJoints() {
		fmt.Printf("  %-12s %s\n", j.String(), subHeaderStyle.Render(fmt.Sprintf("%3d°", a[j])))
	}
}
