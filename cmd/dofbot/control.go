package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	dlog "github.com/gwillem/dofbot/internal/log"
	"github.com/gwillem/dofbot/pkg/actuator"
	"github.com/gwillem/dofbot/pkg/camera"
	"github.com/gwillem/dofbot/pkg/camera/uvc"
	"github.com/gwillem/dofbot/pkg/client"
	"github.com/gwillem/dofbot/pkg/plan"
	"github.com/gwillem/dofbot/pkg/robot"
	"github.com/gwillem/dofbot/pkg/teleop"
)

type ControlCommand struct {
	NoHome     bool   `long:"no-home" description:"Skip the startup move to the closed-gripper home pose"`
	Record     string `long:"record" description:"Save poses recorded with 'r' to this plan file"`
	Window     bool   `long:"window" description:"Show the camera grid in a window"`
	SimCameras int    `long:"sim-cameras" description:"Add this many simulated depth cameras"`
	Step       int    `long:"step" default:"5" description:"Initial step size (1-5)"`
	LogFile    string `long:"log-file" default:"dofbot-control.log" description:"Log file while the dashboard owns the terminal"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Joint colors - distinct colors for each joint
var jointColors = map[robot.Joint]string{
	robot.Base:       "196", // red
	robot.Shoulder:   "208", // orange
	robot.Elbow:      "226", // yellow
	robot.WristPitch: "46",  // green
	robot.WristRoll:  "51",  // cyan
	robot.Gripper:    "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type controlModel struct {
	loop    *teleop.Loop
	keys    *teleop.KeyInput
	client  *client.Client
	done    <-chan error
	chart   *streamlinechart.Model
	width   int // terminal width
	height  int // terminal height
	logs    []string
	angles  robot.JointAngles
	step    int
	saved   int
	lastErr error
}

// Messages from the control loop
type stateMsg teleop.State
type logMsg string
type loopDoneMsg struct{ err error }

func waitForState(l *teleop.Loop) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-l.States())
	}
}

func waitForLog(l *teleop.Loop) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-l.Logs())
	}
}

func waitForDone(done <-chan error) tea.Cmd {
	return func() tea.Msg {
		return loopDoneMsg{err: <-done}
	}
}

func newControlModel(l *teleop.Loop, keys *teleop.KeyInput, c *client.Client, done <-chan error) controlModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(0, 270),
	)
	for _, j := range robot.AllJoints() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j]))
		chart.SetDataSetStyles(j.String(), runes.ThinLineStyle, style)
	}
	return controlModel{
		loop:   l,
		keys:   keys,
		client: c,
		done:   done,
		chart:  &chart,
		step:   l.StepSize(),
	}
}

func (m *controlModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *controlModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.loop),
		waitForLog(m.loop),
		waitForDone(m.done),
	)
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := m.chartSize()
		m.chart.Resize(w, h)
		return m, nil

	case tea.KeyMsg:
		// Every key goes to the loop; it decides what exits.
		m.keys.Send(msg.String())
		return m, nil

	case stateMsg:
		state := teleop.State(msg)
		m.step = state.StepSize
		m.saved = state.Recorded
		m.lastErr = state.Error
		if state.Angles != nil {
			m.angles = state.Angles
			for _, j := range robot.AllJoints() {
				m.chart.PushDataSet(j.String(), float64(state.Angles[j]))
			}
			m.chart.DrawAll()
		}
		return m, waitForState(m.loop)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.loop)

	case loopDoneMsg:
		return m, tea.Quit
	}

	return m, nil
}

func (m controlModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Dofbot Control"))
	sb.WriteString(fmt.Sprintf(" - step %d", m.step))
	state := m.client.State()
	if state == client.Connected {
		sb.WriteString("  " + okStyle.Render(state.String()))
	} else {
		sb.WriteString("  " + errStyle.Render(state.String()))
	}
	if m.saved > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%d recorded]", m.saved)))
	}
	if m.angles != nil {
		sb.WriteString(statusStyle.Render("  " + m.angles.String()))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("a/z s/x d/c f/v g/b move, 1-5 step, h home, r record, esc quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	if m.lastErr != nil {
		logStyle = logStyle.Foreground(lipgloss.Color("9"))
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, j := range robot.AllJoints() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+j.String())
	}
	return strings.Join(items, "  ")
}

// openRig opens the configured depth cameras plus n simulated ones.
func openRig(cfg robot.ClientConfig, sim int) (*camera.Rig, []string) {
	var devices []camera.Device
	var problems []string
	for i, depthIdx := range cfg.DepthCams {
		if i >= len(cfg.ColorCams) {
			problems = append(problems, fmt.Sprintf("depth camera %d has no color node", depthIdx))
			continue
		}
		d, err := uvc.OpenDepthDevice(cfg.ColorCams[i], depthIdx, 640, 480)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		devices = append(devices, d)
	}
	for range sim {
		devices = append(devices, camera.NewSimDevice())
	}
	return camera.NewRig(nil, devices...), problems
}

func (c *ControlCommand) Execute(args []string) error {
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	logger := dlog.New(opts.LogLevel, opts.LogFormat, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl, cfg, err := connect(ctx, logger)
	if err != nil {
		return err
	}
	if cl.State() != client.Connected {
		fmt.Fprintln(os.Stderr, errStyle.Render("Device not reachable, continuing; moves will fail until it answers."))
	}

	if !c.NoHome {
		fmt.Println("Moving to home pose with gripper closed...")
		if _, err := cl.MoveHome(ctx, actuator.GripClosed); err != nil {
			fmt.Fprintln(os.Stderr, errStyle.Render("Home failed: "+err.Error()))
		}
	}

	keys := teleop.NewKeyInput()
	loopCfg := teleop.Config{
		Arm:      cl,
		Input:    keys,
		Logger:   logger,
		StepSize: c.Step,
	}

	var recorder *plan.Recorder
	if c.Record != "" {
		recorder = &plan.Recorder{}
		loopCfg.Recorder = recorder
	}

	if c.Window {
		rig, problems := openRig(cfg.Client, c.SimCameras)
		defer rig.Close()
		for _, p := range problems {
			logger.Warn("camera skipped", "error", p)
		}
		w, h := cfg.Client.OutputWidth, cfg.Client.OutputHeight
		if w <= 0 || h <= 0 {
			w, h = camera.DefaultWidth, camera.DefaultHeight
		}
		win := uvc.NewWindow("Robot Control")
		defer win.Close()
		loopCfg.Frames = rig
		loopCfg.Compositor = camera.NewCompositor(w, h)
		loopCfg.Display = win
		loopCfg.Input = teleop.MultiInput{keys, win}
		logger.Info("camera window open", "cameras", rig.Len())
	}

	loop, err := teleop.New(loopCfg)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		done <- loop.Run(ctx)
	}()

	p := tea.NewProgram(newControlModel(loop, keys, cl, done), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		logger.Warn("control loop did not stop in time")
	}
	fmt.Println("Control stopped.")

	if recorder != nil && recorder.Len() > 0 {
		if err := recorder.Plan("recorded").Save(c.Record); err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
		fmt.Printf("Saved %d poses to %s\n", recorder.Len(), c.Record)
	}
	return nil
}
