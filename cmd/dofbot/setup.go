package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/dofbot/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	tableWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
)

type SetupCommand struct {
	Baud int `long:"baud" default:"1000000" description:"Servo bus baud rate"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Dofbot Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	port, err := c.findArm()
	if err != nil {
		return err
	}

	recalibrate := true
	if cfg.Device.IsCalibrated() && cfg.Device.Port == port {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("This arm is already calibrated. Calibrate again?").
					Affirmative("Yes").
					Negative("Keep").
					Value(&recalibrate),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
	}
	cfg.Device.Port = port

	if recalibrate {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Calibrating Arm ━━━"))
		fmt.Println()
		cal, err := c.calibrate(port)
		if err != nil {
			return err
		}
		cfg.Device.Calibration = cal
	}

	url := cfg.Client.DeviceURL
	if url == "" {
		url = "http://localhost" + defaultListen
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Device URL").
				Description("Where the control station reaches 'dofbot serve'").
				Value(&url).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	cfg.Client.DeviceURL = strings.TrimSpace(url)

	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start the device service with: " + headerStyle.Render("dofbot serve"))
	return nil
}

type armInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

func (c *SetupCommand) openBus(port string) (*feetech.Bus, error) {
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: c.Baud,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
}

// findArm scans serial ports for a bus with servos 1-6. With several
// candidates, each is wiggled and the user confirms which one is the arm.
func (c *SetupCommand) findArm() (string, error) {
	fmt.Println("Scanning serial ports...")
	fmt.Println()

	arms := c.scanPorts()
	switch len(arms) {
	case 0:
		fmt.Println("Make sure the arm is connected and powered on.")
		return "", errors.New("no arm found")
	case 1:
		arms[0].bus.Close()
		fmt.Println(successStyle.Render("Arm found on " + arms[0].port))
		return arms[0].port, nil
	}

	fmt.Printf("Found %d candidate buses. Let's identify the arm...\n", len(arms))
	var chosen string
	for _, arm := range arms {
		if chosen != "" {
			arm.bus.Close()
			continue
		}
		if identifyArmWithWiggle(arm) {
			chosen = arm.port
		}
	}
	if chosen == "" {
		return "", errors.New("arm not identified")
	}
	return chosen, nil
}

func (c *SetupCommand) scanPorts() []armInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var arms []armInfo
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		bus, err := c.openBus(port)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := bus.Scan(ctx, 1, robot.NumJoints)
		cancel()
		if err != nil || !isDofbot(servos) {
			bus.Close()
			continue
		}
		fmt.Printf("  Found 6-servo bus on %s\n", port)
		arms = append(arms, armInfo{port: port, servos: servos, bus: bus})
	}
	return arms
}

func isDofbot(servos []feetech.FoundServo) bool {
	if len(servos) != robot.NumJoints {
		return false
	}
	ids := make(map[int]bool)
	for _, s := range servos {
		ids[s.ID] = true
	}
	for _, j := range robot.AllJoints() {
		if !ids[j.ServoID()] {
			return false
		}
	}
	return true
}

// identifyArmWithWiggle nudges the base servo and asks whether it moved.
// The bus is closed on return.
func identifyArmWithWiggle(arm armInfo) bool {
	defer arm.bus.Close()
	ctx := context.Background()

	var servo *feetech.Servo
	for _, s := range arm.servos {
		if s.ID == robot.Base.ServoID() {
			servo = feetech.NewServo(arm.bus, s.ID, s.Model)
			break
		}
	}
	if servo == nil {
		return false
	}

	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return false
	}
	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return false
	}

	fmt.Printf("\n  Wiggling base on %s...\n", arm.port)
	wiggleAmount := 30
	moveTimeMs := 500
	for _, pos := range []int{originalPos + wiggleAmount, originalPos - wiggleAmount, originalPos} {
		servo.SetPositionWithTime(ctx, pos, moveTimeMs)
		time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	}
	servo.Disable(ctx)

	var moved bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Did the arm on %s just wiggle?", arm.port)).
				Affirmative("Yes").
				Negative("No").
				Value(&moved),
		),
	)
	if err := form.Run(); err != nil {
		return false
	}
	return moved
}

func waitForUser(prompt string) error {
	fmt.Println(prompt)
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("").
				Affirmative("Continue").
				Negative("").
				Value(new(bool)),
		),
	).Run()
}

// calibrate records the home offsets and the travel range of every servo.
func (c *SetupCommand) calibrate(port string) (robot.Calibration, error) {
	fmt.Printf("Calibrating arm on %s\n", port)
	fmt.Println()

	bus, err := c.openBus(port)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	servos, err := bus.Scan(ctx, 1, robot.NumJoints)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("scan bus: %w", err)
	}
	if !isDofbot(servos) {
		return nil, errors.New("expected 6 servos with IDs 1-6")
	}

	servoMap := make(map[robot.Joint]*feetech.Servo)
	for _, s := range servos {
		servoMap[robot.Joint(s.ID-1)] = feetech.NewServo(bus, s.ID, s.Model)
	}

	// Disable all servos so the user can move the arm freely
	bg := context.Background()
	for _, servo := range servoMap {
		servo.Disable(bg)
	}

	if err := waitForUser("Pose the arm upright with every joint at its midpoint (90°), gripper half open."); err != nil {
		return nil, err
	}
	offsets := make(map[robot.Joint]int)
	for j, servo := range servoMap {
		pos, err := servo.Position(bg)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", j, err)
		}
		offsets[j] = pos
	}

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println()

	model := newCalibrationModel(servoMap, offsets)
	finalModel, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, fmt.Errorf("run calibration: %w", err)
	}
	cm := finalModel.(calibrationModel)

	cal := make(robot.Calibration, robot.NumJoints)
	for _, j := range robot.AllJoints() {
		cal[j] = robot.MotorCalibration{
			ID:           j.ServoID(),
			HomingOffset: offsets[j],
			RangeMin:     cm.minPositions[j],
			RangeMax:     cm.maxPositions[j],
		}
	}
	fmt.Println("Arm calibrated.")
	return cal, nil
}

// Calibration TUI model
type calibrationModel struct {
	servoMap     map[robot.Joint]*feetech.Servo
	curPositions map[robot.Joint]int
	minPositions map[robot.Joint]int
	maxPositions map[robot.Joint]int
	quitting     bool
}

type tickMsg time.Time

func newCalibrationModel(servoMap map[robot.Joint]*feetech.Servo, start map[robot.Joint]int) calibrationModel {
	m := calibrationModel{
		servoMap:     servoMap,
		curPositions: make(map[robot.Joint]int),
		minPositions: make(map[robot.Joint]int),
		maxPositions: make(map[robot.Joint]int),
	}
	for j, pos := range start {
		m.curPositions[j] = pos
		m.minPositions[j] = pos
		m.maxPositions[j] = pos
	}
	return m
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		ctx := context.Background()
		for j, servo := range m.servoMap {
			pos, err := servo.Position(ctx)
			if err != nil {
				continue
			}
			m.curPositions[j] = pos
			m.minPositions[j] = min(m.minPositions[j], pos)
			m.maxPositions[j] = max(m.maxPositions[j], pos)
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	jointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	currentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	rangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	rangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	joints := robot.AllJoints()
	rows := make([][]string, 0, len(joints))
	ranges := make([]int, 0, len(joints))
	for _, j := range joints {
		rangeSize := m.maxPositions[j] - m.minPositions[j]
		ranges = append(ranges, rangeSize)
		rows = append(rows, []string{
			j.String(),
			fmt.Sprintf("%d", m.curPositions[j]),
			fmt.Sprintf("%d", m.minPositions[j]),
			fmt.Sprintf("%d", m.maxPositions[j]),
			fmt.Sprintf("%d", rangeSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return jointStyle
			case 1:
				return currentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] > 500 {
					return rangeGoodStyle
				}
				return rangeLowStyle
			default:
				return tableCellStyle
			}
		})

	var sb strings.Builder
	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done"))
	return sb.String()
}
