package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	Family       string `long:"family" default:"feetech" choice:"feetech" choice:"cobot" description:"Arm hardware family"`
	LeaderPort   string `long:"leader-port" description:"Leader port (skips the scan)"`
	FollowerPort string `long:"follower-port" description:"Follower port (skips the scan)"`
	MinRange     int    `long:"min-range" default:"500" description:"Minimum per-joint range in raw counts"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("LeRobot Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	family := robot.Family(c.Family)

	// Step 1: find the leader and follower ports
	leaderPort, followerPort := c.LeaderPort, c.FollowerPort
	if leaderPort == "" || followerPort == "" {
		if family == robot.FamilyCobot {
			fmt.Fprintln(os.Stderr, "cobot arms cannot be auto-identified; pass --leader-port and --follower-port")
			os.Exit(1)
		}
		leaderPort, followerPort = scanForArms()
	}

	// Step 2: name the arm set
	setID := askSetName()

	cfg := loadOrNewConfig()
	set := &robot.ArmSet{
		LeaderPort:   leaderPort,
		FollowerPort: followerPort,
		Family:       family,
	}
	cfg.Sets[setID] = set
	if cfg.ActiveSet == "" {
		cfg.ActiveSet = setID
	}
	if err := cfg.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	// Step 3: calibrate both arms
	for _, role := range []struct {
		name string
		port string
	}{
		{"leader", leaderPort},
		{"follower", followerPort},
	} {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ Calibrating %s arm ━━━", strings.Title(role.name))))
		fmt.Println()
		calibrateArm(setID, set, role.name, role.port, family, c.MinRange)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Arm set %q saved to %s\n", setID, robot.DefaultConfigFile)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("lerobot teleoperate --set "+setID))

	return nil
}

func loadOrNewConfig() *robot.Config {
	cfg, err := robot.LoadConfig()
	if err != nil {
		return &robot.Config{Sets: map[string]*robot.ArmSet{}}
	}
	return cfg
}

func askSetName() string {
	name := "white"
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Arm set name").
				Description("Identifies this leader/follower pair (e.g. white, black)").
				Value(&name),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	if name == "" {
		name = "white"
	}
	return name
}

func scanForArms() (leaderPort, followerPort string) {
	fmt.Println("Scanning for robot arms...")
	fmt.Println()

	arms := findArms()
	if len(arms) == 0 {
		fmt.Println("No arms found.")
		fmt.Println("Make sure your arms are connected and powered on.")
		os.Exit(1)
	}

	fmt.Printf("Found %d arm(s). Let's identify them...\n\n", len(arms))

	for _, arm := range arms {
		role := identifyArmWithWiggle(arm, leaderPort == "", followerPort == "")
		switch role {
		case "leader":
			leaderPort = arm.port
		case "follower":
			followerPort = arm.port
		}
		if leaderPort != "" && followerPort != "" {
			break
		}
	}

	fmt.Println()

	if leaderPort == "" || followerPort == "" {
		fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
		if leaderPort == "" {
			fmt.Println("Leader arm not identified.")
		}
		if followerPort == "" {
			fmt.Println("Follower arm not identified.")
		}
		fmt.Println()
		fmt.Println("Both leader and follower are required for teleoperation.")
		os.Exit(1)
	}

	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Arms identified:"))
	fmt.Printf("  Leader:   %s\n", leaderPort)
	fmt.Printf("  Follower: %s\n", followerPort)
	return leaderPort, followerPort
}

// calibrateArm runs the full calibration session for one arm: range capture
// in a live table, the insufficient-range gate, then the neutral pose.
func calibrateArm(setID string, set *robot.ArmSet, role, port string, family robot.Family, minRange int) {
	fmt.Printf("Calibrating %s arm on %s\n", role, port)
	fmt.Println()

	arm, err := robot.Connect(robot.ArmConfig{Port: port, Family: family})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to arm: %v\n", err)
		os.Exit(1)
	}
	defer arm.Close()

	ctx := context.Background()

	// Torque off so the operator can move the arm freely.
	if err := arm.Disable(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error releasing arm: %v\n", err)
		os.Exit(1)
	}

	initial, err := arm.ReadRaw(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading arm: %v\n", err)
		os.Exit(1)
	}

	session := robot.NewSession(robot.SessionConfig{MinRange: minRange})
	if err := session.Begin(initial); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting calibration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println("Explore the full range of motion for all joints.")
	fmt.Println()

	for {
		p := tea.NewProgram(newCalibrationModel(arm, session, minRange))
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error running calibration: %v\n", err)
			os.Exit(1)
		}

		err := session.ConfirmRange()
		if err == nil {
			break
		}
		if errors.Is(err, robot.ErrInsufficientRange) {
			fmt.Println(warnStyle.Render(err.Error()))
			fmt.Println("Keep moving the joint through its full range, then press Enter again.")
			fmt.Println()
			continue
		}
		fmt.Fprintf(os.Stderr, "Error confirming range: %v\n", err)
		os.Exit(1)
	}

	waitForUser("Move the arm to its neutral (rest) pose, then confirm.")

	neutral, err := arm.ReadRaw(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading neutral pose: %v\n", err)
		os.Exit(1)
	}
	cal, err := session.ConfirmNeutral(neutral)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finalizing calibration: %v\n", err)
		os.Exit(1)
	}

	path := set.CalibrationFile(setID, role)
	if err := robot.SaveCalibration(path, cal); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving calibration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("%s arm calibrated. Saved to %s\n", strings.Title(role), path)
}

type armInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

func findArms() []armInfo {
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

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)

		bus, err := feetech.NewBus(feetech.BusConfig{
			Port:     port,
			BaudRate: 1_000_000,
			Protocol: feetech.ProtocolSTS,
			Timeout:  100 * time.Millisecond,
		})
		if err != nil {
			cancel()
			continue
		}

		servos, err := bus.Scan(ctx, 1, robot.NumJoints)
		cancel()

		if err != nil {
			bus.Close()
			continue
		}

		if isArm(servos) {
			fmt.Printf("  Found arm on %s\n", port)
			arms = append(arms, armInfo{port: port, servos: servos, bus: bus})
		} else {
			bus.Close()
		}
	}

	return arms
}

func isArm(servos []feetech.FoundServo) bool {
	if len(servos) != robot.NumJoints {
		return false
	}
	ids := make(map[int]bool)
	for _, s := range servos {
		ids[s.ID] = true
	}
	for i := 1; i <= robot.NumJoints; i++ {
		if !ids[i] {
			return false
		}
	}
	return true
}

func identifyArmWithWiggle(arm armInfo, needLeader, needFollower bool) string {
	defer arm.bus.Close()

	ctx := context.Background()

	// Wiggle shoulder_pan (servo ID 1)
	var servo *feetech.Servo
	for _, s := range arm.servos {
		if s.ID == 1 {
			servo = feetech.NewServo(arm.bus, s.ID, s.Model)
			break
		}
	}
	if servo == nil {
		return ""
	}

	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return ""
	}
	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return ""
	}

	fmt.Printf("\n  Wiggling arm on %s...\n", arm.port)

	wiggleAmount := 30
	moveTimeMs := 500
	servo.SetPositionWithTime(ctx, originalPos+wiggleAmount, moveTimeMs)
	time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	servo.SetPositionWithTime(ctx, originalPos-wiggleAmount, moveTimeMs)
	time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	servo.SetPositionWithTime(ctx, originalPos, moveTimeMs)
	time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)

	servo.Disable(ctx)

	var options []huh.Option[string]
	if needLeader {
		options = append(options, huh.NewOption("Leader (the one you move by hand)", "leader"))
	}
	if needFollower {
		options = append(options, huh.NewOption("Follower (the one that follows)", "follower"))
	}
	options = append(options, huh.NewOption("Skip this arm", "skip"))

	var role string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Which arm is on %s?", arm.port)).
				Description("The arm that just wiggled").
				Options(options...).
				Value(&role),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	if role == "skip" {
		return ""
	}
	return role
}

func waitForUser(prompt string) {
	fmt.Println(prompt)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("").
				Affirmative("Continue").
				Negative("").
				Value(new(bool)),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
}

// Calibration TUI: a live table of per-joint raw position and captured
// range, polling the arm and feeding the session.
type calibrationModel struct {
	arm      *robot.Arm
	session  *robot.Session
	minRange int
	quitting bool
}

type tickMsg time.Time

func newCalibrationModel(arm *robot.Arm, session *robot.Session, minRange int) calibrationModel {
	return calibrationModel{arm: arm, session: session, minRange: minRange}
}

func calibrationTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return calibrationTick()
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
		raw, err := m.arm.ReadRaw(context.Background())
		if err == nil {
			m.session.Observe(raw)
		}
		return m, calibrationTick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableMotorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	cur, min, max := m.session.Current(), m.session.Min(), m.session.Max()

	rows := make([][]string, 0, robot.NumJoints)
	ranges := make([]int, 0, robot.NumJoints)
	for i, motorName := range robot.AllMotors() {
		rangeSize := max[i] - min[i]
		ranges = append(ranges, rangeSize)
		rows = append(rows, []string{
			string(motorName),
			fmt.Sprintf("%d", cur[i]),
			fmt.Sprintf("%d", min[i]),
			fmt.Sprintf("%d", max[i]),
			fmt.Sprintf("%d", rangeSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableMotorStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] >= m.minRange {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done"))

	return sb.String()
}
