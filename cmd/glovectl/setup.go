package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/actuator"
	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/config"
	"github.com/gwillem/glove/pkg/imu"
	"github.com/gwillem/glove/pkg/session"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const skip = "skip"

type SetupCommand struct {
	SkipGlove bool `long:"skip-glove" description:"Do not query the glove for its sensors"`
}

func (c *SetupCommand) Execute(args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	fmt.Println(headerStyle.Render("Glove Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━"))
	fmt.Println()

	// Step 1: Pick ports
	if err := choosePorts(cfg); err != nil {
		return err
	}
	if err := cfg.Save(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	// Step 2: Ask the glove which sensors it has
	if !c.SkipGlove {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Assigning Sensors ━━━"))
		fmt.Println()
		if err := assignSensors(cfg, log); err != nil {
			return err
		}
		if err := cfg.Save(opts.Config); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	// Step 3: Calibrate the servo gimbal
	if cfg.Actuator.Kind == config.ActuatorServo {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Calibrating Gimbal ━━━"))
		fmt.Println()
		cal, err := calibrateGimbal(cfg.Actuator.Port, cfg.Actuator.Baud)
		if err != nil {
			return err
		}
		cfg.Actuator.Calibration = cal
		if err := cfg.Save(opts.Config); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Record gestures with: " + headerStyle.Render("glovectl gestures record <label>"))
	fmt.Println("Start teleoperation with: " + headerStyle.Render("glovectl teleoperate"))

	return nil
}

func choosePorts(cfg *config.Config) error {
	ports, err := channel.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return errors.New("no serial ports found, make sure the glove is plugged in")
	}
	fmt.Printf("Found %d serial port(s).\n\n", len(ports))

	portOptions := func() []huh.Option[string] {
		options := make([]huh.Option[string], 0, len(ports))
		for _, p := range ports {
			label := p.Name
			if p.Product != "" {
				label += " (" + p.Product + ")"
			}
			options = append(options, huh.NewOption(label, p.Name))
		}
		return options
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port streams sensor frames?").
				Description("The main controller's data port").
				Options(portOptions()...).
				Value(&cfg.Glove.Path),
			huh.NewSelect[string]().
				Title("Which port carries the control channel?").
				Description("Used for the start-up handshake and feedback").
				Options(portOptions()...).
				Value(&cfg.Link.Path),
			huh.NewSelect[string]().
				Title("What receives the commands?").
				Options(
					huh.NewOption("Serial link to the robot", config.ActuatorSerial),
					huh.NewOption("Pan/tilt servo gimbal", config.ActuatorServo),
					huh.NewOption("Nothing (dry run)", config.ActuatorNone),
				).
				Value(&cfg.Actuator.Kind),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	if cfg.Actuator.Kind == config.ActuatorNone {
		return nil
	}
	form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the actuator on?").
				Options(portOptions()...).
				Value(&cfg.Actuator.Port),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return nil
}

func assignSensors(cfg *config.Config, log zerolog.Logger) error {
	ctx := context.Background()
	l, err := openLink(ctx, cfg.Link, log)
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Println("Waiting for the glove to boot...")
	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = l.session.Boot(bootCtx)
	cancel()
	if err != nil {
		return err
	}

	step := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, 5*time.Second)
	}

	stepCtx, cancel := step()
	addrs, err := l.session.QueryAddresses(stepCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("query addresses: %w", err)
	}
	if len(addrs) == 0 {
		return errors.New("the glove reports no IMUs, check the sensor wiring")
	}
	fmt.Printf("  Found %d IMU(s)\n", len(addrs))

	stepCtx, cancel = step()
	rate, err := l.session.QueryPollingRate(stepCtx)
	cancel()
	if err != nil {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  Polling rate unavailable: %v", err)))
	} else {
		fmt.Printf("  Polling rate: %.1f Hz euler, %.1f Hz quaternion\n", rate.Euler, rate.Quaternion)
	}

	current := make(map[int]string, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		current[s.Address] = s.Position
	}

	var sensors []config.Sensor
	var used []imu.SensorID
	for _, addr := range addrs {
		var options []huh.Option[string]
		for _, id := range imu.AllSensors() {
			if slices.Contains(used, id) {
				continue
			}
			options = append(options, huh.NewOption(id.String(), string(byte(id))))
		}
		options = append(options, huh.NewOption("Not used", skip))

		position := current[addr]
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title(fmt.Sprintf("Where is the IMU at address %#x?", addr)).
					Options(options...).
					Value(&position),
			),
		)
		if err := form.Run(); err != nil {
			fmt.Println()
			os.Exit(0)
		}
		if position == skip || position == "" {
			continue
		}
		id, err := imu.ParseSensor(position)
		if err != nil {
			return err
		}
		used = append(used, id)
		sensors = append(sensors, config.Sensor{Position: position, Address: addr})
	}
	cfg.Sensors = sensors

	// Dry-run the assignment so rejected positions show up now.
	assignments, err := cfg.Assignments()
	if err != nil {
		return err
	}
	stepCtx, cancel = step()
	err = l.session.ConfigureSensors(stepCtx, assignments)
	cancel()
	if err != nil {
		return fmt.Errorf("configure sensors: %w", err)
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("  %d sensor(s) assigned", len(assignments))))

	return renameBluetooth(ctx, l.session)
}

func renameBluetooth(ctx context.Context, s *session.Session) error {
	stepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	name, err := s.BluetoothName(stepCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("bluetooth name: %w", err)
	}

	newName := name
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bluetooth name").
				Description("The name the operator pairs with").
				Value(&newName).
				Validate(func(s string) error {
					if n := len(s); n < 1 || n > session.MaxNameLength {
						return fmt.Errorf("must be 1 to %d characters", session.MaxNameLength)
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	if newName == name {
		return nil
	}

	stepCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.RenameBluetooth(stepCtx, newName); err != nil {
		return fmt.Errorf("rename bluetooth: %w", err)
	}
	fmt.Println(successStyle.Render("  Bluetooth name set to " + newName))
	return nil
}

func connectToGimbal(port string, baud int) (*feetech.Bus, []feetech.FoundServo, error) {
	if baud == 0 {
		baud = actuator.DefaultServoBaud
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baud,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}

	servos, err := bus.Scan(ctx, 1, 6)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	if len(servos) != len(actuator.AllAxes()) {
		bus.Close()
		return nil, nil, fmt.Errorf("found %d servo(s) on %s, a gimbal has %d", len(servos), port, len(actuator.AllAxes()))
	}
	return bus, servos, nil
}

func calibrateGimbal(port string, baud int) (actuator.Calibration, error) {
	fmt.Printf("Calibrating gimbal on %s\n", port)
	fmt.Println()

	bus, servos, err := connectToGimbal(port, baud)
	if err != nil {
		return nil, fmt.Errorf("connect to gimbal: %w", err)
	}
	defer bus.Close()

	ctx := context.Background()
	servoMap := make(map[actuator.AxisName]*feetech.Servo)
	ids := make(map[actuator.AxisName]int)
	for _, s := range servos {
		servo := feetech.NewServo(bus, s.ID, s.Model)
		axis := identifyServoWithWiggle(ctx, servo, s.ID, servoMap)
		if axis == "" {
			continue
		}
		servoMap[axis] = servo
		ids[axis] = s.ID
	}
	for _, axis := range actuator.AllAxes() {
		if servoMap[axis] == nil {
			return nil, fmt.Errorf("no servo assigned to %s", axis)
		}
	}

	// Disable torque so the gimbal can be moved by hand
	for _, servo := range servoMap {
		servo.Disable(ctx)
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move the gimbal to its limits on both axes.")
	fmt.Println()

	axes := actuator.AllAxes()
	curPositions := make(map[actuator.AxisName]int)
	minPositions := make(map[actuator.AxisName]int)
	maxPositions := make(map[actuator.AxisName]int)
	for _, axis := range axes {
		pos, _ := servoMap[axis].Position(ctx)
		curPositions[axis] = pos
		minPositions[axis] = pos
		maxPositions[axis] = pos
	}

	model := newCalibrationModel(axes, servoMap, curPositions, minPositions, maxPositions)
	finalModel, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, fmt.Errorf("run calibration: %w", err)
	}
	cm := finalModel.(calibrationModel)

	var inverted []string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Invert any axis?").
				Description("Select axes that move opposite to the hand").
				Options(huh.NewOption("pan", string(actuator.Pan)), huh.NewOption("tilt", string(actuator.Tilt))).
				Value(&inverted),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	cal := make(actuator.Calibration, len(axes))
	for _, axis := range axes {
		cal[axis] = actuator.AxisCalibration{
			ID:       ids[axis],
			RangeMin: cm.minPositions[axis],
			RangeMax: cm.maxPositions[axis],
			Inverted: slices.Contains(inverted, string(axis)),
		}
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}

	fmt.Println()
	fmt.Println("Gimbal calibrated.")
	return cal, nil
}

// identifyServoWithWiggle moves one servo a little and asks which axis it
// drives. It returns "" when the operator skips the servo.
func identifyServoWithWiggle(ctx context.Context, servo *feetech.Servo, id int, taken map[actuator.AxisName]*feetech.Servo) actuator.AxisName {
	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading servo %d: %v\n", id, err)
		return ""
	}
	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo %d: %v\n", id, err)
		return ""
	}

	fmt.Printf("\n  Wiggling servo %d...\n", id)

	wiggleAmount := 60
	moveTimeMs := 400
	for _, pos := range []int{originalPos + wiggleAmount, originalPos - wiggleAmount, originalPos} {
		servo.SetPositionWithTime(ctx, pos, moveTimeMs)
		time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	}
	servo.Disable(ctx)

	var options []huh.Option[string]
	for _, axis := range actuator.AllAxes() {
		if taken[axis] == nil {
			options = append(options, huh.NewOption(strings.ToUpper(string(axis[:1]))+string(axis[1:]), string(axis)))
		}
	}
	options = append(options, huh.NewOption("Skip this servo", skip))

	var role string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which axis is servo " + strconv.Itoa(id) + "?").
				Description("The servo that just wiggled").
				Options(options...).
				Value(&role),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	if role == skip {
		return ""
	}
	return actuator.AxisName(role)
}

// Calibration TUI model
type calibrationModel struct {
	axes         []actuator.AxisName
	servoMap     map[actuator.AxisName]*feetech.Servo
	curPositions map[actuator.AxisName]int
	minPositions map[actuator.AxisName]int
	maxPositions map[actuator.AxisName]int
	quitting     bool
}

type tickMsg time.Time

func newCalibrationModel(
	axes []actuator.AxisName,
	servoMap map[actuator.AxisName]*feetech.Servo,
	curPositions, minPositions, maxPositions map[actuator.AxisName]int,
) calibrationModel {
	return calibrationModel{
		axes:         axes,
		servoMap:     servoMap,
		curPositions: curPositions,
		minPositions: minPositions,
		maxPositions: maxPositions,
	}
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
		for _, axis := range m.axes {
			pos, err := m.servoMap[axis].Position(ctx)
			if err != nil {
				continue
			}
			m.curPositions[axis] = pos
			m.minPositions[axis] = min(m.minPositions[axis], pos)
			m.maxPositions[axis] = max(m.maxPositions[axis], pos)
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	headerCell := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	axisCell := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	currentCell := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	rangeGood := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	rangeLow := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.axes))
	ranges := make([]int, 0, len(m.axes))
	for _, axis := range m.axes {
		span := m.maxPositions[axis] - m.minPositions[axis]
		ranges = append(ranges, span)
		rows = append(rows, []string{
			string(axis),
			strconv.Itoa(m.curPositions[axis]),
			strconv.Itoa(m.minPositions[axis]),
			strconv.Itoa(m.maxPositions[axis]),
			strconv.Itoa(span),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Axis", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			switch col {
			case 0:
				return axisCell
			case 1:
				return currentCell
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] > 300 {
					return rangeGood
				}
				return rangeLow
			default:
				return cell
			}
		})

	return t.Render() + "\n\n" + dimStyle.Render("Press Enter when done")
}
