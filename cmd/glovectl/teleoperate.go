package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/glove/pkg/actuator"
	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/config"
	"github.com/gwillem/glove/pkg/gesture"
	"github.com/gwillem/glove/pkg/logging"
	"github.com/gwillem/glove/pkg/telemetry"
	"github.com/gwillem/glove/pkg/teleop"
)

type TeleoperateCommand struct {
	Hz            int    `long:"hz" description:"Control loop frequency (overrides the config)"`
	Trace         string `long:"trace" description:"Write the classification trace to this CSV file"`
	NoTUI         bool   `long:"no-tui" description:"Log to the console instead of showing the dashboard"`
	SkipHandshake bool   `long:"skip-handshake" description:"Assume the glove is already streaming"`
}

const (
	headerHeight = 2 // title + blank line
	statusHeight = 2 // gesture line + blank
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Angles shown on the chart, in degrees.
var angleSeries = []struct {
	name  string
	color string
}{
	{"roll", "196"}, // red
	{"pitch", "46"}, // green
	{"yaw", "51"},   // cyan
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	noMatch     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

type teleopModel struct {
	ctrl     *teleop.Controller
	chart    *streamlinechart.Model
	names    map[int]string // label names from the gesture database
	width    int            // terminal width
	height   int            // terminal height
	logs     []string       // last N log messages
	last     teleop.State
	quitting bool
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg teleop.State
type logMsg string

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-statusHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func initialTeleopModel(ctrl *teleop.Controller, names map[int]string) teleopModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-180, 180),
	)
	for _, s := range angleSeries {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color))
		chart.SetDataSetStyles(s.name, runes.ThinLineStyle, style)
	}

	return teleopModel{
		ctrl:  ctrl,
		chart: &chart,
		names: names,
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		st := teleop.State(msg)
		if st.Error == nil || st.Result.Errors != nil {
			// Malformed frames carry no angles.
			deg := st.Angles.Degrees()
			m.chart.PushDataSet("roll", deg.Roll)
			m.chart.PushDataSet("pitch", deg.Pitch)
			m.chart.PushDataSet("yaw", deg.Yaw)
			m.chart.DrawAll()
		}
		m.last = st
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m teleopModel) labelName(label int) string {
	if name, ok := m.names[label]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("label %d", label)
}

func (m teleopModel) renderStatus() string {
	st := m.last
	if st.Timestamp.IsZero() {
		return statusStyle.Render("Waiting for sensor frames...")
	}

	var sb strings.Builder
	if st.Result.Recognized() {
		sb.WriteString(labelStyle.Render(m.labelName(st.Result.Label)))
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  error %.2f", st.Result.Error)))
	} else {
		sb.WriteString(noMatch.Render("no gesture"))
	}
	if st.Frame != nil {
		sb.WriteString("  → " + st.Frame.String())
	}
	if !st.HasZero {
		sb.WriteString(statusStyle.Render("  (hold to set zero)"))
	}
	return sb.String()
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Glove Teleoperate"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(m.renderStatus())
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, s := range angleSeries {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+s.name)
	}
	return strings.Join(items, "  ")
}

// teleopLogger sends logs to the configured file, or nowhere while the
// dashboard owns the terminal.
func (c *TeleoperateCommand) teleopLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	if c.NoTUI {
		return newLogger(cfg), nil, nil
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	if cfg.Log.File == "" {
		return logging.New(logging.Options{App: "glovectl", Level: level, Out: io.Discard}), nil, nil
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	return logging.New(logging.Options{App: "glovectl", Level: level, JSON: cfg.Log.JSON, NoColor: true, Out: f}), f, nil
}

func (c *TeleoperateCommand) Execute(args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if cfg.Glove.Path == "" {
		return errors.New("glove port not configured, run 'glovectl setup' first")
	}
	if c.Hz > 0 {
		cfg.Hz = c.Hz
	}
	if c.Trace != "" {
		cfg.Telemetry.Trace = c.Trace
	}

	log, logFile, err := c.teleopLogger(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, names, err := loadGestures(ctx, cfg.Gestures.Database, log)
	if err != nil {
		return err
	}
	mapper, err := cfg.MapperConfig()
	if err != nil {
		return err
	}

	var ctl *link
	if cfg.Link.Path != "" {
		ctl, err = openLink(ctx, cfg.Link, log)
		if err != nil {
			return err
		}
		defer ctl.Close()
		if !c.SkipHandshake {
			if err := startGlove(ctx, cfg, ctl); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := ctl.session.Terminate(stopCtx); err != nil {
					log.Warn().Err(err).Msg("terminate streaming")
				}
			}()
		}
	}

	frames, err := channel.Open(cfg.Glove.Path, cfg.Glove.PortOptions)
	if err != nil {
		return err
	}
	defer frames.Close()

	act, err := openActuator(ctx, cfg, log)
	if err != nil {
		return err
	}
	pub, err := openPublisher(cfg, log)
	if err != nil {
		act.Close()
		return err
	}
	var trace *telemetry.TraceWriter
	if cfg.Telemetry.Trace != "" {
		f, err := os.Create(cfg.Telemetry.Trace)
		if err != nil {
			act.Close()
			pub.Close()
			return fmt.Errorf("create trace: %w", err)
		}
		trace = telemetry.NewTraceWriter(f)
	}

	tc := teleop.Config{
		Frames:      frames,
		Database:    db,
		Sensitivity: cfg.Gestures.Sensitivity,
		Mapper:      mapper,
		Actuator:    act,
		Publisher:   pub,
		Trace:       trace,
		Hz:          cfg.Hz,
		Logger:      log,
	}
	if ctl != nil {
		tc.Channel = ctl.ch
	}
	ctrl, err := newController(tc)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.NoTUI {
		err := ctrl.Start(ctx)
		if teleop.Stopped(err) {
			return nil
		}
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- ctrl.Start(ctx)
	}()

	p := tea.NewProgram(initialTeleopModel(ctrl, names), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run dashboard: %w", err)
	}
	cancel()
	if err := <-errc; !teleop.Stopped(err) {
		return err
	}
	return nil
}

// newController builds the teleoperation controller, closing the sinks in
// tc if that fails.
func newController(tc teleop.Config) (*teleop.Controller, error) {
	ctrl, err := teleop.NewController(tc)
	if err != nil {
		if tc.Actuator != nil {
			tc.Actuator.Close()
		}
		if tc.Publisher != nil {
			tc.Publisher.Close()
		}
		if tc.Trace != nil {
			tc.Trace.Close()
		}
		return nil, fmt.Errorf("create controller: %w", err)
	}
	return ctrl, nil
}

func loadGestures(ctx context.Context, path string, log zerolog.Logger) (*gesture.Database, map[int]string, error) {
	store, err := gesture.Open(path, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open gestures: %w", err)
	}
	defer store.Close()

	db, err := store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	summary, err := store.Summary(ctx)
	if err != nil {
		return nil, nil, err
	}
	names := make(map[int]string, len(summary))
	for _, ls := range summary {
		names[ls.Label] = ls.Name
	}
	return db, names, nil
}

// startGlove boots the glove and starts sensor streaming.
func startGlove(ctx context.Context, cfg *config.Config, l *link) error {
	assignments, err := cfg.Assignments()
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		return errors.New("no sensors assigned, run 'glovectl setup' first")
	}

	fmt.Println("Waiting for the glove to boot...")
	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := l.session.Boot(bootCtx); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return l.session.Start(startCtx, assignments)
}

func openActuator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (actuator.Actuator, error) {
	a := cfg.Actuator
	switch a.Kind {
	case config.ActuatorNone:
		return actuator.Discard{}, nil
	case config.ActuatorServo:
		if !a.IsCalibrated() {
			return nil, errors.New("gimbal not calibrated, run 'glovectl setup' first")
		}
		return actuator.OpenGimbal(ctx, actuator.GimbalConfig{
			Port:        a.Port,
			BaudRate:    a.Baud,
			Calibration: a.Calibration,
			Gain:        a.Gain,
			Logger:      log,
		})
	default:
		if a.Port == "" {
			return nil, errors.New("actuator port not configured")
		}
		return actuator.OpenSerial(a.Port, channel.PortOptions{BaudRate: a.Baud}, log)
	}
}

func openPublisher(cfg *config.Config, log zerolog.Logger) (telemetry.Publisher, error) {
	t := cfg.Telemetry
	if t.Broker == "" {
		return telemetry.Nop{}, nil
	}
	return telemetry.DialMQTT(telemetry.MQTTConfig{
		Broker:   t.Broker,
		ClientID: t.ClientID,
		Topic:    t.Topic,
		Logger:   log,
	})
}
