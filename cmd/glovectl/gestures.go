package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/gesture"
	"github.com/gwillem/glove/pkg/imu"
	"github.com/gwillem/glove/pkg/teleop"
)

type GesturesCommand struct {
	Import ImportCommand `command:"import" description:"Import references from a collector JSON file"`
	Export ExportCommand `command:"export" description:"Write all references as a collector JSON file"`
	List   ListCommand   `command:"list" alias:"ls" description:"Show reference counts per label"`
	Record RecordCommand `command:"record" description:"Capture references from the glove"`
	Delete DeleteCommand `command:"delete" alias:"rm" description:"Remove every reference of a label"`
}

// createStore opens the configured gesture database, creating it if needed.
func createStore() (*gesture.Store, zerolog.Logger, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := newLogger(cfg)
	store, err := gesture.Create(cfg.Gestures.Database, log)
	if err != nil {
		return nil, log, fmt.Errorf("open gestures: %w", err)
	}
	return store, log, nil
}

type ImportCommand struct {
	Args struct {
		File string `positional-arg-name:"file" description:"Collector JSON file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *ImportCommand) Execute(args []string) error {
	f, err := os.Open(c.Args.File)
	if err != nil {
		return err
	}
	defer f.Close()

	refs, err := gesture.ReadCollection(f)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Args.File, err)
	}

	store, _, err := createStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.AddAll(context.Background(), refs); err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Imported %d reference(s) into %s", len(refs), store.Path())))
	return nil
}

type ExportCommand struct {
	Args struct {
		File string `positional-arg-name:"file" description:"Output file, - for stdout"`
	} `positional-args:"yes" required:"yes"`
}

func (c *ExportCommand) Execute(args []string) error {
	store, _, err := createStore()
	if err != nil {
		return err
	}
	defer store.Close()

	db, err := store.Load(context.Background())
	if err != nil {
		return err
	}

	if c.Args.File == "-" {
		return gesture.WriteCollection(os.Stdout, db.References())
	}
	f, err := os.Create(c.Args.File)
	if err != nil {
		return err
	}
	if err := gesture.WriteCollection(f, db.References()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type ListCommand struct{}

func (c *ListCommand) Execute(args []string) error {
	store, _, err := createStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.Summary(context.Background())
	if err != nil {
		return err
	}
	if len(summary) == 0 {
		fmt.Printf("No references in %s\n", store.Path())
		return nil
	}

	rows := make([][]string, 0, len(summary))
	total := 0
	for _, ls := range summary {
		rows = append(rows, []string{strconv.Itoa(ls.Label), ls.Name, strconv.Itoa(ls.Count)})
		total += ls.Count
	}

	headerCell := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Label", "Name", "References").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			return cell
		})

	fmt.Println(headerStyle.Render(store.Path()))
	fmt.Println(t.Render())
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d reference(s)", total)))
	return nil
}

type RecordCommand struct {
	Count         int    `short:"n" long:"count" default:"5" description:"Number of captures"`
	Name          string `long:"name" description:"Name to give the label"`
	SkipHandshake bool   `long:"skip-handshake" description:"Assume the glove is already streaming"`

	Args struct {
		Label int `positional-arg-name:"label" description:"Gesture label (0 hold, 1 chassis, 2 gimbal, 3 shooter)"`
	} `positional-args:"yes" required:"yes"`
}

func (c *RecordCommand) Execute(args []string) error {
	if c.Args.Label < 0 {
		return errors.New("label must not be negative")
	}
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if cfg.Glove.Path == "" {
		return errors.New("glove port not configured, run 'glovectl setup' first")
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := gesture.Create(cfg.Gestures.Database, log)
	if err != nil {
		return fmt.Errorf("open gestures: %w", err)
	}
	defer store.Close()

	if cfg.Link.Path != "" && !c.SkipHandshake {
		ctl, err := openLink(ctx, cfg.Link, log)
		if err != nil {
			return err
		}
		defer ctl.Close()
		if err := startGlove(ctx, cfg, ctl); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			ctl.session.Terminate(stopCtx)
		}()
	}

	port, err := channel.Open(cfg.Glove.Path, cfg.Glove.PortOptions)
	if err != nil {
		return err
	}
	defer port.Close()

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	src := teleop.NewFrameSource(readCtx, port)

	if c.Name != "" {
		if err := store.SetLabelName(ctx, c.Args.Label, c.Name); err != nil {
			return err
		}
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("Recording label %d", c.Args.Label)))
	fmt.Println()

	for i := range c.Count {
		waitForUser(fmt.Sprintf("Capture %d/%d: hold the pose, then continue.", i+1, c.Count))

		// Skip whatever arrived while the prompt was open.
		src.Latest()
		frame, err := src.Next(ctx)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		samples, err := imu.Decode(frame)
		var unknown *imu.UnknownSensorError
		if errors.As(err, &unknown) {
			log.Warn().Err(err).Msg("frame has an unknown sensor")
		} else if err != nil {
			fmt.Println(warnStyle.Render(fmt.Sprintf("  Bad frame (%v), try again", err)))
			continue
		}

		id, err := store.Add(ctx, c.Args.Label, imu.NewOrientationSet(samples))
		if err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("  Stored reference %d", id)))
	}
	return nil
}

func waitForUser(prompt string) {
	fmt.Println(prompt)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("").
				Affirmative("Capture").
				Negative("").
				Value(new(bool)),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
}

type DeleteCommand struct {
	Yes bool `short:"y" long:"yes" description:"Do not ask for confirmation"`

	Args struct {
		Label int `positional-arg-name:"label"`
	} `positional-args:"yes" required:"yes"`
}

func (c *DeleteCommand) Execute(args []string) error {
	if !c.Yes {
		confirm := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete every reference of label %d?", c.Args.Label)).
					Value(&confirm),
			),
		)
		if err := form.Run(); err != nil || !confirm {
			return nil
		}
	}

	store, _, err := createStore()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Delete(context.Background(), c.Args.Label)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d reference(s)\n", n)
	return nil
}
