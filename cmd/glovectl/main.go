package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/config"
	"github.com/gwillem/glove/pkg/logging"
)

type Options struct {
	Config  string `short:"c" long:"config" default:"glove.toml" description:"Configuration file"`
	Verbose bool   `short:"v" long:"verbose" description:"Log at debug level"`

	Setup       SetupCommand       `command:"setup" description:"Find the glove ports, assign sensors and calibrate the gimbal"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Start teleoperation from the glove"`
	Gestures    GesturesCommand    `command:"gestures" description:"Manage the gesture reference database"`
	Plot        PlotCommand        `command:"plot" description:"Plot a classification trace"`
	Emulate     EmulateCommand     `command:"emulate" description:"Emulate the glove main controller on a serial port"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "glovectl - gesture glove teleoperation host"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, falling back to the defaults
// when it does not exist and missingOK is set.
func loadConfig(missingOK bool) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if errors.Is(err, fs.ErrNotExist) {
		if missingOK {
			def := config.Default()
			return &def, nil
		}
		return nil, fmt.Errorf("no configuration at %s, run 'glovectl setup' first", opts.Config)
	}
	return cfg, err
}

// newLogger builds the console logger for cfg.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	return logging.New(logging.Options{App: "glovectl", Level: level, JSON: cfg.Log.JSON})
}
