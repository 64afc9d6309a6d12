package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/gwillem/glove/pkg/telemetry"
)

type PlotCommand struct {
	Output    string  `short:"o" long:"output" description:"PNG file to write (default: trace name with .png)"`
	Threshold float64 `long:"threshold" description:"Threshold line to draw (default: configured sensitivity)"`

	Args struct {
		Trace string `positional-arg-name:"trace" description:"Classification trace CSV"`
	} `positional-args:"yes" required:"yes"`
}

func (c *PlotCommand) Execute(args []string) error {
	threshold := c.Threshold
	if threshold <= 0 {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		threshold = cfg.Gestures.Sensitivity
	}

	f, err := os.Open(c.Args.Trace)
	if err != nil {
		return err
	}
	rows, err := telemetry.ReadTrace(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", c.Args.Trace, err)
	}

	out := c.Output
	if out == "" {
		out = strings.TrimSuffix(c.Args.Trace, ".csv") + ".png"
	}
	if err := telemetry.PlotTraceFile(out, rows, threshold); err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Plotted %d sample(s) to %s", len(rows), out)))
	return nil
}
