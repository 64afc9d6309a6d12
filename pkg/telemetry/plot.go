package telemetry

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// ErrEmptyTrace is returned when there is nothing to plot.
var ErrEmptyTrace = errors.New("telemetry: empty trace")

// Plot sizes.
const (
	PlotWidth  = 12 * vg.Inch
	PlotHeight = 8 * vg.Inch

	thresholdEvery = 8
)

// PlotTrace renders the trace as two stacked panels, per-reference error
// with the sensitivity threshold on top and the prediction below, and
// writes a PNG to w.
func PlotTrace(w io.Writer, rows []TraceRow, threshold float64) error {
	if len(rows) == 0 {
		return ErrEmptyTrace
	}

	top, err := errorPlot(rows, threshold)
	if err != nil {
		return err
	}
	bottom, err := predictionPlot(rows)
	if err != nil {
		return err
	}

	img := vgimg.New(PlotWidth, PlotHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 2,
		Cols: 1,
		PadX: vg.Millimeter,
		PadY: 4 * vg.Millimeter,
	}
	plots := [][]*plot.Plot{{top}, {bottom}}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// PlotTraceFile renders the trace to a PNG file.
func PlotTraceFile(path string, rows []TraceRow, threshold float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := PlotTrace(f, rows, threshold); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func errorPlot(rows []TraceRow, threshold float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Squared error per reference"
	p.Y.Label.Text = "Error"
	p.Legend.Top = true

	refs := 0
	for _, r := range rows {
		refs = max(refs, len(r.Errors))
	}

	for ref := range refs {
		pts := make(plotter.XYs, 0, len(rows))
		for i, r := range rows {
			if ref < len(r.Errors) {
				pts = append(pts, plotter.XY{X: float64(i), Y: r.Errors[ref]})
			}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("reference %d line: %w", ref, err)
		}
		line.Color = plotutil.Color(ref)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("Reference %d", ref), line)
	}

	marks := make(plotter.XYs, 0, len(rows)/thresholdEvery+1)
	for i := 0; i < len(rows); i += thresholdEvery {
		marks = append(marks, plotter.XY{X: float64(i), Y: threshold})
	}
	scatter, err := plotter.NewScatter(marks)
	if err != nil {
		return nil, fmt.Errorf("threshold marks: %w", err)
	}
	scatter.GlyphStyle.Color = color.Black
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter)
	p.Legend.Add("Threshold", scatter)

	p.Y.Min = 0
	return p, nil
}

func predictionPlot(rows []TraceRow) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Prediction"

	pts := make(plotter.XYs, len(rows))
	maxLabel := 0
	for i, r := range rows {
		pts[i] = plotter.XY{X: float64(i), Y: float64(r.Prediction)}
		maxLabel = max(maxLabel, r.Prediction)
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("prediction line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("Prediction", line)

	p.Y.Min = -1.5
	p.Y.Max = float64(maxLabel) + 0.5
	ticks := make([]plot.Tick, 0, maxLabel+2)
	for l := -1; l <= maxLabel; l++ {
		ticks = append(ticks, plot.Tick{Value: float64(l), Label: fmt.Sprint(l)})
	}
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)
	return p, nil
}
