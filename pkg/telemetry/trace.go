package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/gwillem/glove/pkg/gesture"
)

// TraceRow is one classification: the error against each reference and
// the predicted label.
type TraceRow struct {
	Errors     []float64
	Prediction int
}

// TraceWriter appends classification results as CSV rows of the form
// e0,e1,...,prediction.
type TraceWriter struct {
	mu sync.Mutex
	w  *csv.Writer
	c  io.Closer
}

// NewTraceWriter writes to w. If w is an io.Closer, Close closes it.
func NewTraceWriter(w io.Writer) *TraceWriter {
	tw := &TraceWriter{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		tw.c = c
	}
	return tw
}

// Write appends one row.
func (t *TraceWriter) Write(res gesture.Result) error {
	rec := make([]string, 0, len(res.Errors)+1)
	for _, e := range res.Errors {
		rec = append(rec, strconv.FormatFloat(e, 'g', 6, 64))
	}
	rec = append(rec, strconv.Itoa(res.Label))

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Write(rec)
}

// Flush writes buffered rows to the underlying writer.
func (t *TraceWriter) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Flush()
	return t.w.Error()
}

// Close flushes and closes the underlying writer.
func (t *TraceWriter) Close() error {
	err := t.Flush()
	if t.c != nil {
		err = errors.Join(err, t.c.Close())
	}
	return err
}

// ReadTrace parses a trace written by TraceWriter.
func ReadTrace(r io.Reader) ([]TraceRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var rows []TraceRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read trace: %w", err)
		}
		row, err := parseRow(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("read trace line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(rec []string) (TraceRow, error) {
	last := len(rec) - 1
	pred, err := strconv.Atoi(rec[last])
	if err != nil {
		// The prediction may have been written as a float.
		f, ferr := strconv.ParseFloat(rec[last], 64)
		if ferr != nil {
			return TraceRow{}, fmt.Errorf("prediction %q: %w", rec[last], err)
		}
		pred = int(f)
	}

	row := TraceRow{Prediction: pred, Errors: make([]float64, last)}
	for i, f := range rec[:last] {
		if row.Errors[i], err = strconv.ParseFloat(f, 64); err != nil {
			return TraceRow{}, fmt.Errorf("error %d: %w", i, err)
		}
	}
	return row, nil
}
