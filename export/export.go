// Package export writes estimation run snapshots to external formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/run"
)

// Exporter exports run snapshots
type Exporter interface {
	// Write writes a single snapshot
	Write(run.Snapshot) error
	// Close flushes the written snapshots and releases resources
	Close() error
}

// CSVExporter writes snapshots as CSV rows.
// Every row contains step, time, skip flag and each state value with its 2 sigma bounds.
type CSVExporter struct {
	w      *csv.Writer
	c      io.Closer
	states int
}

// NewCSVExporter creates new CSV exporter writing to w and writes the CSV header.
// headers name the state components; every written snapshot must have len(headers) states.
// If w implements io.Closer it is closed by Close.
func NewCSVExporter(w io.Writer, headers []string) (*CSVExporter, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: missing writer", filter.ErrInvalidParameter)
	}

	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: missing state headers", filter.ErrInvalidParameter)
	}

	hdr := make([]string, 0, 3+3*len(headers))
	hdr = append(hdr, "step", "t", "skipped")
	for _, h := range headers {
		hdr = append(hdr, h, h+"+2s", h+"-2s")
	}

	e := &CSVExporter{
		w:      csv.NewWriter(w),
		states: len(headers),
	}

	if c, ok := w.(io.Closer); ok {
		e.c = c
	}

	if err := e.w.Write(hdr); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return e, nil
}

// CreateCSV creates file path and returns CSV exporter writing to it.
func CreateCSV(path string, headers []string) (*CSVExporter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	e, err := NewCSVExporter(f, headers)
	if err != nil {
		f.Close()
		return nil, err
	}

	return e, nil
}

// StateHeaders returns default headers x0 ... x(n-1) of n states.
func StateHeaders(n int) []string {
	h := make([]string, n)
	for i := range h {
		h[i] = "x" + strconv.Itoa(i)
	}

	return h
}

// Write writes snapshot s as a CSV row.
func (e *CSVExporter) Write(s run.Snapshot) error {
	if err := filter.CheckVec("snapshot state", s.X, e.states); err != nil {
		return err
	}

	if err := filter.CheckCov("snapshot covariance", s.P, e.states); err != nil {
		return err
	}

	row := make([]string, 0, 3+3*e.states)
	row = append(row, strconv.Itoa(s.Step), formatFloat(s.T), strconv.FormatBool(s.Skipped))
	for i := 0; i < e.states; i++ {
		x := s.X.AtVec(i)
		bound := 2 * math.Sqrt(s.P.At(i, i))
		row = append(row, formatFloat(x), formatFloat(x+bound), formatFloat(x-bound))
	}

	return e.w.Write(row)
}

// WriteAll writes all snapshots and flushes them.
func (e *CSVExporter) WriteAll(snaps []run.Snapshot) error {
	for _, s := range snaps {
		if err := e.Write(s); err != nil {
			return fmt.Errorf("step %d: %w", s.Step, err)
		}
	}

	e.w.Flush()

	return e.w.Error()
}

// Close flushes written rows and closes the underlying writer if it is a Closer.
func (e *CSVExporter) Close() error {
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	if e.c != nil {
		return e.c.Close()
	}

	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
