// Package report writes per-cell colocalization reports as comma-separated
// text.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/soma-tiles/spotcoloc/internal/coloc"
)

// Columns selects the report layout.
type Columns string

const (
	Summary Columns = "summary"
	Full    Columns = "full"
)

// Header returns the header line for the layout.
func (c Columns) Header() string {
	if c == Full {
		return coloc.FullHeader()
	}
	return coloc.ReportHeader()
}

// Line formats one report for the layout.
func (c Columns) Line(r coloc.Report) string {
	if c == Full {
		return r.FullLine()
	}
	return r.Line()
}

// Write writes the header followed by one line per report.
func Write(w io.Writer, cols Columns, reports []coloc.Report) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, cols.Header()); err != nil {
		return err
	}
	for _, r := range reports {
		if _, err := fmt.Fprintln(bw, cols.Line(r)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// AppendFile appends a header and the reports to path, creating the file if
// needed. Existing content is kept.
func AppendFile(path string, cols Columns, reports []coloc.Report) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open report file: %w", err)
	}
	if err := Write(f, cols, reports); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}
