// Package spots reads spot measurement files: one comma-separated record per
// line, optionally preceded by a header line naming the columns.
package spots

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/soma-tiles/spotcoloc/internal/coloc"
	"github.com/soma-tiles/spotcoloc/internal/data/source"
)

// headerMarker identifies header lines; any line containing it is skipped.
const headerMarker = "pixels"

// Result is the outcome of reading one spot file.
type Result struct {
	Spots   []coloc.Spot
	Skipped int // non-header lines with too few fields
}

// Read parses spot records from r.
func Read(r io.Reader) (*Result, error) {
	res := &Result{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.Contains(line, headerMarker) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < coloc.MinFields {
			res.Skipped++
			continue
		}
		res.Spots = append(res.Spots, coloc.NewSpot(fields))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read spots: %w", err)
	}
	return res, nil
}

// ReadFile reads a possibly compressed spot file.
func ReadFile(path string) (*Result, error) {
	rc, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Read(rc)
}
