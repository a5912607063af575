// Package cells reads cell outline files. Each line holds a cell label and
// one integer vertex, separated by whitespace:
//
//	tip47a 812 344
//
// Consecutive lines with the same label form one cell.
package cells

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/soma-tiles/spotcoloc/internal/data/source"
	"github.com/soma-tiles/spotcoloc/internal/geom"
)

// Region is one cell outline as read from the input.
type Region struct {
	Name     string       `json:"name"`
	Label    string       `json:"label"`
	Vertices []geom.Point `json:"vertices"`
}

// Polygon builds the closed polygon of the region.
func (r Region) Polygon() (geom.Polygon, error) {
	return geom.NewPolygon(r.Vertices)
}

// Result is the outcome of reading one cell file.
type Result struct {
	Regions []Region
	Skipped int // lines that were not "label x y"
}

// RegionName names the i-th region of a file, counting from 0.
func RegionName(src string, i int) string {
	return fmt.Sprintf("%s:cell%d", src, i)
}

// Read parses cell outlines from r. src names the input and prefixes every
// region name. Malformed lines are skipped and counted.
func Read(r io.Reader, src string) (*Result, error) {
	res := &Result{}
	var cur *Region

	flush := func() {
		if cur != nil && len(cur.Vertices) > 0 {
			cur.Name = RegionName(src, len(res.Regions))
			res.Regions = append(res.Regions, *cur)
		}
		cur = nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			res.Skipped++
			continue
		}
		x, errX := parseCoord(fields[1])
		y, errY := parseCoord(fields[2])
		if errX != nil || errY != nil {
			res.Skipped++
			continue
		}

		label := fields[0]
		if cur == nil || cur.Label != label {
			flush()
			cur = &Region{Label: label}
		}
		cur.Vertices = append(cur.Vertices, geom.Point{X: x, Y: y})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cells: %w", err)
	}
	flush()

	return res, nil
}

// ReadFile reads a possibly compressed cell file. Regions are named after
// path.
func ReadFile(path string) (*Result, error) {
	rc, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Read(rc, path)
}

// parseCoord reads an integer coordinate. Fractional input is truncated
// toward zero.
func parseCoord(s string) (float64, error) {
	if v, err := strconv.Atoi(s); err == nil {
		return float64(v), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid coordinate %q", s)
	}
	return math.Trunc(v), nil
}
