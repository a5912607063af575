package geom

import (
	"errors"
	"math"
	"slices"
)

// ErrInvalidExtent is returned when an edge map is requested with a
// non-positive number of scanlines.
var ErrInvalidExtent = errors.New("edge map extent must be positive")

// EdgeMap records, for every integer scanline of a polygon, the x positions
// where the boundary crosses it. Membership queries then cost one pass over a
// single scanline's crossings.
//
// Each non-horizontal edge is taken as closed-open in y: it crosses every
// scanline in [min(y0,y1), max(y0,y1)), so a vertex shared by two edges is
// counted once. A horizontal edge adds both of its endpoint x values to its
// scanline. Crossings on scanlines outside [0, ymax) are dropped.
//
// An EdgeMap is immutable once built and safe for concurrent use.
type EdgeMap struct {
	ymax      int
	scanlines [][]int
}

// NewEdgeMap builds the edge map of poly over scanlines [0, ymax).
// Vertex coordinates are rounded to the nearest integer first.
func NewEdgeMap(poly Polygon, ymax int) (*EdgeMap, error) {
	if ymax <= 0 {
		return nil, ErrInvalidExtent
	}
	if poly.NumEdges() < 3 {
		return nil, ErrTooFewVertices
	}

	m := &EdgeMap{
		ymax:      ymax,
		scanlines: make([][]int, ymax),
	}
	for i := 0; i < poly.NumEdges(); i++ {
		m.addEdge(poly.Edge(i))
	}
	for _, xs := range m.scanlines {
		slices.Sort(xs)
	}
	return m, nil
}

func (m *EdgeMap) addEdge(start, finish Point) {
	x0, y0 := start.Round()
	x1, y1 := finish.Round()

	if y0 == y1 {
		m.add(y0, x0)
		m.add(y0, x1)
		return
	}

	// Interpolate bottom-up so both traversal directions round identically.
	if y0 > y1 {
		x0, y0, x1, y1 = x1, y1, x0, y0
	}
	line := NewLineEq(float64(x0), float64(y0), float64(x1), float64(y1))
	lo := max(y0, 0)
	hi := min(y1, m.ymax)
	for y := lo; y < hi; y++ {
		x, _ := line.X(float64(y))
		m.add(y, int(math.Round(x)))
	}
}

func (m *EdgeMap) add(y, x int) {
	if y < 0 || y >= m.ymax {
		return
	}
	m.scanlines[y] = append(m.scanlines[y], x)
}

// YMax returns the number of scanlines covered by the map.
func (m *EdgeMap) YMax() int {
	return m.ymax
}

// Crossings returns a copy of the sorted crossings of scanline y, or nil when
// y is outside the map.
func (m *EdgeMap) Crossings(y int) []int {
	if y < 0 || y >= m.ymax {
		return nil
	}
	return slices.Clone(m.scanlines[y])
}

// Contains reports whether (x, y) lies inside the polygon. Both coordinates
// are rounded to the nearest integer. Queries outside [0, ymax) in y, or on a
// scanline the polygon does not cross, return false.
//
// Membership follows the even-odd rule: walking the scanline's crossings left
// to right, every crossing at or left of x toggles the result. A point lying
// exactly on a crossing is therefore on the far side of that crossing.
func (m *EdgeMap) Contains(x, y float64) bool {
	qx, qy := Point{X: x, Y: y}.Round()
	if qy < 0 || qy >= m.ymax {
		return false
	}
	return parity(m.scanlines[qy], qx)
}

func parity(crossings []int, x int) bool {
	inside := false
	for _, c := range crossings {
		if c > x {
			break
		}
		inside = !inside
	}
	return inside
}
