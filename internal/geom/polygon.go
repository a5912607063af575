// Package geom provides the planar geometry used to decide which spots fall
// inside a cell outline: closed polygons, line equations and scanline edge maps.
package geom

import (
	"errors"
	"math"
)

// ErrTooFewVertices is returned when a polygon has fewer than three vertices.
var ErrTooFewVertices = errors.New("polygon needs at least 3 vertices")

// Point is a position in image coordinates.
type Point struct {
	X float64
	Y float64
}

// Round returns p with both coordinates rounded to the nearest integer,
// halves away from zero.
func (p Point) Round() (int, int) {
	return int(math.Round(p.X)), int(math.Round(p.Y))
}

// Rect is an integer bounding box. Max is inclusive.
type Rect struct {
	MinX, MinY int
	MaxX, MaxY int
}

// Contains reports whether (x, y) lies within the box, edges included.
func (r Rect) Contains(x, y int) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// Polygon is a closed vertex loop. The last vertex always equals the first.
type Polygon struct {
	vertices []Point
}

// NewPolygon builds a polygon from an ordered vertex list, appending a copy of
// the first vertex when the loop is not already closed. The input slice is
// not retained.
func NewPolygon(points []Point) (Polygon, error) {
	if len(points) < 3 {
		return Polygon{}, ErrTooFewVertices
	}

	vertices := make([]Point, len(points), len(points)+1)
	copy(vertices, points)
	if first, last := vertices[0], vertices[len(vertices)-1]; first != last {
		vertices = append(vertices, first)
	}
	return Polygon{vertices: vertices}, nil
}

// Vertices returns a copy of the closed vertex loop.
func (p Polygon) Vertices() []Point {
	out := make([]Point, len(p.vertices))
	copy(out, p.vertices)
	return out
}

// NumEdges returns the number of boundary edges, closing edge included.
func (p Polygon) NumEdges() int {
	if len(p.vertices) < 2 {
		return 0
	}
	return len(p.vertices) - 1
}

// Edge returns the i-th boundary edge as its start and end vertices.
func (p Polygon) Edge(i int) (Point, Point) {
	return p.vertices[i], p.vertices[i+1]
}

// Bounds returns the integer bounding box of the vertices.
func (p Polygon) Bounds() Rect {
	if len(p.vertices) == 0 {
		return Rect{}
	}
	x, y := p.vertices[0].Round()
	r := Rect{MinX: x, MinY: y, MaxX: x, MaxY: y}
	for _, v := range p.vertices[1:] {
		x, y := v.Round()
		r.MinX = min(r.MinX, x)
		r.MinY = min(r.MinY, y)
		r.MaxX = max(r.MaxX, x)
		r.MaxY = max(r.MaxY, y)
	}
	return r
}
