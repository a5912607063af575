package geom

// LineEq is the line through two points.
type LineEq struct {
	x1, y1 float64
	x2, y2 float64
}

// NewLineEq returns the line through (x1, y1) and (x2, y2).
func NewLineEq(x1, y1, x2, y2 float64) LineEq {
	return LineEq{x1: x1, y1: y1, x2: x2, y2: y2}
}

// Vertical reports whether the line has no x extent.
func (l LineEq) Vertical() bool { return l.x1 == l.x2 }

// Horizontal reports whether the line has no y extent.
func (l LineEq) Horizontal() bool { return l.y1 == l.y2 }

// X returns the x coordinate at height y. For a vertical line this is x1 for
// every y. A horizontal line has no single x at any height; X then returns x1
// and ok is false.
func (l LineEq) X(y float64) (x float64, ok bool) {
	if l.Vertical() {
		return l.x1, true
	}
	if l.Horizontal() {
		return l.x1, false
	}
	return l.x1 + (y-l.y1)*(l.x2-l.x1)/(l.y2-l.y1), true
}

// Y returns the y coordinate at abscissa x. For a horizontal line this is y1
// for every x. A vertical line has no single y; Y then returns y1 and ok is
// false.
func (l LineEq) Y(x float64) (y float64, ok bool) {
	if l.Horizontal() {
		return l.y1, true
	}
	if l.Vertical() {
		return l.y1, false
	}
	return l.y1 + (x-l.x1)*(l.y2-l.y1)/(l.x2-l.x1), true
}
