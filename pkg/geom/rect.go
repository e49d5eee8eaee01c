package geom

// Package geom holds the planar geometry used by tiled detection.
// Coordinates are full-resolution image pixels, with Y pointing down.

import (
	"github.com/paulmach/orb"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned box, defined by its top-left corner and size
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Make a rectangle from its two corners
func RectFromCorners(x1, y1, x2, y2 float64) Rect {
	return Rect{
		X:      min(x1, x2),
		Y:      min(y1, y2),
		Width:  max(x1, x2) - min(x1, x2),
		Height: max(y1, y2) - min(y1, y2),
	}
}

func (r Rect) X2() float64 {
	return r.X + r.Width
}

func (r Rect) Y2() float64 {
	return r.Y + r.Height
}

func (r Rect) Area() float64 {
	return r.Width * r.Height
}

// Returns true if the rectangle has no area
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X2(), b.X2())
	y2 := min(r.Y2(), b.Y2())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Union returns the smallest rectangle that contains both r and b
func (r Rect) Union(b Rect) Rect {
	x1 := min(r.X, b.X)
	y1 := min(r.Y, b.Y)
	x2 := max(r.X2(), b.X2())
	y2 := max(r.Y2(), b.Y2())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

// Intersection over Union of the two boxes.
// This is the cheap bounding-box metric. For exact shapes use Polygon IOU.
func (r Rect) IOU(b Rect) float64 {
	intersection := r.Intersection(b).Area()
	union := r.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Returns true if b lies entirely inside r (edges may touch)
func (r Rect) Contains(b Rect) bool {
	return b.X >= r.X && b.Y >= r.Y && b.X2() <= r.X2() && b.Y2() <= r.Y2()
}

func (r Rect) Center() Point {
	return Point{
		X: r.X + r.Width/2,
		Y: r.Y + r.Height/2,
	}
}

func (r Rect) Offset(dx, dy float64) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// Scale multiplies the origin and the size by s
func (r Rect) Scale(s float64) Rect {
	return Rect{
		X:      r.X * s,
		Y:      r.Y * s,
		Width:  r.Width * s,
		Height: r.Height * s,
	}
}

func (r Rect) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.X, r.Y},
		Max: orb.Point{r.X2(), r.Y2()},
	}
}

func rectFromBound(b orb.Bound) Rect {
	return RectFromCorners(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}

// Polygon returns the rectangle as a closed, single-ring polygon
func (r Rect) Polygon() Polygon {
	ring := orb.Ring{
		{r.X, r.Y},
		{r.X2(), r.Y},
		{r.X2(), r.Y2()},
		{r.X, r.Y2()},
		{r.X, r.Y},
	}
	return Polygon{orb.Polygon{ring}}
}
