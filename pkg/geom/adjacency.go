package geom

// HorizontalGap is the distance between the facing vertical edges of a and b.
// It is zero when their X extents overlap or touch.
func HorizontalGap(a, b Rect) float64 {
	return max(0, max(a.X-b.X2(), b.X-a.X2()))
}

// VerticalGap is the distance between the facing horizontal edges of a and b.
// It is zero when their Y extents overlap or touch.
func VerticalGap(a, b Rect) float64 {
	return max(0, max(a.Y-b.Y2(), b.Y-a.Y2()))
}

// HorizontalOverlap is the length over which the X extents of a and b overlap.
// Negative values are the size of the gap.
func HorizontalOverlap(a, b Rect) float64 {
	return min(a.X2(), b.X2()) - max(a.X, b.X)
}

// VerticalOverlap is the length over which the Y extents of a and b overlap.
// Negative values are the size of the gap.
func VerticalOverlap(a, b Rect) float64 {
	return min(a.Y2(), b.Y2()) - max(a.Y, b.Y)
}
