package geom

import (
	"math"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

// Polygon is an area in the plane. It may consist of several disjoint parts,
// and each part may have holes. The first ring of each part is its outer boundary.
// A nil or zero-length Polygon is empty.
type Polygon orb.MultiPolygon

// Relative tolerance used when comparing areas that were computed along different paths
const areaTolerance = 1e-9

func (p Polygon) IsEmpty() bool {
	return len(p) == 0 || p.Area() == 0
}

func (p Polygon) Clone() Polygon {
	return Polygon(orb.MultiPolygon(p).Clone())
}

// Bound returns the axis-aligned bounding box of the polygon
func (p Polygon) Bound() Rect {
	if len(p) == 0 {
		return Rect{}
	}
	return rectFromBound(orb.MultiPolygon(p).Bound())
}

func (p Polygon) Area() float64 {
	total := 0.0
	for _, part := range p {
		if len(part) == 0 {
			continue
		}
		total += planar.Area(part)
	}
	return total
}

// AsRect returns the polygon as a rectangle, if it is exactly one axis-aligned rectangle
func (p Polygon) AsRect() (Rect, bool) {
	if len(p) != 1 || len(p[0]) != 1 {
		return Rect{}, false
	}
	ring := p[0][0]
	if len(ring) < 4 {
		return Rect{}, false
	}
	b := ring.Bound()
	for _, pt := range ring {
		if (pt[0] != b.Min[0] && pt[0] != b.Max[0]) || (pt[1] != b.Min[1] && pt[1] != b.Max[1]) {
			return Rect{}, false
		}
	}
	r := rectFromBound(b)
	if math.Abs(planar.Area(ring)) != r.Area() {
		// eg a bow tie drawn through the four corners
		return Rect{}, false
	}
	return r, true
}

// Intersection returns the area shared by p and b
func (p Polygon) Intersection(b Polygon) Polygon {
	if len(p) == 0 || len(b) == 0 {
		return nil
	}
	if !p.Bound().Bound().Intersects(b.Bound().Bound()) {
		return nil
	}
	if r, ok := p.AsRect(); ok {
		return clipToRect(r, b)
	}
	if r, ok := b.AsRect(); ok {
		return clipToRect(r, p)
	}
	return fromContours(toContours(p).Construct(polyclip.INTERSECTION, toContours(b)))
}

// Union returns the area covered by either p or b
func (p Polygon) Union(b Polygon) Polygon {
	if p.IsEmpty() {
		return b.Clone()
	}
	if b.IsEmpty() {
		return p.Clone()
	}
	ra, aIsRect := p.AsRect()
	rb, bIsRect := b.AsRect()
	if aIsRect && bIsRect {
		if ra.Contains(rb) {
			return p.Clone()
		} else if rb.Contains(ra) {
			return b.Clone()
		}
	}
	return fromContours(toContours(p).Construct(polyclip.UNION, toContours(b)))
}

// IOU is the exact polygon Intersection over Union of p and b
func (p Polygon) IOU(b Polygon) float64 {
	intersection := p.Intersection(b).Area()
	if intersection == 0 {
		return 0
	}
	union := p.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Contains returns true if every point of b lies inside p (boundaries may touch)
func (p Polygon) Contains(b Polygon) bool {
	if len(p) == 0 || len(b) == 0 {
		return false
	}
	if !p.Bound().Contains(b.Bound()) {
		return false
	}
	if _, ok := p.AsRect(); ok {
		return true
	}
	bArea := b.Area()
	if bArea == 0 {
		return p.containsAllVertices(b)
	}
	inside := p.Intersection(b).Area()
	return inside >= bArea-areaTolerance*max(1, bArea)
}

// Intersects returns true if p and b share any point, including touching boundaries
func (p Polygon) Intersects(b Polygon) bool {
	if len(p) == 0 || len(b) == 0 {
		return false
	}
	if !p.Bound().Bound().Intersects(b.Bound().Bound()) {
		return false
	}
	if p.Intersection(b).Area() > 0 {
		return true
	}
	return p.containsAnyVertex(b) || b.containsAnyVertex(p)
}

// ContainsPoint returns true if pt is inside p or on its boundary
func (p Polygon) ContainsPoint(pt Point) bool {
	return planar.MultiPolygonContains(orb.MultiPolygon(p), orb.Point{pt.X, pt.Y})
}

func (p Polygon) containsAllVertices(b Polygon) bool {
	for _, part := range b {
		for _, ring := range part {
			for _, pt := range ring {
				if !planar.MultiPolygonContains(orb.MultiPolygon(p), pt) {
					return false
				}
			}
		}
	}
	return true
}

func (p Polygon) containsAnyVertex(b Polygon) bool {
	for _, part := range b {
		for _, ring := range part {
			for _, pt := range ring {
				if planar.MultiPolygonContains(orb.MultiPolygon(p), pt) {
					return true
				}
			}
		}
	}
	return false
}

// UnionAll merges all non-empty polygons into one.
// Returns false if there was nothing to merge.
func UnionAll(polygons []Polygon) (Polygon, bool) {
	var combined Polygon
	found := false
	for _, poly := range polygons {
		if len(poly) == 0 {
			continue
		}
		if !found {
			combined = poly.Clone()
			found = true
		} else {
			combined = combined.Union(poly)
		}
	}
	return combined, found
}

// clip.MultiPolygon uses its input as scratch space, so we give it a copy
func clipToRect(r Rect, p Polygon) Polygon {
	if r.IsEmpty() {
		return nil
	}
	clipped := clip.MultiPolygon(r.Bound(), orb.MultiPolygon(p).Clone())
	var out Polygon
	for _, part := range clipped {
		if len(part) != 0 && planar.Area(part) > 0 {
			out = append(out, part)
		}
	}
	return out
}

func toContours(p Polygon) polyclip.Polygon {
	out := make(polyclip.Polygon, 0, len(p))
	for _, part := range p {
		for _, ring := range part {
			n := len(ring)
			if n > 1 && ring[0] == ring[n-1] {
				n--
			}
			if n < 3 {
				continue
			}
			c := make(polyclip.Contour, 0, n)
			for _, pt := range ring[:n] {
				c = append(c, polyclip.Point{X: pt[0], Y: pt[1]})
			}
			out = append(out, c)
		}
	}
	return out
}

// The clipper returns a flat list of contours. Rebuild the part/hole structure
// from how deeply each contour is nested inside the others.
func fromContours(contours polyclip.Polygon) Polygon {
	rings := make([]orb.Ring, 0, len(contours))
	areas := make([]float64, 0, len(contours))
	for _, c := range contours {
		if len(c) < 3 {
			continue
		}
		ring := make(orb.Ring, 0, len(c)+1)
		for _, pt := range c {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		ring = append(ring, ring[0])
		a := math.Abs(planar.Area(ring))
		if a == 0 {
			continue
		}
		rings = append(rings, ring)
		areas = append(areas, a)
	}

	depth := make([]int, len(rings))
	parent := make([]int, len(rings))
	for i := range rings {
		parent[i] = -1
		for j := range rings {
			if i == j || areas[j] <= areas[i] || !ringInside(rings[i], rings[j]) {
				continue
			}
			depth[i]++
			if parent[i] == -1 || areas[j] < areas[parent[i]] {
				parent[i] = j
			}
		}
	}

	var out Polygon
	partOf := make([]int, len(rings))
	for i := range rings {
		if depth[i]%2 == 0 {
			partOf[i] = len(out)
			out = append(out, orb.Polygon{rings[i]})
		}
	}
	for i := range rings {
		if depth[i]%2 == 1 && parent[i] != -1 {
			k := partOf[parent[i]]
			out[k] = append(out[k], rings[i])
		}
	}
	return out
}

func ringInside(inner, outer orb.Ring) bool {
	for _, pt := range inner {
		if !planar.RingContains(outer, pt) {
			return false
		}
	}
	return true
}
