package nn

import (
	"slices"
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/geom"
)

// MergeOptions control how detections from different tiles are reconciled
type MergeOptions struct {
	// Detections whose polygon IoU exceeds this are duplicates of one another
	IoUThreshold float64

	// Same-class detections whose facing edges are at most this far apart may be adjacent
	MaxAdjacentDistance float64

	// Adjacent detections must overlap on the perpendicular axis by more than
	// this fraction of the smaller of their two extents on that axis.
	MinPerpendicularOverlap float64

	// If true, only detections of the same class can be duplicates of one another.
	// If false, a high-IoU detection of any class is discarded in favour of the best one.
	SameClassOverlap bool
}

func DefaultMergeOptions(iouThreshold float64) MergeOptions {
	return MergeOptions{
		IoUThreshold:            iouThreshold,
		MaxAdjacentDistance:     2.0,
		MinPerpendicularOverlap: 0.8,
		SameClassOverlap:        false,
	}
}

// AreOverlapping returns true if the polygon IoU of a and b exceeds the threshold.
// Shapes that do not intersect at all are never overlapping, even with a threshold of zero.
func (o *MergeOptions) AreOverlapping(a, b *Detection) bool {
	if o.SameClassOverlap && a.Class != b.Class {
		return false
	}
	return a.Geometry.IOU(b.Geometry) > o.IoUThreshold
}

// AreAdjacent returns true if a and b look like a single object that was cut by a tile boundary.
// They must share a class, must not be overlapping, and must be close on one axis while
// largely covering each other on the other axis.
func (o *MergeOptions) AreAdjacent(a, b *Detection) bool {
	if a.Class != b.Class {
		return false
	}
	if o.AreOverlapping(a, b) {
		return false
	}
	ba := a.Bounds()
	bb := b.Bounds()

	if geom.HorizontalGap(ba, bb) <= o.MaxAdjacentDistance &&
		geom.VerticalOverlap(ba, bb) > o.MinPerpendicularOverlap*min(ba.Height, bb.Height) {
		return true
	}
	if geom.VerticalGap(ba, bb) <= o.MaxAdjacentDistance &&
		geom.HorizontalOverlap(ba, bb) > o.MinPerpendicularOverlap*min(ba.Width, bb.Width) {
		return true
	}
	return false
}

// Fuse joins two adjacent detections into one rectangle that covers both.
// The confidence of the result is the area-weighted mean of the two confidences.
// a and b are not modified.
func Fuse(log logs.Log, a, b *Detection) *Detection {
	ba := a.Bounds()
	bb := b.Bounds()
	u := ba.Union(bb)

	areaA := a.Area()
	areaB := b.Area()
	var confidence float32
	if areaA+areaB > 0 {
		confidence = float32((float64(a.Confidence)*areaA + float64(b.Confidence)*areaB) / (areaA + areaB))
	} else {
		confidence = max(a.Confidence, b.Confidence)
	}
	// Keep float32 rounding from escaping [min,max]
	confidence = min(max(confidence, min(a.Confidence, b.Confidence)), max(a.Confidence, b.Confidence))

	if log != nil {
		log.Debugf("Merged objects: [x=%v, y=%v, w=%v, h=%v] + [x=%v, y=%v, w=%v, h=%v] -> [x=%v, y=%v, w=%v, h=%v]",
			ba.X, ba.Y, ba.Width, ba.Height,
			bb.X, bb.Y, bb.Width, bb.Height,
			u.X, u.Y, u.Width, u.Height)
	}

	d := NewDetection(a.Class, confidence, u)
	d.Merged = true
	return d
}

// MergeDetections reconciles the detections of every tile of every parent region.
// Detections are visited in order of descending confidence. Each unvisited detection
// claims all later detections that duplicate it (keeping the most confident of the group),
// and then absorbs every adjacent detection of the same class via Fuse.
// The input slice and its detections are not modified.
func MergeDetections(log logs.Log, all []*Detection, options MergeOptions) []*Detection {
	sorted := slices.Clone(all)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	// Create spatial index to avoid O(N^2) comparisons.
	// Any pair that is overlapping or adjacent has bounding boxes within MaxAdjacentDistance
	// of each other, so a padded search finds every candidate that a full scan would.
	fb := flatbush.NewFlatbush64()
	fb.Reserve(len(sorted))
	for _, d := range sorted {
		b := d.Bounds()
		fb.Add(b.X, b.Y, b.X2(), b.Y2())
	}
	fb.Finish()

	processed := make([]bool, len(sorted))
	merged := make([]*Detection, 0, len(sorted))
	nearby := []int{}
	pad := max(options.MaxAdjacentDistance, 0)

	for i := range sorted {
		if processed[i] {
			continue
		}
		processed[i] = true
		current := sorted[i]

		b := current.Bounds()
		nearby = fb.SearchFast(b.X-pad, b.Y-pad, b.X2()+pad, b.Y2()+pad, nearby[:0])
		// Visit candidates in the same order as a linear scan
		sort.Ints(nearby)

		overlapping := []*Detection{}
		adjacent := []*Detection{}
		for _, j := range nearby {
			if j <= i || processed[j] {
				continue
			}
			other := sorted[j]
			if options.AreOverlapping(current, other) {
				overlapping = append(overlapping, other)
				processed[j] = true
			} else if options.AreAdjacent(current, other) {
				adjacent = append(adjacent, other)
				processed[j] = true
			}
		}

		// True duplicates: keep the best one. Ties keep current.
		best := current
		for _, o := range overlapping {
			if o.Confidence > best.Confidence {
				best = o
			}
		}

		result := best
		for _, adj := range adjacent {
			result = Fuse(log, result, adj)
		}
		merged = append(merged, result)
	}

	return merged
}
