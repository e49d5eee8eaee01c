package hierarchy

import (
	"fmt"

	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/pkg/nn"
)

// ParentChildren is the new set of children for one parent
type ParentChildren struct {
	Parent   *Region
	Children []*nn.Detection
}

// Assignment is the outcome of assigning merged detections to their parents
type Assignment struct {
	Detections []*nn.Detection  // Every assigned detection, exactly once, in order of first assignment
	PerParent  []ParentChildren // One entry per parent, in the order of the parents
	Dropped    int              // Detections that were not fully inside the combined ROI
}

// Assign attaches every merged detection that lies fully inside 'combined' to each parent
// whose ROI it intersects. A detection that straddles two overlapping parents becomes a child
// of both, but appears only once in Detections.
func Assign(merged []*nn.Detection, parents []*Region, combined geom.Polygon) *Assignment {
	inside := make([]*nn.Detection, 0, len(merged))
	for _, d := range merged {
		if combined.Contains(d.Geometry) {
			inside = append(inside, d)
		}
	}

	a := &Assignment{
		Detections: make([]*nn.Detection, 0, len(inside)),
		PerParent:  make([]ParentChildren, 0, len(parents)),
		Dropped:    len(merged) - len(inside),
	}
	seen := map[*nn.Detection]bool{}
	for _, p := range parents {
		children := []*nn.Detection{}
		for _, d := range inside {
			if d.Geometry.Intersects(p.ROI) {
				children = append(children, d)
				if !seen[d] {
					seen[d] = true
					a.Detections = append(a.Detections, d)
				}
			}
		}
		a.PerParent = append(a.PerParent, ParentChildren{Parent: p, Children: children})
	}
	return a
}

// Commit replaces the children of every parent in the assignment, and then notifies
// the hierarchy once.
func Commit(h Hierarchy, a *Assignment, source any) error {
	for _, pc := range a.PerParent {
		if err := h.ClearChildren(pc.Parent); err != nil {
			return fmt.Errorf("Failed to clear children of region %v: %w", pc.Parent.ID, err)
		}
		if err := h.AddChildren(pc.Parent, pc.Children); err != nil {
			return fmt.Errorf("Failed to add children to region %v: %w", pc.Parent.ID, err)
		}
	}
	h.NotifyHierarchyChanged(source)
	return nil
}
