package hierarchy

import (
	"errors"

	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/pkg/nn"
)

var ErrNoROI = errors.New("No valid ROIs in parent regions")
var ErrNilROI = errors.New("Parent region ROI cannot be nil")

// Region is a parent region of an image, inside which we detect objects.
// Detections are attached to it as children.
type Region struct {
	ID   int64        `json:"id"`
	Name string       `json:"name"`
	ROI  geom.Polygon `json:"roi"` // nil if the region has no geometry
}

// Hierarchy owns the parent regions of one image, and their children.
type Hierarchy interface {
	// Root returns the region that covers the whole image
	Root() (*Region, error)

	// Remove every child of the region
	ClearChildren(parent *Region) error

	// Attach children to the region. The same detection may be attached to several regions.
	AddChildren(parent *Region, children []*nn.Detection) error

	// Called once after a batch of child updates
	NotifyHierarchyChanged(source any)
}

// CombinedROI returns the union of the ROIs of all parents that have one.
// Returns ErrNoROI if no parent has an ROI.
func CombinedROI(parents []*Region) (geom.Polygon, error) {
	rois := make([]geom.Polygon, 0, len(parents))
	for _, p := range parents {
		if p != nil && p.ROI != nil {
			rois = append(rois, p.ROI)
		}
	}
	combined, ok := geom.UnionAll(rois)
	if !ok {
		return nil, ErrNoROI
	}
	return combined, nil
}

// ValidateParents checks that every parent can be tiled, and returns their combined ROI.
// No parents at all, or parents without any ROI, is ErrNoROI.
// Any individual parent without an ROI is ErrNilROI.
func ValidateParents(parents []*Region) (geom.Polygon, error) {
	combined, err := CombinedROI(parents)
	if err != nil {
		return nil, err
	}
	for _, p := range parents {
		if p == nil || p.ROI == nil {
			return nil, ErrNilROI
		}
	}
	return combined, nil
}
