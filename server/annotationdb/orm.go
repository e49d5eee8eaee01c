package annotationdb

import (
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/pkg/hierarchy"
	"github.com/cyclopcam/tiledetect/pkg/nn"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Region is a node in the region tree of an image.
// The root of each image has ParentID = 0. Detected objects have a non-empty Class.
type Region struct {
	BaseModel
	ParentID   int64                        `json:"parentID"`
	Image      string                       `json:"image"`
	Name       string                       `json:"name"`
	Class      string                       `json:"class"`
	Confidence float32                      `json:"confidence"` // "Class probability"
	Merged     bool                         `json:"merged"`
	ROI        *dbh.JSONField[geom.Polygon] `gorm:"column:roi" json:"roi"`
	CreatedAt  dbh.IntTime                  `json:"createdAt"`
}

// Polygon returns the ROI, or nil if the region has none
func (r *Region) Polygon() geom.Polygon {
	if r.ROI == nil {
		return nil
	}
	return r.ROI.Data
}

// HierarchyRegion converts the record into a parent region for detection
func (r *Region) HierarchyRegion() *hierarchy.Region {
	return &hierarchy.Region{
		ID:   r.ID,
		Name: r.Name,
		ROI:  r.Polygon(),
	}
}

// Detection converts a child record back into a detection
func (r *Region) Detection() *nn.Detection {
	return &nn.Detection{
		Class:      r.Class,
		Confidence: r.Confidence,
		Geometry:   r.Polygon(),
		Merged:     r.Merged,
	}
}

func makeROI(p geom.Polygon) *dbh.JSONField[geom.Polygon] {
	if p == nil {
		return nil
	}
	f := dbh.MakeJSONField(p)
	return &f
}
