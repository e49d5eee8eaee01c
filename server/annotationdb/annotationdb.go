package annotationdb

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/pkg/hierarchy"
	"github.com/cyclopcam/tiledetect/pkg/nn"
	"gorm.io/gorm"
)

// Name of the root region of every image
const RootName = "root"

var ErrNotFound = errors.New("Region not found")

// AnnotationDB stores the region hierarchy of every image that we have run detection on.
// Parent regions and detected objects live in the same table, linked by parent_id.
type AnnotationDB struct {
	log     logs.Log
	db      *gorm.DB
	changes atomic.Int64
}

// Open or create an annotation DB
func Open(log logs.Log, filename string) (*AnnotationDB, error) {
	log = logs.NewPrefixLogger(log, "AnnotationDB:")
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(filename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", filename, err)
	}
	return &AnnotationDB{
		log: log,
		db:  db,
	}, nil
}

func (a *AnnotationDB) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Number of times that any image's hierarchy has been changed by a detection run
func (a *AnnotationDB) ChangeCount() int64 {
	return a.changes.Load()
}

// CreateRegion adds a new parent region to an image, as a child of the image's root
func (a *AnnotationDB) CreateRegion(image, name string, roi geom.Polygon) (*Region, error) {
	if roi == nil {
		return nil, hierarchy.ErrNilROI
	}
	root, err := a.findOrCreateRoot(image, nil)
	if err != nil {
		return nil, err
	}
	r := &Region{
		ParentID:  root.ID,
		Image:     image,
		Name:      name,
		ROI:       makeROI(roi),
		CreatedAt: dbh.MakeIntTime(time.Now()),
	}
	if err := a.db.Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

func (a *AnnotationDB) GetRegion(id int64) (*Region, error) {
	r := Region{}
	err := a.db.First(&r, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &r, nil
}

// Regions returns the parent regions of an image, in the order that they were created.
// The root region is excluded. Detected objects are excluded.
func (a *AnnotationDB) Regions(image string) ([]Region, error) {
	regions := []Region{}
	err := a.db.Where("image = ? AND parent_id <> 0 AND class = ''", image).Order("id").Find(&regions).Error
	return regions, err
}

// Children returns the immediate children of a region, in insertion order
func (a *AnnotationDB) Children(parentID int64) ([]Region, error) {
	children := []Region{}
	err := a.db.Where("parent_id = ?", parentID).Order("id").Find(&children).Error
	return children, err
}

// Hierarchy returns the region hierarchy of a single image, for use by the detector
func (a *AnnotationDB) Hierarchy(image string, width, height int) *ImageHierarchy {
	return &ImageHierarchy{
		db:     a,
		image:  image,
		width:  width,
		height: height,
	}
}

// If fullImage is nil and there is no root, then the root is created without an ROI
func (a *AnnotationDB) findOrCreateRoot(image string, fullImage geom.Polygon) (*Region, error) {
	root := Region{}
	err := a.db.Where("image = ? AND parent_id = 0", image).First(&root).Error
	if err == nil {
		if root.ROI == nil && fullImage != nil {
			root.ROI = makeROI(fullImage)
			if err := a.db.Save(&root).Error; err != nil {
				return nil, err
			}
		}
		return &root, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	root = Region{
		Image:     image,
		Name:      RootName,
		ROI:       makeROI(fullImage),
		CreatedAt: dbh.MakeIntTime(time.Now()),
	}
	if err := a.db.Create(&root).Error; err != nil {
		return nil, err
	}
	a.log.Infof("Created root region %v for %v", root.ID, image)
	return &root, nil
}

// ImageHierarchy is the hierarchy.Hierarchy of one image, backed by the database
type ImageHierarchy struct {
	db     *AnnotationDB
	image  string
	width  int
	height int
}

// Root returns the root region, whose ROI covers the whole image
func (h *ImageHierarchy) Root() (*hierarchy.Region, error) {
	full := geom.Rect{Width: float64(h.width), Height: float64(h.height)}.Polygon()
	root, err := h.db.findOrCreateRoot(h.image, full)
	if err != nil {
		return nil, err
	}
	return root.HierarchyRegion(), nil
}

// ClearChildren deletes the detected objects under a region.
// User-drawn regions under the root are preserved.
func (h *ImageHierarchy) ClearChildren(parent *hierarchy.Region) error {
	return h.db.db.Where("parent_id = ? AND class <> ''", parent.ID).Delete(&Region{}).Error
}

func (h *ImageHierarchy) AddChildren(parent *hierarchy.Region, children []*nn.Detection) error {
	if len(children) == 0 {
		return nil
	}
	now := dbh.MakeIntTime(time.Now())
	return h.db.db.Transaction(func(tx *gorm.DB) error {
		for _, c := range children {
			r := &Region{
				ParentID:   parent.ID,
				Image:      h.image,
				Class:      c.Class,
				Confidence: c.Confidence,
				Merged:     c.Merged,
				ROI:        makeROI(c.Geometry),
				CreatedAt:  now,
			}
			if err := tx.Create(r).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *ImageHierarchy) NotifyHierarchyChanged(source any) {
	n := h.db.changes.Add(1)
	h.db.log.Infof("Hierarchy of %v changed (change %v)", h.image, n)
}
