package hierarchy

import (
	"sync"

	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/pkg/idgen"
	"github.com/cyclopcam/tiledetect/pkg/nn"
)

// Memory is a Hierarchy that lives only in memory.
// It counts every mutation, which makes it useful for verifying that a detection
// did or did not touch the hierarchy.
type Memory struct {
	lock     sync.Mutex
	ids      idgen.Int64
	root     *Region
	regions  map[int64]*Region
	children map[int64][]*nn.Detection

	NumClears        int
	NumAdds          int
	NumNotifications int
	LastSource       any
}

// Create a hierarchy whose root region covers an image of the given size
func NewMemory(imageWidth, imageHeight int) *Memory {
	m := &Memory{
		regions:  map[int64]*Region{},
		children: map[int64][]*nn.Detection{},
	}
	m.root = m.AddRegion("root", geom.Rect{Width: float64(imageWidth), Height: float64(imageHeight)}.Polygon())
	return m
}

// Add a parent region. roi may be nil.
func (m *Memory) AddRegion(name string, roi geom.Polygon) *Region {
	m.lock.Lock()
	defer m.lock.Unlock()
	r := &Region{
		ID:   m.ids.Next(),
		Name: name,
		ROI:  roi,
	}
	m.regions[r.ID] = r
	return r
}

func (m *Memory) Region(id int64) *Region {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.regions[id]
}

// Children returns a copy of the children of the region
func (m *Memory) Children(parent *Region) []*nn.Detection {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]*nn.Detection{}, m.children[parent.ID]...)
}

func (m *Memory) Root() (*Region, error) {
	return m.root, nil
}

func (m *Memory) ClearChildren(parent *Region) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.NumClears++
	delete(m.children, parent.ID)
	return nil
}

func (m *Memory) AddChildren(parent *Region, children []*nn.Detection) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.NumAdds++
	m.children[parent.ID] = append(m.children[parent.ID], children...)
	return nil
}

func (m *Memory) NotifyHierarchyChanged(source any) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.NumNotifications++
	m.LastSource = source
}

// Returns true if the hierarchy has never been modified
func (m *Memory) Untouched() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.NumClears == 0 && m.NumAdds == 0 && m.NumNotifications == 0
}
