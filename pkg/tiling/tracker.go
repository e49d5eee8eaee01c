package tiling

// Tracker remembers the tiles that have already been sent for inference.
// When several parent regions overlap, their tile grids overlap too, and
// a tile that lies inside an already processed tile would only produce duplicates.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	processed []TileRequest
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// IsRedundant returns true if candidate lies entirely inside a tile that has already been processed
func (t *Tracker) IsRedundant(candidate TileRequest) bool {
	for _, p := range t.processed {
		if p.Contains(candidate) {
			return true
		}
	}
	return false
}

// Add records that a tile has been accepted for inference
func (t *Tracker) Add(tile TileRequest) {
	t.processed = append(t.processed, tile)
}

// Accept adds the tile and returns true, unless it is redundant, in which case it returns false.
func (t *Tracker) Accept(candidate TileRequest) bool {
	if t.IsRedundant(candidate) {
		return false
	}
	t.Add(candidate)
	return true
}

// Number of tiles accepted so far
func (t *Tracker) Len() int {
	return len(t.processed)
}
