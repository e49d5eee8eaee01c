package tiling

import (
	"fmt"
	"math"
)

// TileRequest identifies one rectangle of the source image that we read and run inference on.
// X, Y, Width and Height are in full resolution pixels.
type TileRequest struct {
	Path       string  `json:"path"`
	Downsample float64 `json:"downsample"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

func (t TileRequest) String() string {
	return fmt.Sprintf("%v@%v [%v,%v %vx%v]", t.Path, t.Downsample, t.X, t.Y, t.Width, t.Height)
}

// Returns true if other lies entirely inside t, and both come from the same image at the same downsample
func (t TileRequest) Contains(other TileRequest) bool {
	return t.Path == other.Path &&
		t.Downsample == other.Downsample &&
		other.X >= t.X &&
		other.Y >= t.Y &&
		other.X+other.Width <= t.X+t.Width &&
		other.Y+other.Height <= t.Y+t.Height
}

// Stride is the distance between the origins of neighbouring tiles.
// An overlap of 1 would never advance, so the stride is never less than 1.
func Stride(inputSize int, overlapFraction float64) int {
	return max(1, int(math.Floor(float64(inputSize)*(1-overlapFraction))))
}

// MakeTiles covers the rectangle (x, y, width, height) with tiles of at most inputSize pixels.
// Tiles are emitted column by column: the outer loop walks X, the inner loop walks Y.
// Tiles on the right and bottom edges are clipped to the rectangle, so they may be smaller than inputSize.
func MakeTiles(path string, downsample float64, x, y, width, height, inputSize int, overlapFraction float64) []TileRequest {
	if width <= 0 || height <= 0 || inputSize <= 0 {
		return nil
	}
	stride := Stride(inputSize, overlapFraction)
	nx := (width + stride - 1) / stride
	ny := (height + stride - 1) / stride
	tiles := make([]TileRequest, 0, nx*ny)
	for tileX := x; tileX < x+width; tileX += stride {
		for tileY := y; tileY < y+height; tileY += stride {
			tiles = append(tiles, TileRequest{
				Path:       path,
				Downsample: downsample,
				X:          tileX,
				Y:          tileY,
				Width:      min(inputSize, x+width-tileX),
				Height:     min(inputSize, y+height-tileY),
			})
		}
	}
	return tiles
}
