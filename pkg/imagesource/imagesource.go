package imagesource

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/cyclopcam/tiledetect/pkg/tiling"
	"github.com/disintegration/imaging"
)

// Server provides pixel access to one source image.
// An image server may hold several resolution levels. Level 0 is full resolution.
type Server interface {
	Path() string
	Width() int
	Height() int

	// Downsample of the given resolution level, relative to full resolution
	DownsampleForResolution(level int) float64

	// ReadRegion returns exactly the requested rectangle, which is in full resolution coordinates.
	// If req.Downsample is greater than 1, the returned image is smaller by that factor.
	ReadRegion(ctx context.Context, req tiling.TileRequest) (image.Image, error)
}

// Image is a Server on top of a decoded image that is held in memory.
// Each power of 2 below full resolution is a resolution level.
type Image struct {
	path string
	img  image.Image
}

// Wrap an image that is already in memory. path identifies the image in tile requests.
func NewImage(path string, img image.Image) *Image {
	return &Image{
		path: path,
		img:  img,
	}
}

func (m *Image) Path() string {
	return m.path
}

func (m *Image) Width() int {
	return m.img.Bounds().Dx()
}

func (m *Image) Height() int {
	return m.img.Bounds().Dy()
}

func (m *Image) DownsampleForResolution(level int) float64 {
	return math.Pow(2, float64(max(level, 0)))
}

func (m *Image) ReadRegion(ctx context.Context, req tiling.TileRequest) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Path != m.path {
		return nil, fmt.Errorf("Tile %v is not from image '%v'", req, m.path)
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("Tile %v is empty", req)
	}
	bounds := m.img.Bounds()
	r := image.Rect(req.X, req.Y, req.X+req.Width, req.Y+req.Height).Add(bounds.Min)
	if !r.In(bounds) {
		return nil, fmt.Errorf("Tile %v is outside of the %vx%v image", req, bounds.Dx(), bounds.Dy())
	}
	tile := imaging.Crop(m.img, r)
	if req.Downsample > 1 {
		w := max(1, int(math.Round(float64(req.Width)/req.Downsample)))
		h := max(1, int(math.Round(float64(req.Height)/req.Downsample)))
		tile = imaging.Resize(tile, w, h, imaging.Box)
	}
	return tile, nil
}

// ResizeSquare stretches a tile to size x size pixels, which is what the model expects.
// Edge tiles are not square, so their aspect ratio changes.
func ResizeSquare(tile image.Image, size int) image.Image {
	b := tile.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return tile
	}
	return imaging.Resize(tile, size, size, imaging.Linear)
}
