package imagesource

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/tiling"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// Each pixel encodes its own coordinates, so that we can verify crops
func makeGradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func TestReadRegion(t *testing.T) {
	src := NewImage("grad", makeGradient(200, 100))
	require.Equal(t, 200, src.Width())
	require.Equal(t, 100, src.Height())
	require.Equal(t, 1.0, src.DownsampleForResolution(0))
	require.Equal(t, 4.0, src.DownsampleForResolution(2))

	ctx := context.Background()
	tile, err := src.ReadRegion(ctx, tiling.TileRequest{Path: "grad", Downsample: 1, X: 30, Y: 40, Width: 50, Height: 20})
	require.NoError(t, err)
	require.Equal(t, 50, tile.Bounds().Dx())
	require.Equal(t, 20, tile.Bounds().Dy())
	r, g, _, _ := tile.At(tile.Bounds().Min.X, tile.Bounds().Min.Y).RGBA()
	require.Equal(t, uint32(30), r>>8)
	require.Equal(t, uint32(40), g>>8)

	half, err := src.ReadRegion(ctx, tiling.TileRequest{Path: "grad", Downsample: 2, X: 0, Y: 0, Width: 64, Height: 32})
	require.NoError(t, err)
	require.Equal(t, 32, half.Bounds().Dx())
	require.Equal(t, 16, half.Bounds().Dy())
}

func TestReadRegionErrors(t *testing.T) {
	src := NewImage("grad", makeGradient(100, 100))
	ctx := context.Background()

	_, err := src.ReadRegion(ctx, tiling.TileRequest{Path: "grad", Downsample: 1, X: 90, Y: 0, Width: 20, Height: 10})
	require.ErrorContains(t, err, "outside")

	_, err = src.ReadRegion(ctx, tiling.TileRequest{Path: "other", Downsample: 1, Width: 10, Height: 10})
	require.Error(t, err)

	_, err = src.ReadRegion(ctx, tiling.TileRequest{Path: "grad", Downsample: 1, Width: 0, Height: 10})
	require.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = src.ReadRegion(cancelled, tiling.TileRequest{Path: "grad", Downsample: 1, Width: 10, Height: 10})
	require.ErrorIs(t, err, context.Canceled)
}

func TestResizeSquare(t *testing.T) {
	tile := makeGradient(30, 17)
	sq := ResizeSquare(tile, 64)
	require.Equal(t, image.Rect(0, 0, 64, 64), sq.Bounds())

	same := makeGradient(64, 64)
	require.Same(t, same, ResizeSquare(same, 64).(*image.NRGBA))
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	log := logs.NewTestingLog(t)
	src := makeGradient(120, 90)

	pngFile := filepath.Join(dir, "a.png")
	require.NoError(t, imaging.Save(src, pngFile))
	img, err := OpenFile(log, pngFile)
	require.NoError(t, err)
	require.Equal(t, 120, img.Width())
	require.Equal(t, 90, img.Height())
	require.Equal(t, pngFile, img.Path())

	jpgFile := filepath.Join(dir, "a.jpg")
	require.NoError(t, imaging.Save(src, jpgFile, imaging.JPEGQuality(95)))
	img, err = OpenFile(log, jpgFile)
	require.NoError(t, err)
	require.Equal(t, 120, img.Width())
	require.Equal(t, 90, img.Height())

	_, err = OpenFile(log, filepath.Join(dir, "missing.png"))
	require.Error(t, err)
}

func TestCache(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "a.png")
	require.NoError(t, imaging.Save(makeGradient(10, 10), fn))

	c := NewCache(logs.NewTestingLog(t))
	a, err := c.Open(fn)
	require.NoError(t, err)
	b, err := c.Open(fn)
	require.NoError(t, err)
	require.Same(t, a, b)

	c.Evict(fn)
	d, err := c.Open(fn)
	require.NoError(t, err)
	require.NotSame(t, a, d)
}
