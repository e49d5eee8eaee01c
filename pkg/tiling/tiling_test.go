package tiling

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStride(t *testing.T) {
	require.Equal(t, 640, Stride(640, 0))
	require.Equal(t, 480, Stride(640, 0.25))
	require.Equal(t, 576, Stride(640, 0.1))
	require.Equal(t, 1, Stride(640, 1))
	require.Equal(t, 1, Stride(1, 0.5))
	for i := 0; i < 100; i++ {
		require.GreaterOrEqual(t, Stride(7, float64(i)/100), 1)
	}
}

func TestMakeTilesOrderAndClipping(t *testing.T) {
	tiles := MakeTiles("img.jpg", 1, 100, 200, 250, 150, 100, 0)
	// 3 columns (100,200,300) x 2 rows (200,300)
	require.Len(t, tiles, 6)
	expect := []TileRequest{
		{X: 100, Y: 200, Width: 100, Height: 100},
		{X: 100, Y: 300, Width: 100, Height: 50},
		{X: 200, Y: 200, Width: 100, Height: 100},
		{X: 200, Y: 300, Width: 100, Height: 50},
		{X: 300, Y: 200, Width: 50, Height: 100},
		{X: 300, Y: 300, Width: 50, Height: 50},
	}
	for i, e := range expect {
		e.Path = "img.jpg"
		e.Downsample = 1
		require.Equal(t, e, tiles[i], "tile %v", i)
	}
}

func TestMakeTilesCoverage(t *testing.T) {
	check := func(x, y, w, h, inputSize int, overlap float64) {
		tiles := MakeTiles("a", 1, x, y, w, h, inputSize, overlap)
		require.NotEmpty(t, tiles)
		covered := make([]bool, w*h)
		for _, tile := range tiles {
			require.LessOrEqual(t, tile.Width, inputSize)
			require.LessOrEqual(t, tile.Height, inputSize)
			require.Greater(t, tile.Width, 0)
			require.Greater(t, tile.Height, 0)
			require.LessOrEqual(t, tile.X+tile.Width, x+w)
			require.LessOrEqual(t, tile.Y+tile.Height, y+h)
			for py := tile.Y; py < tile.Y+tile.Height; py++ {
				for px := tile.X; px < tile.X+tile.Width; px++ {
					covered[(py-y)*w+(px-x)] = true
				}
			}
		}
		for i, c := range covered {
			require.True(t, c, "pixel %v,%v not covered", x+i%w, y+i/w)
		}
	}
	check(0, 0, 100, 100, 32, 0)
	check(5, 7, 100, 61, 32, 0.25)
	check(0, 0, 50, 50, 64, 0.5)
	check(3, 3, 17, 9, 4, 0.9)
}

func TestMakeTilesDeterministic(t *testing.T) {
	a := MakeTiles("a", 2, 0, 0, 1000, 700, 256, 0.2)
	b := MakeTiles("a", 2, 0, 0, 1000, 700, 256, 0.2)
	require.Equal(t, a, b)
}

func TestMakeTilesEmpty(t *testing.T) {
	require.Empty(t, MakeTiles("a", 1, 0, 0, 0, 10, 64, 0))
	require.Empty(t, MakeTiles("a", 1, 0, 0, 10, 10, 0, 0))
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	big := TileRequest{Path: "a", Downsample: 1, X: 0, Y: 0, Width: 100, Height: 100}
	require.True(t, tr.Accept(big))
	require.Equal(t, 1, tr.Len())

	inside := TileRequest{Path: "a", Downsample: 1, X: 10, Y: 10, Width: 90, Height: 90}
	require.True(t, tr.IsRedundant(inside))
	require.False(t, tr.Accept(inside))
	require.True(t, tr.IsRedundant(big))

	straddle := TileRequest{Path: "a", Downsample: 1, X: 50, Y: 50, Width: 100, Height: 10}
	require.False(t, tr.IsRedundant(straddle))

	otherImage := inside
	otherImage.Path = "b"
	require.False(t, tr.IsRedundant(otherImage))

	otherDownsample := inside
	otherDownsample.Downsample = 2
	require.False(t, tr.IsRedundant(otherDownsample))

	require.True(t, tr.Accept(straddle))
	require.Equal(t, 2, tr.Len())
}
