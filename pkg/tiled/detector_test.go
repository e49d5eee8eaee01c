package tiled

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/pkg/hierarchy"
	"github.com/cyclopcam/tiledetect/pkg/imagesource"
	"github.com/cyclopcam/tiledetect/pkg/nn"
	"github.com/stretchr/testify/require"
)

// blobModel reports the bounding box of all bright pixels in a tile as a single "blob"
type blobModel struct {
	lock        sync.Mutex
	opened      int
	closed      int
	predictions int
	modelClosed int
	failAt      int   // Fail the Nth prediction (1-based). 0 = never fail.
	closeErr    error // Returned by predictor Close
	onPredict   func(n int)
	confidence  float32
}

type blobPredictor struct {
	m *blobModel
}

func newBlobModel() *blobModel {
	return &blobModel{confidence: 0.9}
}

func (m *blobModel) NewPredictor() (nn.Predictor, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.opened++
	return &blobPredictor{m: m}, nil
}

func (m *blobModel) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.modelClosed++
	return nil
}

func (m *blobModel) balanced() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.opened == m.closed
}

func (p *blobPredictor) Close() error {
	p.m.lock.Lock()
	defer p.m.lock.Unlock()
	p.m.closed++
	return p.m.closeErr
}

func (p *blobPredictor) Predict(ctx context.Context, tile image.Image) ([]nn.RawDetection, error) {
	p.m.lock.Lock()
	p.m.predictions++
	n := p.m.predictions
	failAt := p.m.failAt
	onPredict := p.m.onPredict
	conf := p.m.confidence
	p.m.lock.Unlock()

	if onPredict != nil {
		onPredict(n)
	}
	if n == failAt {
		return nil, errors.New("GPU on fire")
	}

	b := tile.Bounds()
	x1, y1, x2, y2 := b.Max.X, b.Max.Y, b.Min.X, b.Min.Y
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := tile.At(x, y).RGBA()
			if r > 0x8000 {
				x1 = min(x1, x)
				y1 = min(y1, y)
				x2 = max(x2, x+1)
				y2 = max(y2, y+1)
			}
		}
	}
	if x2 <= x1 {
		return nil, nil
	}
	return []nn.RawDetection{
		{
			Class:      "blob",
			Confidence: conf,
			Box:        geom.Rect{X: float64(x1 - b.Min.X), Y: float64(y1 - b.Min.Y), Width: float64(x2 - x1), Height: float64(y2 - y1)},
		},
	}, nil
}

// A black image with white rectangles
func makeImage(w, h int, blobs ...image.Rectangle) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{A: 255})
		}
	}
	for _, blob := range blobs {
		for y := blob.Min.Y; y < blob.Max.Y; y++ {
			for x := blob.Min.X; x < blob.Max.X; x++ {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	return img
}

type testSetup struct {
	model    *blobModel
	detector *Detector
	hier     *hierarchy.Memory
	img      ImageContext
}

func setup(t *testing.T, w, h int, blobs ...image.Rectangle) *testSetup {
	t.Helper()
	model := newBlobModel()
	cfg := nn.NewConfig(100, 0, 0.45, 0.25)
	det, err := NewDetector(logs.NewTestingLog(t), model, cfg)
	require.NoError(t, err)
	hier := hierarchy.NewMemory(w, h)
	return &testSetup{
		model:    model,
		detector: det,
		hier:     hier,
		img: ImageContext{
			Server:    imagesource.NewImage("test", makeImage(w, h, blobs...)),
			Hierarchy: hier,
		},
	}
}

func TestSplitObjectIsMerged(t *testing.T) {
	s := setup(t, 200, 100, image.Rect(80, 40, 120, 60))
	res, err := s.detector.Detect(context.Background(), s.img, nil)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Len(t, res.Detections, 1)
	d := res.Detections[0]
	require.Equal(t, geom.Rect{X: 80, Y: 40, Width: 40, Height: 20}, d.Bounds())
	require.True(t, d.Merged)
	require.Equal(t, "blob", d.Class)
	require.InDelta(t, 0.9, d.Confidence, 1e-6)

	require.Equal(t, 2, res.Stats.TilesScheduled)
	require.Equal(t, 2, res.Stats.TilesInferred)
	require.Equal(t, 2, res.Stats.DetectionsBeforeMerge)
	require.Equal(t, 1, res.Stats.DetectionsAfterMerge)
	require.Equal(t, int64(2), res.Stats.Inference.Samples)

	root, _ := s.hier.Root()
	require.Equal(t, res.Detections, s.hier.Children(root))
	require.Equal(t, 1, s.hier.NumNotifications)
	require.Same(t, s.detector, s.hier.LastSource)
	require.True(t, s.model.balanced())
	require.Equal(t, 2, s.model.opened)
}

func TestCancelledBeforeStart(t *testing.T) {
	s := setup(t, 200, 100, image.Rect(10, 10, 20, 20))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.detector.Detect(ctx, s.img, nil)
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.False(t, res.OK())
	require.Nil(t, res.Detections)
	require.True(t, s.hier.Untouched())
	require.Equal(t, 0, s.model.opened)
}

func TestCancelledMidway(t *testing.T) {
	s := setup(t, 300, 100, image.Rect(10, 10, 20, 20))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.model.onPredict = func(n int) {
		if n == 1 {
			cancel()
		}
	}
	res, err := s.detector.Detect(ctx, s.img, nil)
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.Nil(t, res.Detections)
	require.True(t, s.hier.Untouched())
	require.Equal(t, 1, s.model.opened)
	require.True(t, s.model.balanced())
}

func TestModelFailure(t *testing.T) {
	s := setup(t, 300, 100, image.Rect(10, 10, 20, 20))
	root, _ := s.hier.Root()
	old := nn.NewDetection("old", 0.5, geom.Rect{Width: 1, Height: 1})
	require.NoError(t, s.hier.AddChildren(root, []*nn.Detection{old}))
	s.hier.NumAdds = 0

	s.model.failAt = 2
	res, err := s.detector.Detect(context.Background(), s.img, nil)
	require.Nil(t, res)
	require.ErrorContains(t, err, "GPU on fire")
	require.ErrorContains(t, err, "predict tile")
	require.True(t, s.hier.Untouched())
	require.Equal(t, []*nn.Detection{old}, s.hier.Children(root))
	require.True(t, s.model.balanced())
}

func TestPredictorCloseFailureIsNotFatal(t *testing.T) {
	s := setup(t, 100, 100, image.Rect(10, 10, 20, 20))
	s.model.closeErr = errors.New("session leak")
	res, err := s.detector.Detect(context.Background(), s.img, nil)
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
}

func TestOverlappingParents(t *testing.T) {
	s := setup(t, 200, 100, image.Rect(30, 30, 50, 50))
	a := s.hier.AddRegion("a", geom.Rect{Width: 200, Height: 100}.Polygon())
	b := s.hier.AddRegion("b", geom.Rect{Width: 100, Height: 100}.Polygon())

	res, err := s.detector.Detect(context.Background(), s.img, []*hierarchy.Region{a, b})
	require.NoError(t, err)
	require.Equal(t, 3, res.Stats.TilesScheduled)
	require.Equal(t, 1, res.Stats.TilesSkipped)
	require.Equal(t, 2, res.Stats.TilesInferred)
	require.Len(t, res.Detections, 1)
	require.Equal(t, res.Detections, s.hier.Children(a))
	require.Equal(t, res.Detections, s.hier.Children(b))
	require.Same(t, s.hier.Children(a)[0], s.hier.Children(b)[0])
}

func TestDetectionsOutsideParentsAreDropped(t *testing.T) {
	// The parent is a triangle. Its tiles cover its bounding box, so the blob in the
	// far corner is detected, but it is not inside the triangle.
	s := setup(t, 100, 100, image.Rect(80, 80, 95, 95), image.Rect(5, 5, 10, 10))
	tri := s.hier.AddRegion("tri", geom.Polygon{{{{0, 0}, {100, 0}, {0, 100}, {0, 0}}}})
	// one blob per tile, so use a smaller tile size
	s.detector.config.InputSize = 50

	res, err := s.detector.Detect(context.Background(), s.img, []*hierarchy.Region{tri})
	require.NoError(t, err)
	require.Equal(t, 2, res.Stats.DetectionsAfterMerge)
	require.Len(t, res.Detections, 1)
	require.Equal(t, geom.Rect{X: 5, Y: 5, Width: 5, Height: 5}, res.Detections[0].Bounds())
}

func TestConfigurationErrors(t *testing.T) {
	s := setup(t, 100, 100)
	noROI := s.hier.AddRegion("empty", nil)
	_, err := s.detector.Detect(context.Background(), s.img, []*hierarchy.Region{noROI})
	require.ErrorIs(t, err, hierarchy.ErrNoROI)

	root, _ := s.hier.Root()
	_, err = s.detector.Detect(context.Background(), s.img, []*hierarchy.Region{root, noROI})
	require.ErrorIs(t, err, hierarchy.ErrNilROI)
	require.True(t, s.hier.Untouched())

	_, err = NewDetector(logs.NewTestingLog(t), newBlobModel(), nn.Config{})
	require.ErrorIs(t, err, nn.ErrInvalidInputSize)
}

func TestThresholdChanges(t *testing.T) {
	s := setup(t, 100, 100, image.Rect(10, 10, 20, 20))
	s.detector.SetClassThreshold("blob", 0.95)
	res, err := s.detector.Detect(context.Background(), s.img, nil)
	require.NoError(t, err)
	require.Empty(t, res.Detections)
	require.Equal(t, 1, res.Stats.RawDetections)

	s.detector.RemoveClassThreshold("blob")
	res, err = s.detector.Detect(context.Background(), s.img, nil)
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)

	s.detector.SetDefaultConfidenceThreshold(0.91)
	res, err = s.detector.Detect(context.Background(), s.img, nil)
	require.NoError(t, err)
	require.Empty(t, res.Detections)
	require.Equal(t, float32(0.91), s.detector.Config().DefaultConfidenceThreshold)
}

func TestClose(t *testing.T) {
	s := setup(t, 100, 100)
	require.NoError(t, s.detector.Close())
	require.NoError(t, s.detector.Close())
	require.Equal(t, 1, s.model.modelClosed)
	_, err := s.detector.Detect(context.Background(), s.img, nil)
	require.ErrorIs(t, err, ErrClosed)
}
