package tiled

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/pkg/hierarchy"
	"github.com/cyclopcam/tiledetect/pkg/imagesource"
	"github.com/cyclopcam/tiledetect/pkg/nn"
	"github.com/cyclopcam/tiledetect/pkg/perfstats"
	"github.com/cyclopcam/tiledetect/pkg/tiling"
)

// Package tiled runs an object detection model over images that are far too large
// to feed to the model in one piece.

var ErrClosed = errors.New("Detector is closed")

// ImageContext is everything that Detect needs to know about one image
type ImageContext struct {
	Server    imagesource.Server
	Hierarchy hierarchy.Hierarchy
}

// Stats about a single call to Detect
type Stats struct {
	Parents               int                       `json:"parents"`
	TilesScheduled        int                       `json:"tilesScheduled"`
	TilesSkipped          int                       `json:"tilesSkipped"`  // Redundant tiles, which were inside a tile that was already processed
	TilesInferred         int                       `json:"tilesInferred"` // Tiles that were sent to the model
	RawDetections         int                       `json:"rawDetections"` // Detections straight out of the model, before thresholds and NMS
	DetectionsBeforeMerge int                       `json:"detectionsBeforeMerge"`
	DetectionsAfterMerge  int                       `json:"detectionsAfterMerge"`
	DetectionsAssigned    int                       `json:"detectionsAssigned"`
	Inference             perfstats.TimeAccumulator `json:"inference"`
}

// Result of a call to Detect.
// If Cancelled is true, then Detections is nil, and the hierarchy was not touched.
type Result struct {
	Cancelled  bool            `json:"cancelled"`
	Detections []*nn.Detection `json:"detections"`
	Stats      Stats           `json:"stats"`
}

// Returns true if the detection ran to completion
func (r *Result) OK() bool {
	return !r.Cancelled
}

// Detector runs a model over tiles of large images, and reconciles the detections
// of all the tiles into a single set of objects.
// Detector is safe for concurrent use, provided the model is.
type Detector struct {
	log   logs.Log
	model nn.Model

	lock             sync.Mutex
	config           nn.Config
	sameClassOverlap bool
	closed           bool
}

// Create a new detector. The detector takes ownership of the model, and closes it in Close().
func NewDetector(log logs.Log, model nn.Model, config nn.Config) (*Detector, error) {
	config = config.Clone()
	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		log:    logs.NewPrefixLogger(log, "Tiled:"),
		model:  model,
		config: config,
	}, nil
}

// Close releases the model
func (d *Detector) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.model.Close()
}

// Config returns a copy of the current configuration
func (d *Detector) Config() nn.Config {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.config.Clone()
}

// Set a custom confidence threshold for one class. Affects subsequent calls to Detect.
func (d *Detector) SetClassThreshold(class string, threshold float32) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.config.SetClassThreshold(class, threshold)
}

func (d *Detector) RemoveClassThreshold(class string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.config.RemoveClassThreshold(class)
}

func (d *Detector) SetDefaultConfidenceThreshold(threshold float32) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.config.SetDefaultConfidenceThreshold(threshold)
}

// If enabled, high-IoU detections of different classes are both retained by the cross-tile merge
func (d *Detector) SetSameClassOverlap(enable bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.sameClassOverlap = enable
}

func (d *Detector) snapshot() (nn.Config, nn.MergeOptions, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nn.Config{}, nn.MergeOptions{}, ErrClosed
	}
	opt := nn.DefaultMergeOptions(d.config.NmsIouThreshold)
	opt.SameClassOverlap = d.sameClassOverlap
	return d.config.Clone(), opt, nil
}

// Detect objects inside the given parent regions of an image.
// If parents is nil, the root region of the hierarchy is used.
//
// Tiles are processed one at a time. Before each tile is submitted to the model, ctx is checked,
// and if it has been cancelled, all detections so far are discarded, the hierarchy is left
// untouched, and the result has Cancelled = true, with a nil error.
//
// On success, the children of every parent are replaced, and the hierarchy is notified once.
// On failure, the hierarchy is left untouched.
func (d *Detector) Detect(ctx context.Context, img ImageContext, parents []*hierarchy.Region) (*Result, error) {
	config, mergeOptions, err := d.snapshot()
	if err != nil {
		return nil, err
	}

	if parents == nil {
		root, err := img.Hierarchy.Root()
		if err != nil {
			return nil, fmt.Errorf("Failed to get root region: %w", err)
		}
		parents = []*hierarchy.Region{root}
	}
	combined, err := hierarchy.ValidateParents(parents)
	if err != nil {
		return nil, err
	}

	server := img.Server
	downsample := server.DownsampleForResolution(0)
	tracker := tiling.NewTracker()
	result := &Result{}
	stats := &result.Stats
	stats.Parents = len(parents)
	all := []*nn.Detection{}

	for _, parent := range parents {
		x, y, w, h := tileBounds(parent.ROI.Bound(), server.Width(), server.Height())
		tiles := tiling.MakeTiles(server.Path(), downsample, x, y, w, h, config.InputSize, config.OverlapFraction)
		stats.TilesScheduled += len(tiles)

		for _, tile := range tiles {
			if tracker.IsRedundant(tile) {
				d.log.Debugf("Skipping overlapping region at %v,%v", tile.X, tile.Y)
				stats.TilesSkipped++
				continue
			}
			tracker.Add(tile)

			if ctx.Err() != nil {
				return d.cancelled(result, len(all)), nil
			}

			start := time.Now()
			raw, err := d.predictTile(ctx, server, tile, config.InputSize)
			stats.Inference.Since(start)
			if err != nil {
				if ctx.Err() != nil {
					return d.cancelled(result, len(all)), nil
				}
				return nil, err
			}
			stats.TilesInferred++
			stats.RawDetections += len(raw)
			all = append(all, nn.NormalizeTile(d.log, raw, tile, &config)...)
		}
	}
	stats.DetectionsBeforeMerge = len(all)

	merged := nn.MergeDetections(d.log, all, mergeOptions)
	stats.DetectionsAfterMerge = len(merged)

	assignment := hierarchy.Assign(merged, parents, combined)
	stats.DetectionsAssigned = len(assignment.Detections)

	if err := hierarchy.Commit(img.Hierarchy, assignment, d); err != nil {
		return nil, err
	}

	d.log.Infof("Processed %v tiles (%v skipped) in %v parent(s). %v detections before merge, %v after merge, %v assigned. Average tile time %.1f ms",
		stats.TilesInferred, stats.TilesSkipped, stats.Parents, stats.DetectionsBeforeMerge, stats.DetectionsAfterMerge, stats.DetectionsAssigned,
		stats.Inference.Average().Seconds()*1000)

	result.Detections = assignment.Detections
	return result, nil
}

func (d *Detector) cancelled(result *Result, discarded int) *Result {
	d.log.Warnf("Detection interrupted! Discarding %v detection(s)", discarded)
	result.Cancelled = true
	result.Detections = nil
	return result
}

// Read one tile, resize it for the model, and run inference on it.
// The predictor is released on every path.
func (d *Detector) predictTile(ctx context.Context, server imagesource.Server, tile tiling.TileRequest, inputSize int) ([]nn.RawDetection, error) {
	pixels, err := server.ReadRegion(ctx, tile)
	if err != nil {
		return nil, fmt.Errorf("Failed to read tile %v: %w", tile, err)
	}
	d.log.Debugf("Tile dimensions before resize: %vx%v", pixels.Bounds().Dx(), pixels.Bounds().Dy())
	input := imagesource.ResizeSquare(pixels, inputSize)

	predictor, err := d.model.NewPredictor()
	if err != nil {
		return nil, fmt.Errorf("Failed to acquire predictor: %w", err)
	}
	defer func() {
		if err := predictor.Close(); err != nil {
			d.log.Warnf("Failed to release predictor: %v", err)
		}
	}()

	raw, err := predictor.Predict(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("Failed to predict tile %v: %w", tile, err)
	}
	return raw, nil
}

// tileBounds converts an ROI bounding box into the integer pixel rectangle that covers it,
// clipped to the image.
func tileBounds(b geom.Rect, imageWidth, imageHeight int) (x, y, w, h int) {
	x1 := max(0, int(math.Floor(b.X)))
	y1 := max(0, int(math.Floor(b.Y)))
	x2 := min(imageWidth, int(math.Ceil(b.X2())))
	y2 := min(imageHeight, int(math.Ceil(b.Y2())))
	return x1, y1, max(0, x2-x1), max(0, y2-y1)
}
