package nn

import (
	"sort"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/pkg/tiling"
)

// NormalizeTile turns the raw output of the model for one tile into full-image detections.
// The steps are: group by class, drop detections below the class threshold, sort by
// confidence, greedy NMS, and finally remap boxes from the resized tile into the image.
// Classes are emitted in order of their first appearance in raw.
func NormalizeTile(log logs.Log, raw []RawDetection, tile tiling.TileRequest, cfg *Config) []*Detection {
	if len(raw) == 0 {
		return nil
	}

	classOrder := []string{}
	byClass := map[string][]RawDetection{}
	for _, r := range raw {
		if _, ok := byClass[r.Class]; !ok {
			classOrder = append(classOrder, r.Class)
		}
		byClass[r.Class] = append(byClass[r.Class], r)
	}

	result := []*Detection{}
	scale := float64(tile.Width) / float64(cfg.InputSize)
	for _, class := range classOrder {
		threshold := cfg.Threshold(class)
		survivors := make([]RawDetection, 0, len(byClass[class]))
		for _, r := range byClass[class] {
			if r.Confidence >= threshold {
				survivors = append(survivors, r)
			}
		}
		if len(survivors) == 0 {
			if log != nil {
				log.Debugf("All detections for class '%v' were below threshold %.3f", class, threshold)
			}
			continue
		}
		for _, kept := range NonMaxSuppression(survivors, cfg.NmsIouThreshold) {
			result = append(result, NewDetection(kept.Class, kept.Confidence, RemapBox(kept.Box, tile, scale)))
		}
	}
	return result
}

// NonMaxSuppression runs greedy box-IoU NMS over detections that all share one class.
// The input is sorted by descending confidence (stable, so earlier detections win ties),
// and every detection whose IoU with a kept detection exceeds iouThreshold is suppressed.
// The input slice is not modified.
func NonMaxSuppression(detections []RawDetection, iouThreshold float64) []RawDetection {
	sorted := make([]RawDetection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	kept := make([]RawDetection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && sorted[i].Box.IOU(sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// RemapBox maps a box from the resized tile back into full image coordinates.
// The box origin is its top-left corner.
func RemapBox(box geom.Rect, tile tiling.TileRequest, scale float64) geom.Rect {
	return geom.Rect{
		X:      box.X*scale + float64(tile.X),
		Y:      box.Y*scale + float64(tile.Y),
		Width:  box.Width * scale,
		Height: box.Height * scale,
	}
}
