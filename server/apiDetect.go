package server

import (
	"errors"
	"net/http"
	"path"
	"path/filepath"
	"time"

	"github.com/cyclopcam/tiledetect/pkg/hierarchy"
	"github.com/cyclopcam/tiledetect/pkg/nn"
	"github.com/cyclopcam/tiledetect/pkg/tiled"
	"github.com/cyclopcam/tiledetect/server/annotationdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type detectRequestJSON struct {
	Image   string  `json:"image"`   // Path relative to the image directory
	Parents []int64 `json:"parents"` // If empty, the root region of the image is used
}

type detectResponseJSON struct {
	Cancelled   bool            `json:"cancelled"`
	Detections  []*nn.Detection `json:"detections"`
	Stats       tiled.Stats     `json:"stats"`
	ChangeCount int64           `json:"changeCount"`
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	www.SendJSON(w, &pingJSON{Time: time.Now().Unix()})
}

func (s *Server) httpGetStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type statsJSON struct {
		ChangeCount      int64   `json:"changeCount"`
		TilesInferred    int64   `json:"tilesInferred"`
		AverageTileMilli float64 `json:"averageTileMilli"`
	}
	inference := s.inference.Get()
	www.SendJSON(w, &statsJSON{
		ChangeCount:      s.DB.ChangeCount(),
		TilesInferred:    inference.Samples,
		AverageTileMilli: inference.Average().Seconds() * 1000,
	})
}

func (s *Server) httpGetConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg := s.detector.Config()
	www.SendJSON(w, &cfg)
}

// Set or remove a confidence threshold.
// If class is empty, the default threshold is set.
// If threshold is negative, the class threshold is removed.
func (s *Server) httpSetThreshold(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type thresholdJSON struct {
		Class     string  `json:"class"`
		Threshold float32 `json:"threshold"`
	}
	req := thresholdJSON{}
	www.ReadJSON(w, r, &req, 1024)
	switch {
	case req.Class == "":
		s.detector.SetDefaultConfidenceThreshold(req.Threshold)
	case req.Threshold < 0:
		s.detector.RemoveClassThreshold(req.Class)
	default:
		s.detector.SetClassThreshold(req.Class, req.Threshold)
	}
	www.SendOK(w)
}

func (s *Server) httpDetect(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := detectRequestJSON{}
	www.ReadJSON(w, r, &req, 64*1024)

	img, err := s.images.Open(s.imagePath(req.Image))
	if err != nil {
		www.PanicBadRequestf("Failed to open image '%v': %v", req.Image, err)
	}

	var parents []*hierarchy.Region
	for _, id := range req.Parents {
		region, err := s.DB.GetRegion(id)
		if errors.Is(err, annotationdb.ErrNotFound) {
			www.PanicBadRequestf("Region %v not found", id)
		}
		www.Check(err)
		if region.Image != req.Image {
			www.PanicBadRequestf("Region %v belongs to image '%v', not '%v'", id, region.Image, req.Image)
		}
		parents = append(parents, region.HierarchyRegion())
	}

	imgCtx := tiled.ImageContext{
		Server:    img,
		Hierarchy: s.DB.Hierarchy(req.Image, img.Width(), img.Height()),
	}
	result, err := s.detector.Detect(r.Context(), imgCtx, parents)
	if errors.Is(err, hierarchy.ErrNoROI) || errors.Is(err, hierarchy.ErrNilROI) {
		www.PanicBadRequestf("%v", err)
	}
	www.Check(err)
	if result.OK() {
		s.inference.Add(result.Stats.Inference)
	}

	www.SendJSON(w, &detectResponseJSON{
		Cancelled:   result.Cancelled,
		Detections:  result.Detections,
		Stats:       result.Stats,
		ChangeCount: s.DB.ChangeCount(),
	})
}

// imagePath resolves an image name inside the image directory.
// Names cannot escape the image directory.
func (s *Server) imagePath(name string) string {
	if name == "" {
		www.PanicBadRequestf("Image may not be empty")
	}
	clean := path.Clean("/" + filepath.ToSlash(name))
	return filepath.Join(s.config.ImageDir, filepath.FromSlash(clean))
}
