package remotenn

// Package remotenn is an nn.Model that runs inference on a remote HTTP server.
// Each tile is POSTed as a JPEG, and the server replies with a JSON list of detections.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/geom"
	"github.com/cyclopcam/tiledetect/pkg/nn"
	"github.com/cyclopcam/www"
	"github.com/disintegration/imaging"
)

var ErrClosed = errors.New("Remote model is closed")

// Options for a remote model
type Options struct {
	URL         string   // Endpoint that accepts a JPEG tile and returns a Response
	APIKey      string   // Sent as "Authorization: ApiKey <key>", if not empty
	Classes     []string // Names of class indices. If empty, COCO classes are used.
	MaxSessions int      // Maximum number of concurrent predictors. Default 1.
	JPEGQuality int      // Default 90
}

// Detection as reported by the inference server.
// If Class is empty, ClassIndex is looked up in Options.Classes.
type Detection struct {
	Class      string    `json:"class,omitempty"`
	ClassIndex int       `json:"classIndex"`
	Confidence float32   `json:"confidence"`
	Box        geom.Rect `json:"box"` // Top-left origin, in pixels of the submitted tile
}

// Response of the inference server
type Response struct {
	Detections []Detection `json:"detections"`
}

type Model struct {
	log      logs.Log
	opt      Options
	sessions chan struct{}
	closed   atomic.Bool
}

func New(log logs.Log, opt Options) (*Model, error) {
	if opt.URL == "" {
		return nil, errors.New("Remote model URL may not be empty")
	}
	if opt.MaxSessions <= 0 {
		opt.MaxSessions = 1
	}
	if opt.JPEGQuality <= 0 {
		opt.JPEGQuality = 90
	}
	return &Model{
		log:      logs.NewPrefixLogger(log, "RemoteNN:"),
		opt:      opt,
		sessions: make(chan struct{}, opt.MaxSessions),
	}, nil
}

// NewPredictor waits for a free session slot
func (m *Model) NewPredictor() (nn.Predictor, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.sessions <- struct{}{}
	return &predictor{model: m}, nil
}

func (m *Model) Close() error {
	m.closed.Store(true)
	return nil
}

// Number of predictors that are currently open
func (m *Model) ActiveSessions() int {
	return len(m.sessions)
}

type predictor struct {
	model   *Model
	release sync.Once
}

func (p *predictor) Close() error {
	p.release.Do(func() {
		<-p.model.sessions
	})
	return nil
}

func (p *predictor) Predict(ctx context.Context, tile image.Image) ([]nn.RawDetection, error) {
	m := p.model
	if m.closed.Load() {
		return nil, ErrClosed
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, tile, imaging.JPEG, imaging.JPEGQuality(m.opt.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("Failed to encode tile: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.opt.URL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	if m.opt.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+m.opt.APIKey)
	}

	resp := Response{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return nil, err
	}

	raw := make([]nn.RawDetection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		class := d.Class
		if class == "" {
			class = nn.ClassName(m.opt.Classes, d.ClassIndex)
		}
		raw = append(raw, nn.RawDetection{
			Class:      class,
			Confidence: d.Confidence,
			Box:        d.Box,
		})
	}
	m.log.Debugf("%v detections in %vx%v tile", len(raw), tile.Bounds().Dx(), tile.Bounds().Dy())
	return raw, nil
}
