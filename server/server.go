package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/imagesource"
	"github.com/cyclopcam/tiledetect/pkg/perfstats"
	"github.com/cyclopcam/tiledetect/pkg/tiled"
	"github.com/cyclopcam/tiledetect/server/annotationdb"
	"github.com/julienschmidt/httprouter"
)

// Config of the HTTP server
type Config struct {
	ImageDir              string // Root directory of all images that can be processed
	DBFile                string // SQLite annotation database
	DetectRequestsPerHour int    // Rate limit of /api/detect per client IP. Zero means unlimited.
	HotReloadWWW          bool   // Serve static files from disk instead of the embedded copy
}

type Server struct {
	Log logs.Log
	DB  *annotationdb.AnnotationDB

	config     Config
	detector   *tiled.Detector
	images     *imagesource.Cache
	inference  perfstats.SyncTimeAccumulator // Tile inference time of every completed detection
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
}

// Create a new server. The server takes ownership of the detector, and closes it during Shutdown.
func NewServer(log logs.Log, config Config, detector *tiled.Detector) (*Server, error) {
	if config.ImageDir == "" {
		return nil, errors.New("Image directory may not be empty")
	}
	if st, err := os.Stat(config.ImageDir); err != nil {
		return nil, fmt.Errorf("Invalid image directory '%v': %w", config.ImageDir, err)
	} else if !st.IsDir() {
		return nil, fmt.Errorf("Image directory '%v' is not a directory", config.ImageDir)
	}
	db, err := annotationdb.Open(log, config.DBFile)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Log:      log,
		DB:       db,
		config:   config,
		detector: detector,
		images:   imagesource.NewCache(log),
	}
	if err := s.setupHttpRoutes(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Handler returns the HTTP router of the server
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// addr example: ":8080"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown stops the HTTP server. In-flight detections see their request context
// cancelled, and leave their hierarchies untouched.
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
		s.signalIn = nil
	}
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown error: %v", err)
			s.httpServer.Close()
		}
	}
	if err := s.detector.Close(); err != nil {
		s.Log.Warnf("Failed to close detector: %v", err)
	}
	if err := s.DB.Close(); err != nil {
		s.Log.Warnf("Failed to close database: %v", err)
	}
	s.Log.Infof("Shutdown complete")
}
