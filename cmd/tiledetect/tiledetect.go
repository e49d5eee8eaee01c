package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/hierarchy"
	"github.com/cyclopcam/tiledetect/pkg/imagesource"
	"github.com/cyclopcam/tiledetect/pkg/nnload"
	"github.com/cyclopcam/tiledetect/pkg/tiled"
	"github.com/cyclopcam/tiledetect/server"
	"github.com/cyclopcam/tiledetect/server/annotationdb"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	home, _ := os.UserHomeDir()
	defaultCache := filepath.Join(home, ".cache", "tiledetect")

	parser := argparse.NewParser("tiledetect", "Detect objects in very large images, one tile at a time")
	input := parser.String("i", "input", &argparse.Options{Help: "Input image (one-shot mode)"})
	modelURL := parser.String("m", "model", &argparse.Options{Help: "Base URL of the inference server", Required: true})
	configFile := parser.String("c", "config", &argparse.Options{Help: "Detection config JSON. If omitted, it is downloaded from the model URL"})
	output := parser.String("o", "output", &argparse.Options{Help: "Output JSON file (one-shot mode). Defaults to stdout"})
	dbFile := parser.String("", "db", &argparse.Options{Help: "SQLite annotation database. Required with --serve"})
	serveAddr := parser.String("", "serve", &argparse.Options{Help: "Run an HTTP server on this address, eg ':8080'"})
	imageDir := parser.String("", "images", &argparse.Options{Help: "Image directory for --serve", Default: "."})
	cacheDir := parser.String("", "cache", &argparse.Options{Help: "Directory for downloaded model configs", Default: defaultCache})
	apiKey := parser.String("", "apikey", &argparse.Options{Help: "API key of the inference server"})
	maxSessions := parser.Int("", "sessions", &argparse.Options{Help: "Maximum concurrent inference requests", Default: 1})
	rateLimit := parser.Int("", "ratelimit", &argparse.Options{Help: "Maximum detect requests per client per hour (--serve). 0 = unlimited", Default: 0})
	sameClassOverlap := parser.Flag("", "sameclass", &argparse.Options{Help: "Only treat detections of the same class as overlapping duplicates"})
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload www instead of embedding into binary"})
	err := parser.Parse(os.Args)
	if err == nil && *input == "" && *serveAddr == "" {
		err = fmt.Errorf("Either --input or --serve must be specified")
	}
	if err == nil && *serveAddr != "" && *dbFile == "" {
		err = fmt.Errorf("--db is required with --serve")
	}
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	model, config, err := nnload.LoadModel(logger, nnload.Options{
		ModelURL:    *modelURL,
		ConfigFile:  *configFile,
		CacheDir:    *cacheDir,
		APIKey:      *apiKey,
		MaxSessions: *maxSessions,
	})
	if err != nil {
		logger.Errorf("Failed to load model: %v", err)
		os.Exit(1)
	}
	detector, err := tiled.NewDetector(logger, model, *config)
	if err != nil {
		logger.Errorf("Invalid detection config: %v", err)
		os.Exit(1)
	}
	detector.SetSameClassOverlap(*sameClassOverlap)

	if *serveAddr != "" {
		srv, err := server.NewServer(logger, server.Config{
			ImageDir:              *imageDir,
			DBFile:                *dbFile,
			DetectRequestsPerHour: *rateLimit,
			HotReloadWWW:          *hotReloadWWW,
		}, detector)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		srv.ListenForKillSignals()
		if err := srv.ListenHTTP(*serveAddr); err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		return
	}

	os.Exit(runOnce(logger, detector, *input, *dbFile, *output))
}

// Detect objects over the whole of one image, and write the result as JSON.
// Returns the process exit code.
func runOnce(logger logs.Log, detector *tiled.Detector, input, dbFile, output string) int {
	defer detector.Close()

	img, err := imagesource.OpenFile(logger, input)
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}

	var h hierarchy.Hierarchy
	if dbFile != "" {
		db, err := annotationdb.Open(logger, dbFile)
		if err != nil {
			logger.Errorf("%v", err)
			return 1
		}
		defer db.Close()
		h = db.Hierarchy(filepath.Base(input), img.Width(), img.Height())
	} else {
		h = hierarchy.NewMemory(img.Width(), img.Height())
	}

	// Ctrl+C cancels the detection between tiles
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := detector.Detect(ctx, tiled.ImageContext{Server: img, Hierarchy: h}, nil)
	if err != nil {
		logger.Errorf("Detection failed: %v", err)
		return 1
	}
	if result.Cancelled {
		return 2
	}

	out := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		check(err)
		defer f.Close()
		out = f
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	check(encoder.Encode(result))
	return 0
}
