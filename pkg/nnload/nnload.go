package nnload

// Package nnload knows about our concrete model implementations, so that you can just call
// one function to load a model and its detection config, and not need to know about the
// implementation details.

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/nn"
	"github.com/cyclopcam/tiledetect/pkg/remotenn"
)

// Engine names
const (
	EngineRemote = "remote" // Inference over HTTP (see remotenn)
)

// Options for LoadModel
type Options struct {
	Engine      string // Defaults to EngineRemote
	ModelURL    string // Base URL of the model. The inference endpoint is ModelURL + "/predict".
	ConfigFile  string // If empty, ModelURL + "/config.json" is downloaded into CacheDir
	CacheDir    string
	APIKey      string
	MaxSessions int
}

func downloadFile(srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// ConfigStub turns a model URL into a filename for its cached config.
// eg "http://gpu1:8080/models/cells" -> "gpu1_8080_models_cells"
func ConfigStub(modelURL string) string {
	u, err := url.Parse(modelURL)
	s := modelURL
	if err == nil && u.Host != "" {
		s = u.Host + u.Path
	}
	s = strings.Trim(s, "/")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '.' {
			return r
		}
		return '_'
	}, s)
}

// If the config is not yet downloaded, then download it now.
// Returns the path of the config file on disk.
func DownloadConfig(log logs.Log, modelURL, cacheDir string) (string, error) {
	diskPath := filepath.Join(cacheDir, ConfigStub(modelURL)+".json")
	networkUrl := strings.TrimRight(modelURL, "/") + "/config.json"
	if _, err := os.Stat(diskPath); os.IsNotExist(err) {
		log.Infof("Downloading %v to %v", networkUrl, diskPath)
		if err := downloadFile(networkUrl, diskPath); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return diskPath, nil
}

// LoadModel loads the detection config, and connects to the model.
func LoadModel(log logs.Log, opt Options) (nn.Model, *nn.Config, error) {
	configFile := opt.ConfigFile
	if configFile == "" {
		if opt.ModelURL == "" {
			return nil, nil, fmt.Errorf("Either a model URL or a config file is required")
		}
		var err error
		if configFile, err = DownloadConfig(log, opt.ModelURL, opt.CacheDir); err != nil {
			return nil, nil, fmt.Errorf("Download failed: %w", err)
		}
	}
	config, err := nn.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}

	switch opt.Engine {
	case "", EngineRemote:
		model, err := remotenn.New(log, remotenn.Options{
			URL:         strings.TrimRight(opt.ModelURL, "/") + "/predict",
			APIKey:      opt.APIKey,
			Classes:     config.Classes,
			MaxSessions: opt.MaxSessions,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Infof("Using remote model %v (input %v x %v)", opt.ModelURL, config.InputSize, config.InputSize)
		return model, config, nil
	default:
		return nil, nil, fmt.Errorf("Unrecognized NN engine '%v'", opt.Engine)
	}
}
