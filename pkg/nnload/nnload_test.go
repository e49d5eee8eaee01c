package nnload

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestConfigStub(t *testing.T) {
	require.Equal(t, "gpu1_8080_models_cells", ConfigStub("http://gpu1:8080/models/cells"))
	require.Equal(t, "gpu1_8080_models_cells", ConfigStub("http://gpu1:8080/models/cells/"))
}

func TestLoadModelDownloadsConfig(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cells/config.json" {
			fetches++
			w.Write([]byte(`{"inputSize": 640, "overlapFraction": 0.1, "classes": ["cell"]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	model, cfg, err := LoadModel(log, Options{ModelURL: srv.URL + "/cells", CacheDir: dir})
	require.NoError(t, err)
	require.NotNil(t, model)
	require.Equal(t, 640, cfg.InputSize)
	require.Equal(t, 576, cfg.Stride())
	require.Equal(t, []string{"cell"}, cfg.Classes)

	// Second load uses the cached file
	_, _, err = LoadModel(log, Options{ModelURL: srv.URL + "/cells", CacheDir: dir})
	require.NoError(t, err)
	require.Equal(t, 1, fetches)

	_, _, err = LoadModel(log, Options{ModelURL: srv.URL + "/missing", CacheDir: dir})
	require.Error(t, err)
}

func TestLoadModelLocalConfig(t *testing.T) {
	log := logs.NewTestingLog(t)
	fn := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(fn, []byte(`{"inputSize": 320}`), 0644))

	_, cfg, err := LoadModel(log, Options{ModelURL: "http://localhost:1", ConfigFile: fn})
	require.NoError(t, err)
	require.Equal(t, 320, cfg.InputSize)

	_, _, err = LoadModel(log, Options{ModelURL: "http://localhost:1", ConfigFile: fn, Engine: "tensorrt"})
	require.ErrorContains(t, err, "Unrecognized")

	_, _, err = LoadModel(log, Options{})
	require.Error(t, err)
}
