package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/interfaces"
	"github.com/bobmcallan/piiscan/internal/models"
	"github.com/bobmcallan/piiscan/internal/service"
	"github.com/bobmcallan/piiscan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopWalker struct{}

func (noopWalker) ScanDirectory(ctx context.Context, st interfaces.ResultStore, jobID int64, root string, extensions map[string]bool, progress func(models.ScanProgress)) (int, error) {
	return 0, nil
}

type fixedSampler struct{}

func (fixedSampler) Snapshot(context.Context) (interfaces.Snapshot, error) {
	return interfaces.Snapshot{CPUPercent: 40, MemoryPercent: 40, LoadFactor: 0.3, CPUCount: 4}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "pii.db")
	st, err := store.Open(dbPath, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := service.Config{
		DBPath:         dbPath,
		DataPath:       root,
		Walker:         noopWalker{},
		Analyzer:       interfaces.AnalyzerFunc(func(context.Context, string, models.Settings) (models.AnalyzeResult, error) { return models.AnalyzeResult{Success: true}, nil }),
		Sampler:        fixedSampler{},
		Settings:       models.Settings{Threshold: 0.5, FileSizeLimit: 1 << 20},
		InitialWorkers: 8,
		InitialBatch:   20,
		Logger:         common.NewSilentLogger(),
		OpenStore: func(path string, logger *common.Logger) (interfaces.ResultStore, error) {
			return store.Open(path, logger)
		},
	}
	svc := service.New(cfg, st)
	return New(svc, common.NewSilentLogger(), "127.0.0.1", 0)
}

func TestServer_StartStatusExport(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var start startResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&start))
	assert.True(t, start.Success)

	s.service.Wait()

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Success)
	assert.Equal(t, service.StateCompleted, status.State)

	resp, err = http.Get(ts.URL + "/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StopWhenIdleReturnsFailure(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var stop startResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stop))
	assert.False(t, stop.Success)
	assert.Equal(t, service.StateIdle, stop.State)
}

func TestServer_WrongMethodRejected(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/start")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
