package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/interfaces"
	"github.com/bobmcallan/piiscan/internal/models"
	"github.com/bobmcallan/piiscan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSampler struct{ snap interfaces.Snapshot }

func (f fixedSampler) Snapshot(context.Context) (interfaces.Snapshot, error) { return f.snap, nil }

func idleSampler() interfaces.LoadSampler {
	return fixedSampler{snap: interfaces.Snapshot{CPUPercent: 50, MemoryPercent: 50, LoadFactor: 0.5, CPUCount: 4}}
}

func openTestStore(t *testing.T, dbPath string) *store.Store {
	t.Helper()
	s, err := store.Open(dbPath, common.NewSilentLogger())
	require.NoError(t, err)
	return s
}

func newTestService(t *testing.T, dataPath string, analyzer interfaces.Analyzer, walker interfaces.DirectoryWalker) (*Service, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pii.db")
	s := openTestStore(t, dbPath)
	t.Cleanup(func() { s.Close() })

	cfg := Config{
		DBPath:         dbPath,
		DataPath:       dataPath,
		Walker:         walker,
		Analyzer:       analyzer,
		Sampler:        idleSampler(),
		Settings:       models.Settings{Threshold: 0.5, FileSizeLimit: 1 << 20},
		InitialWorkers: 8,
		InitialBatch:   20,
		Logger:         common.NewSilentLogger(),
		OpenStore: func(path string, logger *common.Logger) (interfaces.ResultStore, error) {
			return store.Open(path, logger)
		},
	}
	return New(cfg, s), dbPath
}

type stubWalker struct {
	entries map[string]string // path -> type
}

func (w stubWalker) ScanDirectory(ctx context.Context, st interfaces.ResultStore, jobID int64, root string, extensions map[string]bool, progress func(models.ScanProgress)) (int, error) {
	var paths, types []string
	var sizes []int64
	for p, typ := range w.entries {
		paths = append(paths, p)
		types = append(types, typ)
		sizes = append(sizes, 10)
	}
	if len(paths) == 0 {
		return 0, nil
	}
	added, err := st.RegisterFiles(ctx, jobID, paths, types, sizes)
	if progress != nil {
		progress(models.ScanProgress{Type: "progress", FilesScanned: len(paths)})
	}
	return added, err
}

func TestService_EmptyTree_CompletesImmediately(t *testing.T) {
	root := t.TempDir()
	svc, _ := newTestService(t, root, interfaces.AnalyzerFunc(func(ctx context.Context, path string, s models.Settings) (models.AnalyzeResult, error) {
		return models.AnalyzeResult{Success: true}, nil
	}), stubWalker{})

	ok, _ := svc.Start()
	require.True(t, ok)
	svc.Wait()

	status := svc.Status()
	assert.Equal(t, StateCompleted, status.State)
	require.NotNil(t, status.Stats)
	assert.Zero(t, status.Stats.Total)
}

func TestService_SingleCleanFile_Completes(t *testing.T) {
	root := t.TempDir()
	svc, _ := newTestService(t, root,
		interfaces.AnalyzerFunc(func(ctx context.Context, path string, s models.Settings) (models.AnalyzeResult, error) {
			return models.AnalyzeResult{Success: true, Entities: []models.DetectedEntity{
				{EntityType: "US_SSN", Text: "123-45-6789", Score: 0.99, StartPos: 0, EndPos: 11},
			}}, nil
		}),
		stubWalker{entries: map[string]string{filepath.Join(root, "a.txt"): ".txt"}},
	)

	ok, _ := svc.Start()
	require.True(t, ok)
	svc.Wait()

	status := svc.Status()
	assert.Equal(t, StateCompleted, status.State)
	require.NotNil(t, status.Stats)
	assert.Equal(t, 1, status.Stats.Completed)

	blob, err := svc.ExportJson()
	require.NoError(t, err)
	assert.Contains(t, string(blob), "US_SSN")
}

func TestService_StartRejectsWhenNotDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	svc, _ := newTestService(t, missing, interfaces.AnalyzerFunc(func(context.Context, string, models.Settings) (models.AnalyzeResult, error) {
		return models.AnalyzeResult{Success: true}, nil
	}), stubWalker{})

	ok, msg := svc.Start()
	assert.False(t, ok)
	assert.Contains(t, msg, "not a directory")
	assert.Equal(t, StateIdle, svc.Status().State)
}

func TestService_StartRejectsWhenAlreadyRunning(t *testing.T) {
	root := t.TempDir()
	block := make(chan struct{})
	svc, _ := newTestService(t, root,
		interfaces.AnalyzerFunc(func(ctx context.Context, path string, s models.Settings) (models.AnalyzeResult, error) {
			<-block
			return models.AnalyzeResult{Success: true}, nil
		}),
		stubWalker{entries: map[string]string{filepath.Join(root, "a.txt"): ".txt"}},
	)

	ok, _ := svc.Start()
	require.True(t, ok)

	deadline := time.Now().Add(time.Second)
	for svc.Status().State == StateScanning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ok, msg := svc.Start()
	assert.False(t, ok)
	assert.Contains(t, msg, "cannot start")
	close(block)
	svc.Wait()
}

func TestService_ClearDeletesDatabaseAndResetsState(t *testing.T) {
	root := t.TempDir()
	svc, dbPath := newTestService(t, root,
		interfaces.AnalyzerFunc(func(ctx context.Context, path string, s models.Settings) (models.AnalyzeResult, error) {
			return models.AnalyzeResult{Success: true}, nil
		}),
		stubWalker{entries: map[string]string{filepath.Join(root, "a.txt"): ".txt"}},
	)

	ok, _ := svc.Start()
	require.True(t, ok)
	svc.Wait()
	require.Equal(t, StateCompleted, svc.Status().State)

	ok, _ = svc.Clear()
	require.True(t, ok)
	_, err := os.Stat(dbPath)
	require.NoError(t, err, "clear must reopen a fresh database file")

	status := svc.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Zero(t, status.JobID)
}

func TestService_ClearRejectedWhileRunning(t *testing.T) {
	root := t.TempDir()
	block := make(chan struct{})
	svc, _ := newTestService(t, root,
		interfaces.AnalyzerFunc(func(ctx context.Context, path string, s models.Settings) (models.AnalyzeResult, error) {
			<-block
			return models.AnalyzeResult{Success: true}, nil
		}),
		stubWalker{entries: map[string]string{filepath.Join(root, "a.txt"): ".txt"}},
	)

	ok, _ := svc.Start()
	require.True(t, ok)

	deadline := time.Now().Add(time.Second)
	for svc.Status().State == StateScanning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ok, msg := svc.Clear()
	assert.False(t, ok)
	assert.Contains(t, msg, "cannot clear")

	close(block)
	svc.Wait()
}

func TestService_StopMidRun_EndsInterrupted(t *testing.T) {
	root := t.TempDir()
	entries := map[string]string{}
	for i := 0; i < 200; i++ {
		entries[filepath.Join(root, fmt.Sprintf("f%03d.txt", i))] = ".txt"
	}

	svc, _ := newTestService(t, root,
		interfaces.AnalyzerFunc(func(ctx context.Context, path string, s models.Settings) (models.AnalyzeResult, error) {
			time.Sleep(2 * time.Millisecond)
			return models.AnalyzeResult{Success: true}, nil
		}),
		stubWalker{entries: entries},
	)

	ok, _ := svc.Start()
	require.True(t, ok)

	deadline := time.Now().Add(2 * time.Second)
	for svc.Status().State != StateProcessing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ok, _ = svc.Stop()
	require.True(t, ok)
	svc.Wait()

	status := svc.Status()
	assert.Equal(t, StateIdle, status.State)
	require.NotNil(t, status.Stats)
	assert.Less(t, status.Stats.Completed, status.Stats.Total)
}
