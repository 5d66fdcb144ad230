package piidetect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobmcallan/piiscan/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAnalyzer_DetectsSSNAndEmail(t *testing.T) {
	path := writeTemp(t, "a.txt", "Contact Jane at jane@example.com, SSN 123-45-6789.")

	a := New()
	result, err := a.AnalyzeFile(context.Background(), path, models.Settings{Threshold: 0.5, FileSizeLimit: 1 << 20})
	require.NoError(t, err)
	require.True(t, result.Success)

	var types []string
	for _, e := range result.Entities {
		types = append(types, e.EntityType)
	}
	assert.Contains(t, types, "US_SSN")
	assert.Contains(t, types, "EMAIL_ADDRESS")
}

func TestAnalyzer_ThresholdFiltersLowConfidenceTypes(t *testing.T) {
	path := writeTemp(t, "a.txt", "Zip code 90210 only, nothing else sensitive.")

	a := New()
	result, err := a.AnalyzeFile(context.Background(), path, models.Settings{Threshold: 0.5, FileSizeLimit: 1 << 20})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Empty(t, result.Entities, "US_ZIP score 0.4 is below threshold 0.5")
}

func TestAnalyzer_EnforcesFileSizeLimit(t *testing.T) {
	path := writeTemp(t, "a.txt", "0123456789")

	a := New()
	result, err := a.AnalyzeFile(context.Background(), path, models.Settings{Threshold: 0.1, FileSizeLimit: 5})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "exceeds limit")
}

func TestAnalyzer_NoEntitiesInCleanText(t *testing.T) {
	path := writeTemp(t, "a.txt", "Just a friendly status report with no PII in it at all.")

	a := New()
	result, err := a.AnalyzeFile(context.Background(), path, models.Settings{Threshold: 0.1, FileSizeLimit: 1 << 20})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Entities)
}
