// Package piidetect is the bundled default AnalyzeFile implementation
// (spec §6, supplemented per SPEC_FULL.md §12.2): text extraction plus a
// small set of regex recognizers. It exists so the repository runs
// end-to-end out of the box; operators with a real detector (e.g.
// Presidio, explicitly out of scope per spec §1) substitute their own
// interfaces.Analyzer without touching the Scheduler.
package piidetect

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/piiscan/internal/interfaces"
	"github.com/bobmcallan/piiscan/internal/models"
)

// Analyzer is the default interfaces.Analyzer.
type Analyzer struct{}

// New returns the default Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// AnalyzeFile implements interfaces.Analyzer. It enforces
// settings.FileSizeLimit itself (spec §9's first Open Question, resolved
// in favor of analyzer-side enforcement): oversized files return a clean
// AnalyzeResult with Success=false rather than being read into memory.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string, settings models.Settings) (models.AnalyzeResult, error) {
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return models.AnalyzeResult{Success: false, ErrorMessage: fmt.Sprintf("stat failed: %v", err)}, nil
	}
	if settings.FileSizeLimit > 0 && info.Size() > settings.FileSizeLimit {
		return models.AnalyzeResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("file size %d exceeds limit %d", info.Size(), settings.FileSizeLimit),
		}, nil
	}

	select {
	case <-ctx.Done():
		return models.AnalyzeResult{}, ctx.Err()
	default:
	}

	text, err := extractText(path, extensionOf(path))
	if err != nil {
		return models.AnalyzeResult{Success: false, ErrorMessage: err.Error()}, nil
	}

	entities := detect(text, settings.Threshold)

	return models.AnalyzeResult{
		Success:        true,
		Entities:       entities,
		Metadata:       map[string]interface{}{"extracted_chars": len(text)},
		ProcessingTime: time.Since(start).Seconds(),
	}, nil
}

// detect runs every recognizer over text and keeps matches whose score
// meets threshold.
func detect(text string, threshold float64) []models.DetectedEntity {
	var out []models.DetectedEntity
	for _, r := range recognizers {
		if r.score < threshold {
			continue
		}
		for _, loc := range r.pattern.FindAllStringIndex(text, -1) {
			out = append(out, models.DetectedEntity{
				EntityType: r.entityType,
				Text:       text[loc[0]:loc[1]],
				Score:      r.score,
				StartPos:   loc[0],
				EndPos:     loc[1],
			})
		}
	}
	return out
}

var _ interfaces.Analyzer = (*Analyzer)(nil)
