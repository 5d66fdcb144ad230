// Package discovery implements the recursive directory walk (spec §6
// "Directory walker contract", supplemented per SPEC_FULL.md §12.3): it
// enumerates candidate files under a root, filters by extension (size is
// recorded, not filtered), and registers them with the Result Store in
// batches.
package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/control"
	"github.com/bobmcallan/piiscan/internal/interfaces"
	"github.com/bobmcallan/piiscan/internal/models"
	"golang.org/x/time/rate"
)

// registerBatchSize is how many discovered files accumulate before a
// RegisterFiles call, trading Store round-trips for walk latency.
const registerBatchSize = 500

// Walker implements interfaces.DirectoryWalker with filepath.WalkDir.
type Walker struct {
	logger  *common.Logger
	stop    *control.StopSignal
	limiter *rate.Limiter
}

// New returns a Walker observing the given stop signal between entries
// (spec §5 "Cancellation" point (a)).
func New(logger *common.Logger, stop *control.StopSignal) *Walker {
	return &Walker{logger: logger, stop: stop}
}

// WithRateLimit caps the walk to at most n accepted files (those whose
// extension passes the filter) stat'ed per second, the same
// golang.org/x/time/rate the teacher uses to throttle outbound calls,
// here protecting network-mounted trees from scan bursts. Directories
// and files with other extensions are not throttled. n <= 0 leaves the
// walk unlimited.
func (w *Walker) WithRateLimit(n float64) *Walker {
	if n <= 0 {
		return w
	}
	w.limiter = rate.NewLimiter(rate.Limit(n), int(n)+1)
	return w
}

// ScanDirectory walks root, registering every file whose lowercased
// extension is in extensions with the store under jobID. Size is
// recorded but not filtered here; settings.FileSizeLimit is enforced by
// the Analyzer (internal/piidetect), not at discovery time. progress is
// invoked after every flushed batch with a running files_scanned count.
func (w *Walker) ScanDirectory(ctx context.Context, store interfaces.ResultStore, jobID int64, root string, extensions map[string]bool, progress func(models.ScanProgress)) (int, error) {
	var paths, types []string
	var sizes []int64
	scanned := 0
	added := 0

	flush := func() error {
		if len(paths) == 0 {
			return nil
		}
		n, err := store.RegisterFiles(ctx, jobID, paths, types, sizes)
		if err != nil {
			return fmt.Errorf("register files batch: %w", err)
		}
		added += n
		paths, types, sizes = paths[:0], types[:0], sizes[:0]
		if progress != nil {
			progress(models.ScanProgress{Type: "progress", FilesScanned: scanned})
		}
		return nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if w.stop.IsRaised() {
			return filepath.SkipAll
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("walk error, skipping entry")
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !extensions[ext] {
			return nil
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return filepath.SkipAll
			}
		}

		info, err := d.Info()
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("stat failed, skipping entry")
			return nil
		}

		paths = append(paths, path)
		types = append(types, ext)
		sizes = append(sizes, info.Size())
		scanned++

		if len(paths) >= registerBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("walk %s: %w", root, err)
	}

	if flushErr := flush(); flushErr != nil {
		return added, flushErr
	}

	return added, nil
}
