package spectrogram

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
)

// Janitor removes rendered images that outlived their TTL. Surfaces delete
// the image once consumed; the janitor catches files whose caller went away.
type Janitor struct {
	dir      string
	ttl      time.Duration
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// NewJanitor creates a Janitor sweeping dir every interval.
func NewJanitor(dir string, ttl, interval time.Duration, log *logger.Logger) *Janitor {
	return &Janitor{
		dir:      dir,
		ttl:      ttl,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed := j.Sweep()
			if removed > 0 {
				j.log.Info("Removed %d stale spectrogram images from %s", removed, j.dir)
			}
		}
	}
}

// Sweep deletes expired images once and returns how many were removed.
func (j *Janitor) Sweep() int {
	matches, err := filepath.Glob(filepath.Join(j.dir, FilePattern))
	if err != nil {
		j.log.Warn("Failed to list spectrogram images in %s: %v", j.dir, err)

		return 0
	}

	cutoff := j.now().Add(-j.ttl)
	removed := 0

	for _, path := range matches {
		info, statErr := os.Stat(path)
		if statErr != nil || info.ModTime().After(cutoff) {
			continue
		}

		removeErr := os.Remove(path)
		if removeErr != nil {
			j.log.Warn("Failed to remove stale spectrogram '%s': %v", path, removeErr)

			continue
		}

		removed++
	}

	return removed
}
