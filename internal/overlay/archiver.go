package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/warpcomdev/camerad/internal/exporter"
	"github.com/warpcomdev/camerad/internal/frame"
	"github.com/warpcomdev/camerad/internal/servicelog"
)

const (
	fiveMinInterval = 5 * time.Minute
	fiveMinRetain   = 24 * time.Hour
	hourlyInterval  = 60 * time.Minute
	hourlyRetain    = 28 * 24 * time.Hour
)

// Archiver persists two tiered snapshot series under BaseDir, per
// spec.md §4.10: a 5-minute series retained 24 hours, and an hourly
// series retained 28 days. All timers are wall-clock, not frame
// counts; retention is enforced by an mtime sweep on every save.
// Grounded on the teacher's watcher/fileHistory.go dual-dispatch shape
// (wall-clock ticker plus an fsnotify watch on the same directory),
// simplified to this spec's single-writer save-then-sweep loop.
type Archiver struct {
	BaseDir string
	Logger  servicelog.Logger

	lastFiveMin time.Time
	lastHourly  time.Time
	watcher     *fsnotify.Watcher
}

// NewArchiver builds an Archiver rooted at baseDir, creating it if
// needed, and starts an fsnotify watch used only to log externally
// deleted archive files promptly (the sweep on save remains the sole
// authoritative retention mechanism).
func NewArchiver(baseDir string, logger servicelog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = servicelog.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("overlay: mkdir %s: %w", baseDir, err)
	}
	a := &Archiver{BaseDir: baseDir, Logger: logger}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("overlay: fsnotify unavailable, archiver sweep remains the only retention check", servicelog.Error(err))
		return a, nil
	}
	if err := watcher.Add(baseDir); err != nil {
		watcher.Close()
		logger.Warn("overlay: fsnotify watch failed", servicelog.Error(err))
		return a, nil
	}
	a.watcher = watcher
	go a.watchRemovals()
	return a, nil
}

func (a *Archiver) watchRemovals() {
	for event := range a.watcher.Events {
		if event.Has(fsnotify.Remove) {
			a.Logger.Info("overlay: archive file removed externally", servicelog.String("file", event.Name))
		}
	}
}

// Close stops the fsnotify watch, if any.
func (a *Archiver) Close() error {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Close()
}

// Record is called once per annotated frame. It saves a tier snapshot
// whenever that tier's interval has elapsed since its last save (the
// very first frame always triggers both tiers), then sweeps the
// directory for expired files of that tier.
func (a *Archiver) Record(now time.Time, rec *frame.Record) {
	if a.lastFiveMin.IsZero() || now.Sub(a.lastFiveMin) >= fiveMinInterval {
		a.save(now, rec, "frame_5min_20060102_1504", fiveMinRetain, "frame_5min_")
		a.lastFiveMin = now
	}
	if a.lastHourly.IsZero() || now.Sub(a.lastHourly) >= hourlyInterval {
		a.save(now, rec, "frame_hourly_20060102_15", hourlyRetain, "frame_hourly_")
		a.lastHourly = now
	}
}

func (a *Archiver) save(now time.Time, rec *frame.Record, layout string, retain time.Duration, prefix string) {
	name := now.Format(layout) + ".jpg"
	path := filepath.Join(a.BaseDir, name)
	data, err := exporter.EncodeJPEG(rec.Image, 90)
	if err != nil {
		a.Logger.Error("overlay: archive encode failed", servicelog.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		a.Logger.Error("overlay: archive write failed", servicelog.Error(err))
		return
	}
	a.sweep(now, retain, prefix)
}

func (a *Archiver) sweep(now time.Time, retain time.Duration, prefix string) {
	entries, err := os.ReadDir(a.BaseDir)
	if err != nil {
		a.Logger.Error("overlay: archive sweep readdir failed", servicelog.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || len(entry.Name()) < len(prefix) || entry.Name()[:len(prefix)] != prefix {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > retain {
			path := filepath.Join(a.BaseDir, entry.Name())
			if err := os.Remove(path); err != nil {
				a.Logger.Warn("overlay: archive expire failed", servicelog.String("file", path), servicelog.Error(err))
			}
		}
	}
}
