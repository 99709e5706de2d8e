// Package watcher polls a drop folder for new bank files and feeds them
// to the importer once they stop changing. Polling rather than inotify:
// the drop folder typically lives on a NAS or Docker volume where
// filesystem events are unreliable.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/momoney/internal/importer"
	"github.com/dvloznov/momoney/internal/logger"
)

// Polling and stability defaults, tuned for slow bank-app exports that
// write files in chunks.
const (
	DefaultPollInterval    = 30 * time.Second
	DefaultStabilityWindow = 10 * time.Second
	DefaultCheckInterval   = 2 * time.Second
	DefaultMaxWait         = 5 * time.Minute
)

// Processor handles one stable file. *importer.Importer satisfies it.
type Processor interface {
	ProcessFile(ctx context.Context, path string) (*importer.Result, error)
}

// Watcher scans a directory on an interval and imports stable files.
type Watcher struct {
	Dir             string
	Processor       Processor
	PollInterval    time.Duration
	StabilityWindow time.Duration
	CheckInterval   time.Duration
	MaxWait         time.Duration

	seen map[string]bool
}

// New creates a watcher over dir with default timing.
func New(dir string, proc Processor) *Watcher {
	return &Watcher{
		Dir:             dir,
		Processor:       proc,
		PollInterval:    DefaultPollInterval,
		StabilityWindow: DefaultStabilityWindow,
		CheckInterval:   DefaultCheckInterval,
		MaxWait:         DefaultMaxWait,
		seen:            make(map[string]bool),
	}
}

// Run polls until the context is cancelled. Files are processed
// sequentially to avoid store contention.
func (w *Watcher) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("Run: creating watch dir: %w", err)
	}
	log.Info().Str("dir", w.Dir).Msg("watching for new bank files")

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		w.ScanOnce(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("file watcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce processes every unseen, supported file currently in the
// watch directory and returns how many were handled.
func (w *Watcher) ScanOnce(ctx context.Context) int {
	log := logger.FromContext(ctx)

	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		log.Error().Err(err).Str("dir", w.Dir).Msg("failed to read watch dir")
		return 0
	}

	present := make(map[string]bool, len(entries))
	handled := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.Dir, entry.Name())
		if !importer.SupportedExtensions[strings.ToLower(filepath.Ext(path))] {
			continue
		}
		present[path] = true
		if w.seen[path] {
			continue
		}
		w.seen[path] = true
		log.Info().Str("file", entry.Name()).Msg("new file detected")
		w.handleFile(ctx, path)
		handled++
	}

	// Forget files that left the folder so a re-drop is picked up again.
	for path := range w.seen {
		if !present[path] {
			delete(w.seen, path)
		}
	}
	return handled
}

func (w *Watcher) handleFile(ctx context.Context, path string) {
	log := logger.FromContext(ctx)
	name := filepath.Base(path)

	if err := WaitForStable(ctx, path, w.StabilityWindow, w.CheckInterval, w.MaxWait); err != nil {
		log.Error().Err(err).Str("file", name).Msg("file never stabilized")
		return
	}
	if err := ValidateCompleteness(path); err != nil {
		log.Error().Err(err).Str("file", name).Msg("file failed completeness check")
		return
	}

	result, err := w.Processor.ProcessFile(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("import failed")
		return
	}
	log.Info().
		Str("file", name).
		Str("status", result.Status).
		Int("new", result.NewCount).
		Int("duplicates", result.DuplicateCount).
		Int("flagged", result.FlaggedCount).
		Msg("import finished")
}

// WaitForStable blocks until the file's size and mtime have not changed
// for the stability window, or maxWait elapses.
func WaitForStable(ctx context.Context, path string, window, checkEvery, maxWait time.Duration) error {
	var (
		prevSize    int64 = -1
		prevMod     time.Time
		stableSince time.Time
	)
	deadline := time.Now().Add(maxWait)

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("WaitForStable: file did not stabilize within %s: %s", maxWait, path)
		}

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("WaitForStable: %w", err)
		}
		if info.Size() == prevSize && info.ModTime().Equal(prevMod) {
			if stableSince.IsZero() {
				stableSince = time.Now()
			} else if time.Since(stableSince) >= window {
				return nil
			}
		} else {
			stableSince = time.Time{}
		}
		prevSize = info.Size()
		prevMod = info.ModTime()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(checkEvery):
		}
	}
}

// ValidateCompleteness rejects files that stabilized mid-write: a CSV
// must end with a newline, an OFX/QFX file must carry its closing tag.
func ValidateCompleteness(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("ValidateCompleteness: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("ValidateCompleteness: %w", err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("ValidateCompleteness: empty CSV file: %s", path)
		}
		buf := make([]byte, 1)
		if _, err := f.ReadAt(buf, info.Size()-1); err != nil {
			return fmt.Errorf("ValidateCompleteness: %w", err)
		}
		if buf[0] != '\n' && buf[0] != '\r' {
			return fmt.Errorf("ValidateCompleteness: CSV does not end with newline: %s", path)
		}
	case ".qfx", ".ofx":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("ValidateCompleteness: %w", err)
		}
		if !strings.Contains(strings.ToUpper(string(data)), "</OFX>") {
			return fmt.Errorf("ValidateCompleteness: missing closing OFX tag: %s", path)
		}
	}
	return nil
}
