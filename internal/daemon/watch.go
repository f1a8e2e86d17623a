package daemon

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tanda/internal"
	"github.com/starford/tanda/internal/models"
)

// debounceDelay coalesces bursts of file events into one action. Editors and
// atomic rewrites produce several events per logical change.
const debounceDelay = 200 * time.Millisecond

// traceExtensions are the artifact suffixes picked up by the trace watcher.
var traceExtensions = []string{".zip"}

// watchLog watches the registry directory and imports the log into the cache
// on changes. The projector's digest check makes the daemon's own export
// writes a no-op here.
func (d *Daemon) watchLog(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory, not the file: atomic rewrites replace the inode.
	if err := w.Add(d.cfg.Registry.Dir); err != nil {
		return err
	}
	d.logger.Info("log watcher started", slog.String("path", d.cfg.Registry.LogPath()))

	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounceDelay)
			timerCh = timer.C
		} else {
			timer.Reset(debounceDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			d.logger.Info("log watcher stopped")
			return nil

		case <-timerCh:
			if _, ran, err := d.proj.Import(false); err != nil {
				d.logger.Warn("watcher: import failed", slog.String("error", err.Error()))
			} else if ran {
				d.logger.Debug("watcher: log change imported")
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != internal.LogFileName {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// watchTraces watches the trace directory and feeds new artifacts into the
// inbox. A missing directory disables the watcher rather than failing the
// daemon.
func (d *Daemon) watchTraces(ctx context.Context) error {
	dir := d.cfg.Daemon.TraceDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(d.cfg.Registry.Root(), dir)
	}
	if _, err := os.Stat(dir); err != nil {
		d.logger.Info("trace watcher disabled, directory missing", slog.String("path", dir))
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, dir); err != nil {
		return err
	}
	d.logger.Info("trace watcher started", slog.String("path", dir))

	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounceDelay)
			timerCh = timer.C
		} else {
			timer.Reset(debounceDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			d.logger.Info("trace watcher stopped")
			return nil

		case <-timerCh:
			n, err := d.inbox.Scan(dir, traceExtensions, "watch", models.Now())
			if err != nil {
				d.logger.Warn("trace watcher: scan failed", slog.String("error", err.Error()))
			} else if n > 0 {
				d.logger.Info("trace watcher: new traces queued", slog.Int("count", n))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						d.logger.Warn("trace watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					schedule()
					continue
				}
			}
			for _, ext := range traceExtensions {
				if strings.HasSuffix(ev.Name, ext) {
					schedule()
					break
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("trace watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
