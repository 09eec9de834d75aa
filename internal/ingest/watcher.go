package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fieldarchive/ingestor/constants"
)

// Watcher feeds files dropped into a directory tree to the ingest service.
// The theme for a file is its first-level subdirectory name ("" for files
// at the root). Writes are debounced so partially copied files settle
// before they are enqueued.
type Watcher struct {
	svc      *Service
	root     string
	tenantID string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher builds a drop-dir watcher rooted at dir.
func NewWatcher(svc *Service, dir, tenantID string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		svc:      svc,
		root:     dir,
		tenantID: tenantID,
		debounce: debounce,
		logger:   logger.With("component", "watcher"),
		pending:  map[string]*time.Timer{},
	}
}

// Run scans the tree once, then watches for new files until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.root); err != nil {
		return err
	}
	w.initialScan(ctx)

	for {
		select {
		case <-ctx.Done():
			w.drainTimers()
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Op.Has(fsnotify.Create) {
			// Files may land in the new directory before its watch is in
			// place; pick them up while walking.
			err := filepath.WalkDir(ev.Name, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return fw.Add(path)
				}
				if w.eligible(path) {
					w.schedule(ctx, path)
				}
				return nil
			})
			if err != nil {
				w.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
		}
		return
	}
	if !w.eligible(ev.Name) {
		return
	}
	w.schedule(ctx, ev.Name)
}

// schedule (re)arms the debounce timer for a path; the submit fires only
// after the file has been quiet for the debounce window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.submit(ctx, path)
	})
}

func (w *Watcher) submit(ctx context.Context, path string) {
	res, err := w.svc.Submit(ctx, SubmitParams{
		FilePath: path,
		Theme:    w.themeFor(path),
		TenantID: w.tenantID,
	})
	if err != nil {
		w.logger.Warn("drop-dir submit failed", "file_path", path, "error", err)
		return
	}
	if res.Deduped {
		w.logger.Info("drop-dir file already ingested", "file_path", path, "sha256", res.SHA256)
		return
	}
	w.logger.Info("drop-dir file enqueued", "file_path", path, "task_id", res.TaskID)
}

// initialScan enqueues files already present when the watcher starts.
func (w *Watcher) initialScan(ctx context.Context) {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if w.eligible(path) {
			w.submit(ctx, path)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("initial scan failed", "dir", w.root, "error", err)
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) eligible(path string) bool {
	base := filepath.Base(path)
	if len(base) > 0 && base[0] == '.' {
		return false
	}
	ext := constants.NormalizeExt(filepath.Ext(path))
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

func (w *Watcher) themeFor(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return ""
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return ""
	}
	for {
		parent := filepath.Dir(dir)
		if parent == "." {
			return dir
		}
		dir = parent
	}
}

func (w *Watcher) drainTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
