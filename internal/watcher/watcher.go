// Package watcher ingests record files dropped into spool directories. It
// watches the directories with fsnotify, debounces writes, and reports
// removed files so their records can be deleted.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler is called with the absolute path of a spool file.
type Handler func(path string)

// Spool watches spool directories and calls onIngest for new or changed
// files and onRemove for files that were deleted or moved away.
type Spool struct {
	roots      []string
	extensions []string
	recursive  bool
	onIngest   Handler
	onRemove   Handler
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	pending   map[string]*time.Timer
	rootPaths map[string][]string // root -> watched directories under it
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
}

// Option configures a Spool.
type Option func(*Spool)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Spool) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(s *Spool) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// New creates a spool watcher over roots. extensions filter which files are
// ingested (empty means all).
func New(roots []string, extensions []string, recursive bool, onIngest, onRemove Handler, opts ...Option) *Spool {
	s := &Spool{
		roots:      append([]string(nil), roots...),
		extensions: extensions,
		recursive:  recursive,
		onIngest:   onIngest,
		onRemove:   onRemove,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		rootPaths:  make(map[string][]string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins watching. Missing roots are created. It runs until ctx is
// cancelled or Stop is called.
func (s *Spool) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.watcher = w
	s.started = true
	s.logger.Debug("spool starting",
		zap.Strings("roots", s.roots), zap.Strings("extensions", s.extensions), zap.Bool("recursive", s.recursive))
	for _, root := range s.roots {
		if err := s.addRootLocked(root); err != nil {
			_ = s.watcher.Close()
			s.watcher = nil
			s.started = false
			s.mu.Unlock()
			return err
		}
	}
	events, errs := w.Events, w.Errors
	s.mu.Unlock()
	go s.run(ctx, events, errs)
	return nil
}

func (s *Spool) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.Warn("spool watcher error", zap.Error(err))
		}
	}
}

func (s *Spool) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !s.underRoot(path) {
		return
	}
	s.logger.Debug("spool event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			s.handleNewDirectory(path)
			return
		}
		if s.matchExtension(path) {
			s.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		s.cancel(path)
		if s.matchExtension(path) && s.onRemove != nil {
			s.onRemove(path)
		}
	}
}

// handleNewDirectory watches a directory created under a root and ingests
// the files already inside it.
func (s *Spool) handleNewDirectory(dir string) {
	s.mu.Lock()
	w := s.watcher
	recursive := s.recursive
	s.mu.Unlock()
	if w == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				s.logger.Debug("spool failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
	s.syncDirectory(dir)
}

func (s *Spool) underRoot(path string) bool {
	s.mu.Lock()
	roots := append([]string(nil), s.roots...)
	s.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		rootClean := filepath.Clean(root)
		if rootClean == clean || inDir(rootClean, clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Spool) matchExtension(path string) bool {
	return matchExtension(path, s.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule ingests path once it has been quiet for the debounce interval.
func (s *Spool) schedule(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[path]; ok {
		t.Stop()
	}
	s.pending[path] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
		s.logger.Debug("spool ingesting file", zap.String("path", path))
		if s.onIngest != nil {
			s.onIngest(path)
		}
	})
}

func (s *Spool) cancel(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[path]; ok {
		t.Stop()
		delete(s.pending, path)
	}
}

// AddDirectory adds a root and optionally ingests the files already in it.
func (s *Spool) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	for _, r := range s.roots {
		if filepath.Clean(r) == abs {
			return nil
		}
	}
	if err := s.addRootLocked(abs); err != nil {
		return err
	}
	s.roots = append(s.roots, abs)
	s.logger.Debug("spool directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting && s.onIngest != nil {
		go s.syncDirectory(abs)
	}
	return nil
}

func (s *Spool) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var paths []string
	if s.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			if err := s.watcher.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := s.watcher.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	s.rootPaths[root] = paths
	return nil
}

// syncDirectory ingests every matching file under root.
func (s *Spool) syncDirectory(root string) {
	s.mu.Lock()
	recursive := s.recursive
	s.mu.Unlock()
	s.logger.Debug("spool syncing directory", zap.String("root", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if s.matchExtension(path) && s.onIngest != nil {
			s.onIngest(path)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Records already ingested from it stay.
func (s *Spool) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	idx := -1
	for i, r := range s.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range s.rootPaths[abs] {
		_ = s.watcher.Remove(p)
	}
	delete(s.rootPaths, abs)
	s.roots = append(s.roots[:idx], s.roots[idx+1:]...)
	s.logger.Debug("spool directory removed", zap.String("path", abs))
	return nil
}

// Directories returns a copy of the current roots.
func (s *Spool) Directories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roots...)
}

// SyncExistingFiles ingests the files already present in every root. Call
// it after Start.
func (s *Spool) SyncExistingFiles() {
	for _, root := range s.Directories() {
		s.syncDirectory(root)
	}
}

// Stop stops watching and cancels pending ingests.
func (s *Spool) Stop() {
	s.mu.Lock()
	if !s.started || s.watcher == nil {
		s.mu.Unlock()
		return
	}
	for path, t := range s.pending {
		t.Stop()
		delete(s.pending, path)
	}
	_ = s.watcher.Close()
	s.watcher = nil
	s.started = false
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.done) })
}
