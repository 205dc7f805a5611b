package indexing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ignoredDirs are never watched below a recursive root
var ignoredDirs = map[string]bool{
	"bin":  true,
	"obj":  true,
	".git": true,
	".vs":  true,
}

// FileWatcher watches a changing set of directories and reports relevant
// paths. Which paths are relevant is decided by the owner, typically a
// project comparing against its project file and references.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	relevant func(path string) bool
	onChange func(path string)

	mu        sync.Mutex
	watched   map[string]bool
	recursive []string

	// Watch mode statistics
	eventsProcessed int64
	errorCount      int64
	lastEventTime   time.Time
	statsMu         sync.RWMutex
}

// NewFileWatcher creates a watcher. relevant filters event paths; onChange
// is called for each relevant create, write, remove or rename.
func NewFileWatcher(logger *zap.Logger, relevant func(string) bool, onChange func(string)) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FileWatcher{
		watcher:  watcher,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		relevant: relevant,
		onChange: onChange,
		watched:  make(map[string]bool),
	}, nil
}

// Start begins processing events
func (fw *FileWatcher) Start() {
	fw.wg.Add(1)
	go fw.processEvents()
}

// Stop stops the file watcher and waits for the event loop to exit
func (fw *FileWatcher) Stop() error {
	fw.cancel()
	err := fw.watcher.Close()
	fw.wg.Wait()
	if err != nil {
		return fmt.Errorf("close fsnotify watcher: %w", err)
	}
	return nil
}

// Sync makes the watch set exactly dirs plus every directory beneath the
// recursive roots. Directories that do not exist yet are skipped.
func (fw *FileWatcher) Sync(dirs, recursive []string) error {
	want := make(map[string]bool)
	for _, d := range dirs {
		if isDir(d) {
			want[filepath.Clean(d)] = true
		}
	}
	for _, root := range recursive {
		fw.collectTree(root, want)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.recursive = append(fw.recursive[:0], recursive...)

	var errs []error
	for d := range fw.watched {
		if !want[d] {
			if err := fw.watcher.Remove(d); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
				fw.logger.Debug("failed to remove watch", zap.String("dir", d), zap.Error(err))
			}
			delete(fw.watched, d)
		}
	}
	for d := range want {
		if fw.watched[d] {
			continue
		}
		if err := fw.watcher.Add(d); err != nil {
			errs = append(errs, fmt.Errorf("watch %s: %w", d, err))
			continue
		}
		fw.watched[d] = true
	}
	return errors.Join(errs...)
}

// Watched lists the directories currently watched
func (fw *FileWatcher) Watched() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	out := make([]string, 0, len(fw.watched))
	for d := range fw.watched {
		out = append(out, d)
	}
	return out
}

// collectTree adds root and its subdirectories, skipping build output and
// symlink cycles
func (fw *FileWatcher) collectTree(root string, into map[string]bool) {
	visited := make(map[string]bool)
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		if path != root && ignoredDirs[strings.ToLower(info.Name())] {
			return filepath.SkipDir
		}
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil || visited[realPath] {
			return filepath.SkipDir
		}
		visited[realPath] = true
		into[filepath.Clean(path)] = true
		return nil
	})
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.incrementStats(0, 1)
			fw.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(event.Name)

	if event.Has(fsnotify.Create) && isDir(path) && fw.underRecursiveRoot(path) {
		fw.mu.Lock()
		if !fw.watched[path] && !ignoredDirs[strings.ToLower(filepath.Base(path))] {
			if err := fw.watcher.Add(path); err == nil {
				fw.watched[path] = true
			}
		}
		fw.mu.Unlock()
	}

	if fw.relevant != nil && !fw.relevant(path) {
		return
	}
	fw.incrementStats(1, 0)
	fw.logger.Debug("relevant change", zap.String("path", path), zap.Stringer("op", event.Op))
	if fw.onChange != nil {
		fw.onChange(path)
	}
}

func (fw *FileWatcher) underRecursiveRoot(path string) bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for _, root := range fw.recursive {
		if IsWithin(root, path) {
			return true
		}
	}
	return false
}

// IsWithin reports whether path is root or lies beneath it
func IsWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (fw *FileWatcher) incrementStats(events int64, errors int64) {
	fw.statsMu.Lock()
	defer fw.statsMu.Unlock()

	fw.eventsProcessed += events
	fw.errorCount += errors
	fw.lastEventTime = time.Now()
}

// GetStats returns current watch statistics
func (fw *FileWatcher) GetStats() WatchStats {
	fw.statsMu.RLock()
	defer fw.statsMu.RUnlock()

	return WatchStats{
		EventsProcessed: fw.eventsProcessed,
		ErrorCount:      fw.errorCount,
		LastEventTime:   fw.lastEventTime,
		IsActive:        fw.ctx.Err() == nil,
	}
}

// WatchStats contains statistics about file watching
type WatchStats struct {
	EventsProcessed int64
	ErrorCount      int64
	LastEventTime   time.Time
	IsActive        bool
}
