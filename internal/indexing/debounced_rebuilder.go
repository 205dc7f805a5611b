package indexing

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RebuildFunc rebuilds after the listed paths changed. ctx is cancelled when
// the rebuilder shuts down.
type RebuildFunc func(ctx context.Context, changed []string)

// DebouncedRebuilder collapses bursts of change notifications into a single
// rebuild that runs once the burst has been quiet for the debounce period
type DebouncedRebuilder struct {
	rebuild RebuildFunc
	logger  *zap.Logger

	// Debounce settings
	debounceTime time.Duration
	timer        *time.Timer
	mu           sync.Mutex

	// Paths changed since the last rebuild
	pending map[string]bool
	closed  bool

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Optional callback for test synchronization
	onRebuildComplete func()
}

// NewDebouncedRebuilder creates a new debounced rebuilder
func NewDebouncedRebuilder(rebuild RebuildFunc, debounce time.Duration, logger *zap.Logger) *DebouncedRebuilder {
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &DebouncedRebuilder{
		rebuild:      rebuild,
		logger:       logger,
		debounceTime: debounce,
		pending:      make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ScheduleRebuild records a changed path and restarts the debounce period
func (dr *DebouncedRebuilder) ScheduleRebuild(path string) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if dr.closed {
		return
	}

	dr.pending[path] = true

	if dr.timer != nil {
		dr.timer.Stop()
	}
	dr.timer = time.AfterFunc(dr.debounceTime, dr.performRebuild)

	dr.logger.Debug("scheduled rebuild", zap.String("path", path), zap.Int("pending", len(dr.pending)))
}

// performRebuild runs the rebuild for everything pending
func (dr *DebouncedRebuilder) performRebuild() {
	dr.mu.Lock()
	if dr.closed || len(dr.pending) == 0 {
		dr.mu.Unlock()
		return
	}
	changed := make([]string, 0, len(dr.pending))
	for path := range dr.pending {
		changed = append(changed, path)
	}
	dr.pending = make(map[string]bool)
	callback := dr.onRebuildComplete
	dr.wg.Add(1)
	dr.mu.Unlock()
	defer dr.wg.Done()

	slices.Sort(changed)
	dr.logger.Debug("starting debounced rebuild", zap.Int("changed", len(changed)))
	startTime := time.Now()

	dr.rebuild(dr.ctx, changed)

	dr.logger.Debug("completed debounced rebuild", zap.Duration("duration", time.Since(startTime)))

	if callback != nil {
		callback()
	}
}

// Shutdown stops the rebuilder and waits for a running rebuild to return.
// Pending changes are dropped.
func (dr *DebouncedRebuilder) Shutdown() {
	dr.cancel()

	dr.mu.Lock()
	dr.closed = true
	if dr.timer != nil {
		dr.timer.Stop()
	}
	dr.mu.Unlock()

	dr.wg.Wait()
}

// SetDebounceTime updates the debounce time for subsequent schedules
func (dr *DebouncedRebuilder) SetDebounceTime(d time.Duration) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	dr.debounceTime = d
}

// GetPendingCount returns the number of paths pending rebuild
func (dr *DebouncedRebuilder) GetPendingCount() int {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	return len(dr.pending)
}

// ForceRebuild immediately runs a rebuild of whatever is pending
func (dr *DebouncedRebuilder) ForceRebuild() {
	dr.mu.Lock()
	if dr.timer != nil {
		dr.timer.Stop()
	}
	dr.mu.Unlock()

	dr.performRebuild()
}

// SetOnRebuildComplete sets a callback to be invoked when rebuild completes (for testing).
func (dr *DebouncedRebuilder) SetOnRebuildComplete(callback func()) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	dr.onRebuildComplete = callback
}
