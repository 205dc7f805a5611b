// Package project keeps one index per registered project file current. A
// Project resolves its references, builds a snapshot and catalog, and when
// watching rebuilds both whenever the project file or a reference changes.
// Readers load the current view with a single atomic load, so a query never
// mixes two builds.
package project

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/autousing/internal/catalog"
	"github.com/standardbeagle/autousing/internal/config"
	"github.com/standardbeagle/autousing/internal/indexing"
	"github.com/standardbeagle/autousing/internal/metrics"
	"github.com/standardbeagle/autousing/internal/types"
)

// Options configures Open
type Options struct {
	Watch    bool
	Indexer  *indexing.Indexer
	Resolver *Resolver
	Debounce time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// OptionsFromConfig wires an indexer and resolver from configuration
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (Options, error) {
	ix, err := indexing.NewIndexer(indexing.OptionsFromConfig(cfg, logger, m))
	if err != nil {
		return Options{}, err
	}
	return Options{
		Watch:    cfg.Watch.Enabled,
		Indexer:  ix,
		Resolver: ResolverFromConfig(cfg, logger),
		Debounce: cfg.Watch.Debounce(),
		Logger:   logger,
		Metrics:  m,
	}, nil
}

// view is everything one build produced. It is replaced whole, never edited.
type view struct {
	snapshot *types.Snapshot
	catalog  *catalog.Catalog
	refs     *ProjectFile
}

// watchSet is what the watcher reacts to for the current view
type watchSet struct {
	files   map[string]bool
	sources []string
}

// Stats describes the build history of a project
type Stats struct {
	Rebuilds      int64         `json:"rebuilds"`
	LastBuild     time.Time     `json:"last_build"`
	LastDuration  time.Duration `json:"last_duration"`
	LoadFailures  int           `json:"load_failures"`
	FailedReparse int64         `json:"failed_reparses"`

	// Watch mode only
	WatchedDirs    int   `json:"watched_dirs,omitempty"`
	WatchEvents    int64 `json:"watch_events,omitempty"`
	PendingChanges int   `json:"pending_changes,omitempty"`
}

// Info is the externally visible state of a project
type Info struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Path       string              `json:"path"`
	Status     types.Status        `json:"status"`
	Watching   bool                `json:"watching"`
	Types      int                 `json:"types"`
	Extensions int                 `json:"extensions"`
	References int                 `json:"references"`
	Unresolved []string            `json:"unresolved,omitempty"`
	Failures   []types.LoadFailure `json:"failures,omitempty"`
	Stats      Stats               `json:"stats"`
}

// Project is one registered project file
type Project struct {
	id      types.ProjectID
	name    string
	path    string
	watch   bool
	indexer *indexing.Indexer
	refs    *Resolver
	logger  *zap.Logger
	metrics *metrics.Metrics

	current atomic.Pointer[view]
	status  atomic.Value
	watched atomic.Pointer[watchSet]

	rebuildMu sync.Mutex
	rebuilder *indexing.DebouncedRebuilder
	watcher   *indexing.FileWatcher

	rebuilds      atomic.Int64
	failedReparse atomic.Int64

	disposeOnce sync.Once
	disposed    atomic.Bool
	// life is cancelled by Dispose and aborts any rebuild in flight
	life       context.Context
	cancelLife context.CancelFunc

	hookMu            sync.Mutex
	onRebuildComplete func()
}

// Open parses the project file, builds its index and, when opts.Watch is
// set, starts watching. The project is Ready when Open returns.
func Open(ctx context.Context, path string, opts Options) (*Project, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = NewResolver(ResolverOptions{Logger: opts.Logger})
	}
	if opts.Indexer == nil {
		ix, err := indexing.NewIndexer(indexing.Options{Logger: opts.Logger, Metrics: opts.Metrics})
		if err != nil {
			return nil, err
		}
		opts.Indexer = ix
	}

	refs, err := opts.Resolver.Resolve(path)
	if err != nil {
		return nil, err
	}

	p := &Project{
		id:      types.NewProjectID(),
		name:    refs.Name,
		path:    refs.Path,
		watch:   opts.Watch,
		indexer: opts.Indexer,
		refs:    opts.Resolver,
		metrics: opts.Metrics,
	}
	p.logger = opts.Logger.Named("project").With(zap.String("project", p.name), zap.Stringer("id", p.id))
	p.status.Store(types.StatusLoading)

	snap, err := p.indexer.BuildIndex(ctx, p.id, refs.Paths())
	if err != nil {
		return nil, err
	}
	p.current.Store(&view{snapshot: snap, catalog: catalog.New(snap), refs: refs})
	p.life, p.cancelLife = context.WithCancel(context.Background())
	p.status.Store(types.StatusReady)
	p.logger.Info("project indexed",
		zap.String("path", p.path),
		zap.Int("types", snap.Stats().Types),
		zap.Int("extensions", snap.Stats().Extension),
		zap.Int("failures", snap.Stats().Failures),
		zap.Duration("duration", snap.Stats().Duration))

	if opts.Watch {
		if err := p.startWatching(opts.Debounce, refs); err != nil {
			p.logger.Warn("watching disabled", zap.Error(err))
			p.watch = false
		}
	}
	return p, nil
}

func (p *Project) startWatching(debounce time.Duration, refs *ProjectFile) error {
	p.rebuilder = indexing.NewDebouncedRebuilder(p.rebuild, debounce, p.logger)
	fw, err := indexing.NewFileWatcher(p.logger, p.isRelevant, p.rebuilder.ScheduleRebuild)
	if err != nil {
		p.rebuilder.Shutdown()
		p.rebuilder = nil
		return err
	}
	p.watcher = fw
	p.watcher.Start()
	p.syncWatches(refs)
	return nil
}

// syncWatches watches the project directory plus every directory that holds
// a reference. Referenced source trees are watched recursively.
func (p *Project) syncWatches(refs *ProjectFile) {
	set := &watchSet{files: map[string]bool{refs.Path: true}, sources: refs.SourceDirs}
	dirs := []string{refs.Dir}
	seenDirs := map[string]bool{refs.Dir: true}
	for _, a := range refs.Assemblies {
		set.files[a] = true
		if d := filepath.Dir(a); !seenDirs[d] {
			seenDirs[d] = true
			dirs = append(dirs, d)
		}
	}
	p.watched.Store(set)

	if p.watcher == nil {
		return
	}
	if err := p.watcher.Sync(dirs, refs.SourceDirs); err != nil {
		p.logger.Debug("some directories are not watched", zap.Error(err))
	}
}

// isRelevant keeps events for the project file and its references. Below a
// referenced source tree only C# sources and project files count.
func (p *Project) isRelevant(path string) bool {
	set := p.watched.Load()
	if set == nil {
		return false
	}
	if set.files[path] {
		return true
	}
	for _, root := range set.sources {
		if !indexing.IsWithin(root, path) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(path))
		return ext == ".cs" || ext == ".csproj" || ext == ""
	}
	return false
}

// rebuild re-parses the project file and swaps in a fresh view. It runs on
// the debounced rebuilder's goroutine, or the caller's for Refresh. Dispose
// takes rebuildMu before releasing the view, so the disposed check and the
// store below cannot interleave with it.
func (p *Project) rebuild(ctx context.Context, changed []string) {
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.life, cancel)
	defer stop()

	if p.disposed.Load() {
		return
	}
	p.logger.Debug("rebuilding", zap.Strings("changed", changed))

	refs, err := p.refs.Resolve(p.path)
	if err != nil {
		p.failedReparse.Add(1)
		p.logger.Warn("project file not re-parsed, keeping previous index", zap.Error(err))
		p.notifyRebuild()
		return
	}

	snap, err := p.indexer.BuildIndex(ctx, p.id, refs.Paths())
	if err != nil {
		p.logger.Debug("rebuild cancelled", zap.Error(err))
		return
	}
	next := &view{snapshot: snap, catalog: catalog.New(snap), refs: refs}

	if p.disposed.Load() {
		return
	}
	// new reference directories are watched before the view is published
	p.syncWatches(refs)
	p.current.Store(next)
	p.rebuilds.Add(1)
	p.metrics.RebuildCompleted(p.name)
	p.logger.Info("project rebuilt",
		zap.Int("types", snap.Stats().Types),
		zap.Int("failures", snap.Stats().Failures),
		zap.Int("cache_hits", snap.Stats().CacheHits),
		zap.Duration("duration", snap.Stats().Duration))
	p.notifyRebuild()
}

// Refresh rebuilds immediately, bypassing the debounce
func (p *Project) Refresh(ctx context.Context) {
	p.rebuild(ctx, nil)
}

func (p *Project) notifyRebuild() {
	p.hookMu.Lock()
	hook := p.onRebuildComplete
	p.hookMu.Unlock()
	if hook != nil {
		hook()
	}
}

// SetOnRebuildComplete sets a callback invoked after every rebuild attempt
// (for testing)
func (p *Project) SetOnRebuildComplete(callback func()) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	p.onRebuildComplete = callback
}

// Dispose stops watching and releases the index. Calling it again does
// nothing. A rebuild still running when Dispose is called is cancelled and
// its result discarded; Dispose returns after it has finished.
func (p *Project) Dispose() {
	p.disposeOnce.Do(func() {
		p.disposed.Store(true)
		p.cancelLife()
		if p.watcher != nil {
			if err := p.watcher.Stop(); err != nil {
				p.logger.Debug("watcher stop", zap.Error(err))
			}
		}
		if p.rebuilder != nil {
			p.rebuilder.Shutdown()
		}
		// waits out a Refresh still running on another goroutine
		p.rebuildMu.Lock()
		p.status.Store(types.StatusDisposed)
		p.current.Store(nil)
		p.rebuildMu.Unlock()
		p.logger.Info("project disposed")
	})
}

func (p *Project) ID() types.ProjectID { return p.id }
func (p *Project) Name() string        { return p.name }
func (p *Project) Path() string        { return p.path }

// Status returns the lifecycle state
func (p *Project) Status() types.Status {
	return p.status.Load().(types.Status)
}

// Snapshot returns the current snapshot, nil once disposed
func (p *Project) Snapshot() *types.Snapshot {
	if v := p.current.Load(); v != nil {
		return v.snapshot
	}
	return nil
}

// Catalog returns the current catalog. A disposed project answers from an
// empty one.
func (p *Project) Catalog() *catalog.Catalog {
	if v := p.current.Load(); v != nil {
		return v.catalog
	}
	return catalog.New()
}

// Query completes a type name prefix
func (p *Project) Query(prefix string, imported types.NamespaceSet) []types.CompletionEntry {
	return p.Catalog().Query(prefix, imported)
}

// All lists every completion entry not fully imported
func (p *Project) All(imported types.NamespaceSet) []types.CompletionEntry {
	return p.Catalog().All(imported)
}

// Extensions lists extension methods callable on receiver
func (p *Project) Extensions(receiver string, imported types.NamespaceSet) []types.ExtensionCompletion {
	return p.Catalog().Extensions(receiver, imported)
}

// Stats returns build counters
func (p *Project) Stats() Stats {
	s := Stats{
		Rebuilds:      p.rebuilds.Load(),
		FailedReparse: p.failedReparse.Load(),
	}
	if v := p.current.Load(); v != nil {
		s.LastBuild = v.snapshot.BuiltAt()
		s.LastDuration = v.snapshot.Stats().Duration
		s.LoadFailures = v.snapshot.Stats().Failures
	}
	if p.watcher != nil && !p.disposed.Load() {
		s.WatchedDirs = len(p.watcher.Watched())
		s.WatchEvents = p.watcher.GetStats().EventsProcessed
		s.PendingChanges = p.rebuilder.GetPendingCount()
	}
	return s
}

// Info summarises the project for callers
func (p *Project) Info() Info {
	info := Info{
		ID:       p.id.String(),
		Name:     p.name,
		Path:     p.path,
		Status:   p.Status(),
		Watching: p.watch && !p.disposed.Load(),
		Stats:    p.Stats(),
	}
	if v := p.current.Load(); v != nil {
		st := v.snapshot.Stats()
		info.Types = st.Types
		info.Extensions = st.Extension
		info.References = len(v.refs.Paths())
		info.Unresolved = v.refs.Unresolved
		info.Failures = v.snapshot.Failures()
	}
	return info
}
