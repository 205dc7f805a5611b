// Package indexing builds project snapshots from reference paths and keeps
// them current: parallel loading through metadata sources, lock probing, a
// parse cache, debounced rebuilds and file watching.
package indexing

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/autousing/internal/config"
	autoerrors "github.com/standardbeagle/autousing/internal/errors"
	"github.com/standardbeagle/autousing/internal/metadata"
	"github.com/standardbeagle/autousing/internal/metadata/clr"
	"github.com/standardbeagle/autousing/internal/metadata/csharp"
	"github.com/standardbeagle/autousing/internal/metadata/manifest"
	"github.com/standardbeagle/autousing/internal/metrics"
	"github.com/standardbeagle/autousing/internal/types"
)

// Options configures an Indexer
type Options struct {
	Sources            *metadata.Registry
	MaxParallelLoads   int
	CacheEntries       int
	LockTimeout        time.Duration
	LockInitialBackoff time.Duration
	Exclude            []string
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
}

// OptionsFromConfig maps the index section of the configuration
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) Options {
	return Options{
		Sources:            DefaultSources(),
		MaxParallelLoads:   cfg.Index.MaxParallelLoads,
		CacheEntries:       cfg.Index.CacheEntries,
		LockTimeout:        cfg.Index.LockTimeout(),
		LockInitialBackoff: cfg.Index.LockInitialBackoff(),
		Exclude:            cfg.Index.Exclude,
		Logger:             logger,
		Metrics:            m,
	}
}

// DefaultSources registers every built-in metadata source. Manifests come
// before sources so a "Foo.types.json" is never taken for something else.
func DefaultSources() *metadata.Registry {
	return metadata.NewRegistry(manifest.NewSource(), clr.NewSource(), csharp.NewSource())
}

// Indexer turns reference paths into snapshots. It is safe for concurrent
// use by several projects.
type Indexer struct {
	sources  *metadata.Registry
	parallel int
	cache    *parseCache
	probe    *lockProbe
	exclude  []string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewIndexer creates an indexer
func NewIndexer(opts Options) (*Indexer, error) {
	if opts.Sources == nil {
		opts.Sources = DefaultSources()
	}
	if opts.MaxParallelLoads <= 0 {
		opts.MaxParallelLoads = max(1, runtime.NumCPU()-1)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cache, err := newParseCache(opts.CacheEntries)
	if err != nil {
		return nil, err
	}
	return &Indexer{
		sources:  opts.Sources,
		parallel: opts.MaxParallelLoads,
		cache:    cache,
		probe:    &lockProbe{timeout: opts.LockTimeout, initial: opts.LockInitialBackoff},
		exclude:  opts.Exclude,
		logger:   opts.Logger.Named("indexer"),
		metrics:  opts.Metrics,
	}, nil
}

type loadResult struct {
	asm      *metadata.Assembly
	failure  *types.LoadFailure
	skipped  bool
	cacheHit bool
}

// BuildIndex loads every reference and returns the merged snapshot. Records
// are merged in path order whatever order the loads finish in. A reference
// that fails becomes a LoadFailure on the snapshot; the only error returned
// is the context's.
func (ix *Indexer) BuildIndex(ctx context.Context, project types.ProjectID, paths []string) (*types.Snapshot, error) {
	start := time.Now()
	results := make([]loadResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.parallel)
	for i, path := range paths {
		if ix.Excluded(path) {
			results[i].skipped = true
			continue
		}
		g.Go(func() error {
			results[i] = ix.load(gctx, path)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		typeRecords []types.TypeRecord
		extensions  []types.ExtensionMethodRecord
		failures    []types.LoadFailure
		sources     []string
		cacheHits   int
	)
	for i, r := range results {
		switch {
		case r.skipped:
			ix.logger.Debug("reference excluded", zap.String("path", paths[i]))
		case r.failure != nil:
			failures = append(failures, *r.failure)
			ix.metrics.LoadFailed(string(r.failure.Code))
			ix.logger.Warn("reference not indexed",
				zap.String("path", r.failure.Path),
				zap.String("code", string(r.failure.Code)),
				zap.String("reason", r.failure.Reason))
		case r.asm != nil:
			typeRecords = append(typeRecords, r.asm.Types...)
			extensions = append(extensions, r.asm.Extensions...)
			sources = append(sources, paths[i])
			if r.cacheHit {
				cacheHits++
			}
		}
	}
	ix.metrics.CacheHits(cacheHits)

	snap := types.NewSnapshot(project, typeRecords, extensions, failures, sources).
		WithStats(cacheHits, time.Since(start))
	ix.logger.Debug("index built",
		zap.Stringer("project", project),
		zap.Int("types", snap.Stats().Types),
		zap.Int("extensions", snap.Stats().Extension),
		zap.Int("failures", len(failures)),
		zap.Int("cache_hits", cacheHits),
		zap.Duration("duration", snap.Stats().Duration))
	return snap, nil
}

func (ix *Indexer) load(ctx context.Context, path string) loadResult {
	if ctx.Err() != nil {
		return loadResult{}
	}

	info, err := os.Stat(path)
	if err != nil {
		return failed(path, autoerrors.New(autoerrors.CodeLoadFailure, "stat reference", err).
			WithReason(autoerrors.ReasonUnreadable).
			WithPath(path))
	}

	src, err := ix.sources.Lookup(path, info)
	if err != nil {
		return failed(path, err)
	}

	if src.RequiresLockProbe() {
		if err := ix.probe.wait(ctx, path); err != nil {
			if ctx.Err() != nil {
				return loadResult{}
			}
			return failed(path, err)
		}
	}

	fp, err := fingerprint(path, info)
	if err == nil {
		if asm, ok := ix.cache.get(path, fp); ok {
			return loadResult{asm: asm, cacheHit: true}
		}
	}

	asm, err := src.Load(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return loadResult{}
		}
		return failed(path, err)
	}
	if fp != 0 {
		ix.cache.add(path, fp, asm)
	}
	return loadResult{asm: asm}
}

func failed(path string, err error) loadResult {
	code := autoerrors.CodeOf(err)
	if code == autoerrors.CodeInternalError {
		code = autoerrors.CodeLoadFailure
	}
	return loadResult{failure: &types.LoadFailure{
		Path:   path,
		Code:   code,
		Reason: autoerrors.ReasonOf(err),
	}}
}

// Excluded reports whether path matches one of the index.exclude patterns
func (ix *Indexer) Excluded(path string) bool {
	if len(ix.exclude) == 0 {
		return false
	}
	slashed := filepath.ToSlash(path)
	if vol := filepath.VolumeName(path); vol != "" {
		slashed = strings.TrimPrefix(slashed, filepath.ToSlash(vol))
	}
	slashed = strings.TrimPrefix(slashed, "/")
	for _, pattern := range ix.exclude {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}

// Sources returns the metadata registry, used to decide which paths a
// watcher should care about
func (ix *Indexer) Sources() *metadata.Registry {
	return ix.sources
}
