package indexing

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autoerrors "github.com/standardbeagle/autousing/internal/errors"
	"github.com/standardbeagle/autousing/internal/metadata"
	"github.com/standardbeagle/autousing/internal/types"
)

// fakeSource reads ".fake" references: one "Namespace.Type" per line, or
// "ext Namespace Method Receiver" for an extension method
type fakeSource struct {
	loads atomic.Int32
	delay map[string]time.Duration
}

func (s *fakeSource) Name() string            { return "fake" }
func (s *fakeSource) RequiresLockProbe() bool { return true }

func (s *fakeSource) Accepts(path string, info fs.FileInfo) bool {
	return !info.IsDir() && strings.HasSuffix(path, ".fake")
}

func (s *fakeSource) Load(ctx context.Context, path string) (*metadata.Assembly, error) {
	s.loads.Add(1)
	if d := s.delay[filepath.Base(path)]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	asm := &metadata.Assembly{Name: filepath.Base(path), Path: path}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "corrupt":
			return nil, autoerrors.New(autoerrors.CodeLoadFailure, "load fake", fmt.Errorf("corrupt")).
				WithReason(autoerrors.ReasonNotManagedAssembly).
				WithPath(path)
		case strings.HasPrefix(line, "ext "):
			parts := strings.Fields(line)
			asm.Extensions = append(asm.Extensions, types.ExtensionMethodRecord{
				Namespace: parts[1], Method: parts[2], ExtendedType: parts[3],
			})
		default:
			i := strings.LastIndex(line, ".")
			asm.Types = append(asm.Types, types.TypeRecord{Namespace: line[:i], Name: line[i+1:]})
		}
	}
	return asm.Normalize(), sc.Err()
}

func writeFake(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func newTestIndexer(t *testing.T, src *fakeSource, mutate func(*Options)) *Indexer {
	t.Helper()
	opts := Options{
		Sources:            metadata.NewRegistry(src),
		MaxParallelLoads:   4,
		CacheEntries:       16,
		LockTimeout:        50 * time.Millisecond,
		LockInitialBackoff: 5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ix, err := NewIndexer(opts)
	require.NoError(t, err)
	return ix
}

func typeNames(snap *types.Snapshot) []string {
	var names []string
	for _, tr := range snap.Types() {
		names = append(names, tr.Namespace+"."+tr.Name)
	}
	return names
}

func TestBuildIndex_MergesInPathOrder(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{delay: map[string]time.Duration{"A.fake": 40 * time.Millisecond}}
	a := writeFake(t, dir, "A.fake", "Acme.Widget", "Acme.Repository`1")
	b := writeFake(t, dir, "B.fake", "Beta.Gadget", "ext Beta.Linq Shine Widget")
	c := writeFake(t, dir, "C.fake", "Acme.Widget", "Gamma.Gizmo")

	ix := newTestIndexer(t, src, nil)
	id := types.NewProjectID()
	snap, err := ix.BuildIndex(context.Background(), id, []string{a, b, c})
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme.Widget", "Acme.Repository", "Beta.Gadget", "Gamma.Gizmo"}, typeNames(snap))
	assert.Equal(t, []types.ExtensionMethodRecord{{Namespace: "Beta.Linq", Method: "Shine", ExtendedType: "Widget"}}, snap.Extensions())
	assert.Equal(t, []string{a, b, c}, snap.Sources())
	assert.Empty(t, snap.Failures())
	assert.Equal(t, id, snap.Project())
	for _, tr := range snap.Types() {
		assert.Equal(t, id, tr.Project)
	}
}

func TestBuildIndex_FailuresDoNotAbort(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{}
	good := writeFake(t, dir, "Good.fake", "Acme.Widget")
	bad := writeFake(t, dir, "Bad.fake", "corrupt")
	missing := filepath.Join(dir, "Missing.fake")
	unknown := writeFake(t, dir, "Readme.txt", "not a reference")

	ix := newTestIndexer(t, src, nil)
	snap, err := ix.BuildIndex(context.Background(), types.NewProjectID(), []string{bad, good, missing, unknown})
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme.Widget"}, typeNames(snap))
	failures := snap.Failures()
	require.Len(t, failures, 3)
	assert.Equal(t, types.LoadFailure{Path: bad, Code: autoerrors.CodeLoadFailure, Reason: autoerrors.ReasonNotManagedAssembly}, failures[0])
	assert.Equal(t, types.LoadFailure{Path: missing, Code: autoerrors.CodeLoadFailure, Reason: autoerrors.ReasonUnreadable}, failures[1])
	assert.Equal(t, types.LoadFailure{Path: unknown, Code: autoerrors.CodeLoadFailure, Reason: autoerrors.ReasonUnsupportedFormat}, failures[2])
}

func TestBuildIndex_LockedReferenceTimesOut(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{}
	locked := writeFake(t, dir, "Locked.fake")
	require.NoError(t, os.WriteFile(locked, nil, 0o644))
	good := writeFake(t, dir, "Good.fake", "Acme.Widget")

	ix := newTestIndexer(t, src, nil)
	snap, err := ix.BuildIndex(context.Background(), types.NewProjectID(), []string{locked, good})
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme.Widget"}, typeNames(snap))
	require.Len(t, snap.Failures(), 1)
	assert.Equal(t, autoerrors.CodeTransientFileLock, snap.Failures()[0].Code)
	assert.Equal(t, autoerrors.ReasonFileLocked, snap.Failures()[0].Reason)
}

func TestBuildIndex_Exclusions(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{}
	kept := writeFake(t, dir, "Acme.fake", "Acme.Widget")
	skipped := writeFake(t, dir, "sub/Acme.resources.fake", "Acme.Strings")

	ix := newTestIndexer(t, src, func(o *Options) {
		o.Exclude = []string{"**/*.resources.fake"}
	})
	snap, err := ix.BuildIndex(context.Background(), types.NewProjectID(), []string{kept, skipped})
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme.Widget"}, typeNames(snap))
	assert.Empty(t, snap.Failures())
	assert.Equal(t, int32(1), src.loads.Load())
	assert.True(t, ix.Excluded(skipped))
	assert.False(t, ix.Excluded(kept))
}

func TestBuildIndex_ParseCache(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{}
	a := writeFake(t, dir, "A.fake", "Acme.Widget")
	b := writeFake(t, dir, "B.fake", "Beta.Gadget")

	ix := newTestIndexer(t, src, nil)
	first, err := ix.BuildIndex(context.Background(), types.NewProjectID(), []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 0, first.Stats().CacheHits)
	assert.Equal(t, int32(2), src.loads.Load())
	assert.Equal(t, 2, ix.cache.len())

	writeFake(t, dir, "B.fake", "Beta.Gadget", "Beta.Gizmo")
	second, err := ix.BuildIndex(context.Background(), types.NewProjectID(), []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Stats().CacheHits)
	assert.Equal(t, int32(3), src.loads.Load())
	assert.Equal(t, []string{"Acme.Widget", "Beta.Gadget", "Beta.Gizmo"}, typeNames(second))
}

func TestBuildIndex_CacheDisabled(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{}
	a := writeFake(t, dir, "A.fake", "Acme.Widget")

	ix := newTestIndexer(t, src, func(o *Options) { o.CacheEntries = 0 })
	for range 2 {
		_, err := ix.BuildIndex(context.Background(), types.NewProjectID(), []string{a})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), src.loads.Load())
}

func TestBuildIndex_Cancelled(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{delay: map[string]time.Duration{"Slow.fake": 5 * time.Second}}
	slow := writeFake(t, dir, "Slow.fake", "Acme.Widget")

	ix := newTestIndexer(t, src, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	snap, err := ix.BuildIndex(ctx, types.NewProjectID(), []string{slow})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, snap)
}

func TestBuildIndex_Empty(t *testing.T) {
	ix := newTestIndexer(t, &fakeSource{}, nil)
	snap, err := ix.BuildIndex(context.Background(), types.NewProjectID(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TypeCount())
	assert.Empty(t, snap.Failures())
}

func TestDefaultSources(t *testing.T) {
	assert.Equal(t, []string{"manifest", "clr", "csharp"}, DefaultSources().Names())
}
