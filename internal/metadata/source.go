// Package metadata defines how referenced assemblies are introspected. A
// Source turns one reference path into the public types and extension
// methods it declares; the indexer picks the first Source that accepts a path.
package metadata

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/standardbeagle/autousing/internal/errors"
	"github.com/standardbeagle/autousing/internal/types"
)

// Source introspects one kind of reference
type Source interface {
	// Name identifies the source in logs
	Name() string
	// Accepts reports whether this source can read path
	Accepts(path string, info fs.FileInfo) bool
	// RequiresLockProbe is true for binaries a build may be rewriting
	RequiresLockProbe() bool
	// Load reads the reference. Errors should be *errors.Error with
	// CodeLoadFailure; anything else is reported as a load failure too.
	Load(ctx context.Context, path string) (*Assembly, error)
}

// Assembly is what one reference contributes to an index
type Assembly struct {
	Name       string
	Path       string
	Types      []types.TypeRecord
	Extensions []types.ExtensionMethodRecord
}

// Normalize applies the naming rules every source must honour. Sources call
// it before returning so the indexer never sees arity markers.
func (a *Assembly) Normalize() *Assembly {
	out := a.Types[:0]
	for _, t := range a.Types {
		t.Name = NormalizeTypeName(t.Name)
		if IsCompilerGenerated(t.Name) {
			continue
		}
		out = append(out, t)
	}
	a.Types = out

	exts := a.Extensions[:0]
	for _, e := range a.Extensions {
		e.ExtendedType = CanonicalTypeName(e.ExtendedType)
		if e.Method == "" || e.ExtendedType == "" {
			continue
		}
		exts = append(exts, e)
	}
	a.Extensions = exts
	return a
}

// Registry holds sources in priority order
type Registry struct {
	sources []Source
}

// NewRegistry creates a registry. Earlier sources win when several accept a path.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Lookup returns the first source that accepts path
func (r *Registry) Lookup(path string, info fs.FileInfo) (Source, error) {
	for _, s := range r.sources {
		if s.Accepts(path, info) {
			return s, nil
		}
	}
	return nil, errors.New(errors.CodeLoadFailure, "lookup source", fmt.Errorf("no metadata source for %s", path)).
		WithReason(errors.ReasonUnsupportedFormat).
		WithPath(path)
}

// Names lists the registered sources in priority order
func (r *Registry) Names() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}
