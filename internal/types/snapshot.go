package types

import (
	"slices"
	"time"
)

// Snapshot is the immutable result of one index build. It is safe to share
// between goroutines; accessors hand out copies.
type Snapshot struct {
	project    ProjectID
	types      []TypeRecord
	extensions []ExtensionMethodRecord
	failures   []LoadFailure
	sources    []string
	builtAt    time.Time
	stats      BuildStats
}

// NewSnapshot copies its inputs, drops duplicate type and extension records
// while keeping first-seen order, and stamps the build time.
func NewSnapshot(project ProjectID, typeRecords []TypeRecord, extensions []ExtensionMethodRecord, failures []LoadFailure, sources []string) *Snapshot {
	s := &Snapshot{
		project:  project,
		failures: slices.Clone(failures),
		sources:  slices.Clone(sources),
		builtAt:  time.Now(),
	}

	type typeKey struct{ name, namespace string }
	seenTypes := make(map[typeKey]struct{}, len(typeRecords))
	s.types = make([]TypeRecord, 0, len(typeRecords))
	for _, t := range typeRecords {
		k := typeKey{t.Name, t.Namespace}
		if _, dup := seenTypes[k]; dup {
			continue
		}
		seenTypes[k] = struct{}{}
		t.Project = project
		s.types = append(s.types, t)
	}

	seenExt := make(map[ExtensionMethodRecord]struct{}, len(extensions))
	s.extensions = make([]ExtensionMethodRecord, 0, len(extensions))
	for _, e := range extensions {
		if _, dup := seenExt[e]; dup {
			continue
		}
		seenExt[e] = struct{}{}
		s.extensions = append(s.extensions, e)
	}

	s.stats = BuildStats{
		Sources:   len(s.sources),
		Types:     len(s.types),
		Extension: len(s.extensions),
		Failures:  len(s.failures),
	}
	return s
}

// WithStats returns a copy of the snapshot carrying build timing details.
// Only the indexer calls this, before the snapshot is published.
func (s *Snapshot) WithStats(cacheHits int, d time.Duration) *Snapshot {
	cp := *s
	cp.stats.CacheHits = cacheHits
	cp.stats.Duration = d
	return &cp
}

func (s *Snapshot) Project() ProjectID { return s.project }
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }
func (s *Snapshot) Stats() BuildStats  { return s.stats }

// Types returns the type records in discovery order
func (s *Snapshot) Types() []TypeRecord {
	return slices.Clone(s.types)
}

// Extensions returns the extension method records in discovery order
func (s *Snapshot) Extensions() []ExtensionMethodRecord {
	return slices.Clone(s.extensions)
}

// Failures returns the references that could not be indexed
func (s *Snapshot) Failures() []LoadFailure {
	return slices.Clone(s.failures)
}

// Sources returns the references indexed successfully
func (s *Snapshot) Sources() []string {
	return slices.Clone(s.sources)
}

// TypeCount avoids copying when only the size is needed
func (s *Snapshot) TypeCount() int {
	return len(s.types)
}
