package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/standardbeagle/autousing/internal/errors"
)

// ProjectID identifies one registration of a project. Registering the same
// file twice yields two independent IDs.
type ProjectID uuid.UUID

// NewProjectID allocates a fresh random project ID
func NewProjectID() ProjectID {
	return ProjectID(uuid.New())
}

func (id ProjectID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the ID was never assigned
func (id ProjectID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// TypeRecord is one publicly visible type found in a referenced assembly.
// Name never carries a generic-arity marker.
type TypeRecord struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	Project   ProjectID `json:"-"`
}

// ExtensionMethodRecord is one extension method declared by a public static
// class. Two records are equal iff all three fields are equal.
type ExtensionMethodRecord struct {
	Namespace    string `json:"namespace"`
	Method       string `json:"method"`
	ExtendedType string `json:"extended_type"`
}

// CompletionEntry groups every namespace that declares a given simple name,
// in discovery order.
type CompletionEntry struct {
	Name            string   `json:"name"`
	Namespaces      []string `json:"namespaces"`
	AlreadyImported bool     `json:"-"`
}

// ExtensionCompletion groups the namespaces that provide an extension method
// for one receiver type.
type ExtensionCompletion struct {
	Method       string   `json:"method"`
	ExtendedType string   `json:"extended_type"`
	Namespaces   []string `json:"namespaces"`
}

// LoadFailure records a reference that could not be indexed. Failures never
// abort a build.
type LoadFailure struct {
	Path   string      `json:"path"`
	Code   errors.Code `json:"code"`
	Reason string      `json:"reason,omitempty"`
}

// Status is the lifecycle state of a registered project
type Status string

const (
	StatusLoading  Status = "Loading"
	StatusReady    Status = "Ready"
	StatusDisposed Status = "Disposed"
)

// NamespaceSet is the set of namespaces a source file already imports
type NamespaceSet map[string]struct{}

// NewNamespaceSet builds a set from a list, ignoring empty entries
func NewNamespaceSet(namespaces ...string) NamespaceSet {
	set := make(NamespaceSet, len(namespaces))
	for _, ns := range namespaces {
		if ns != "" {
			set[ns] = struct{}{}
		}
	}
	return set
}

// Has reports whether ns is in the set. A nil set contains nothing.
func (s NamespaceSet) Has(ns string) bool {
	_, ok := s[ns]
	return ok
}

// ContainsAll reports whether every namespace in list is in the set
func (s NamespaceSet) ContainsAll(list []string) bool {
	if len(list) == 0 {
		return false
	}
	for _, ns := range list {
		if !s.Has(ns) {
			return false
		}
	}
	return true
}

// BuildStats summarises one index build
type BuildStats struct {
	Sources   int           `json:"sources"`
	Types     int           `json:"types"`
	Extension int           `json:"extensions"`
	Failures  int           `json:"failures"`
	CacheHits int           `json:"cache_hits"`
	Duration  time.Duration `json:"duration"`
}
