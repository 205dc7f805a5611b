// Package catalog answers completion queries over an index snapshot. A
// Catalog is built once per snapshot and never changes afterwards, so any
// number of goroutines may query it while the next one is being built.
package catalog

import (
	"slices"
	"sort"
	"strings"

	"github.com/standardbeagle/autousing/internal/metadata"
	"github.com/standardbeagle/autousing/internal/types"
)

type entry struct {
	name       string
	namespaces []string
}

type extensionGroup struct {
	method     string
	receiver   string
	namespaces []string
}

// Catalog groups types by simple name, sorted in byte order
type Catalog struct {
	entries    []entry
	extensions map[string][]extensionGroup
	typeCount  int
}

// New builds a catalog from one or more snapshots. Namespaces keep the order
// in which they were discovered.
func New(snapshots ...*types.Snapshot) *Catalog {
	c := &Catalog{extensions: make(map[string][]extensionGroup)}

	byName := make(map[string]int)
	for _, snap := range snapshots {
		if snap == nil {
			continue
		}
		for _, tr := range snap.Types() {
			i, ok := byName[tr.Name]
			if !ok {
				i = len(c.entries)
				byName[tr.Name] = i
				c.entries = append(c.entries, entry{name: tr.Name})
			}
			if !slices.Contains(c.entries[i].namespaces, tr.Namespace) {
				c.entries[i].namespaces = append(c.entries[i].namespaces, tr.Namespace)
				c.typeCount++
			}
		}
	}
	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].name < c.entries[j].name })

	type extKey struct{ receiver, method string }
	extIndex := make(map[extKey]int)
	for _, snap := range snapshots {
		if snap == nil {
			continue
		}
		for _, ext := range snap.Extensions() {
			receiver := metadata.CanonicalTypeName(ext.ExtendedType)
			k := extKey{receiver, ext.Method}
			groups := c.extensions[receiver]
			i, ok := extIndex[k]
			if !ok {
				i = len(groups)
				extIndex[k] = i
				groups = append(groups, extensionGroup{method: ext.Method, receiver: receiver})
			}
			if !slices.Contains(groups[i].namespaces, ext.Namespace) {
				groups[i].namespaces = append(groups[i].namespaces, ext.Namespace)
			}
			c.extensions[receiver] = groups
		}
	}
	// Sorting after grouping keeps extIndex valid during construction
	for receiver, groups := range c.extensions {
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].method < groups[j].method })
		c.extensions[receiver] = groups
	}
	return c
}

// Len is the number of distinct simple names
func (c *Catalog) Len() int { return len(c.entries) }

// TypeCount is the number of distinct (name, namespace) pairs
func (c *Catalog) TypeCount() int { return c.typeCount }

// Query returns the entries whose name starts with prefix (case-sensitive),
// minus those every candidate namespace of which is already imported
func (c *Catalog) Query(prefix string, imported types.NamespaceSet) []types.CompletionEntry {
	start := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].name >= prefix })
	out := []types.CompletionEntry{}
	for _, e := range c.entries[start:] {
		if !strings.HasPrefix(e.name, prefix) {
			break
		}
		if allImported(e.namespaces, imported) {
			continue
		}
		out = append(out, types.CompletionEntry{Name: e.name, Namespaces: slices.Clone(e.namespaces)})
	}
	return out
}

// All is Query with an empty prefix
func (c *Catalog) All(imported types.NamespaceSet) []types.CompletionEntry {
	return c.Query("", imported)
}

// Extensions returns the extension methods callable on receiver, which may
// be written as in source ("int", "List<string>", "System.String"). The
// exclusion rule is the same as for types.
func (c *Catalog) Extensions(receiver string, imported types.NamespaceSet) []types.ExtensionCompletion {
	out := []types.ExtensionCompletion{}
	key := metadata.CanonicalTypeName(receiver)
	if key == "" {
		return out
	}
	for _, g := range c.extensions[key] {
		if allImported(g.namespaces, imported) {
			continue
		}
		out = append(out, types.ExtensionCompletion{
			Method:       g.method,
			ExtendedType: g.receiver,
			Namespaces:   slices.Clone(g.namespaces),
		})
	}
	return out
}

// allImported reports whether every candidate namespace is imported. A
// type in the global namespace is never excluded because no set holds "".
func allImported(namespaces []string, imported types.NamespaceSet) bool {
	return imported.ContainsAll(namespaces)
}
