package indexing

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/standardbeagle/autousing/internal/metadata"
	"github.com/standardbeagle/autousing/internal/metadata/csharp"
)

type cachedAssembly struct {
	fingerprint uint64
	asm         *metadata.Assembly
}

// parseCache remembers what each reference produced, so a rebuild triggered
// by one changed file re-reads only that file. Entries are shared between
// snapshots and must not be mutated.
type parseCache struct {
	entries *lru.Cache[string, cachedAssembly]
}

// newParseCache creates a cache; size 0 disables caching
func newParseCache(size int) (*parseCache, error) {
	if size <= 0 {
		return &parseCache{}, nil
	}
	entries, err := lru.New[string, cachedAssembly](size)
	if err != nil {
		return nil, fmt.Errorf("create parse cache: %w", err)
	}
	return &parseCache{entries: entries}, nil
}

func (c *parseCache) get(path string, fp uint64) (*metadata.Assembly, bool) {
	if c.entries == nil {
		return nil, false
	}
	e, ok := c.entries.Get(path)
	if !ok || e.fingerprint != fp {
		return nil, false
	}
	return e.asm, true
}

func (c *parseCache) add(path string, fp uint64, asm *metadata.Assembly) {
	if c.entries == nil {
		return
	}
	c.entries.Add(path, cachedAssembly{fingerprint: fp, asm: asm})
}

func (c *parseCache) len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// fingerprint hashes file content, or for a source directory the name, size
// and mtime of every .cs file beneath it
func fingerprint(path string, info os.FileInfo) (uint64, error) {
	h := xxhash.New()
	if !info.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return 0, err
		}
		return h.Sum64(), nil
	}

	files, err := csharp.SourceFiles(path)
	if err != nil {
		return 0, err
	}
	for _, file := range files {
		st, err := os.Stat(file)
		if err != nil {
			return 0, err
		}
		_, _ = h.WriteString(file)
		_, _ = h.WriteString(strconv.FormatInt(st.Size(), 10))
		_, _ = h.WriteString(strconv.FormatInt(st.ModTime().UnixNano(), 10))
	}
	return h.Sum64(), nil
}
