// Package manifest reads pre-extracted type listings. Platforms whose
// binaries cannot be read directly ship a <assembly>.types.toml (or .yaml,
// .yml, .json) produced by an external dumper:
//
//	assembly = "Acme.Widgets"
//
//	[[types]]
//	name = "Widget"
//	namespace = "Acme.Widgets"
//
//	[[extensions]]
//	namespace = "Acme.Widgets.Extensions"
//	method = "Shine"
//	extends = "Widget"
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/standardbeagle/autousing/internal/errors"
	"github.com/standardbeagle/autousing/internal/metadata"
	"github.com/standardbeagle/autousing/internal/types"
)

// File is the on-disk listing
type File struct {
	Assembly   string      `toml:"assembly" yaml:"assembly" json:"assembly"`
	Types      []Type      `toml:"types" yaml:"types" json:"types"`
	Extensions []Extension `toml:"extensions" yaml:"extensions" json:"extensions"`
}

type Type struct {
	Name      string `toml:"name" yaml:"name" json:"name"`
	Namespace string `toml:"namespace" yaml:"namespace" json:"namespace"`
	// Public defaults to true; dumpers may list internal types too
	Public *bool `toml:"public,omitempty" yaml:"public,omitempty" json:"public,omitempty"`
}

type Extension struct {
	Namespace string `toml:"namespace" yaml:"namespace" json:"namespace"`
	Method    string `toml:"method" yaml:"method" json:"method"`
	Extends   string `toml:"extends" yaml:"extends" json:"extends"`
}

type format int

const (
	formatNone format = iota
	formatTOML
	formatYAML
	formatJSON
)

func formatOf(path string) format {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(base, ".types.toml"):
		return formatTOML
	case strings.HasSuffix(base, ".types.yaml"), strings.HasSuffix(base, ".types.yml"):
		return formatYAML
	case strings.HasSuffix(base, ".types.json"):
		return formatJSON
	}
	return formatNone
}

// Source reads type listings
type Source struct{}

func NewSource() *Source {
	return &Source{}
}

func (s *Source) Name() string { return "manifest" }

func (s *Source) RequiresLockProbe() bool { return false }

func (s *Source) Accepts(path string, info fs.FileInfo) bool {
	if info != nil && info.IsDir() {
		return false
	}
	return formatOf(path) != formatNone
}

func (s *Source) Load(ctx context.Context, path string) (*metadata.Assembly, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeLoadFailure, "read manifest", err).
			WithReason(errors.ReasonUnreadable).
			WithPath(path)
	}

	f, err := Decode(path, data)
	if err != nil {
		return nil, errors.New(errors.CodeLoadFailure, "decode manifest", err).
			WithReason(errors.ReasonUnsupportedFormat).
			WithPath(path)
	}

	asm := &metadata.Assembly{Name: f.Assembly, Path: path}
	if asm.Name == "" {
		base := filepath.Base(path)
		asm.Name = base[:strings.Index(strings.ToLower(base), ".types.")]
	}
	for _, t := range f.Types {
		if t.Public != nil && !*t.Public {
			continue
		}
		asm.Types = append(asm.Types, types.TypeRecord{Name: t.Name, Namespace: t.Namespace})
	}
	for _, e := range f.Extensions {
		asm.Extensions = append(asm.Extensions, types.ExtensionMethodRecord{
			Namespace:    e.Namespace,
			Method:       e.Method,
			ExtendedType: e.Extends,
		})
	}
	return asm.Normalize(), nil
}

// Decode parses a listing in the format implied by its file name
func Decode(path string, data []byte) (*File, error) {
	var f File
	var err error
	switch formatOf(path) {
	case formatTOML:
		err = toml.Unmarshal(data, &f)
	case formatYAML:
		err = yaml.Unmarshal(data, &f)
	case formatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&f)
	default:
		return nil, fmt.Errorf("unrecognised manifest name %q", filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	for i, t := range f.Types {
		if t.Name == "" {
			return nil, fmt.Errorf("types[%d]: name is required", i)
		}
	}
	for i, e := range f.Extensions {
		if e.Method == "" || e.Extends == "" {
			return nil, fmt.Errorf("extensions[%d]: method and extends are required", i)
		}
	}
	return &f, nil
}
