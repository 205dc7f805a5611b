// Package csharp reads public types and extension methods from C# sources,
// which is how project-to-project references are indexed before they have
// been compiled.
package csharp

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"

	"github.com/standardbeagle/autousing/internal/errors"
	"github.com/standardbeagle/autousing/internal/metadata"
	"github.com/standardbeagle/autousing/internal/types"
)

// skippedDirs hold build output, never sources of the referenced project
var skippedDirs = map[string]bool{
	"bin":  true,
	"obj":  true,
	".git": true,
	".vs":  true,
}

var typeDeclarations = map[string]bool{
	"class_declaration":         true,
	"struct_declaration":        true,
	"interface_declaration":     true,
	"enum_declaration":          true,
	"record_declaration":        true,
	"record_struct_declaration": true,
	"delegate_declaration":      true,
}

// Source reads .cs files and directories of them
type Source struct{}

// NewSource creates the C# source metadata source
func NewSource() *Source {
	return &Source{}
}

func (s *Source) Name() string { return "csharp" }

func (s *Source) RequiresLockProbe() bool { return false }

// Accepts takes single .cs files and any directory
func (s *Source) Accepts(path string, info fs.FileInfo) bool {
	if info != nil && info.IsDir() {
		return true
	}
	return strings.EqualFold(filepath.Ext(path), ".cs")
}

// Load parses one file or every .cs file under a directory
func (s *Source) Load(ctx context.Context, path string) (*metadata.Assembly, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(errors.CodeLoadFailure, "stat sources", err).
			WithReason(errors.ReasonUnreadable).
			WithPath(path)
	}

	files := []string{path}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if info.IsDir() {
		name = filepath.Base(path)
		if files, err = SourceFiles(path); err != nil {
			return nil, errors.New(errors.CodeLoadFailure, "walk sources", err).
				WithReason(errors.ReasonUnreadable).
				WithPath(path)
		}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(sitter.NewLanguage(tree_sitter_csharp.Language())); err != nil {
		return nil, errors.New(errors.CodeInternalError, "load C# grammar", err)
	}

	asm := &metadata.Assembly{Name: name, Path: path}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.New(errors.CodeLoadFailure, "read source", err).
				WithReason(errors.ReasonUnreadable).
				WithPath(file)
		}
		tree := parser.Parse(content, nil)
		if tree == nil {
			return nil, errors.New(errors.CodeLoadFailure, "parse source", fmt.Errorf("parser returned no tree")).
				WithReason(errors.ReasonUnsupportedFormat).
				WithPath(file)
		}
		e := &extractor{content: content}
		e.walkDeclarations(tree.RootNode(), "")
		tree.Close()

		asm.Types = append(asm.Types, e.types...)
		asm.Extensions = append(asm.Extensions, e.extensions...)
	}
	return asm.Normalize(), nil
}

// SourceFiles lists the .cs files under dir in lexical order, skipping build
// output and VCS directories.
func SourceFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && skippedDirs[strings.ToLower(d.Name())] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".cs") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

type extractor struct {
	content    []byte
	types      []types.TypeRecord
	extensions []types.ExtensionMethodRecord
}

func (e *extractor) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	start, end := n.StartByte(), n.EndByte()
	if start > end || end > uint(len(e.content)) {
		return ""
	}
	return string(e.content[start:end])
}

// walkDeclarations visits the members of a compilation unit, namespace body
// or file-scoped namespace. Type bodies are not entered, so nested types
// never surface.
func (e *extractor) walkDeclarations(node *sitter.Node, namespace string) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		kind := child.Kind()
		switch {
		case kind == "namespace_declaration":
			ns := joinNamespace(namespace, e.text(child.ChildByFieldName("name")))
			if body := child.ChildByFieldName("body"); body != nil {
				e.walkDeclarations(body, ns)
			}
		case kind == "file_scoped_namespace_declaration":
			// depending on the grammar version the remaining members are
			// either children of this node or its following siblings
			namespace = joinNamespace(namespace, e.text(child.ChildByFieldName("name")))
			e.walkDeclarations(child, namespace)
		case kind == "declaration_list":
			e.walkDeclarations(child, namespace)
		case typeDeclarations[kind]:
			e.addType(child, namespace)
		}
	}
}

func (e *extractor) addType(node *sitter.Node, namespace string) {
	modifiers := e.modifiers(node)
	if !modifiers["public"] {
		return
	}
	name := e.text(node.ChildByFieldName("name"))
	if name == "" {
		return
	}
	e.types = append(e.types, types.TypeRecord{Name: name, Namespace: namespace})

	if node.Kind() == "class_declaration" && modifiers["static"] {
		e.addExtensions(node.ChildByFieldName("body"), namespace)
	}
}

// addExtensions collects public static methods whose first parameter is
// marked with this
func (e *extractor) addExtensions(body *sitter.Node, namespace string) {
	if body == nil {
		return
	}
	for i := uint(0); i < body.ChildCount(); i++ {
		method := body.Child(i)
		if method == nil || method.Kind() != "method_declaration" {
			continue
		}
		modifiers := e.modifiers(method)
		if !modifiers["public"] || !modifiers["static"] {
			continue
		}
		receiver, ok := e.thisParameter(method.ChildByFieldName("parameters"))
		if !ok {
			continue
		}
		e.extensions = append(e.extensions, types.ExtensionMethodRecord{
			Namespace:    namespace,
			Method:       e.text(method.ChildByFieldName("name")),
			ExtendedType: receiver,
		})
	}
}

// thisParameter returns the type of the first parameter when it carries the
// this modifier
func (e *extractor) thisParameter(params *sitter.Node) (string, bool) {
	if params == nil {
		return "", false
	}
	var first *sitter.Node
	for i := uint(0); i < params.ChildCount(); i++ {
		if c := params.Child(i); c != nil && c.Kind() == "parameter" {
			first = c
			break
		}
	}
	if first == nil {
		return "", false
	}

	typeNode := first.ChildByFieldName("type")
	hasThis := false
	for i := uint(0); i < first.ChildCount(); i++ {
		c := first.Child(i)
		if c == nil || (typeNode != nil && c.StartByte() >= typeNode.StartByte()) {
			break
		}
		if e.text(c) == "this" {
			hasThis = true
		}
	}
	if !hasThis {
		return "", false
	}
	if typeNode != nil {
		return e.text(typeNode), true
	}

	// grammars without a type field: "this Widget w"
	fields := strings.Fields(e.text(first))
	if len(fields) < 3 || fields[0] != "this" {
		return "", false
	}
	return fields[len(fields)-2], true
}

func (e *extractor) modifiers(node *sitter.Node) map[string]bool {
	mods := make(map[string]bool)
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && child.Kind() == "modifier" {
			mods[strings.TrimSpace(e.text(child))] = true
		}
	}
	return mods
}

func joinNamespace(outer, inner string) string {
	inner = strings.Join(strings.Fields(inner), "")
	switch {
	case outer == "":
		return inner
	case inner == "":
		return outer
	}
	return outer + "." + inner
}
