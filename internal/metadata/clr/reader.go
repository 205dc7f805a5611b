// Package clr reads public types and extension methods straight out of the
// ECMA-335 metadata of .NET assemblies, without loading a runtime.
package clr

import (
	"context"
	"debug/pe"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/autousing/internal/errors"
	"github.com/standardbeagle/autousing/internal/metadata"
	"github.com/standardbeagle/autousing/internal/types"
)

const (
	extensionAttributeNamespace = "System.Runtime.CompilerServices"
	extensionAttributeName      = "ExtensionAttribute"
)

// Source is the metadata source for compiled assemblies
type Source struct{}

// NewSource creates the assembly metadata source
func NewSource() *Source {
	return &Source{}
}

func (s *Source) Name() string { return "clr" }

// RequiresLockProbe is true: assemblies are rewritten in place by builds
func (s *Source) RequiresLockProbe() bool { return true }

// Accepts reports whether path looks like a managed binary
func (s *Source) Accepts(path string, info fs.FileInfo) bool {
	if info != nil && info.IsDir() {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dll", ".exe", ".winmd":
		return true
	}
	return false
}

// Load parses the assembly at path
func (s *Source) Load(ctx context.Context, path string) (*metadata.Assembly, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := pe.Open(path)
	if err != nil {
		return nil, errors.New(errors.CodeLoadFailure, "open assembly", err).
			WithReason(errors.ReasonNotManagedAssembly).
			WithPath(path)
	}
	defer f.Close()

	md, err := readMetadata(f)
	if err != nil {
		return nil, errors.New(errors.CodeLoadFailure, "read metadata", err).
			WithReason(errors.ReasonNotManagedAssembly).
			WithPath(path)
	}
	img, err := parseImage(md)
	if err != nil {
		return nil, errors.New(errors.CodeLoadFailure, "parse metadata", err).
			WithReason(errors.ReasonNotManagedAssembly).
			WithPath(path)
	}

	asm := &metadata.Assembly{
		Name:       img.assemblyName(),
		Path:       path,
		Types:      img.publicTypes(),
		Extensions: img.extensionMethods(),
	}
	if asm.Name == "" {
		asm.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return asm.Normalize(), nil
}

func (img *image) assemblyName() string {
	if img.tables.rowCount(tAssembly) == 0 {
		return ""
	}
	return img.str(img.tables.cell(tAssembly, 1, assemblyName))
}

// publicTypes lists public top-level type definitions followed by public
// forwarded types. Nested types are never visible at namespace level.
func (img *image) publicTypes() []types.TypeRecord {
	ts := img.tables
	var out []types.TypeRecord

	for row := uint32(1); row <= ts.rowCount(tTypeDef); row++ {
		if ts.cell(tTypeDef, row, typeDefFlags)&typeVisibilityMask != typePublic {
			continue
		}
		out = append(out, types.TypeRecord{
			Name:      img.str(ts.cell(tTypeDef, row, typeDefName)),
			Namespace: img.str(ts.cell(tTypeDef, row, typeDefNamespace)),
		})
	}

	for row := uint32(1); row <= ts.rowCount(tExportedType); row++ {
		if ts.cell(tExportedType, row, exportedTypeFlags)&typeVisibilityMask != typePublic {
			continue
		}
		impl, _ := implementation.decode(ts.cell(tExportedType, row, exportedTypeImplementation))
		if impl == tExportedType {
			continue
		}
		out = append(out, types.TypeRecord{
			Name:      img.str(ts.cell(tExportedType, row, exportedTypeName)),
			Namespace: img.str(ts.cell(tExportedType, row, exportedTypeNamespace)),
		})
	}
	return out
}

// extensionMethods lists public static methods carrying ExtensionAttribute
// that are declared on public static classes.
func (img *image) extensionMethods() []types.ExtensionMethodRecord {
	ts := img.tables
	marked := img.extensionMarkedMethods()
	if len(marked) == 0 {
		return nil
	}

	var out []types.ExtensionMethodRecord
	for row := uint32(1); row <= ts.rowCount(tTypeDef); row++ {
		flags := ts.cell(tTypeDef, row, typeDefFlags)
		if flags&typeVisibilityMask != typePublic || flags&typeAbstract == 0 || flags&typeSealed == 0 {
			continue
		}
		namespace := img.str(ts.cell(tTypeDef, row, typeDefNamespace))
		first, last := img.methodRange(row)
		for i := first; i < last; i++ {
			method := img.resolveMethod(i)
			if !marked[method] {
				continue
			}
			mflags := ts.cell(tMethodDef, method, methodDefFlags)
			if mflags&methodStatic == 0 || mflags&methodAccessMask != methodPublic {
				continue
			}
			sig, err := img.blob(ts.cell(tMethodDef, method, methodDefSignature))
			if err != nil {
				continue
			}
			r := &sigReader{img: img, b: sig, ownerType: row, method: method}
			receiver, err := r.firstParameter()
			if err != nil || receiver == "" {
				continue
			}
			out = append(out, types.ExtensionMethodRecord{
				Namespace:    namespace,
				Method:       img.str(ts.cell(tMethodDef, method, methodDefName)),
				ExtendedType: receiver,
			})
		}
	}
	return out
}

// extensionMarkedMethods returns the MethodDef rows that carry ExtensionAttribute,
// whether the attribute is referenced from another assembly or defined here.
func (img *image) extensionMarkedMethods() map[uint32]bool {
	ts := img.tables

	ctorRefs := make(map[uint32]bool)
	for row := uint32(1); row <= ts.rowCount(tMemberRef); row++ {
		if img.str(ts.cell(tMemberRef, row, memberRefName)) != ".ctor" {
			continue
		}
		parent, parentRow := memberRefParent.decode(ts.cell(tMemberRef, row, memberRefClass))
		if parent == tTypeRef && img.isExtensionAttribute(tTypeRef, parentRow) {
			ctorRefs[row] = true
		}
	}

	ctorDefs := make(map[uint32]bool)
	for row := uint32(1); row <= ts.rowCount(tTypeDef); row++ {
		if !img.isExtensionAttribute(tTypeDef, row) {
			continue
		}
		first, last := img.methodRange(row)
		for i := first; i < last; i++ {
			method := img.resolveMethod(i)
			if img.str(ts.cell(tMethodDef, method, methodDefName)) == ".ctor" {
				ctorDefs[method] = true
			}
		}
	}

	marked := make(map[uint32]bool)
	for row := uint32(1); row <= ts.rowCount(tCustomAttribute); row++ {
		parent, parentRow := hasCustomAttribute.decode(ts.cell(tCustomAttribute, row, caParent))
		if parent != tMethodDef {
			continue
		}
		ctor, ctorRow := customAttributeType.decode(ts.cell(tCustomAttribute, row, caType))
		if (ctor == tMemberRef && ctorRefs[ctorRow]) || (ctor == tMethodDef && ctorDefs[ctorRow]) {
			marked[parentRow] = true
		}
	}
	return marked
}

func (img *image) isExtensionAttribute(t tableID, row uint32) bool {
	nameCol, nsCol := typeRefName, typeRefNamespace
	if t == tTypeDef {
		nameCol, nsCol = typeDefName, typeDefNamespace
	}
	return img.str(img.tables.cell(t, row, nameCol)) == extensionAttributeName &&
		img.str(img.tables.cell(t, row, nsCol)) == extensionAttributeNamespace
}

// methodRange returns the half-open MethodList span owned by a TypeDef row
func (img *image) methodRange(typeRow uint32) (uint32, uint32) {
	ts := img.tables
	limit := ts.rowCount(tMethodDef) + 1
	if ptrs := ts.rowCount(tMethodPtr); ptrs > 0 {
		limit = ptrs + 1
	}
	first := ts.cell(tTypeDef, typeRow, typeDefMethodList)
	last := limit
	if typeRow < ts.rowCount(tTypeDef) {
		last = ts.cell(tTypeDef, typeRow+1, typeDefMethodList)
	}
	if first == 0 || first > limit {
		return 0, 0
	}
	return first, min(max(last, first), limit)
}

// resolveMethod follows the MethodPtr indirection of uncompressed streams
func (img *image) resolveMethod(i uint32) uint32 {
	if img.tables.rowCount(tMethodPtr) > 0 {
		return img.tables.cell(tMethodPtr, i, 0)
	}
	return i
}
