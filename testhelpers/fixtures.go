package testhelpers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/standardbeagle/autousing/internal/metadata/manifest"
)

// ProjectFileBuilder writes SDK-style MSBuild project files
//
//	path := testhelpers.NewProjectFile(dir, "App").
//		WithHintReference("Acme", `lib\Acme.types.toml`).
//		WithPackage("Newtonsoft.Json", "13.0.3").
//		Write(t)
type ProjectFileBuilder struct {
	dir         string
	name        string
	properties  [][2]string
	references  []string
	packages    []string
	projectRefs []string
}

// NewProjectFile starts a project file named <name>.csproj in dir
func NewProjectFile(dir, name string) *ProjectFileBuilder {
	return &ProjectFileBuilder{dir: dir, name: name}
}

// WithProperty declares a property in the first PropertyGroup
func (b *ProjectFileBuilder) WithProperty(name, value string) *ProjectFileBuilder {
	b.properties = append(b.properties, [2]string{name, value})
	return b
}

// WithTargetFramework sets TargetFramework
func (b *ProjectFileBuilder) WithTargetFramework(tfm string) *ProjectFileBuilder {
	return b.WithProperty("TargetFramework", tfm)
}

// WithHintReference adds <Reference Include><HintPath>
func (b *ProjectFileBuilder) WithHintReference(include, hintPath string) *ProjectFileBuilder {
	b.references = append(b.references, fmt.Sprintf(
		"    <Reference Include=%q>\n      <HintPath>%s</HintPath>\n    </Reference>", include, hintPath))
	return b
}

// WithFrameworkReference adds a <Reference> without a HintPath
func (b *ProjectFileBuilder) WithFrameworkReference(include string) *ProjectFileBuilder {
	b.references = append(b.references, fmt.Sprintf("    <Reference Include=%q />", include))
	return b
}

// WithPackage adds a <PackageReference>
func (b *ProjectFileBuilder) WithPackage(id, version string) *ProjectFileBuilder {
	b.packages = append(b.packages, fmt.Sprintf("    <PackageReference Include=%q Version=%q />", id, version))
	return b
}

// WithProjectReference adds a <ProjectReference>
func (b *ProjectFileBuilder) WithProjectReference(include string) *ProjectFileBuilder {
	b.projectRefs = append(b.projectRefs, fmt.Sprintf("    <ProjectReference Include=%q />", include))
	return b
}

// Render returns the project file text
func (b *ProjectFileBuilder) Render() string {
	var sb strings.Builder
	sb.WriteString("<Project Sdk=\"Microsoft.NET.Sdk\">\n")
	if len(b.properties) > 0 {
		sb.WriteString("  <PropertyGroup>\n")
		for _, p := range b.properties {
			fmt.Fprintf(&sb, "    <%s>%s</%s>\n", p[0], p[1], p[0])
		}
		sb.WriteString("  </PropertyGroup>\n")
	}
	for _, items := range [][]string{b.references, b.packages, b.projectRefs} {
		if len(items) == 0 {
			continue
		}
		sb.WriteString("  <ItemGroup>\n")
		sb.WriteString(strings.Join(items, "\n"))
		sb.WriteString("\n  </ItemGroup>\n")
	}
	sb.WriteString("</Project>\n")
	return sb.String()
}

// Write writes the project file and returns its path
func (b *ProjectFileBuilder) Write(tb testing.TB) string {
	tb.Helper()
	return WriteFile(tb, filepath.Join(b.dir, b.name+".csproj"), b.Render())
}

// WriteFile writes content to path, creating parent directories
func WriteFile(tb testing.TB, path, content string) string {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteManifest writes a TOML type listing. Types are given as
// "Namespace.Name"; a name without a dot lands in the global namespace.
// Extensions are "Namespace.Method(Receiver)".
func WriteManifest(tb testing.TB, path string, typeNames []string, extensions ...string) string {
	tb.Helper()
	f := manifest.File{Assembly: strings.TrimSuffix(filepath.Base(path), ".types.toml")}
	for _, full := range typeNames {
		ns, name := splitQualified(full)
		f.Types = append(f.Types, manifest.Type{Namespace: ns, Name: name})
	}
	for _, e := range extensions {
		open := strings.Index(e, "(")
		if open < 0 || !strings.HasSuffix(e, ")") {
			tb.Fatalf("extension %q is not Namespace.Method(Receiver)", e)
		}
		ns, method := splitQualified(e[:open])
		f.Extensions = append(f.Extensions, manifest.Extension{
			Namespace: ns, Method: method, Extends: e[open+1 : len(e)-1],
		})
	}
	data, err := toml.Marshal(f)
	if err != nil {
		tb.Fatalf("encode manifest: %v", err)
	}
	return WriteFile(tb, path, string(data))
}

func splitQualified(full string) (namespace, name string) {
	i := strings.LastIndex(full, ".")
	if i < 0 {
		return "", full
	}
	return full[:i], full[i+1:]
}
