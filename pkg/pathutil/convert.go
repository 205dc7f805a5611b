// Package pathutil converts paths as they appear in MSBuild project files
// into native absolute paths, and back into short forms for display.
//
// Project files are written on Windows: separators are backslashes, paths
// are relative to the project directory, and values may reference
// properties as $(Name). Internally everything is an absolute, cleaned,
// native path.
package pathutil

import (
	"path/filepath"
	"regexp"
	"strings"
)

// ToRelative converts an absolute path to relative based on a root directory.
// Falls back to the original path if conversion fails or path is already relative.
//
// Examples:
//   - ToRelative("/src/app/lib/Acme.dll", "/src/app") → "lib/Acme.dll"
//   - ToRelative("/nuget/acme/1.0/lib/Acme.dll", "/src/app") → "/nuget/acme/1.0/lib/Acme.dll" (outside root)
//   - ToRelative("lib/Acme.dll", "/src/app") → "lib/Acme.dll" (already relative)
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}

	if !filepath.IsAbs(absPath) {
		return absPath
	}

	absPath = filepath.Clean(absPath)
	rootDir = filepath.Clean(rootDir)

	relPath, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		// Different drives on Windows
		return absPath
	}

	// Outside the root the absolute path is clearer
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return absPath
	}

	return relPath
}

// FromMSBuild turns a path written in a project file into an absolute native
// path. Both separators are accepted; relative paths resolve against baseDir.
//
// Examples:
//   - FromMSBuild(`..\lib\Acme.dll`, "/src/app") → "/src/lib/Acme.dll"
//   - FromMSBuild("/opt/sdk/System.dll", "/src/app") → "/opt/sdk/System.dll"
func FromMSBuild(value, baseDir string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	native := strings.ReplaceAll(value, `\`, "/")
	native = filepath.FromSlash(native)
	if !filepath.IsAbs(native) && !hasDriveLetter(value) {
		native = filepath.Join(baseDir, native)
	}
	return filepath.Clean(native)
}

func hasDriveLetter(p string) bool {
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/') &&
		(p[0]|0x20 >= 'a' && p[0]|0x20 <= 'z')
}

var propertyRef = regexp.MustCompile(`\$\(([A-Za-z_][A-Za-z0-9_.\-]*)\)`)

// ExpandProperties replaces every $(Name) in value using lookup. Names that
// lookup does not know expand to the empty string, as MSBuild does for
// undefined properties. Expansion is single pass.
func ExpandProperties(value string, lookup func(name string) (string, bool)) string {
	if !strings.Contains(value, "$(") {
		return value
	}
	return propertyRef.ReplaceAllStringFunc(value, func(ref string) string {
		name := propertyRef.FindStringSubmatch(ref)[1]
		if v, ok := lookup(name); ok {
			return v
		}
		return ""
	})
}

// ChainLookup consults each lookup in order and returns the first hit
func ChainLookup(lookups ...func(string) (string, bool)) func(string) (string, bool) {
	return func(name string) (string, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if v, ok := l(name); ok {
				return v, true
			}
		}
		return "", false
	}
}

// MapLookup looks names up case-insensitively in props, the way MSBuild
// treats property names
func MapLookup(props map[string]string) func(string) (string, bool) {
	folded := make(map[string]string, len(props))
	for k, v := range props {
		folded[strings.ToLower(k)] = v
	}
	return func(name string) (string, bool) {
		v, ok := folded[strings.ToLower(name)]
		return v, ok
	}
}
