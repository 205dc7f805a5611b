package metadata

import "strings"

// predefinedTypes maps C# keyword types to the CLR names assemblies record
var predefinedTypes = map[string]string{
	"bool":    "Boolean",
	"byte":    "Byte",
	"sbyte":   "SByte",
	"char":    "Char",
	"decimal": "Decimal",
	"double":  "Double",
	"float":   "Single",
	"int":     "Int32",
	"uint":    "UInt32",
	"long":    "Int64",
	"ulong":   "UInt64",
	"object":  "Object",
	"short":   "Int16",
	"ushort":  "UInt16",
	"string":  "String",
	"nint":    "IntPtr",
	"nuint":   "UIntPtr",
}

// NormalizeTypeName drops the generic-arity marker compilers append to type
// names: "List`1" becomes "List" and "Tuple`10" becomes "Tuple". Names
// without a marker are returned unchanged.
func NormalizeTypeName(name string) string {
	n := len(name)
	switch {
	case n >= 2 && name[n-2] == '`':
		return name[:n-2]
	case n >= 3 && name[n-3] == '`':
		return name[:n-3]
	}
	return name
}

// CanonicalTypeName reduces a type as written in source or in a signature to
// the simple CLR name used as an extension receiver key:
//
//	"int"                                    -> "Int32"
//	"System.Collections.Generic.List<T>"     -> "List"
//	"string?"                                -> "String"
//	"global::Acme.Widget[]"                  -> "Widget[]"
func CanonicalTypeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "this ")
	name = strings.TrimSpace(name)

	suffix := ""
	for strings.HasSuffix(name, "[]") || strings.HasSuffix(name, "?") || strings.HasSuffix(name, "*") {
		switch {
		case strings.HasSuffix(name, "[]"):
			suffix = "[]" + suffix
			name = strings.TrimSuffix(name, "[]")
		case strings.HasSuffix(name, "*"):
			suffix = "*" + suffix
			name = strings.TrimSuffix(name, "*")
		default:
			// nullable annotations do not change the receiver
			name = strings.TrimSuffix(name, "?")
		}
	}

	if i := strings.Index(name, "<"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = NormalizeTypeName(strings.TrimSpace(name))

	if clr, ok := predefinedTypes[name]; ok {
		name = clr
	}
	return name + suffix
}

// IsCompilerGenerated reports names the C# compiler invents ("<Module>",
// "<>c__DisplayClass0_0", "<PrivateImplementationDetails>")
func IsCompilerGenerated(name string) bool {
	return name == "" || strings.ContainsAny(name, "<>$")
}
