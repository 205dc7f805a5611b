package clr

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// assemblyBuilder assembles a minimal managed PE image: one .text section
// holding a CLI header and a metadata root with #~, #Strings, #Blob and #GUID.
type assemblyBuilder struct {
	strings    bytes.Buffer
	stringIdx  map[string]uint32
	blobs      bytes.Buffer
	rows       [numTables][][]uint32
	noCLI      bool
	extraValid uint64
}

func newAssemblyBuilder() *assemblyBuilder {
	b := &assemblyBuilder{stringIdx: map[string]uint32{"": 0}}
	b.strings.WriteByte(0)
	b.blobs.WriteByte(0)
	return b
}

func (b *assemblyBuilder) str(s string) uint32 {
	if i, ok := b.stringIdx[s]; ok {
		return i
	}
	i := uint32(b.strings.Len())
	b.strings.WriteString(s)
	b.strings.WriteByte(0)
	b.stringIdx[s] = i
	return i
}

func (b *assemblyBuilder) blob(data ...byte) uint32 {
	i := uint32(b.blobs.Len())
	b.blobs.Write(encodeCompressed(uint32(len(data))))
	b.blobs.Write(data)
	return i
}

// add appends a row and returns its 1-based index
func (b *assemblyBuilder) add(t tableID, values ...uint32) uint32 {
	if len(values) != len(schema[t]) {
		panic("column count mismatch")
	}
	b.rows[t] = append(b.rows[t], values)
	return uint32(len(b.rows[t]))
}

func encodeCompressed(v uint32) []byte {
	switch {
	case v < 0x80:
		return []byte{byte(v)}
	case v < 0x4000:
		return []byte{byte(v>>8) | 0x80, byte(v)}
	default:
		return []byte{byte(v>>24) | 0xC0, byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

func encodeCoded(c *codedIndex, t tableID, row uint32) uint32 {
	for tag, ct := range c.tables {
		if ct == t {
			return row<<c.bits | uint32(tag)
		}
	}
	panic("table not in coded index")
}

func typeToken(t tableID, row uint32) byte {
	return byte(encodeCoded(typeDefOrRef, t, row))
}

func pad4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func (b *assemblyBuilder) tableStream() []byte {
	var rows [numTables]uint32
	var valid uint64
	for t := range b.rows {
		rows[t] = uint32(len(b.rows[t]))
		if rows[t] > 0 {
			valid |= 1 << uint(t)
		}
	}
	valid |= b.extraValid

	var out bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&out, le, uint32(0))
	out.Write([]byte{2, 0, 0, 1})
	binary.Write(&out, le, valid)
	binary.Write(&out, le, uint64(0))
	for t := 0; t < numTables; t++ {
		if rows[t] > 0 {
			binary.Write(&out, le, rows[t])
		}
	}

	l := newLayout(0, rows, out.Len())
	for t := 0; t < numTables; t++ {
		for _, row := range b.rows[t] {
			for i, v := range row {
				if l.tables[t].colSizes[i] == 2 {
					binary.Write(&out, le, uint16(v))
				} else {
					binary.Write(&out, le, v)
				}
			}
		}
	}
	pad4(&out)
	return out.Bytes()
}

func (b *assemblyBuilder) metadataRoot() []byte {
	pad4(&b.strings)
	pad4(&b.blobs)
	guids := make([]byte, 16)
	guids[0] = 0x42

	streams := []struct {
		name string
		data []byte
	}{
		{"#~", b.tableStream()},
		{"#Strings", b.strings.Bytes()},
		{"#Blob", b.blobs.Bytes()},
		{"#GUID", guids},
	}

	version := []byte("v4.0.30319\x00\x00")
	headerLen := 16 + len(version) + 4
	for _, s := range streams {
		headerLen += 8 + (len(s.name)+4)&^3
	}

	var out bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&out, le, uint32(metadataSignature))
	binary.Write(&out, le, uint16(1))
	binary.Write(&out, le, uint16(1))
	binary.Write(&out, le, uint32(0))
	binary.Write(&out, le, uint32(len(version)))
	out.Write(version)
	binary.Write(&out, le, uint16(0))
	binary.Write(&out, le, uint16(len(streams)))

	offset := headerLen
	for _, s := range streams {
		binary.Write(&out, le, uint32(offset))
		binary.Write(&out, le, uint32(len(s.data)))
		name := make([]byte, (len(s.name)+4)&^3)
		copy(name, s.name)
		out.Write(name)
		offset += len(s.data)
	}
	for _, s := range streams {
		out.Write(s.data)
	}
	return out.Bytes()
}

// image lays the metadata out as a PE32 file
func (b *assemblyBuilder) image() []byte {
	const (
		peOffset    = 0x80
		sectionRVA  = 0x2000
		rawOffset   = 0x200
		fileAlign   = 0x200
		sectionAlgn = 0x2000
	)
	le := binary.LittleEndian

	md := b.metadataRoot()
	var text bytes.Buffer
	cli := make([]byte, cliHeaderSize)
	le.PutUint32(cli[0:], cliHeaderSize)
	le.PutUint16(cli[4:], 2)
	le.PutUint16(cli[6:], 5)
	le.PutUint32(cli[8:], sectionRVA+cliHeaderSize)
	le.PutUint32(cli[12:], uint32(len(md)))
	le.PutUint32(cli[16:], 1)
	text.Write(cli)
	text.Write(md)
	virtualSize := uint32(text.Len())
	for text.Len()%fileAlign != 0 {
		text.WriteByte(0)
	}

	var out bytes.Buffer
	dos := make([]byte, peOffset)
	dos[0], dos[1] = 'M', 'Z'
	le.PutUint32(dos[0x3C:], peOffset)
	out.Write(dos)
	out.Write([]byte("PE\x00\x00"))

	oh := pe.OptionalHeader32{
		Magic:                 0x10b,
		SizeOfCode:            uint32(text.Len()),
		BaseOfCode:            sectionRVA,
		ImageBase:             0x400000,
		SectionAlignment:      sectionAlgn,
		FileAlignment:         fileAlign,
		MajorSubsystemVersion: 4,
		SizeOfImage:           sectionRVA + sectionAlgn,
		SizeOfHeaders:         rawOffset,
		Subsystem:             3,
		NumberOfRvaAndSizes:   16,
	}
	if !b.noCLI {
		oh.DataDirectory[cliHeaderDirectory] = pe.DataDirectory{VirtualAddress: sectionRVA, Size: cliHeaderSize}
	}

	fh := pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(oh)),
		Characteristics:      0x2102,
	}
	binary.Write(&out, le, fh)
	binary.Write(&out, le, oh)

	sh := pe.SectionHeader32{
		VirtualSize:      virtualSize,
		VirtualAddress:   sectionRVA,
		SizeOfRawData:    uint32(text.Len()),
		PointerToRawData: rawOffset,
		Characteristics:  0x60000020,
	}
	copy(sh.Name[:], ".text")
	binary.Write(&out, le, sh)

	for out.Len() < rawOffset {
		out.WriteByte(0)
	}
	out.Write(text.Bytes())
	return out.Bytes()
}

func (b *assemblyBuilder) writeFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, b.image(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// widgetsAssembly builds the assembly most tests read:
//
//	namespace Acme.Widgets { public class Widget; public class Repository<T>; }
//	namespace Acme.Internal { internal class Hidden; }
//	namespace Acme.Extensions {
//	    public static class WidgetExtensions {
//	        public static void Shine(this Widget w);
//	        public static void Each<T>(this IEnumerable<T> items);
//	        public static int Helper(int x);
//	        public static int Twice(this int x);
//	    }
//	    public class NotStatic { [Extension] public static void Ignored(this Widget w); }
//	    public class Outer { public class Nested; }
//	}
//	[assembly: TypeForwardedTo(typeof(Acme.Legacy.Gadget))]
func widgetsAssembly() *assemblyBuilder {
	b := newAssemblyBuilder()

	b.add(tModule, 0, b.str("Acme.Widgets.dll"), 1, 0, 0)
	b.add(tAssembly, 0x8004, 1, 0, 0, 0, 0, 0, b.str("Acme.Widgets"), 0)
	asmRef := b.add(tAssemblyRef, 4, 0, 0, 0, 0, 0, b.str("System.Runtime"), 0, 0)
	scope := encodeCoded(resolutionScope, tAssemblyRef, asmRef)

	object := b.add(tTypeRef, scope, b.str("Object"), b.str("System"))
	extAttr := b.add(tTypeRef, scope, b.str("ExtensionAttribute"), b.str("System.Runtime.CompilerServices"))
	enumerable := b.add(tTypeRef, scope, b.str("IEnumerable`1"), b.str("System.Collections.Generic"))
	extends := encodeCoded(typeDefOrRef, tTypeRef, object)

	b.add(tTypeDef, 0, b.str("<Module>"), 0, 0, 1, 1)
	widget := b.add(tTypeDef, typePublic, b.str("Widget"), b.str("Acme.Widgets"), extends, 1, 1)
	b.add(tTypeDef, typePublic, b.str("Repository`1"), b.str("Acme.Widgets"), extends, 1, 1)
	b.add(tTypeDef, 0, b.str("Hidden"), b.str("Acme.Internal"), extends, 1, 1)
	statics := b.add(tTypeDef, typePublic|typeAbstract|typeSealed, b.str("WidgetExtensions"), b.str("Acme.Extensions"), extends, 1, 1)
	b.add(tTypeDef, typePublic, b.str("NotStatic"), b.str("Acme.Extensions"), extends, 1, 5)
	b.add(tTypeDef, typePublic, b.str("Outer"), b.str("Acme.Extensions"), extends, 1, 6)
	nested := b.add(tTypeDef, 0x2, b.str("Nested"), 0, extends, 1, 6)
	b.add(tNestedClass, nested, nested-1)

	const publicStatic = methodPublic | methodStatic
	shine := b.add(tMethodDef, 0, 0, publicStatic, b.str("Shine"),
		b.blob(0x00, 0x01, 0x01, elemClass, typeToken(tTypeDef, widget)), 1)
	each := b.add(tMethodDef, 0, 0, publicStatic, b.str("Each"),
		b.blob(sigGeneric, 0x01, 0x01, 0x01, elemGenericInst, elemClass, typeToken(tTypeRef, enumerable), 0x01, elemMVar, 0x00), 1)
	b.add(tMethodDef, 0, 0, publicStatic, b.str("Helper"), b.blob(0x00, 0x01, 0x08, 0x08), 1)
	twice := b.add(tMethodDef, 0, 0, publicStatic, b.str("Twice"), b.blob(0x00, 0x01, 0x08, 0x08), 1)
	ignored := b.add(tMethodDef, 0, 0, publicStatic, b.str("Ignored"),
		b.blob(0x00, 0x01, 0x01, elemClass, typeToken(tTypeDef, widget)), 1)

	b.add(tGenericParam, 0, 0, encodeCoded(typeOrMethodDef, tMethodDef, each), b.str("T"))

	ctor := b.add(tMemberRef, encodeCoded(memberRefParent, tTypeRef, extAttr), b.str(".ctor"), b.blob(0x20, 0x00, 0x01))
	attrType := encodeCoded(customAttributeType, tMemberRef, ctor)
	attrValue := b.blob(0x01, 0x00, 0x00, 0x00)
	b.add(tCustomAttribute, encodeCoded(hasCustomAttribute, tMethodDef, shine), attrType, attrValue)
	b.add(tCustomAttribute, encodeCoded(hasCustomAttribute, tMethodDef, each), attrType, attrValue)
	b.add(tCustomAttribute, encodeCoded(hasCustomAttribute, tTypeDef, statics), attrType, attrValue)
	b.add(tCustomAttribute, encodeCoded(hasCustomAttribute, tMethodDef, twice), attrType, attrValue)
	b.add(tCustomAttribute, encodeCoded(hasCustomAttribute, tMethodDef, ignored), attrType, attrValue)

	b.add(tExportedType, typePublic, 0, b.str("Gadget"), b.str("Acme.Legacy"), encodeCoded(implementation, tAssemblyRef, asmRef))
	return b
}
