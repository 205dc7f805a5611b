package clr

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	cliHeaderDirectory = 14
	cliHeaderSize      = 72
	metadataSignature  = 0x424A5342 // "BSJB"
)

var errNotManaged = errors.New("not a managed assembly")

// image is the parsed metadata of one CLI module
type image struct {
	tables  *tables
	strings []byte
	blobs   []byte
}

// readMetadata locates the CLI header through the PE data directories and
// returns the raw metadata root.
func readMetadata(f *pe.File) ([]byte, error) {
	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= cliHeaderDirectory {
			return nil, errNotManaged
		}
		dir = oh.DataDirectory[cliHeaderDirectory]
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= cliHeaderDirectory {
			return nil, errNotManaged
		}
		dir = oh.DataDirectory[cliHeaderDirectory]
	default:
		return nil, errNotManaged
	}
	if dir.VirtualAddress == 0 || dir.Size < cliHeaderSize {
		return nil, errNotManaged
	}

	cli, err := readRVA(f, dir.VirtualAddress, cliHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("read CLI header: %w", err)
	}
	mdRVA := binary.LittleEndian.Uint32(cli[8:])
	mdSize := binary.LittleEndian.Uint32(cli[12:])
	if mdRVA == 0 || mdSize == 0 {
		return nil, errNotManaged
	}
	return readRVA(f, mdRVA, mdSize)
}

// readRVA maps a relative virtual address onto the section holding it
func readRVA(f *pe.File, rva, size uint32) ([]byte, error) {
	for _, s := range f.Sections {
		span := max(s.VirtualSize, s.Size)
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+span {
			continue
		}
		off := rva - s.VirtualAddress
		if uint64(off)+uint64(size) > uint64(s.Size) {
			return nil, fmt.Errorf("rva %#x+%d runs past section %s", rva, size, s.Name)
		}
		buf := make([]byte, size)
		n, err := s.ReadAt(buf, int64(off))
		if n == len(buf) {
			return buf, nil
		}
		return nil, fmt.Errorf("read section %s: %w", s.Name, err)
	}
	return nil, fmt.Errorf("rva %#x not in any section", rva)
}

// parseImage splits the metadata root into its streams
func parseImage(md []byte) (*image, error) {
	if len(md) < 16 || binary.LittleEndian.Uint32(md) != metadataSignature {
		return nil, errors.New("bad metadata signature")
	}
	versionLen := int(binary.LittleEndian.Uint32(md[12:]))
	pos := 16 + versionLen
	if versionLen < 0 || pos+4 > len(md) {
		return nil, errors.New("metadata root truncated")
	}
	count := int(binary.LittleEndian.Uint16(md[pos+2:]))
	pos += 4

	streams := make(map[string][]byte, count)
	for i := 0; i < count; i++ {
		if pos+8 > len(md) {
			return nil, errors.New("stream header truncated")
		}
		off := binary.LittleEndian.Uint32(md[pos:])
		size := binary.LittleEndian.Uint32(md[pos+4:])
		pos += 8

		end := bytes.IndexByte(md[pos:], 0)
		if end < 0 {
			return nil, errors.New("unterminated stream name")
		}
		name := string(md[pos : pos+end])
		pos += (end + 4) &^ 3

		if uint64(off)+uint64(size) > uint64(len(md)) {
			return nil, fmt.Errorf("stream %s out of range", name)
		}
		streams[name] = md[off : off+size]
	}

	tableStream, ok := streams["#~"]
	if !ok {
		tableStream, ok = streams["#-"]
	}
	if !ok {
		return nil, errors.New("no metadata table stream")
	}
	ts, err := parseTables(tableStream)
	if err != nil {
		return nil, err
	}
	return &image{
		tables:  ts,
		strings: streams["#Strings"],
		blobs:   streams["#Blob"],
	}, nil
}

// str reads a NUL-terminated entry of the #Strings heap
func (img *image) str(index uint32) string {
	if int(index) >= len(img.strings) {
		return ""
	}
	s := img.strings[index:]
	if end := bytes.IndexByte(s, 0); end >= 0 {
		s = s[:end]
	}
	return string(s)
}

// blob reads a length-prefixed entry of the #Blob heap
func (img *image) blob(index uint32) ([]byte, error) {
	if int(index) >= len(img.blobs) {
		return nil, fmt.Errorf("blob index %d out of range", index)
	}
	length, n, err := decodeCompressed(img.blobs[index:])
	if err != nil {
		return nil, err
	}
	start := int(index) + n
	if start+int(length) > len(img.blobs) {
		return nil, fmt.Errorf("blob at %d truncated", index)
	}
	return img.blobs[start : start+int(length)], nil
}

// decodeCompressed reads an ECMA-335 compressed unsigned integer
func decodeCompressed(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, errors.New("compressed integer truncated")
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, errors.New("compressed integer truncated")
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, errors.New("compressed integer truncated")
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	}
	return 0, 0, fmt.Errorf("invalid compressed integer lead byte %#x", b[0])
}
