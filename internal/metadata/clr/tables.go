package clr

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

type tableLayout struct {
	rows       uint32
	rowSize    int
	offset     int
	colOffsets []int
	colSizes   []int
}

// layout is the physical shape of a #~ stream: row counts, widths, offsets
type layout struct {
	heapSizes byte
	tables    [numTables]tableLayout
}

func newLayout(heapSizes byte, rows [numTables]uint32, dataStart int) *layout {
	l := &layout{heapSizes: heapSizes}
	for t := range l.tables {
		l.tables[t].rows = rows[t]
	}

	offset := dataStart
	for t := 0; t < numTables; t++ {
		tl := &l.tables[t]
		cols := schema[t]
		tl.colOffsets = make([]int, len(cols))
		tl.colSizes = make([]int, len(cols))
		for i, c := range cols {
			tl.colOffsets[i] = tl.rowSize
			tl.colSizes[i] = l.columnSize(c)
			tl.rowSize += tl.colSizes[i]
		}
		tl.offset = offset
		offset += int(tl.rows) * tl.rowSize
	}
	return l
}

func (l *layout) columnSize(c column) int {
	switch c.kind {
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		return l.heapIndexSize(heapStringsWide)
	case colGUID:
		return l.heapIndexSize(heapGUIDWide)
	case colBlob:
		return l.heapIndexSize(heapBlobWide)
	case colTable:
		if l.tables[c.table].rows < 1<<16 {
			return 2
		}
		return 4
	case colCoded:
		var maxRows uint32
		for _, t := range c.coded.tables {
			if t != noTable && l.tables[t].rows > maxRows {
				maxRows = l.tables[t].rows
			}
		}
		if maxRows < 1<<(16-c.coded.bits) {
			return 2
		}
		return 4
	}
	return 0
}

func (l *layout) heapIndexSize(flag byte) int {
	if l.heapSizes&flag != 0 {
		return 4
	}
	return 2
}

// end is the offset just past the last table row
func (l *layout) end() int {
	last := l.tables[numTables-1]
	return last.offset + int(last.rows)*last.rowSize
}

// tables gives row/column access to a validated #~ stream
type tables struct {
	data []byte
	*layout
}

// parseTables reads the #~ (or uncompressed #-) stream header and checks that
// every present table fits in the stream.
func parseTables(stream []byte) (*tables, error) {
	if len(stream) < 24 {
		return nil, fmt.Errorf("table stream too short: %d bytes", len(stream))
	}
	heapSizes := stream[6]
	valid := binary.LittleEndian.Uint64(stream[8:])

	if valid>>numTables != 0 {
		return nil, fmt.Errorf("unsupported metadata tables present (valid mask %#x)", valid)
	}

	var rows [numTables]uint32
	pos := 24
	for t := 0; t < numTables; t++ {
		if valid&(1<<uint(t)) == 0 {
			continue
		}
		if pos+4 > len(stream) {
			return nil, fmt.Errorf("row count for table %#x out of range", t)
		}
		rows[t] = binary.LittleEndian.Uint32(stream[pos:])
		pos += 4
	}
	if heapSizes&heapExtraData != 0 {
		pos += 4
	}

	l := newLayout(heapSizes, rows, pos)
	if l.end() > len(stream) {
		return nil, fmt.Errorf("metadata tables truncated: need %d bytes, have %d (%d tables)",
			l.end(), len(stream), bits.OnesCount64(valid))
	}
	return &tables{data: stream, layout: l}, nil
}

// rowCount returns the number of rows in table t
func (ts *tables) rowCount(t tableID) uint32 {
	return ts.tables[t].rows
}

// cell reads column col of the 1-based row. Out-of-range rows read as zero,
// which every caller treats as a null reference.
func (ts *tables) cell(t tableID, row uint32, col int) uint32 {
	tl := &ts.tables[t]
	if row == 0 || row > tl.rows || col >= len(tl.colSizes) {
		return 0
	}
	off := tl.offset + int(row-1)*tl.rowSize + tl.colOffsets[col]
	if tl.colSizes[col] == 2 {
		return uint32(binary.LittleEndian.Uint16(ts.data[off:]))
	}
	return binary.LittleEndian.Uint32(ts.data[off:])
}
