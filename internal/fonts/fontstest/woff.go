// Package fontstest builds font containers for tests.
package fontstest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

const (
	sfntHeaderSize = 12
	sfntRecordSize = 16
	woffHeaderSize = 44
	woffEntrySize  = 20
)

type table struct {
	tag      string
	orig     []byte
	stored   []byte
	checksum uint32
}

// WOFF wraps TrueType or OpenType data in a WOFF 1.0 container. Tables are
// zlib-compressed when that makes them smaller and stored raw otherwise.
func WOFF(sfnt []byte) ([]byte, error) {
	if len(sfnt) < sfntHeaderSize {
		return nil, errors.New("sfnt data too short")
	}
	numTables := int(binary.BigEndian.Uint16(sfnt[4:]))
	if len(sfnt) < sfntHeaderSize+sfntRecordSize*numTables {
		return nil, errors.New("sfnt table directory truncated")
	}

	tables := make([]table, 0, numTables)
	totalSfntSize := uint32(sfntHeaderSize + sfntRecordSize*numTables)
	for i := 0; i < numTables; i++ {
		rec := sfnt[sfntHeaderSize+sfntRecordSize*i:]
		tag := string(rec[:4])
		offset := binary.BigEndian.Uint32(rec[8:])
		length := binary.BigEndian.Uint32(rec[12:])
		if uint64(offset)+uint64(length) > uint64(len(sfnt)) {
			return nil, fmt.Errorf("table %q extends beyond data", tag)
		}
		orig := sfnt[offset : offset+length]

		stored, err := deflate(orig)
		if err != nil {
			return nil, fmt.Errorf("compress %q: %w", tag, err)
		}
		if len(stored) >= len(orig) {
			stored = orig
		}
		tables = append(tables, table{tag: tag, orig: orig, stored: stored, checksum: checksum(tag, orig)})
		totalSfntSize += pad4(length)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].tag < tables[j].tag })

	offset := uint32(woffHeaderSize + woffEntrySize*numTables)
	var dir, data bytes.Buffer
	for _, t := range tables {
		_ = binary.Write(&dir, binary.BigEndian, struct {
			Tag                                      [4]byte
			Offset, CompLength, OrigLength, Checksum uint32
		}{[4]byte([]byte(t.tag)), offset, uint32(len(t.stored)), uint32(len(t.orig)), t.checksum})
		data.Write(t.stored)
		data.Write(make([]byte, pad4(uint32(len(t.stored)))-uint32(len(t.stored))))
		offset += pad4(uint32(len(t.stored)))
	}

	var out bytes.Buffer
	out.WriteString("wOFF")
	out.Write(sfnt[:4])
	_ = binary.Write(&out, binary.BigEndian, struct {
		Length                 uint32
		NumTables, Reserved    uint16
		TotalSfntSize          uint32
		Major, Minor           uint16
		MetaOffset, MetaLength uint32
		MetaOrigLength         uint32
		PrivOffset, PrivLength uint32
	}{
		Length:        offset,
		NumTables:     uint16(numTables),
		TotalSfntSize: totalSfntSize,
		Major:         1,
	})
	out.Write(dir.Bytes())
	out.Write(data.Bytes())
	return out.Bytes(), nil
}

func deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pad4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// checksum sums the table as big-endian words. The head table is summed with
// its checksumAdjustment field zeroed.
func checksum(tag string, b []byte) uint32 {
	padded := make([]byte, pad4(uint32(len(b))))
	copy(padded, b)
	if tag == "head" && len(padded) >= 12 {
		binary.BigEndian.PutUint32(padded[8:], 0)
	}
	var sum uint32
	for i := 0; i < len(padded); i += 4 {
		sum += binary.BigEndian.Uint32(padded[i:])
	}
	return sum
}
