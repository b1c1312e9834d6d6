// Package codec serializes named tables to a self-describing binary columnar
// format and moves them over a length-prefixed frame protocol.
//
// The payload format is little-endian throughout:
//
//	magic      uint32 ("FXB1")
//	metaCount  uint32, then per entry: keyLen uint32, key, valLen uint32, val
//	colCount   uint32
//	rowCount   uint32
//	per column:
//	  nameLen uint32, name
//	  type    uint8 (1=float64 2=int64 3=int8 4=bool 5=string)
//	  null bitmap, ceil(rows/8) bytes, bit set = null
//	  values  (fixed-width for numeric/bool; uint32 length + bytes per string)
//
// decode(encode(t)) == t for every valid table, including null masks and
// metadata.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Magic identifies a serialized table payload.
const Magic uint32 = 0x46584231 // "FXB1"

// Encode serializes a table to its binary columnar representation.
func Encode(t *types.Table) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("codec: invalid table: %w", err)
	}

	rows := t.NumRows()
	buf := make([]byte, 0, encodedSizeHint(t))
	buf = appendUint32(buf, Magic)

	buf = appendUint32(buf, uint32(len(t.Metadata)))
	for _, key := range sortedKeys(t.Metadata) {
		buf = appendString(buf, key)
		buf = appendString(buf, t.Metadata[key])
	}

	buf = appendUint32(buf, uint32(len(t.Columns)))
	buf = appendUint32(buf, uint32(rows))

	for i := range t.Columns {
		c := &t.Columns[i]
		buf = appendString(buf, c.Name)
		buf = append(buf, byte(c.Type))

		bitmap := make([]byte, (rows+7)/8)
		for r := 0; r < rows; r++ {
			if c.IsNull(r) {
				bitmap[r/8] |= 1 << uint(r%8)
			}
		}
		buf = append(buf, bitmap...)

		switch c.Type {
		case types.ColumnFloat64:
			for _, v := range c.Float64s {
				buf = appendUint64(buf, math.Float64bits(v))
			}
		case types.ColumnInt64:
			for _, v := range c.Int64s {
				buf = appendUint64(buf, uint64(v))
			}
		case types.ColumnInt8:
			for _, v := range c.Int8s {
				buf = append(buf, byte(v))
			}
		case types.ColumnBool:
			for _, v := range c.Bools {
				if v {
					buf = append(buf, 1)
				} else {
					buf = append(buf, 0)
				}
			}
		case types.ColumnString:
			for r, v := range c.Strings {
				if c.IsNull(r) {
					buf = appendUint32(buf, 0)
					continue
				}
				buf = appendString(buf, v)
			}
		}
	}

	return buf, nil
}

// Decode reconstructs a table from its binary representation. Any structural
// defect is reported as a types.ErrProtocol-wrapped error.
func Decode(data []byte) (*types.Table, error) {
	r := &reader{data: data}

	magic, err := r.uint32()
	if err != nil {
		return nil, protoErr("truncated header")
	}
	if magic != Magic {
		return nil, protoErr(fmt.Sprintf("bad magic 0x%08x", magic))
	}

	metaCount, err := r.uint32()
	if err != nil {
		return nil, protoErr("truncated metadata count")
	}
	// Header counts come off the wire; bound every count by the smallest
	// encoding the remaining bytes could hold before allocating for it.
	// Each metadata entry carries at least two length words.
	if int64(metaCount)*8 > int64(r.remaining()) {
		return nil, protoErr(fmt.Sprintf("metadata count %d exceeds remaining %d bytes", metaCount, r.remaining()))
	}
	t := &types.Table{}
	if metaCount > 0 {
		t.Metadata = make(map[string]string, metaCount)
	}
	for i := uint32(0); i < metaCount; i++ {
		key, err := r.str()
		if err != nil {
			return nil, protoErr("truncated metadata key")
		}
		val, err := r.str()
		if err != nil {
			return nil, protoErr("truncated metadata value")
		}
		t.Metadata[key] = val
	}

	colCount, err := r.uint32()
	if err != nil {
		return nil, protoErr("truncated column count")
	}
	rowCount, err := r.uint32()
	if err != nil {
		return nil, protoErr("truncated row count")
	}
	rows := int(rowCount)

	// Each column carries at least a name length word, a type byte, and the
	// null bitmap.
	minColumnSize := 5 + (int64(rowCount)+7)/8
	if int64(colCount)*minColumnSize > int64(r.remaining()) {
		return nil, protoErr(fmt.Sprintf("column count %d exceeds remaining %d bytes", colCount, r.remaining()))
	}

	t.Columns = make([]types.Column, 0, colCount)
	for i := uint32(0); i < colCount; i++ {
		name, err := r.str()
		if err != nil {
			return nil, protoErr("truncated column name")
		}
		typeByte, err := r.byte()
		if err != nil {
			return nil, protoErr("truncated column type")
		}
		col := types.Column{Name: name, Type: types.ColumnType(typeByte)}

		bitmap, err := r.bytes((rows + 7) / 8)
		if err != nil {
			return nil, protoErr("truncated null bitmap")
		}
		var nulls []bool
		for rIdx := 0; rIdx < rows; rIdx++ {
			if bitmap[rIdx/8]&(1<<uint(rIdx%8)) != 0 {
				if nulls == nil {
					nulls = make([]bool, rows)
				}
				nulls[rIdx] = true
			}
		}
		col.Nulls = nulls

		switch col.Type {
		case types.ColumnFloat64:
			if int64(rows)*8 > int64(r.remaining()) {
				return nil, protoErr("truncated float64 values")
			}
			col.Float64s = make([]float64, rows)
			for rIdx := 0; rIdx < rows; rIdx++ {
				bits, err := r.uint64()
				if err != nil {
					return nil, protoErr("truncated float64 values")
				}
				col.Float64s[rIdx] = math.Float64frombits(bits)
			}
		case types.ColumnInt64:
			if int64(rows)*8 > int64(r.remaining()) {
				return nil, protoErr("truncated int64 values")
			}
			col.Int64s = make([]int64, rows)
			for rIdx := 0; rIdx < rows; rIdx++ {
				v, err := r.uint64()
				if err != nil {
					return nil, protoErr("truncated int64 values")
				}
				col.Int64s[rIdx] = int64(v)
			}
		case types.ColumnInt8:
			raw, err := r.bytes(rows)
			if err != nil {
				return nil, protoErr("truncated int8 values")
			}
			col.Int8s = make([]int8, rows)
			for rIdx, b := range raw {
				col.Int8s[rIdx] = int8(b)
			}
		case types.ColumnBool:
			raw, err := r.bytes(rows)
			if err != nil {
				return nil, protoErr("truncated bool values")
			}
			col.Bools = make([]bool, rows)
			for rIdx, b := range raw {
				col.Bools[rIdx] = b != 0
			}
		case types.ColumnString:
			if int64(rows)*4 > int64(r.remaining()) {
				return nil, protoErr("truncated string values")
			}
			col.Strings = make([]string, rows)
			for rIdx := 0; rIdx < rows; rIdx++ {
				s, err := r.str()
				if err != nil {
					return nil, protoErr("truncated string values")
				}
				col.Strings[rIdx] = s
			}
		default:
			return nil, protoErr(fmt.Sprintf("unknown column type %d", typeByte))
		}

		t.Columns = append(t.Columns, col)
	}

	if r.remaining() != 0 {
		return nil, protoErr(fmt.Sprintf("%d trailing bytes after table", r.remaining()))
	}
	return t, nil
}

func protoErr(msg string) error {
	return fmt.Errorf("codec: %w: %s", types.ErrProtocol, msg)
}

func encodedSizeHint(t *types.Table) int {
	size := 16
	for k, v := range t.Metadata {
		size += 8 + len(k) + len(v)
	}
	rows := t.NumRows()
	for i := range t.Columns {
		size += 5 + len(t.Columns[i].Name) + (rows+7)/8 + rows*9
	}
	return size
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion sort; metadata maps are tiny.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// reader is a bounds-checked cursor over a decoded payload.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("need %d bytes, have %d", n, r.remaining())
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) str() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
