// Package types defines the shared data model for FluxBridge: named tables,
// LP problems, solver specs, and optimization results.
package types

import "fmt"

// MetadataKeyName is the metadata key that assigns a table its semantic role
// within a request stream. Tables without it cannot be addressed and are
// dropped by the engine.
const MetadataKeyName = "name"

// ColumnType identifies the value type of a column.
type ColumnType uint8

const (
	ColumnFloat64 ColumnType = 1
	ColumnInt64   ColumnType = 2
	ColumnInt8    ColumnType = 3
	ColumnBool    ColumnType = 4
	ColumnString  ColumnType = 5
)

// String returns a human-readable name for the column type.
func (t ColumnType) String() string {
	switch t {
	case ColumnFloat64:
		return "float64"
	case ColumnInt64:
		return "int64"
	case ColumnInt8:
		return "int8"
	case ColumnBool:
		return "bool"
	case ColumnString:
		return "string"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Column is a single named, typed column. Exactly one of the value slices is
// populated, selected by Type. Nulls, when non-nil, marks absent entries; a
// nil Nulls slice means every entry is present.
type Column struct {
	Name string
	Type ColumnType

	Float64s []float64
	Int64s   []int64
	Int8s    []int8
	Bools    []bool
	Strings  []string

	Nulls []bool
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	switch c.Type {
	case ColumnFloat64:
		return len(c.Float64s)
	case ColumnInt64:
		return len(c.Int64s)
	case ColumnInt8:
		return len(c.Int8s)
	case ColumnBool:
		return len(c.Bools)
	case ColumnString:
		return len(c.Strings)
	default:
		return 0
	}
}

// IsNull reports whether the entry at index i is absent.
func (c *Column) IsNull(i int) bool {
	return c.Nulls != nil && i < len(c.Nulls) && c.Nulls[i]
}

// HasNulls reports whether any entry in the column is absent.
func (c *Column) HasNulls() bool {
	for _, n := range c.Nulls {
		if n {
			return true
		}
	}
	return false
}

// Equal reports whether two columns have the same name, type, values, and
// null mask.
func (c *Column) Equal(other *Column) bool {
	if c.Name != other.Name || c.Type != other.Type || c.Len() != other.Len() {
		return false
	}
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) != other.IsNull(i) {
			return false
		}
		if c.IsNull(i) {
			continue
		}
		switch c.Type {
		case ColumnFloat64:
			if c.Float64s[i] != other.Float64s[i] {
				return false
			}
		case ColumnInt64:
			if c.Int64s[i] != other.Int64s[i] {
				return false
			}
		case ColumnInt8:
			if c.Int8s[i] != other.Int8s[i] {
				return false
			}
		case ColumnBool:
			if c.Bools[i] != other.Bools[i] {
				return false
			}
		case ColumnString:
			if c.Strings[i] != other.Strings[i] {
				return false
			}
		}
	}
	return true
}

// NewFloat64Column creates a float64 column without nulls.
func NewFloat64Column(name string, values []float64) Column {
	return Column{Name: name, Type: ColumnFloat64, Float64s: values}
}

// NewInt64Column creates an int64 column without nulls.
func NewInt64Column(name string, values []int64) Column {
	return Column{Name: name, Type: ColumnInt64, Int64s: values}
}

// NewInt8Column creates an int8 column without nulls.
func NewInt8Column(name string, values []int8) Column {
	return Column{Name: name, Type: ColumnInt8, Int8s: values}
}

// NewBoolColumn creates a bool column without nulls.
func NewBoolColumn(name string, values []bool) Column {
	return Column{Name: name, Type: ColumnBool, Bools: values}
}

// NewStringColumn creates a string column without nulls.
func NewStringColumn(name string, values []string) Column {
	return Column{Name: name, Type: ColumnString, Strings: values}
}

// Table is an ordered set of named, equal-length typed columns plus string
// metadata. It is the unit of transmission on the wire protocol and the unit
// of storage in the dataset registry.
type Table struct {
	Columns  []Column
	Metadata map[string]string
}

// NewTable creates a table with the given name metadata and columns.
func NewTable(name string, columns ...Column) *Table {
	return &Table{
		Columns:  columns,
		Metadata: map[string]string{MetadataKeyName: name},
	}
}

// Name returns the table's semantic role from its metadata, or "" if the
// name key is absent.
func (t *Table) Name() string {
	return t.Metadata[MetadataKeyName]
}

// NumRows returns the row count of the first column, or 0 for an empty table.
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int {
	return len(t.Columns)
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// SetMetadata sets a metadata key, allocating the map if needed.
func (t *Table) SetMetadata(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}

// Validate checks that all columns have equal lengths and known types.
func (t *Table) Validate() error {
	if len(t.Columns) == 0 {
		return nil
	}
	rows := t.Columns[0].Len()
	for i := range t.Columns {
		c := &t.Columns[i]
		switch c.Type {
		case ColumnFloat64, ColumnInt64, ColumnInt8, ColumnBool, ColumnString:
		default:
			return fmt.Errorf("column %q has unknown type %d", c.Name, c.Type)
		}
		if c.Len() != rows {
			return fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), rows)
		}
		if c.Nulls != nil && len(c.Nulls) != rows {
			return fmt.Errorf("column %q null mask has %d entries, expected %d", c.Name, len(c.Nulls), rows)
		}
	}
	return nil
}

// Equal reports whether two tables have identical columns (order-sensitive),
// values, null masks, and metadata.
func (t *Table) Equal(other *Table) bool {
	if len(t.Columns) != len(other.Columns) {
		return false
	}
	for i := range t.Columns {
		if !t.Columns[i].Equal(&other.Columns[i]) {
			return false
		}
	}
	if len(t.Metadata) != len(other.Metadata) {
		return false
	}
	for k, v := range t.Metadata {
		if ov, ok := other.Metadata[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns:  make([]Column, len(t.Columns)),
		Metadata: make(map[string]string, len(t.Metadata)),
	}
	for k, v := range t.Metadata {
		out.Metadata[k] = v
	}
	for i := range t.Columns {
		c := t.Columns[i]
		cp := Column{Name: c.Name, Type: c.Type}
		cp.Float64s = append([]float64(nil), c.Float64s...)
		cp.Int64s = append([]int64(nil), c.Int64s...)
		cp.Int8s = append([]int8(nil), c.Int8s...)
		cp.Bools = append([]bool(nil), c.Bools...)
		cp.Strings = append([]string(nil), c.Strings...)
		cp.Nulls = append([]bool(nil), c.Nulls...)
		out.Columns[i] = cp
	}
	return out
}

// TableSet is a complete set of named tables describing one schema.
type TableSet map[string]*Table

// Clone returns a deep copy of the table set.
func (s TableSet) Clone() TableSet {
	out := make(TableSet, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}
