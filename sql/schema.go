package sql

import (
	"fmt"
	"strings"
)

// Schema is an ordered list of columns; offsets are assigned when the schema is
// built and never change afterwards.
type Schema struct {
	columns          []Column
	length           uint32
	uninlined        []int
	indexedColumns   []int
	multiConstraints []MultiConstraint
}

func NewSchema(cols []Column) *Schema {
	s := &Schema{
		columns: make([]Column, len(cols)),
	}
	var offset uint32
	for idx, col := range cols {
		col.Inlined = col.Type.Inlined()
		col.Offset = offset
		offset += col.FixedLength()
		if !col.Inlined {
			s.uninlined = append(s.uninlined, idx)
		}
		s.columns[idx] = col
	}
	s.length = offset
	return s
}

// CopySchema returns a key schema holding the listed columns; IndexedColumns of
// the copy reports which columns of s they came from.
func CopySchema(s *Schema, cols []int) *Schema {
	keyCols := make([]Column, 0, len(cols))
	for _, col := range cols {
		keyCols = append(keyCols, s.columns[col])
	}
	ks := NewSchema(keyCols)
	ks.SetIndexedColumns(cols)
	return ks
}

func (s *Schema) SetIndexedColumns(cols []int) {
	s.indexedColumns = append([]int(nil), cols...)
}

func (s *Schema) IndexedColumns() []int {
	return s.indexedColumns
}

func (s *Schema) ColumnCount() int {
	return len(s.columns)
}

func (s *Schema) Column(idx int) Column {
	return s.columns[idx]
}

func (s *Schema) Columns() []Column {
	return s.columns
}

func (s *Schema) Length() uint32 {
	return s.length
}

func (s *Schema) UninlinedColumns() []int {
	return s.uninlined
}

func (s *Schema) ColumnIndex(name string) (int, bool) {
	for idx, col := range s.columns {
		if strings.EqualFold(col.Name, name) {
			return idx, true
		}
	}
	return -1, false
}

func (s *Schema) ColumnTypes() []DataType {
	types := make([]DataType, len(s.columns))
	for idx, col := range s.columns {
		types[idx] = col.Type
	}
	return types
}

func (s *Schema) AddMultiConstraint(mc MultiConstraint) {
	s.multiConstraints = append(s.multiConstraints, mc)
}

func (s *Schema) MultiConstraints() []MultiConstraint {
	return s.multiConstraints
}

// PrimaryKey returns the columns of the primary key: either a multi column
// PRIMARY KEY constraint or the columns individually marked primary.
func (s *Schema) PrimaryKey() []int {
	for _, mc := range s.multiConstraints {
		if mc.Type == PrimaryConstraint {
			return mc.Columns
		}
	}

	var cols []int
	for idx, col := range s.columns {
		if col.IsPrimary() {
			cols = append(cols, idx)
		}
	}
	return cols
}

func (s *Schema) Equal(s2 *Schema) bool {
	if len(s.columns) != len(s2.columns) {
		return false
	}
	for idx := range s.columns {
		c1 := s.columns[idx]
		c2 := s2.columns[idx]
		if !strings.EqualFold(c1.Name, c2.Name) || c1.Type != c2.Type || c1.Length != c2.Length {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	var b strings.Builder
	b.WriteString("(")
	for idx, col := range s.columns {
		if idx > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", col.Name, col.DataType())
	}
	b.WriteString(")")
	return b.String()
}
