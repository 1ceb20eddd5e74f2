package sql

import (
	"fmt"
	"strings"
)

// Tuple is a row of values bound to a schema. Storage copies tuples into tile
// group slots; the tuple itself is transient.
type Tuple struct {
	schema *Schema
	values []Value
}

func NewTuple(s *Schema) *Tuple {
	t := &Tuple{
		schema: s,
		values: make([]Value, s.ColumnCount()),
	}
	for idx, col := range s.columns {
		t.values[idx] = Null(col.Type)
	}
	return t
}

// MakeTuple builds a tuple from vals, converting each to its column's type.
func MakeTuple(s *Schema, vals ...Value) (*Tuple, error) {
	if len(vals) != s.ColumnCount() {
		return nil, fmt.Errorf("sql: tuple has %d values; schema has %d columns", len(vals),
			s.ColumnCount())
	}
	t := NewTuple(s)
	for idx, v := range vals {
		err := t.SetValue(idx, v)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tuple) Schema() *Schema {
	return t.schema
}

func (t *Tuple) SetValue(idx int, v Value) error {
	col := t.schema.columns[idx]
	cv, err := ConvertValue(col.Type, v)
	if err != nil {
		return fmt.Errorf("sql: column %s: %s", col.Name, err)
	}
	if !col.Inlined && !IsNull(cv) {
		var n int
		switch cv := cv.(type) {
		case StringValue:
			n = len(cv)
		case BytesValue:
			n = len(cv)
		}
		if col.Length > 0 && uint32(n) > col.Length {
			return fmt.Errorf("sql: column %s: value too long: %d > %d", col.Name, n, col.Length)
		}
	}
	t.values[idx] = cv
	return nil
}

func (t *Tuple) GetValue(idx int) Value {
	return t.values[idx]
}

func (t *Tuple) Values() []Value {
	return t.values
}

// Project returns the values of the listed columns; it is used to build index
// keys.
func (t *Tuple) Project(cols []int) []Value {
	key := make([]Value, len(cols))
	for idx, col := range cols {
		key[idx] = t.values[col]
	}
	return key
}

func (t *Tuple) Copy() *Tuple {
	return &Tuple{
		schema: t.schema,
		values: append([]Value(nil), t.values...),
	}
}

func (t *Tuple) Equal(t2 *Tuple) bool {
	return CompareValues(t.values, t2.values) == 0
}

// Validate checks the NOT NULL and CHECK constraints of every column.
func (t *Tuple) Validate() error {
	for idx, col := range t.schema.columns {
		v := t.values[idx]
		if col.IsNotNull() && IsNull(v) {
			return fmt.Errorf("sql: column \"%s\" may not be NULL", col.Name)
		}
		for _, con := range col.Constraints {
			ok, err := con.Check(v)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("sql: column \"%s\" violates %s", col.Name, con)
			}
		}
	}
	return nil
}

func (t *Tuple) String() string {
	strs := make([]string, len(t.values))
	for idx, v := range t.values {
		strs[idx] = Format(v)
	}
	return "(" + strings.Join(strs, ", ") + ")"
}
