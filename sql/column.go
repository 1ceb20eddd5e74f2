package sql

import (
	"fmt"
)

type Column struct {
	Name string
	Type DataType

	// Length is the declared length: the fixed size for inlined types and the
	// maximum length in bytes for VARCHAR and VARBINARY.
	Length  uint32
	Offset  uint32
	Inlined bool

	Constraints []Constraint
}

func MakeColumn(name string, dt DataType, length uint32) Column {
	if dt.Inlined() || length == 0 {
		length = dt.Size()
	}
	return Column{
		Name:    name,
		Type:    dt,
		Length:  length,
		Inlined: dt.Inlined(),
	}
}

// FixedLength is the number of bytes the column occupies inside a tuple.
func (c Column) FixedLength() uint32 {
	if c.Inlined {
		return c.Length
	}
	return VarlenReferenceSize
}

func (c *Column) AddConstraint(con Constraint) {
	c.Constraints = append(c.Constraints, con)
}

func (c Column) hasConstraint(typ ConstraintType) bool {
	for _, con := range c.Constraints {
		if con.Type == typ {
			return true
		}
	}
	return false
}

func (c Column) IsNotNull() bool {
	return c.hasConstraint(NotNullConstraint) || c.hasConstraint(PrimaryConstraint)
}

func (c Column) IsPrimary() bool {
	return c.hasConstraint(PrimaryConstraint)
}

func (c Column) IsUnique() bool {
	return c.hasConstraint(UniqueConstraint)
}

func (c Column) Default() (Value, bool) {
	for _, con := range c.Constraints {
		if con.Type == DefaultConstraint {
			return con.Default, true
		}
	}
	return nil, false
}

func (c Column) DataType() string {
	switch c.Type {
	case VarcharType, VarbinaryType:
		return fmt.Sprintf("%s(%d)", c.Type, c.Length)
	}
	return c.Type.String()
}

func (c Column) String() string {
	return fmt.Sprintf("%s %s offset=%d inlined=%v", c.Name, c.DataType(), c.Offset, c.Inlined)
}
