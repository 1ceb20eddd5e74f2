package sql

import (
	"fmt"
	"strings"
)

type ConstraintType int

const (
	DefaultConstraint ConstraintType = iota + 1
	NotNullConstraint
	PrimaryConstraint
	UniqueConstraint
	CheckConstraint
	ForeignConstraint
)

func (ct ConstraintType) String() string {
	switch ct {
	case DefaultConstraint:
		return "DEFAULT"
	case NotNullConstraint:
		return "NOT NULL"
	case PrimaryConstraint:
		return "PRIMARY KEY"
	case UniqueConstraint:
		return "UNIQUE"
	case CheckConstraint:
		return "CHECK"
	case ForeignConstraint:
		return "FOREIGN KEY"
	default:
		panic(fmt.Sprintf("unexpected constraint type: %d", ct))
	}
}

func ParseConstraintType(s string) (ConstraintType, error) {
	for ct := DefaultConstraint; ct <= ForeignConstraint; ct++ {
		if strings.EqualFold(ct.String(), s) {
			return ct, nil
		}
	}
	return 0, fmt.Errorf("sql: unknown constraint type: %s", s)
}

// NoOffset marks a constraint which does not refer to a foreign key list entry or
// unique index.
const NoOffset = -1

type Constraint struct {
	Type ConstraintType
	Name string

	Default Value // DefaultConstraint

	// Offset into the table's foreign key list for ForeignConstraint.
	FKListOffset int
	// Offset into the table's indexes for UniqueConstraint.
	UniqueIndexOffset int

	CheckOp    string // CheckConstraint: one of = != < <= > >=
	CheckValue Value
}

func MakeConstraint(typ ConstraintType, name string) Constraint {
	return Constraint{
		Type:              typ,
		Name:              name,
		FKListOffset:      NoOffset,
		UniqueIndexOffset: NoOffset,
	}
}

func (c Constraint) String() string {
	switch c.Type {
	case DefaultConstraint:
		return fmt.Sprintf("%s %s %s", c.Name, c.Type, Format(c.Default))
	case CheckConstraint:
		return fmt.Sprintf("%s %s (%s %s)", c.Name, c.Type, c.CheckOp, Format(c.CheckValue))
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// Check reports whether v satisfies a check constraint.
func (c Constraint) Check(v Value) (bool, error) {
	if c.Type != CheckConstraint {
		return true, nil
	}
	if IsNull(v) {
		return true, nil
	}

	cv, err := ConvertValue(v.Type(), c.CheckValue)
	if err != nil {
		return false, err
	}
	cmp := Compare(v, cv)
	switch c.CheckOp {
	case "=":
		return cmp == 0, nil
	case "!=", "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("sql: constraint %s: unexpected check operator: %s", c.Name,
		c.CheckOp)
}

// MultiConstraint is a PRIMARY KEY or UNIQUE constraint over more than one column.
type MultiConstraint struct {
	Type    ConstraintType
	Name    string
	Columns []int
}

func (mc MultiConstraint) String() string {
	cols := make([]string, len(mc.Columns))
	for idx, col := range mc.Columns {
		cols[idx] = fmt.Sprintf("%d", col)
	}
	return fmt.Sprintf("%s %s (%s)", mc.Name, mc.Type, strings.Join(cols, ", "))
}
