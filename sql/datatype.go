package sql

import (
	"fmt"
	"strings"
)

type DataType int

const (
	UnknownType DataType = iota
	BooleanType
	TinyIntType
	SmallIntType
	IntegerType
	BigIntType
	DecimalType
	TimestampType
	VarcharType
	VarbinaryType
)

// VarlenReferenceSize is the inline size of a VARCHAR or VARBINARY column; the
// content itself lives out of line.
const VarlenReferenceSize = 8

func (dt DataType) String() string {
	switch dt {
	case BooleanType:
		return "BOOLEAN"
	case TinyIntType:
		return "TINYINT"
	case SmallIntType:
		return "SMALLINT"
	case IntegerType:
		return "INTEGER"
	case BigIntType:
		return "BIGINT"
	case DecimalType:
		return "DECIMAL"
	case TimestampType:
		return "TIMESTAMP"
	case VarcharType:
		return "VARCHAR"
	case VarbinaryType:
		return "VARBINARY"
	}
	return "UNKNOWN"
}

// Size returns the fixed, inline size of the type in bytes.
func (dt DataType) Size() uint32 {
	switch dt {
	case BooleanType, TinyIntType:
		return 1
	case SmallIntType:
		return 2
	case IntegerType:
		return 4
	case BigIntType, DecimalType, TimestampType:
		return 8
	case VarcharType, VarbinaryType:
		return VarlenReferenceSize
	}
	panic(fmt.Sprintf("sql: size of unexpected data type: %d", dt))
}

func (dt DataType) Inlined() bool {
	return dt != VarcharType && dt != VarbinaryType
}

func (dt DataType) Integer() bool {
	return dt == TinyIntType || dt == SmallIntType || dt == IntegerType || dt == BigIntType
}

func (dt DataType) Numeric() bool {
	return dt.Integer() || dt == DecimalType
}

func ParseDataType(s string) (DataType, error) {
	switch strings.ToUpper(s) {
	case "BOOL", "BOOLEAN":
		return BooleanType, nil
	case "TINYINT":
		return TinyIntType, nil
	case "SMALLINT":
		return SmallIntType, nil
	case "INT", "INTEGER":
		return IntegerType, nil
	case "BIGINT":
		return BigIntType, nil
	case "DECIMAL", "NUMERIC", "DOUBLE":
		return DecimalType, nil
	case "TIMESTAMP":
		return TimestampType, nil
	case "VARCHAR", "TEXT", "CHAR":
		return VarcharType, nil
	case "VARBINARY", "BYTES", "BYTEA":
		return VarbinaryType, nil
	}
	return UnknownType, fmt.Errorf("sql: unknown data type: %s", s)
}
