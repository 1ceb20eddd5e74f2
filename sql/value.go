package sql

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	NullString  = "NULL"
	TrueString  = "true"
	FalseString = "false"
)

type Value interface {
	fmt.Stringer

	Type() DataType

	// return -1 if v1 < v2
	// return 0 if v1 == v2
	// return 1 if v1 > v2
	Compare(v2 Value) (int, error)
}

type BoolValue bool

func (b BoolValue) String() string {
	if b {
		return TrueString
	}
	return FalseString
}

func (_ BoolValue) Type() DataType {
	return BooleanType
}

func (b1 BoolValue) Compare(v2 Value) (int, error) {
	if b2, ok := v2.(BoolValue); ok {
		if b1 == b2 {
			return 0, nil
		} else if b1 {
			return 1, nil
		}
		return -1, nil
	}
	return 0, fmt.Errorf("sql: want boolean got %v", v2)
}

type TinyIntValue int8

func (i TinyIntValue) String() string {
	return fmt.Sprintf("%d", int8(i))
}

func (_ TinyIntValue) Type() DataType {
	return TinyIntType
}

func (i1 TinyIntValue) Compare(v2 Value) (int, error) {
	return compareNumeric(i1, v2)
}

type SmallIntValue int16

func (i SmallIntValue) String() string {
	return fmt.Sprintf("%d", int16(i))
}

func (_ SmallIntValue) Type() DataType {
	return SmallIntType
}

func (i1 SmallIntValue) Compare(v2 Value) (int, error) {
	return compareNumeric(i1, v2)
}

type IntegerValue int32

func (i IntegerValue) String() string {
	return fmt.Sprintf("%d", int32(i))
}

func (_ IntegerValue) Type() DataType {
	return IntegerType
}

func (i1 IntegerValue) Compare(v2 Value) (int, error) {
	return compareNumeric(i1, v2)
}

type BigIntValue int64

func (i BigIntValue) String() string {
	return fmt.Sprintf("%d", int64(i))
}

func (_ BigIntValue) Type() DataType {
	return BigIntType
}

func (i1 BigIntValue) Compare(v2 Value) (int, error) {
	return compareNumeric(i1, v2)
}

type DecimalValue struct {
	Decimal decimal.Decimal
}

func NewDecimalValue(f float64) DecimalValue {
	return DecimalValue{decimal.NewFromFloat(f)}
}

func (d DecimalValue) String() string {
	return d.Decimal.String()
}

func (_ DecimalValue) Type() DataType {
	return DecimalType
}

func (d1 DecimalValue) Compare(v2 Value) (int, error) {
	return compareNumeric(d1, v2)
}

// TimestampValue is microseconds since the Unix epoch.
type TimestampValue uint64

func MakeTimestampValue(t time.Time) TimestampValue {
	return TimestampValue(t.UnixNano() / int64(time.Microsecond))
}

func (ts TimestampValue) Time() time.Time {
	return time.Unix(0, int64(ts)*int64(time.Microsecond)).UTC()
}

func (ts TimestampValue) String() string {
	return ts.Time().Format("2006-01-02 15:04:05.999999")
}

func (_ TimestampValue) Type() DataType {
	return TimestampType
}

func (ts1 TimestampValue) Compare(v2 Value) (int, error) {
	if ts2, ok := v2.(TimestampValue); ok {
		if ts1 < ts2 {
			return -1, nil
		} else if ts1 > ts2 {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("sql: want timestamp got %v", v2)
}

type StringValue string

func (s StringValue) String() string {
	return fmt.Sprintf("'%s'", string(s))
}

func (_ StringValue) Type() DataType {
	return VarcharType
}

func (s1 StringValue) Compare(v2 Value) (int, error) {
	if s2, ok := v2.(StringValue); ok {
		return strings.Compare(string(s1), string(s2)), nil
	}
	return 0, fmt.Errorf("sql: want string got %v", v2)
}

type BytesValue []byte

var (
	hexDigits = [16]rune{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd',
		'e', 'f'}
)

func (b BytesValue) String() string {
	var buf bytes.Buffer
	buf.WriteString("'\\x")
	for _, v := range b {
		buf.WriteRune(hexDigits[v>>4])
		buf.WriteRune(hexDigits[v&0xF])
	}

	buf.WriteRune('\'')
	return buf.String()
}

func (_ BytesValue) Type() DataType {
	return VarbinaryType
}

func (b1 BytesValue) Compare(v2 Value) (int, error) {
	if b2, ok := v2.(BytesValue); ok {
		return bytes.Compare([]byte(b1), []byte(b2)), nil
	}
	return 0, fmt.Errorf("sql: want bytes got %v", v2)
}

// NullValue is a NULL which still carries the type of the column it came from.
type NullValue struct {
	DataType DataType
}

func Null(dt DataType) NullValue {
	return NullValue{DataType: dt}
}

func (_ NullValue) String() string {
	return NullString
}

func (n NullValue) Type() DataType {
	return n.DataType
}

func (_ NullValue) Compare(v2 Value) (int, error) {
	return 0, fmt.Errorf("sql: comparison with NULL: %v", v2)
}

func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(NullValue)
	return ok
}

// Int64 returns the value of any integer typed value.
func Int64(v Value) (int64, bool) {
	switch v := v.(type) {
	case TinyIntValue:
		return int64(v), true
	case SmallIntValue:
		return int64(v), true
	case IntegerValue:
		return int64(v), true
	case BigIntValue:
		return int64(v), true
	}
	return 0, false
}

func toDecimal(v Value) (decimal.Decimal, bool) {
	if d, ok := v.(DecimalValue); ok {
		return d.Decimal, true
	}
	if i, ok := Int64(v); ok {
		return decimal.New(i, 0), true
	}
	return decimal.Decimal{}, false
}

func compareNumeric(v1, v2 Value) (int, error) {
	i1, ok1 := Int64(v1)
	i2, ok2 := Int64(v2)
	if ok1 && ok2 {
		if i1 < i2 {
			return -1, nil
		} else if i1 > i2 {
			return 1, nil
		}
		return 0, nil
	}

	d1, ok1 := toDecimal(v1)
	d2, ok2 := toDecimal(v2)
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("sql: want number got %v", v2)
	}
	return d1.Cmp(d2), nil
}

func familyRank(v Value) int {
	switch v.Type() {
	case BooleanType:
		return 1
	case TinyIntType, SmallIntType, IntegerType, BigIntType, DecimalType:
		return 2
	case TimestampType:
		return 3
	case VarcharType:
		return 4
	case VarbinaryType:
		return 5
	}
	panic(fmt.Sprintf("unexpected type for sql.Value: %T: %v", v, v))
}

// Compare is a total order over values: NULL sorts first, then the values of
// each type family in turn.
func Compare(v1, v2 Value) int {
	if IsNull(v1) {
		if IsNull(v2) {
			return 0
		}
		return -1
	}
	if IsNull(v2) {
		return 1
	}

	r1 := familyRank(v1)
	r2 := familyRank(v2)
	if r1 < r2 {
		return -1
	} else if r1 > r2 {
		return 1
	}

	cmp, err := v1.Compare(v2)
	if err != nil {
		panic(fmt.Sprintf("sql: compare %v and %v: %s", v1, v2, err))
	}
	return cmp
}

func CompareValues(vals1, vals2 []Value) int {
	for idx := 0; idx < len(vals1) && idx < len(vals2); idx++ {
		if cmp := Compare(vals1[idx], vals2[idx]); cmp != 0 {
			return cmp
		}
	}
	if len(vals1) < len(vals2) {
		return -1
	} else if len(vals1) > len(vals2) {
		return 1
	}
	return 0
}

func Format(v Value) string {
	if v == nil {
		return NullString
	}

	return v.String()
}
