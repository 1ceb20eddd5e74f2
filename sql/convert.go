package sql

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

func intRange(dt DataType) (int64, int64) {
	switch dt {
	case TinyIntType:
		return math.MinInt8 + 1, math.MaxInt8
	case SmallIntType:
		return math.MinInt16 + 1, math.MaxInt16
	case IntegerType:
		return math.MinInt32 + 1, math.MaxInt32
	case BigIntType:
		return math.MinInt64 + 1, math.MaxInt64
	}
	panic(fmt.Sprintf("sql: not an integer type: %s", dt))
}

// MakeInteger returns i as a value of integer type dt; the minimum of each
// width is reserved for NULL.
func MakeInteger(dt DataType, i int64) (Value, error) {
	min, max := intRange(dt)
	if i < min || i > max {
		return nil, fmt.Errorf("sql: %d out of range for %s", i, dt)
	}

	switch dt {
	case TinyIntType:
		return TinyIntValue(i), nil
	case SmallIntType:
		return SmallIntValue(i), nil
	case IntegerType:
		return IntegerValue(i), nil
	}
	return BigIntValue(i), nil
}

func parseBool(s string) (BoolValue, bool) {
	s = strings.Trim(s, " \t\n")
	if s == "t" || s == "true" || s == "y" || s == "yes" || s == "on" || s == "1" {
		return true, true
	} else if s == "f" || s == "false" || s == "n" || s == "no" || s == "off" || s == "0" {
		return false, true
	}
	return false, false
}

// ConvertValue casts v to data type dt.
func ConvertValue(dt DataType, v Value) (Value, error) {
	if IsNull(v) {
		return Null(dt), nil
	}
	if v.Type() == dt {
		return v, nil
	}

	switch dt {
	case BooleanType:
		if sv, ok := v.(StringValue); ok {
			if b, ok := parseBool(string(sv)); ok {
				return b, nil
			}
		} else if i, ok := Int64(v); ok {
			return BoolValue(i != 0), nil
		}
		return nil, fmt.Errorf("sql: expected a boolean value: %v", v)
	case TinyIntType, SmallIntType, IntegerType, BigIntType:
		if i, ok := Int64(v); ok {
			return MakeInteger(dt, i)
		} else if d, ok := v.(DecimalValue); ok {
			return MakeInteger(dt, d.Decimal.IntPart())
		} else if b, ok := v.(BoolValue); ok {
			if b {
				return MakeInteger(dt, 1)
			}
			return MakeInteger(dt, 0)
		} else if s, ok := v.(StringValue); ok {
			i, err := strconv.ParseInt(strings.Trim(string(s), " \t\n"), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("sql: expected an integer: %v: %s", v, err)
			}
			return MakeInteger(dt, i)
		}
		return nil, fmt.Errorf("sql: expected an integer value: %v", v)
	case DecimalType:
		if i, ok := Int64(v); ok {
			return DecimalValue{decimal.New(i, 0)}, nil
		} else if s, ok := v.(StringValue); ok {
			d, err := decimal.NewFromString(strings.Trim(string(s), " \t\n"))
			if err != nil {
				return nil, fmt.Errorf("sql: expected a decimal: %v: %s", v, err)
			}
			return DecimalValue{d}, nil
		}
		return nil, fmt.Errorf("sql: expected a decimal value: %v", v)
	case TimestampType:
		if i, ok := Int64(v); ok && i >= 0 {
			return TimestampValue(i), nil
		} else if s, ok := v.(StringValue); ok {
			t, err := time.Parse("2006-01-02 15:04:05.999999", strings.Trim(string(s), " \t\n"))
			if err != nil {
				return nil, fmt.Errorf("sql: expected a timestamp: %v: %s", v, err)
			}
			return MakeTimestampValue(t), nil
		}
		return nil, fmt.Errorf("sql: expected a timestamp value: %v", v)
	case VarcharType:
		switch v := v.(type) {
		case BytesValue:
			if !utf8.Valid([]byte(v)) {
				return nil, fmt.Errorf("sql: expected a valid utf8 string: %v", v)
			}
			return StringValue(v), nil
		case StringValue:
			return v, nil
		case DecimalValue:
			return StringValue(v.Decimal.String()), nil
		case TimestampValue:
			return StringValue(v.String()), nil
		case BoolValue:
			return StringValue(v.String()), nil
		}
		if i, ok := Int64(v); ok {
			return StringValue(strconv.FormatInt(i, 10)), nil
		}
		return nil, fmt.Errorf("sql: expected a string value: %v", v)
	case VarbinaryType:
		if s, ok := v.(StringValue); ok {
			return BytesValue(s), nil
		}
		return nil, fmt.Errorf("sql: expected a bytes value: %v", v)
	default:
		panic(fmt.Sprintf("expected a valid data type; got %v", dt))
	}
}
