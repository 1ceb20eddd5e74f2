package encode

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/cmu-db/peloton-sub010/sql"
)

// NULL is written in band: the minimum of each integer width, math.MinInt8
// for booleans, math.MaxUint64 for timestamps and a length of -1 for the
// variable length types. Decimals are written as their string form.
const (
	nullBool      = math.MinInt8
	nullTimestamp = math.MaxUint64
)

// WriteValue serializes v as a value of the column type dt.
func (out *Output) WriteValue(dt sql.DataType, v sql.Value) {
	if sql.IsNull(v) {
		out.writeNull(dt)
		return
	}

	switch dt {
	case sql.BooleanType:
		if v.(sql.BoolValue) {
			out.WriteTinyInt(1)
		} else {
			out.WriteTinyInt(0)
		}
	case sql.TinyIntType:
		out.WriteTinyInt(int8(v.(sql.TinyIntValue)))
	case sql.SmallIntType:
		out.WriteShort(int16(v.(sql.SmallIntValue)))
	case sql.IntegerType:
		out.WriteInt(int32(v.(sql.IntegerValue)))
	case sql.BigIntType:
		out.WriteLong(int64(v.(sql.BigIntValue)))
	case sql.DecimalType:
		out.WriteString(v.(sql.DecimalValue).Decimal.String())
	case sql.TimestampType:
		out.WriteLong(int64(v.(sql.TimestampValue)))
	case sql.VarcharType:
		out.WriteString(string(v.(sql.StringValue)))
	case sql.VarbinaryType:
		out.WriteBytes([]byte(v.(sql.BytesValue)))
	default:
		panic(fmt.Sprintf("encode: unexpected data type: %s", dt))
	}
}

func (out *Output) writeNull(dt sql.DataType) {
	switch dt {
	case sql.BooleanType, sql.TinyIntType:
		out.WriteTinyInt(nullBool)
	case sql.SmallIntType:
		out.WriteShort(math.MinInt16)
	case sql.IntegerType:
		out.WriteInt(math.MinInt32)
	case sql.BigIntType:
		out.WriteLong(math.MinInt64)
	case sql.TimestampType:
		u := uint64(nullTimestamp)
		out.WriteLong(int64(u))
	case sql.DecimalType, sql.VarcharType, sql.VarbinaryType:
		out.WriteNullLength()
	default:
		panic(fmt.Sprintf("encode: unexpected data type: %s", dt))
	}
}

// ReadValue reads a value of column type dt written by WriteValue.
func (in *Input) ReadValue(dt sql.DataType) sql.Value {
	switch dt {
	case sql.BooleanType:
		b := in.ReadTinyInt()
		if b == nullBool {
			return sql.Null(dt)
		}
		return sql.BoolValue(b != 0)
	case sql.TinyIntType:
		b := in.ReadTinyInt()
		if b == math.MinInt8 {
			return sql.Null(dt)
		}
		return sql.TinyIntValue(b)
	case sql.SmallIntType:
		s := in.ReadShort()
		if s == math.MinInt16 {
			return sql.Null(dt)
		}
		return sql.SmallIntValue(s)
	case sql.IntegerType:
		i := in.ReadInt()
		if i == math.MinInt32 {
			return sql.Null(dt)
		}
		return sql.IntegerValue(i)
	case sql.BigIntType:
		l := in.ReadLong()
		if l == math.MinInt64 {
			return sql.Null(dt)
		}
		return sql.BigIntValue(l)
	case sql.TimestampType:
		u := uint64(in.ReadLong())
		if u == nullTimestamp {
			return sql.Null(dt)
		}
		return sql.TimestampValue(u)
	case sql.DecimalType:
		b, ok := in.readVarlen()
		if !ok {
			return sql.Null(dt)
		}
		d, err := decimal.NewFromString(string(b))
		if err != nil {
			if in.err == nil {
				in.err = fmt.Errorf("encode: bad decimal: %s", err)
			}
			return sql.Null(dt)
		}
		return sql.DecimalValue{Decimal: d}
	case sql.VarcharType:
		b, ok := in.readVarlen()
		if !ok {
			return sql.Null(dt)
		}
		return sql.StringValue(b)
	case sql.VarbinaryType:
		b, ok := in.readVarlen()
		if !ok {
			return sql.Null(dt)
		}
		return sql.BytesValue(append([]byte(nil), b...))
	}
	panic(fmt.Sprintf("encode: unexpected data type: %s", dt))
}

// WriteValues writes vals in column order using the column types in types.
func (out *Output) WriteValues(types []sql.DataType, vals []sql.Value) {
	for idx, dt := range types {
		out.WriteValue(dt, vals[idx])
	}
}

func (in *Input) ReadValues(types []sql.DataType) []sql.Value {
	vals := make([]sql.Value, len(types))
	for idx, dt := range types {
		vals[idx] = in.ReadValue(dt)
	}
	return vals
}
