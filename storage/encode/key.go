package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/cmu-db/peloton-sub010/sql"
)

const (
	// The SQL values are encoded as a tag followed by a binary representation
	// of the value.
	NullKeyTag      = 128
	BoolKeyTag      = 129
	IntNegKeyTag    = 130
	IntNotNegKeyTag = 131
	DecimalKeyTag   = 140
	TimestampKeyTag = 145
	StringKeyTag    = 150
	BytesKeyTag     = 160
)

func encodeKeyBytes(buf []byte, bytes []byte) []byte {
	for _, b := range bytes {
		if b == 0 || b == 1 {
			buf = append(buf, 1)
		}
		buf = append(buf, b)
	}
	return append(buf, 0)
}

// MakeKey encodes the values of the listed columns so that equal keys encode
// to equal bytes and, except for decimals, the byte order matches the value
// order. Integers of every width share one encoding.
func MakeKey(cols []int, row []sql.Value) []byte {
	var buf []byte

	for _, col := range cols {
		buf = AppendKeyValue(buf, row[col])
	}
	return buf
}

func AppendKeyValue(buf []byte, val sql.Value) []byte {
	if sql.IsNull(val) {
		return append(buf, NullKeyTag)
	}
	if i, ok := sql.Int64(val); ok {
		if i < 0 {
			buf = append(buf, IntNegKeyTag)
		} else {
			buf = append(buf, IntNotNegKeyTag)
		}
		return binary.BigEndian.AppendUint64(buf, uint64(i))
	}

	switch val := val.(type) {
	case sql.BoolValue:
		buf = append(buf, BoolKeyTag)
		if val {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case sql.DecimalValue:
		if val.Decimal.Equal(val.Decimal.Truncate(0)) {
			return AppendKeyValue(buf, sql.BigIntValue(val.Decimal.IntPart()))
		}
		buf = append(buf, DecimalKeyTag)
		buf = encodeKeyBytes(buf, []byte(val.Decimal.String()))
	case sql.TimestampValue:
		buf = append(buf, TimestampKeyTag)
		buf = binary.BigEndian.AppendUint64(buf, uint64(val))
	case sql.StringValue:
		buf = append(buf, StringKeyTag)
		buf = encodeKeyBytes(buf, []byte(val))
	case sql.BytesValue:
		buf = append(buf, BytesKeyTag)
		buf = encodeKeyBytes(buf, []byte(val))
	default:
		panic(fmt.Sprintf("unexpected type for sql.Value: %T: %v", val, val))
	}
	return buf
}
