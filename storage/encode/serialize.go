package encode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Output accumulates fixed width big endian fields and length prefixed
// variable length fields.
type Output struct {
	buf []byte
}

func NewOutput(capacity int) *Output {
	return &Output{buf: make([]byte, 0, capacity)}
}

func (out *Output) Bytes() []byte {
	return out.buf
}

func (out *Output) Size() int {
	return len(out.buf)
}

func (out *Output) Reset() {
	out.buf = out.buf[:0]
}

func (out *Output) WriteBool(b bool) {
	if b {
		out.buf = append(out.buf, 1)
	} else {
		out.buf = append(out.buf, 0)
	}
}

func (out *Output) WriteTinyInt(b int8) {
	out.buf = append(out.buf, byte(b))
}

func (out *Output) WriteShort(s int16) {
	out.buf = binary.BigEndian.AppendUint16(out.buf, uint16(s))
}

func (out *Output) WriteInt(i int32) {
	out.buf = binary.BigEndian.AppendUint32(out.buf, uint32(i))
}

func (out *Output) WriteLong(l int64) {
	out.buf = binary.BigEndian.AppendUint64(out.buf, uint64(l))
}

func (out *Output) WriteDouble(f float64) {
	out.buf = binary.BigEndian.AppendUint64(out.buf, math.Float64bits(f))
}

// WriteString writes an int32 length followed by the bytes of s.
func (out *Output) WriteString(s string) {
	out.WriteInt(int32(len(s)))
	out.buf = append(out.buf, s...)
}

func (out *Output) WriteBytes(b []byte) {
	out.WriteInt(int32(len(b)))
	out.buf = append(out.buf, b...)
}

// WriteNullLength writes the length used to mark a NULL variable length field.
func (out *Output) WriteNullLength() {
	out.WriteInt(-1)
}

// Input reads fields written by Output. The first error is sticky: once a read
// fails, every later read returns a zero value and Err reports the failure.
type Input struct {
	buf []byte
	off int
	err error
}

func NewInput(buf []byte) *Input {
	return &Input{buf: buf}
}

func (in *Input) Err() error {
	return in.err
}

// Done reports whether every byte has been consumed.
func (in *Input) Done() bool {
	return in.err != nil || in.off >= len(in.buf)
}

func (in *Input) Remaining() int {
	return len(in.buf) - in.off
}

func (in *Input) next(n int) []byte {
	if in.err != nil {
		return nil
	}
	if n < 0 || in.off+n > len(in.buf) {
		in.err = fmt.Errorf("encode: short input: need %d bytes at offset %d of %d", n, in.off,
			len(in.buf))
		return nil
	}
	b := in.buf[in.off : in.off+n]
	in.off += n
	return b
}

func (in *Input) ReadBool() bool {
	b := in.next(1)
	if b == nil {
		return false
	}
	return b[0] != 0
}

func (in *Input) ReadTinyInt() int8 {
	b := in.next(1)
	if b == nil {
		return 0
	}
	return int8(b[0])
}

func (in *Input) ReadShort() int16 {
	b := in.next(2)
	if b == nil {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

func (in *Input) ReadInt() int32 {
	b := in.next(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (in *Input) ReadLong() int64 {
	b := in.next(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (in *Input) ReadDouble() float64 {
	b := in.next(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// readVarlen returns the field and false for a NULL field.
func (in *Input) readVarlen() ([]byte, bool) {
	n := in.ReadInt()
	if in.err != nil {
		return nil, false
	}
	if n == -1 {
		return nil, false
	} else if n < 0 {
		in.err = fmt.Errorf("encode: bad field length: %d", n)
		return nil, false
	}
	b := in.next(int(n))
	if b == nil {
		return nil, false
	}
	return b, true
}

func (in *Input) ReadString() string {
	b, _ := in.readVarlen()
	return string(b)
}

func (in *Input) ReadBytes() []byte {
	b, ok := in.readVarlen()
	if !ok {
		return nil
	}
	return append([]byte(nil), b...)
}
