package catalog

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cmu-db/peloton-sub010/sql"
)

type fieldKind int

const (
	boolField fieldKind = iota + 1
	intField
	uintField
	stringField
	bytesField
	intListField
)

type columnField struct {
	dataType sql.DataType
	index    int
	kind     fieldKind
	pointer  bool
}

// rowCodec maps the rows of a catalog table to and from a struct type: each
// column is bound to the field tagged with its name, or else to the field
// whose lower case name is the column name.
type rowCodec struct {
	name    string
	schema  *sql.Schema
	rowType reflect.Type
	fields  []columnField
}

func fieldKindOf(t reflect.Type) (fieldKind, bool) {
	switch t.Kind() {
	case reflect.Bool:
		return boolField, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intField, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintField, true
	case reflect.String:
		return stringField, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return bytesField, true
		} else if t.Elem().Kind() == reflect.Int {
			return intListField, true
		}
	}
	return 0, false
}

func (rc *rowCodec) makeColumnField(col sql.Column, sf reflect.StructField) columnField {
	ft := sf.Type
	ptr := false
	if ft.Kind() == reflect.Ptr {
		if col.IsNotNull() {
			panic(fmt.Sprintf("row codec: %s: column %s is not null; struct field %s is %s",
				rc.name, col.Name, sf.Name, ft))
		}
		ptr = true
		ft = ft.Elem()
	}

	kind, ok := fieldKindOf(ft)
	switch col.Type {
	case sql.BooleanType:
		ok = ok && kind == boolField
	case sql.TinyIntType, sql.SmallIntType, sql.IntegerType, sql.BigIntType:
		ok = ok && (kind == intField || kind == uintField)
	case sql.VarcharType:
		ok = ok && (kind == stringField || kind == intListField)
	case sql.VarbinaryType:
		ok = ok && kind == bytesField && !ptr
	default:
		ok = false
	}
	if !ok {
		panic(fmt.Sprintf("row codec: %s: column %s is %s; struct field %s is %s", rc.name,
			col.Name, col.Type, sf.Name, sf.Type))
	}

	return columnField{
		dataType: col.Type,
		index:    sf.Index[0],
		kind:     kind,
		pointer:  ptr,
	}
}

func newRowCodec(name string, schema *sql.Schema, rowType reflect.Type) *rowCodec {
	if rowType.Kind() != reflect.Struct {
		panic(fmt.Sprintf("row codec: %s: row type must be a struct; got %s", name, rowType))
	}

	rc := &rowCodec{
		name:    name,
		schema:  schema,
		rowType: rowType,
	}

	fields := map[string]reflect.StructField{}
	for fdx := 0; fdx < rowType.NumField(); fdx++ {
		sf := rowType.Field(fdx)
		if sf.PkgPath != "" {
			continue
		}
		fn := sf.Tag.Get("column")
		if fn == "-" {
			continue
		} else if fn == "" {
			fn = strings.ToLower(sf.Name)
		}
		fields[fn] = sf
	}

	for _, col := range schema.Columns() {
		sf, ok := fields[col.Name]
		if !ok {
			panic(fmt.Sprintf("row codec: %s: column %s not found", name, col.Name))
		}
		rc.fields = append(rc.fields, rc.makeColumnField(col, sf))
	}
	return rc
}

func formatIntList(ints []int) string {
	strs := make([]string, len(ints))
	for idx, i := range ints {
		strs[idx] = strconv.Itoa(i)
	}
	return strings.Join(strs, " ")
}

func parseIntList(s string) ([]int, error) {
	var ints []int
	for _, f := range strings.Fields(s) {
		i, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		ints = append(ints, i)
	}
	return ints, nil
}

func integerValue(dt sql.DataType, i int64) sql.Value {
	switch dt {
	case sql.TinyIntType:
		return sql.TinyIntValue(i)
	case sql.SmallIntType:
		return sql.SmallIntValue(i)
	case sql.IntegerType:
		return sql.IntegerValue(i)
	}
	return sql.BigIntValue(i)
}

// encode returns the row for rowObj, a struct or a pointer to a struct of the
// codec's row type. Unsigned fields wrap to the width of their column.
func (rc *rowCodec) encode(rowObj interface{}) (*sql.Tuple, error) {
	rowVal := reflect.ValueOf(rowObj)
	if rowVal.Kind() == reflect.Ptr {
		rowVal = rowVal.Elem()
	}
	if rowVal.Type() != rc.rowType {
		panic(fmt.Sprintf("row codec: %s: expected %s; got %s", rc.name, rc.rowType,
			rowVal.Type()))
	}

	vals := make([]sql.Value, len(rc.fields))
	for cdx, cf := range rc.fields {
		v := rowVal.Field(cf.index)
		if cf.pointer {
			if v.IsNil() {
				vals[cdx] = sql.Null(cf.dataType)
				continue
			}
			v = v.Elem()
		}

		switch cf.kind {
		case boolField:
			vals[cdx] = sql.BoolValue(v.Bool())
		case intField:
			vals[cdx] = integerValue(cf.dataType, v.Int())
		case uintField:
			vals[cdx] = integerValue(cf.dataType, int64(v.Uint()))
		case stringField:
			vals[cdx] = sql.StringValue(v.String())
		case bytesField:
			if v.IsNil() {
				vals[cdx] = sql.Null(cf.dataType)
			} else {
				vals[cdx] = sql.BytesValue(append([]byte(nil), v.Bytes()...))
			}
		case intListField:
			vals[cdx] = sql.StringValue(formatIntList(v.Interface().([]int)))
		}
	}
	return sql.MakeTuple(rc.schema, vals...)
}

// decode fills the struct pointed to by dest from the row t.
func (rc *rowCodec) decode(t *sql.Tuple, dest interface{}) error {
	destVal := reflect.ValueOf(dest)
	if destVal.Kind() != reflect.Ptr || destVal.Elem().Type() != rc.rowType {
		panic(fmt.Sprintf("row codec: %s: dest must be a pointer to %s; got %T", rc.name,
			rc.rowType, dest))
	}
	rowVal := destVal.Elem()

	for cdx, cf := range rc.fields {
		fv := rowVal.Field(cf.index)
		val := t.GetValue(cdx)
		if sql.IsNull(val) {
			fv.Set(reflect.Zero(fv.Type()))
			continue
		}

		v := fv
		if cf.pointer {
			v = reflect.New(fv.Type().Elem()).Elem()
		}

		switch cf.kind {
		case boolField:
			b, ok := val.(sql.BoolValue)
			if !ok {
				return fmt.Errorf("row codec: %s: column %s: expected a boolean; got %v",
					rc.name, rc.schema.Column(cdx).Name, val)
			}
			v.SetBool(bool(b))
		case intField, uintField:
			i, ok := sql.Int64(val)
			if !ok {
				return fmt.Errorf("row codec: %s: column %s: expected an integer; got %v",
					rc.name, rc.schema.Column(cdx).Name, val)
			}
			if cf.kind == intField {
				v.SetInt(i)
			} else {
				switch cf.dataType {
				case sql.TinyIntType:
					v.SetUint(uint64(uint8(i)))
				case sql.SmallIntType:
					v.SetUint(uint64(uint16(i)))
				case sql.IntegerType:
					v.SetUint(uint64(uint32(i)))
				default:
					v.SetUint(uint64(i))
				}
			}
		case stringField, intListField:
			s, ok := val.(sql.StringValue)
			if !ok {
				return fmt.Errorf("row codec: %s: column %s: expected a string; got %v",
					rc.name, rc.schema.Column(cdx).Name, val)
			}
			if cf.kind == stringField {
				v.SetString(string(s))
			} else {
				ints, err := parseIntList(string(s))
				if err != nil {
					return fmt.Errorf("row codec: %s: column %s: %s", rc.name,
						rc.schema.Column(cdx).Name, err)
				}
				v.Set(reflect.ValueOf(ints))
			}
		case bytesField:
			b, ok := val.(sql.BytesValue)
			if !ok {
				return fmt.Errorf("row codec: %s: column %s: expected bytes; got %v",
					rc.name, rc.schema.Column(cdx).Name, val)
			}
			v.SetBytes(append([]byte(nil), b...))
		}

		if cf.pointer {
			fv.Set(v.Addr())
		}
	}
	return nil
}
