package testutil

import (
	"fmt"
	"reflect"

	"github.com/cmu-db/peloton-sub010/sql"
)

var (
	tupleType   = reflect.TypeOf((*sql.Tuple)(nil))
	valueType   = reflect.TypeOf((*sql.Value)(nil)).Elem()
	nullType    = reflect.TypeOf(sql.NullValue{})
	decimalType = reflect.TypeOf(sql.DecimalValue{})
)

func mismatch(path string, v1, v2 reflect.Value) (bool, string) {
	return false, fmt.Sprintf("%s: %s != %s", path, describe(v1), describe(v2))
}

func describe(v reflect.Value) string {
	if !v.IsValid() {
		return "<invalid>"
	}
	if v.CanInterface() {
		if sv, ok := v.Interface().(sql.Value); ok && sv != nil {
			return fmt.Sprintf("%s(%s)", sv.Type(), sql.Format(sv))
		}
		return fmt.Sprintf("%#v", v.Interface())
	}
	return v.String()
}

// deepEqual compares the values at path. Values of the sql package compare
// with sql.Compare, so equal decimals with different scales are equal; tuples
// compare by their values.
func deepEqual(path string, v1, v2 reflect.Value) (bool, string) {
	if !v1.IsValid() || !v2.IsValid() {
		if v1.IsValid() != v2.IsValid() {
			return mismatch(path, v1, v2)
		}
		return true, ""
	}
	if v1.Type() != v2.Type() {
		return false, fmt.Sprintf("%s: type %s != type %s", path, v1.Type(), v2.Type())
	}

	typ := v1.Type()
	switch {
	case !v1.CanInterface() || !v2.CanInterface():
	case typ == tupleType:
		if v1.IsNil() || v2.IsNil() {
			if v1.IsNil() != v2.IsNil() {
				return mismatch(path, v1, v2)
			}
			return true, ""
		}
		return deepEqual(path+".Values()", reflect.ValueOf(v1.Interface().(*sql.Tuple).Values()),
			reflect.ValueOf(v2.Interface().(*sql.Tuple).Values()))
	case typ == decimalType:
		d1 := v1.Interface().(sql.DecimalValue)
		d2 := v2.Interface().(sql.DecimalValue)
		if !d1.Decimal.Equal(d2.Decimal) {
			return mismatch(path, v1, v2)
		}
		return true, ""
	case typ != nullType && typ.Kind() != reflect.Interface && typ.Implements(valueType):
		if sql.Compare(v1.Interface().(sql.Value), v2.Interface().(sql.Value)) != 0 {
			return mismatch(path, v1, v2)
		}
		return true, ""
	}

	switch v1.Kind() {
	case reflect.Array, reflect.Slice:
		if v1.Kind() == reflect.Slice && v1.IsNil() != v2.IsNil() {
			return mismatch(path, v1, v2)
		}
		if v1.Len() != v2.Len() {
			return false, fmt.Sprintf("%s: length %d != length %d", path, v1.Len(), v2.Len())
		}
		for i := 0; i < v1.Len(); i++ {
			if ok, s := deepEqual(fmt.Sprintf("%s[%d]", path, i), v1.Index(i),
				v2.Index(i)); !ok {
				return false, s
			}
		}
		return true, ""
	case reflect.Interface, reflect.Ptr:
		if v1.IsNil() || v2.IsNil() {
			if v1.IsNil() != v2.IsNil() {
				return mismatch(path, v1, v2)
			}
			return true, ""
		}
		if v1.Kind() == reflect.Ptr && v1.Pointer() == v2.Pointer() {
			return true, ""
		}
		return deepEqual(path, v1.Elem(), v2.Elem())
	case reflect.Struct:
		for i := 0; i < v1.NumField(); i++ {
			if ok, s := deepEqual(path+"."+typ.Field(i).Name, v1.Field(i),
				v2.Field(i)); !ok {
				return false, s
			}
		}
		return true, ""
	case reflect.Map:
		if v1.IsNil() != v2.IsNil() || v1.Len() != v2.Len() {
			return mismatch(path, v1, v2)
		}
		for _, k := range v1.MapKeys() {
			val2 := v2.MapIndex(k)
			if !val2.IsValid() {
				return false, fmt.Sprintf("%s: key %v missing", path, k)
			}
			if ok, s := deepEqual(fmt.Sprintf("%s[%v]", path, k), v1.MapIndex(k),
				val2); !ok {
				return false, s
			}
		}
		return true, ""
	case reflect.Func:
		if v1.IsNil() && v2.IsNil() {
			return true, ""
		}
		return mismatch(path, v1, v2)
	case reflect.Bool:
		if v1.Bool() != v2.Bool() {
			return mismatch(path, v1, v2)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v1.Int() != v2.Int() {
			return mismatch(path, v1, v2)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr:
		if v1.Uint() != v2.Uint() {
			return mismatch(path, v1, v2)
		}
	case reflect.Float32, reflect.Float64:
		if v1.Float() != v2.Float() {
			return mismatch(path, v1, v2)
		}
	case reflect.Complex64, reflect.Complex128:
		if v1.Complex() != v2.Complex() {
			return mismatch(path, v1, v2)
		}
	case reflect.String:
		if v1.String() != v2.String() {
			return mismatch(path, v1, v2)
		}
	case reflect.Chan, reflect.UnsafePointer:
		if v1.Pointer() != v2.Pointer() {
			return mismatch(path, v1, v2)
		}
	}
	return true, ""
}

// DeepEqual works like reflect.DeepEqual except that sql values and tuples
// compare by value. With trc, it stores the path to the first difference.
func DeepEqual(x, y interface{}, trc ...*string) bool {
	if len(trc) > 1 {
		panic("testutil.DeepEqual: more than one trace argument")
	}

	eq, s := deepEqual("value", reflect.ValueOf(x), reflect.ValueOf(y))
	if len(trc) == 1 && trc[0] != nil {
		*trc[0] = s
	}
	return eq
}
