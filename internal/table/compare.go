package table

import (
	"cmp"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type kindRank int

const (
	rankNil kindRank = iota
	rankBool
	rankNumber
	rankString
	rankTime
	rankOther
)

// Compare orders two cell values. Values of the same kind compare
// natively. Different kinds order nil, bool, number, string, time, then
// anything else; numbers of different Go types compare as float64.
func Compare(a, b any) int {
	ka, va := classify(a)
	kb, vb := classify(b)
	if ka != kb {
		return cmp.Compare(ka, kb)
	}

	switch ka {
	case rankNil:
		return 0
	case rankBool:
		return cmp.Compare(boolInt(va.Bool()), boolInt(vb.Bool()))
	case rankNumber:
		return compareNumbers(va, vb)
	case rankString:
		return cmp.Compare(va.String(), vb.String())
	case rankTime:
		return va.Interface().(time.Time).Compare(vb.Interface().(time.Time))
	default:
		return strings.Compare(otherText(va), otherText(vb))
	}
}

func classify(v any) (kindRank, reflect.Value) {
	if v == nil {
		return rankNil, reflect.Value{}
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return rankNil, reflect.Value{}
		}
		rv = rv.Elem()
	}
	if _, ok := rv.Interface().(time.Time); ok {
		return rankTime, rv
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rankBool, rv
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return rankNumber, rv
	case reflect.String:
		return rankString, rv
	}
	return rankOther, rv
}

func compareNumbers(a, b reflect.Value) int {
	switch {
	case a.CanInt() && b.CanInt():
		return cmp.Compare(a.Int(), b.Int())
	case a.CanUint() && b.CanUint():
		return cmp.Compare(a.Uint(), b.Uint())
	}
	return cmp.Compare(asFloat(a), asFloat(b))
}

func asFloat(v reflect.Value) float64 {
	switch {
	case v.CanInt():
		return float64(v.Int())
	case v.CanUint():
		return float64(v.Uint())
	}
	return v.Float()
}

func otherText(v reflect.Value) string {
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v.Interface())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FormatValue is the default display text of a cell value. Times are
// shown relative to now.
func FormatValue(v any) string {
	k, rv := classify(v)
	switch k {
	case rankNil:
		return ""
	case rankTime:
		t := rv.Interface().(time.Time)
		if t.IsZero() {
			return ""
		}
		return humanize.Time(t)
	}
	return fmt.Sprint(rv.Interface())
}
