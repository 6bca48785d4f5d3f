package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/admin-platform/backend/internal/models"
)

// TimeLayout is the fixed ISO-8601 form every date/time value normalizes to.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Normalize returns the canonical representation of v. Equal logical values
// normalize to values with identical canonical encodings, and
// Normalize(Normalize(v)) equals Normalize(v).
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t
	case float32:
		if f := float64(t); math.IsNaN(f) || math.IsInf(f, 0) {
			return nonFinite(f)
		}
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nonFinite(t)
		}
		return t
	case json.Number:
		return normalizeNumber(t)
	case string:
		return normalizeString(t)
	case []byte:
		return normalizeString(string(t))
	case time.Time:
		return t.UTC().Format(TimeLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(TimeLayout)
	case *models.Attributes:
		return NormalizeAttributes(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		if order, ok := listOrder(keys); ok {
			out := make([]any, len(order))
			for i, k := range order {
				out[i] = Normalize(t[k])
			}
			return out
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	}
	return normalizeValue(reflect.ValueOf(v))
}

// NormalizeAttributes normalizes every attribute value, keeping key order.
func NormalizeAttributes(a *models.Attributes) *models.Attributes {
	if a == nil {
		return nil
	}
	out := models.NewAttributes()
	for _, k := range a.Keys() {
		v, _ := a.Get(k)
		out.Set(k, Normalize(v))
	}
	return out
}

func normalizeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// normalizeString decodes strings holding a JSON object or array. Anything
// that is not strictly valid JSON is kept verbatim.
func normalizeString(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return s
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return s
	}
	if _, err := dec.Token(); err != io.EOF {
		return s
	}
	return Normalize(decoded)
}

func normalizeValue(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nonFinite(f)
		}
		return f
	case reflect.String:
		return normalizeString(rv.String())
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		return normalizeMap(rv)
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return normalizeString(string(rv.Bytes()))
		}
		return normalizeList(rv)
	case reflect.Array:
		if s, ok := rv.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return normalizeList(rv)
	}

	if s, ok := rv.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", rv.Interface())
}

func normalizeList(rv reflect.Value) []any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = Normalize(rv.Index(i).Interface())
	}
	return out
}

// normalizeMap turns integer-keyed maps with keys 0..n-1 into lists and
// every other map into an associative map[string]any.
func normalizeMap(rv reflect.Value) any {
	keys := rv.MapKeys()
	if list, ok := contiguousList(rv, keys); ok {
		return list
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[mapKey(k)] = Normalize(rv.MapIndex(k).Interface())
	}
	if rv.Type().Key().Kind() == reflect.String {
		return Normalize(out)
	}
	return out
}

// listOrder reports whether keys are exactly the decimal indexes "0".."n-1"
// and returns them in index order. An empty key set stays a map.
func listOrder(keys []string) ([]string, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	order := make([]string, len(keys))
	for _, k := range keys {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(keys) || strconv.Itoa(i) != k {
			return nil, false
		}
		order[i] = k
	}
	return order, true
}

// nonFinite spells NaN and the infinities as strings, which JSON can carry.
func nonFinite(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Inf"
	}
	return "-Inf"
}

func contiguousList(rv reflect.Value, keys []reflect.Value) ([]any, bool) {
	idx := make([]int64, 0, len(keys))
	switch rv.Type().Key().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		for _, k := range keys {
			idx = append(idx, k.Int())
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		for _, k := range keys {
			if k.Uint() > uint64(len(keys)) {
				return nil, false
			}
			idx = append(idx, int64(k.Uint()))
		}
	default:
		return nil, false
	}

	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
	for i, n := range idx {
		if n != int64(i) {
			return nil, false
		}
	}

	byIndex := make(map[int64]reflect.Value, len(keys))
	for _, k := range keys {
		if k.CanInt() {
			byIndex[k.Int()] = k
		} else {
			byIndex[int64(k.Uint())] = k
		}
	}
	out := make([]any, len(idx))
	for i := range out {
		out[i] = Normalize(rv.MapIndex(byIndex[int64(i)]).Interface())
	}
	return out, true
}

func mapKey(k reflect.Value) string {
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10)
	}
	return fmt.Sprintf("%v", k.Interface())
}

// Canonical returns the RFC 8785 encoding of Normalize(v).
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(Normalize(v))
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// Equal compares two values by their canonical encodings.
func Equal(a, b any) bool {
	ca, errA := Canonical(a)
	cb, errB := Canonical(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(Normalize(a), Normalize(b))
	}
	return bytes.Equal(ca, cb)
}
