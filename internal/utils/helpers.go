package utils

import (
	"math"
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// Fields is the map form every condition, action and rule is persisted in
type Fields = map[string]any

// ParseDeviceID parses topic
func ParseDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}

// Compare compares values with one of =, !=, >, <, >=, <=.
// Ordering operators only apply when both sides are numbers.
func Compare(actual any, op string, expected any) bool {
	switch op {
	case "=", "==":
		return Equal(actual, expected)
	case "!=":
		if actual == nil || expected == nil {
			return actual != expected
		}
		return !Equal(actual, expected)
	}

	a, aok := AsNumber(actual)
	e, eok := AsNumber(expected)
	if !aok || !eok {
		return false
	}
	switch op {
	case ">":
		return a > e
	case "<":
		return a < e
	case ">=":
		return a >= e
	case "<=":
		return a <= e
	}
	return false
}

// Equal compares two values, treating numbers of different Go types as equal when their values match.
// Decoded JSON lists and objects are compared element by element.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aok := AsNumber(a)
	bn, bok := AsNumber(b)
	if aok && bok {
		return an == bn
	}
	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if !ta.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// AsNumber reports the float value of numeric Go types; strings are not numbers here
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToFloat64(n), true
	}
	return math.NaN(), false
}

// GetString reads a string field, returning def when missing or unconvertible
func GetString(m Fields, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

// GetBool reads a boolean field
func GetBool(m Fields, key string, def bool) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// GetFloat reads a numeric field
func GetFloat(m Fields, key string, def float64) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

// GetOptionalFloat reads a numeric field that may be absent
func GetOptionalFloat(m Fields, key string) *float64 {
	v, ok := m[key]
	if !ok || v == nil || v == "" {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil
	}
	return &f
}

// GetInt64 reads an integer field
func GetInt64(m Fields, key string, def int64) int64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return def
	}
	return n
}

// GetMap reads a nested object field
func GetMap(m Fields, key string) Fields {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	sub, err := cast.ToStringMapE(v)
	if err != nil {
		return nil
	}
	return sub
}

// GetList reads a list-of-objects field, skipping entries that are not objects
func GetList(m Fields, key string) []Fields {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	items, err := cast.ToSliceE(v)
	if err != nil {
		return nil
	}
	rslt := make([]Fields, 0, len(items))
	for _, it := range items {
		sub, err := cast.ToStringMapE(it)
		if err != nil {
			continue
		}
		rslt = append(rslt, sub)
	}
	return rslt
}
