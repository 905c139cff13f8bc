// Package codec encodes and decodes the JSON blobs stored in remote
// record fields.
//
// Field values written by older clients arrive in rough shape:
// percent-escaped, with escaped quotes, trailing commas, or stray
// percent signs from interrupted escaping. The decode path recovers
// what it can and degrades to an empty container instead of failing. A
// corrupted field must never block saving the rest of the record, so
// the lenient entrypoints do not return errors.
package codec

import (
	"encoding/json"
	"net/url"
	"reflect"
	"regexp"
	"strings"
)

// CircularSentinel replaces repeated references during a cycle-guarded
// encode.
const CircularSentinel = "[circular]"

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	quoteSpace    = regexp.MustCompile(`"\s+:`)
)

// Decode parses a raw field value into its JSON value. On parse failure
// it strips common corruption patterns and retries once; the final
// fallback is an empty slice when the trimmed input starts with "[",
// otherwise an empty map.
func Decode(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}

	if v, ok := tryParse(trimmed); ok {
		return v
	}

	// Percent-escaped payloads from older writers.
	if unescaped, err := url.QueryUnescape(trimmed); err == nil && unescaped != trimmed {
		if v, ok := tryParse(strings.TrimSpace(unescaped)); ok {
			return v
		}
		trimmed = strings.TrimSpace(unescaped)
	}

	if v, ok := tryParse(repair(trimmed)); ok {
		return v
	}

	if strings.HasPrefix(trimmed, "[") {
		return []any{}
	}
	return map[string]any{}
}

// DecodeSlice decodes a field expected to hold a collection. Scalar or
// object payloads degrade to an empty collection.
func DecodeSlice(raw string) []any {
	if v, ok := Decode(raw).([]any); ok {
		return v
	}
	return []any{}
}

// DecodeMap decodes a field expected to hold an object.
func DecodeMap(raw string) map[string]any {
	if v, ok := Decode(raw).(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func tryParse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// repair strips the corruption patterns seen in the wild: backslash
// escaping applied to a whole document, whitespace wedged between a
// closing quote and its colon, trailing commas, and lone percent signs.
func repair(s string) string {
	if strings.Contains(s, `\"`) && !strings.Contains(s, `"`+"\n") {
		// A doubly-serialized document: `{\"a\":1}`. Unwrap the escapes.
		s = strings.ReplaceAll(s, `\"`, `"`)
	}
	s = quoteSpace.ReplaceAllString(s, `":`)
	s = trailingComma.ReplaceAllString(s, "$1")
	s = replaceStrayPercents(s)
	return s
}

// replaceStrayPercents removes % signs not followed by two hex digits.
// Go's regexp has no lookahead, so this walks the string directly.
func replaceStrayPercents(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			if i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Encode serializes a value to its JSON field form. Values that cannot
// be marshaled directly (cyclic structures) are re-serialized with a
// cycle guard that replaces repeated references with a sentinel, so
// Encode always terminates and always returns valid JSON.
func Encode(v any) string {
	data, err := json.Marshal(v)
	if err == nil {
		return string(data)
	}

	guarded := breakCycles(reflect.ValueOf(v), map[uintptr]bool{})
	data, err = json.Marshal(guarded)
	if err != nil {
		// Nothing representable left; an empty object is still a valid field.
		return "{}"
	}
	return string(data)
}

// breakCycles rebuilds v as plain maps and slices, substituting the
// sentinel wherever a pointer, map, or slice is visited twice on the
// current path.
func breakCycles(v reflect.Value, seen map[uintptr]bool) any {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Pointer {
			ptr := v.Pointer()
			if seen[ptr] {
				return CircularSentinel
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		return breakCycles(v.Elem(), seen)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return CircularSentinel
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key, ok := iter.Key().Interface().(string)
			if !ok {
				continue
			}
			out[key] = breakCycles(iter.Value(), seen)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return CircularSentinel
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		fallthrough

	case reflect.Array:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			out = append(out, breakCycles(v.Index(i), seen))
		}
		return out

	case reflect.Struct:
		out := map[string]any{}
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("json") == "-" {
				continue
			}
			out[fieldName(f)] = breakCycles(v.Field(i), seen)
		}
		return out

	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return nil

	default:
		return v.Interface()
	}
}

func fieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return f.Name
	}
	if i := strings.Index(tag, ","); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" {
		return f.Name
	}
	return tag
}
