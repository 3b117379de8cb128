// Package document implements the duck-typed document model shared by
// every table and index: a field-ordered mapping from name to a small,
// closed set of value variants (string, integer, float, boolean, bytes,
// null, array, nested object).
//
// Documents round-trip losslessly and deterministically: the same
// [Document] always serializes to the same bytes, because field order is
// preserved rather than re-sorted by a map iteration. That determinism is
// what lets index keys derived from a document stay reproducible across
// processes.
package document

import "fmt"

// Kind identifies which variant a [Value] holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindArray
	KindObject
)

// String implements [fmt.Stringer] for diagnostic output.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a single document field's value. The zero Value is null.
type Value struct {
	kind  Kind
	str   string
	i     int64
	f     float64
	b     bool
	bytes []byte
	arr   []Value
	obj   *Document
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// String wraps a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps a signed 64-bit integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a 64-bit floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Bytes wraps a raw byte-string value. The slice is copied.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)

	return Value{kind: KindBytes, bytes: cp}
}

// Array wraps an ordered list of values.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Object wraps a nested document.
func Object(d Document) Value { return Value{kind: KindObject, obj: &d} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant (including the zero Value).
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string variant and true, or ("", false) otherwise.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}

	return v.str, true
}

// AsInt returns the integer variant and true, or (0, false) otherwise.
// Float values with no fractional part are accepted so a document written
// with a numeric literal like 21.0 still satisfies an integer-keyed index.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == float64(int64(v.f)) {
			return int64(v.f), true
		}

		return 0, false
	default:
		return 0, false
	}
}

// AsFloat returns the numeric variant as a float64 and true, or (0, false).
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsBool returns the boolean variant and true, or (false, false) otherwise.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}

	return v.b, true
}

// AsBytes returns the byte-string variant and true, or (nil, false) otherwise.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}

	return v.bytes, true
}

// AsArray returns the array variant and true, or (nil, false) otherwise.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}

	return v.arr, true
}

// AsObject returns the nested document variant and true, or otherwise
// (Document{}, false).
func (v Value) AsObject() (Document, bool) {
	if v.kind != KindObject || v.obj == nil {
		return Document{}, false
	}

	return *v.obj, true
}

// Text renders v as the byte-string a key template substitutes, independent
// of Kind. Used by the template compiler's plain `{field}` substitution.
func (v Value) Text() (string, error) {
	switch v.kind {
	case KindString:
		return v.str, nil
	case KindInt:
		return fmt.Sprintf("%d", v.i), nil
	case KindFloat:
		return fmt.Sprintf("%g", v.f), nil
	case KindBool:
		if v.b {
			return "true", nil
		}

		return "false", nil
	case KindBytes:
		return string(v.bytes), nil
	case KindNull:
		return "", fmt.Errorf("document: cannot format null value as text")
	default:
		return "", fmt.Errorf("document: cannot format %s value as text", v.kind)
	}
}

// Equal reports deep equality between v and other.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	case KindBytes:
		if len(v.bytes) != len(other.bytes) {
			return false
		}

		for i := range v.bytes {
			if v.bytes[i] != other.bytes[i] {
				return false
			}
		}

		return true
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}

		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}

		return true
	case KindObject:
		if v.obj == nil || other.obj == nil {
			return v.obj == other.obj
		}

		return v.obj.Equal(*other.obj)
	default:
		return false
	}
}
