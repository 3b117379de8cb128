package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IDField is the reserved field name carrying a document's primary key,
// assigned on append and never user-settable afterwards.
const IDField = "_id"

// Document is a field-ordered mapping from field name to [Value]. The zero
// Document is empty and ready to use. Field order is insertion order,
// preserved across [Document.Set] and serialization so that two documents
// built the same way always produce byte-identical JSON.
type Document struct {
	order  []string
	fields map[string]Value
}

// New returns an empty Document.
func New() Document {
	return Document{fields: make(map[string]Value)}
}

// Get returns the value stored under key and true, or (Value{}, false) if
// the field is absent. A field explicitly set to null is present (ok=true)
// but holds a null Value — callers that need "field omitted" vs "field
// null" distinguish on the ok return, which is what the key formatter's
// partial-index skip relies on.
func (d Document) Get(key string) (Value, bool) {
	if d.fields == nil {
		return Value{}, false
	}

	v, ok := d.fields[key]

	return v, ok
}

// Has reports whether key is present in d.
func (d Document) Has(key string) bool {
	_, ok := d.Get(key)

	return ok
}

// Set stores value under key, preserving the position of an existing key
// or appending a new one at the end. Returns an updated copy, leaving d
// itself unchanged, so calls can be chained:
// document.New().Set("a", ...).Set("b", ...).
func (d Document) Set(key string, value Value) Document {
	if d.fields == nil {
		d.fields = make(map[string]Value)
	}

	if _, exists := d.fields[key]; !exists {
		d.order = append(append([]string{}, d.order...), key)
	}

	fields := make(map[string]Value, len(d.fields)+1)
	for k, v := range d.fields {
		fields[k] = v
	}

	fields[key] = value
	d.fields = fields

	return d
}

// Delete removes key from d, if present.
func (d Document) Delete(key string) Document {
	if !d.Has(key) {
		return d
	}

	fields := make(map[string]Value, len(d.fields))
	order := make([]string, 0, len(d.order))

	for _, k := range d.order {
		if k == key {
			continue
		}

		order = append(order, k)
		fields[k] = d.fields[k]
	}

	d.fields = fields
	d.order = order

	return d
}

// Keys returns field names in insertion order. The returned slice must not
// be mutated.
func (d Document) Keys() []string { return d.order }

// Len returns the number of fields in d.
func (d Document) Len() int { return len(d.order) }

// ID returns the reserved [IDField], or ("", false) if unset.
func (d Document) ID() (string, bool) {
	v, ok := d.Get(IDField)
	if !ok {
		return "", false
	}

	return v.AsString()
}

// WithID returns a copy of d with [IDField] set to id.
func (d Document) WithID(id string) Document {
	return d.Set(IDField, String(id))
}

// Clone returns a copy of d with its own field order and field map. The
// field values themselves are copied as-is, so nested array, bytes and
// object values share their backing storage with d.
func (d Document) Clone() Document {
	out := New()

	for _, k := range d.order {
		out = out.Set(k, d.fields[k])
	}

	return out
}

// Equal reports whether d and other have the same fields in the same
// order with equal values.
func (d Document) Equal(other Document) bool {
	if len(d.order) != len(other.order) {
		return false
	}

	for i, k := range d.order {
		if other.order[i] != k {
			return false
		}

		v, ok := other.Get(k)
		if !ok || !d.fields[k].Equal(v) {
			return false
		}
	}

	return true
}

// jsonValue is the wire shape for a [Value]: a discriminated union tagged
// by "k" (kind) with the payload under the field matching that kind. This
// keeps the encoding self-describing without relying on JSON's own
// (lossy, for int-vs-float) type inference.
type jsonValue struct {
	K Kind              `json:"k"`
	S string            `json:"s,omitempty"`
	I int64             `json:"i,omitempty"`
	F float64           `json:"f,omitempty"`
	B bool              `json:"b,omitempty"`
	Y []byte            `json:"y,omitempty"`
	A []jsonValue       `json:"a,omitempty"`
	O *orderedFieldList `json:"o,omitempty"`
}

// orderedFieldList is [Document] as an ordered association list, the only
// shape that round-trips field order through encoding/json (a Go map does
// not preserve order).
type orderedFieldList struct {
	Keys   []string    `json:"keys"`
	Values []jsonValue `json:"values"`
}

func toJSONValue(v Value) jsonValue {
	jv := jsonValue{K: v.kind}

	switch v.kind {
	case KindString:
		jv.S = v.str
	case KindInt:
		jv.I = v.i
	case KindFloat:
		jv.F = v.f
	case KindBool:
		jv.B = v.b
	case KindBytes:
		jv.Y = v.bytes
	case KindArray:
		jv.A = make([]jsonValue, len(v.arr))
		for i, e := range v.arr {
			jv.A[i] = toJSONValue(e)
		}
	case KindObject:
		if v.obj != nil {
			jv.O = toOrderedFieldList(*v.obj)
		}
	}

	return jv
}

func fromJSONValue(jv jsonValue) Value {
	switch jv.K {
	case KindString:
		return String(jv.S)
	case KindInt:
		return Int(jv.I)
	case KindFloat:
		return Float(jv.F)
	case KindBool:
		return Bool(jv.B)
	case KindBytes:
		return Bytes(jv.Y)
	case KindArray:
		vs := make([]Value, len(jv.A))
		for i, e := range jv.A {
			vs[i] = fromJSONValue(e)
		}

		return Array(vs...)
	case KindObject:
		if jv.O == nil {
			return Object(New())
		}

		return Object(fromOrderedFieldList(*jv.O))
	default:
		return Null()
	}
}

func toOrderedFieldList(d Document) *orderedFieldList {
	list := &orderedFieldList{
		Keys:   append([]string{}, d.order...),
		Values: make([]jsonValue, len(d.order)),
	}

	for i, k := range d.order {
		list.Values[i] = toJSONValue(d.fields[k])
	}

	return list
}

func fromOrderedFieldList(list orderedFieldList) Document {
	d := New()

	n := len(list.Keys)
	if len(list.Values) < n {
		n = len(list.Values)
	}

	for i := 0; i < n; i++ {
		d = d.Set(list.Keys[i], fromJSONValue(list.Values[i]))
	}

	return d
}

// Marshal serializes d to its compact, field-order-preserving JSON
// representation.
func Marshal(d Document) ([]byte, error) {
	list := toOrderedFieldList(d)

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(list); err != nil {
		return nil, fmt.Errorf("document: marshal: %w", err)
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal parses data produced by [Marshal] back into a Document with
// field order restored.
func Unmarshal(data []byte) (Document, error) {
	var list orderedFieldList

	if err := json.Unmarshal(data, &list); err != nil {
		return Document{}, fmt.Errorf("document: unmarshal: %w", err)
	}

	return fromOrderedFieldList(list), nil
}
