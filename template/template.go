// Package template compiles the index key-derivation mini-DSL into a pure
// document -> key-bytes function.
//
// Literal characters in the template are emitted verbatim; `{field}` or
// `{field:spec}` substitutes the named document field, optionally
// formatted per spec (a zero-padded width for integers, e.g. `{age:03}`,
// or a fixed minimum width for strings, e.g. `{name:10}`). Several
// substitutions and literal separators concatenate in template order.
//
// Compilation is eager: a malformed template (unmatched `{`, unknown
// spec, or the historical `!`-prefixed compiled-function form) is
// reported at [Compile] time, never on a per-write basis.
package template

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/docdb/document"
)

// ErrSyntax is returned (wrapped with detail) for any template that fails
// to compile.
type ErrSyntax struct {
	Template string
	Reason   string
}

func (e *ErrSyntax) Error() string {
	return fmt.Sprintf("template: syntax error in %q: %s", e.Template, e.Reason)
}

// segmentKind distinguishes literal bytes from a field substitution.
type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentField
)

type segment struct {
	kind    segmentKind
	literal string
	field   string
	spec    fieldSpec
}

// fieldSpec is the parsed `:spec` suffix of a `{field:spec}` placeholder.
type fieldSpec struct {
	has     bool
	width   int
	zeroPad bool
}

// Template is a compiled key formatter: a pure function from [document.Document]
// to key bytes, or "no key" for a document missing a referenced field
// (a partial index).
type Template struct {
	raw        string
	segments   []segment
	integerKey bool
	// integerField is set when integerKey is true; the template must then
	// be exactly one substitution with no literal text.
	integerField string
}

// Source returns the original template string Compile was given.
func (t *Template) Source() string { return t.raw }

// Compile parses tpl into a [Template]. When integerKey is true, tpl must
// resolve to exactly one integer-valued field with no surrounding literal
// text or format spec; Format then emits an 8-byte big-endian unsigned
// encoding of that field instead of formatted characters.
//
// The historical `!`-prefixed compiled-function template variant is
// rejected with [ErrSyntax]: this implementation only supports the
// declarative brace form.
func Compile(tpl string, integerKey bool) (*Template, error) {
	if strings.HasPrefix(tpl, "!") {
		return nil, &ErrSyntax{Template: tpl, Reason: "compiled-function templates (\"!...\") are not supported; use a declarative {field} template"}
	}

	segments, err := parseSegments(tpl)
	if err != nil {
		return nil, err
	}

	t := &Template{raw: tpl, segments: segments, integerKey: integerKey}

	if integerKey {
		if len(segments) != 1 || segments[0].kind != segmentField || segments[0].spec.has {
			return nil, &ErrSyntax{Template: tpl, Reason: "an integer-keyed index template must be exactly one plain {field} substitution"}
		}

		t.integerField = segments[0].field
	}

	return t, nil
}

func parseSegments(tpl string) ([]segment, error) {
	var segments []segment

	var literal strings.Builder

	flushLiteral := func() {
		if literal.Len() > 0 {
			segments = append(segments, segment{kind: segmentLiteral, literal: literal.String()})
			literal.Reset()
		}
	}

	runes := []rune(tpl)

	for i := 0; i < len(runes); i++ {
		c := runes[i]

		switch c {
		case '{':
			end := -1

			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '}' {
					end = j

					break
				}

				if runes[j] == '{' {
					break
				}
			}

			if end == -1 {
				return nil, &ErrSyntax{Template: tpl, Reason: "unmatched '{'"}
			}

			body := string(runes[i+1 : end])
			if body == "" {
				return nil, &ErrSyntax{Template: tpl, Reason: "empty {} placeholder"}
			}

			field := body
			spec := fieldSpec{}

			if idx := strings.IndexByte(body, ':'); idx >= 0 {
				field = body[:idx]
				parsed, err := parseSpec(body[idx+1:])
				if err != nil {
					return nil, &ErrSyntax{Template: tpl, Reason: err.Error()}
				}

				spec = parsed
			}

			if field == "" {
				return nil, &ErrSyntax{Template: tpl, Reason: "empty field name in placeholder"}
			}

			flushLiteral()
			segments = append(segments, segment{kind: segmentField, field: field, spec: spec})
			i = end

		case '}':
			return nil, &ErrSyntax{Template: tpl, Reason: "unmatched '}'"}

		default:
			literal.WriteRune(c)
		}
	}

	flushLiteral()

	if len(segments) == 0 {
		return nil, &ErrSyntax{Template: tpl, Reason: "template has no literal text or field substitutions"}
	}

	return segments, nil
}

// parseSpec understands the subset of the source's formatting vocabulary
// this implementation supports: an optional leading '0' requesting
// zero-padding, followed by a decimal field width, e.g. "03" (zero-pad to
// width 3) or "10" (space-pad to width 10).
func parseSpec(spec string) (fieldSpec, error) {
	if spec == "" {
		return fieldSpec{}, fmt.Errorf("empty format spec")
	}

	zeroPad := strings.HasPrefix(spec, "0") && len(spec) > 1
	widthText := spec

	if zeroPad {
		widthText = spec[1:]
	}

	width, err := strconv.Atoi(widthText)
	if err != nil || width < 0 {
		return fieldSpec{}, fmt.Errorf("unknown format spec %q", spec)
	}

	return fieldSpec{has: true, width: width, zeroPad: zeroPad}, nil
}

// Format derives the key bytes for doc, or returns ok=false if any
// referenced field is absent from doc (a partial-index skip). A format
// error (value present but of an un-formattable kind) is returned as
// err; callers treat it the same as any other write-time failure.
func (t *Template) Format(doc document.Document) (key []byte, ok bool, err error) {
	if t.integerKey {
		v, present := doc.Get(t.integerField)
		if !present {
			return nil, false, nil
		}

		n, isInt := v.AsInt()
		if !isInt {
			return nil, false, fmt.Errorf("template: field %q is not an integer in an integer-keyed index", t.integerField)
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))

		return buf, true, nil
	}

	var buf strings.Builder

	for _, seg := range t.segments {
		if seg.kind == segmentLiteral {
			buf.WriteString(seg.literal)

			continue
		}

		v, present := doc.Get(seg.field)
		if !present {
			return nil, false, nil
		}

		text, formatErr := formatValue(v, seg.spec)
		if formatErr != nil {
			return nil, false, fmt.Errorf("template: field %q: %w", seg.field, formatErr)
		}

		buf.WriteString(text)
	}

	return []byte(buf.String()), true, nil
}

func formatValue(v document.Value, spec fieldSpec) (string, error) {
	if !spec.has {
		return v.Text()
	}

	if spec.zeroPad {
		n, ok := v.AsInt()
		if !ok {
			return "", fmt.Errorf("zero-padded format spec requires an integer value, got %s", v.Kind())
		}

		return fmt.Sprintf("%0*d", spec.width, n), nil
	}

	text, err := v.Text()
	if err != nil {
		return "", err
	}

	if len(text) >= spec.width {
		return text, nil
	}

	return text + strings.Repeat(" ", spec.width-len(text)), nil
}
