package template_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/docdb/document"
	"github.com/calvinalkan/docdb/template"
)

func doc(fields map[string]document.Value) document.Document {
	d := document.New()
	for k, v := range fields {
		d = d.Set(k, v)
	}

	return d
}

func TestCompileRejectsUnmatchedBrace(t *testing.T) {
	_, err := template.Compile("{name", false)
	require.Error(t, err)

	var syntaxErr *template.ErrSyntax
	require.ErrorAs(t, err, &syntaxErr)
}

func TestCompileRejectsCompiledFunctionVariant(t *testing.T) {
	_, err := template.Compile("!(doc): return doc['name']", false)
	require.Error(t, err)
}

func TestCompileRejectsBadSpec(t *testing.T) {
	_, err := template.Compile("{age:abc}", false)
	require.Error(t, err)
}

func TestFormatZeroPaddedInteger(t *testing.T) {
	tpl, err := template.Compile("{age:03}", false)
	require.NoError(t, err)

	key, ok, err := tpl.Format(doc(map[string]document.Value{"age": document.Int(21)}))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "021", string(key))

	key, ok, err = tpl.Format(doc(map[string]document.Value{"age": document.Int(3000)}))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3000", string(key))
}

func TestFormatCompoundTemplate(t *testing.T) {
	tpl, err := template.Compile("{cat}|{name}", false)
	require.NoError(t, err)

	key, ok, err := tpl.Format(doc(map[string]document.Value{
		"cat":  document.String("A"),
		"name": document.String("Gareth Bult"),
	}))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "A|Gareth Bult", string(key))
}

func TestFormatPartialIndexSkipsMissingField(t *testing.T) {
	tpl, err := template.Compile("{admin}", false)
	require.NoError(t, err)

	_, ok, err := tpl.Format(doc(map[string]document.Value{"name": document.String("Gareth")}))
	require.NoError(t, err)
	require.False(t, ok, "missing field should yield a partial-index skip, not an error")
}

func TestFormatIntegerKeyEncodesBigEndian(t *testing.T) {
	tpl, err := template.Compile("{age}", true)
	require.NoError(t, err)

	key, ok, err := tpl.Format(doc(map[string]document.Value{"age": document.Int(40)}))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, key, 8)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 40}, key)
}

func TestCompileIntegerKeyRejectsCompoundTemplate(t *testing.T) {
	_, err := template.Compile("{age}{name}", true)
	require.Error(t, err)
}

func TestOrderingByFormattedBytesMatchesAgePadding(t *testing.T) {
	tpl, err := template.Compile("{age:03}", false)
	require.NoError(t, err)

	ages := []int64{21, 3000, 45, 40, 40, 40, 21}

	keys := make([]string, len(ages))

	for i, age := range ages {
		key, ok, err := tpl.Format(doc(map[string]document.Value{"age": document.Int(age)}))
		require.NoError(t, err)
		require.True(t, ok)

		keys[i] = string(key)
	}

	require.Equal(t, []string{"021", "3000", "045", "040", "040", "040", "021"}, keys)
	// Ordering of the zero-padded strings matches numeric ordering for
	// these widths (the padding is what makes that true).
	require.Less(t, keys[0], keys[3])
	require.Less(t, keys[3], keys[2])
}
