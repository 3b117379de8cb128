package docdb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogKeyAndIndexSubDBNaming(t *testing.T) {
	require.Equal(t, "_demo1_by_age", indexSubDBName("demo1", "by_age"))
	require.Equal(t, []byte("@_demo1_by_age"), catalogKey("demo1", "by_age"))

	name, ok := indexNameFromCatalogKey(catalogKey("demo1", "by_age"), "demo1")
	require.True(t, ok)
	require.Equal(t, "by_age", name)

	_, ok = indexNameFromCatalogKey(catalogKey("demo2", "by_age"), "demo1")
	require.False(t, ok)
}

func TestDescriptorRoundTrip(t *testing.T) {
	d := indexDescriptor{Template: "{age:03}", Duplicates: true, IntegerKey: false}

	encoded, err := encodeDescriptor(d)
	require.NoError(t, err)

	decoded, err := decodeDescriptor(encoded)
	require.NoError(t, err)
	require.Equal(t, d, decoded)
}

func TestDescriptorAcceptsHandEditedCommentsAndTrailingCommas(t *testing.T) {
	raw := []byte(`{
		// a hand-edited catalog entry
		"template": "{age:03}",
		"duplicates": true,
		"integer": false,
	}`)

	decoded, err := decodeDescriptor(raw)
	require.NoError(t, err)
	require.Equal(t, "{age:03}", decoded.Template)
	require.True(t, decoded.Duplicates)
}

func TestNewPrimaryKeyIsMonotonicWithinProcess(t *testing.T) {
	prev, err := newPrimaryKey()
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		next, err := newPrimaryKey()
		require.NoError(t, err)
		require.True(t, bytes.Compare(prev, next) <= 0, "primary keys must be monotonically non-decreasing")

		prev = next
	}
}

func TestIsReservedSubDBName(t *testing.T) {
	require.True(t, isReservedSubDBName("@_demo1_by_age"))
	require.True(t, isReservedSubDBName("_demo1_by_age"))
	require.False(t, isReservedSubDBName("demo1"))
	require.False(t, isReservedSubDBName(""))
}
