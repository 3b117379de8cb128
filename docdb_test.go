package docdb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/docdb"
	"github.com/calvinalkan/docdb/document"
)

// openTestDB opens a fresh environment in a per-test temp directory.
func openTestDB(t *testing.T) *docdb.Database {
	t.Helper()

	db, err := docdb.Open(docdb.Config{Path: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, db.Close()) })

	return db
}

func person(name string, age int) document.Document {
	return document.New().Set("name", document.String(name)).Set("age", document.Int(int64(age)))
}

// A duplicate index on a zero-padded integer field yields ages in
// ascending, non-decreasing order.
func TestFindByAgeOrdering(t *testing.T) {
	db := openTestDB(t)

	tbl, err := db.Table("demo1")
	require.NoError(t, err)

	_, err = tbl.Index(nil, "by_age", "{age:03}", true, false)
	require.NoError(t, err)

	rows := []document.Document{
		person("Gareth Bult", 21),
		person("Squizzey", 3000),
		person("Fred Bloggs", 45),
		person("John Doe", 40),
		person("John Smith", 40),
		person("Jim Smith", 40),
		person("Gareth Bult1", 21),
	}

	for _, row := range rows {
		_, err := tbl.Append(nil, row)
		require.NoError(t, err)
	}

	var ages []int64

	for doc, err := range tbl.Find("by_age", nil, 0) {
		require.NoError(t, err)

		v, ok := doc.Get("age")
		require.True(t, ok)

		n, ok := v.AsInt()
		require.True(t, ok)

		ages = append(ages, n)
	}

	require.Equal(t, []int64{21, 21, 40, 40, 40, 45, 3000}, ages)
}

// A compound template concatenates substitutions in template order.
func TestFindByCompoundTemplate(t *testing.T) {
	db := openTestDB(t)

	tbl, err := db.Table("demo1")
	require.NoError(t, err)

	_, err = tbl.Index(nil, "by_compound", "{cat}|{name}", true, false)
	require.NoError(t, err)

	data := []struct {
		name string
		cat  string
		age  int
	}{
		{"Gareth Bult", "A", 21},
		{"Squizzey", "A", 3000},
		{"Fred Bloggs", "A", 45},
		{"John Doe", "B", 40},
		{"John Smith", "B", 40},
		{"Jim Smith", "B", 40},
		{"Gareth Bult1", "B", 21},
	}

	for _, d := range data {
		doc := person(d.name, d.age).Set("cat", document.String(d.cat))
		_, err := tbl.Append(nil, doc)
		require.NoError(t, err)
	}

	var cats []string

	for doc, err := range tbl.Find("by_compound", nil, 0) {
		require.NoError(t, err)

		v, ok := doc.Get("cat")
		require.True(t, ok)

		s, _ := v.AsString()
		cats = append(cats, s)
	}

	require.Equal(t, []string{"A", "A", "A", "B", "B", "B", "B"}, cats)
}

// SeekOne on a unique key, and Seek on a key that matches nothing.
func TestSeekOneAndEmptySeek(t *testing.T) {
	db := openTestDB(t)

	tbl, err := db.Table("demo1")
	require.NoError(t, err)

	_, err = tbl.Index(nil, "by_age", "{age:03}", true, false)
	require.NoError(t, err)
	_, err = tbl.Index(nil, "by_compound", "{cat}|{name}", true, false)
	require.NoError(t, err)

	_, err = tbl.Append(nil, person("Squizzey", 3000).Set("cat", document.String("A")))
	require.NoError(t, err)

	doc, ok, err := tbl.SeekOne("by_age", document.New().Set("age", document.Int(3000)))
	require.NoError(t, err)
	require.True(t, ok)

	name, _ := doc.Get("name")
	s, _ := name.AsString()
	require.Equal(t, "Squizzey", s)

	var found int

	for range tbl.Seek("by_compound", document.New().Set("cat", document.String("C")).Set("name", document.String("Squizzey"))) {
		found++
	}

	require.Equal(t, 0, found)
}

// Range over a unique-keyed index, inclusive and exclusive.
func TestRangeInclusiveAndExclusive(t *testing.T) {
	db := openTestDB(t)

	tbl, err := db.Table("demo1")
	require.NoError(t, err)

	_, err = tbl.Index(nil, "by_code", "{code}", false, false)
	require.NoError(t, err)

	for _, code := range []string{"F", "E", "E2", "D", "C", "B", "B2", "A"} {
		doc := document.New().Set("code", document.String(code))
		_, err := tbl.Append(nil, doc)
		require.NoError(t, err)
	}

	lower := document.New().Set("code", document.String("B"))
	upper := document.New().Set("code", document.String("E"))

	var inclusive []string

	for doc, err := range tbl.Range("by_code", &lower, &upper, true) {
		require.NoError(t, err)

		v, _ := doc.Get("code")
		s, _ := v.AsString()
		inclusive = append(inclusive, s)
	}

	require.Equal(t, []string{"B", "B2", "C", "D", "E"}, inclusive)

	var exclusive []string

	for doc, err := range tbl.Range("by_code", &lower, &upper, false) {
		require.NoError(t, err)

		v, _ := doc.Get("code")
		s, _ := v.AsString()
		exclusive = append(exclusive, s)
	}

	require.Equal(t, []string{"B2", "C", "D"}, exclusive)
}

// A partial index silently skips documents missing the indexed field.
func TestPartialIndexSkipsMissingField(t *testing.T) {
	db := openTestDB(t)

	tbl, err := db.Table("demo1")
	require.NoError(t, err)

	_, err = tbl.Index(nil, "by_admin", "{admin}", true, false)
	require.NoError(t, err)

	plain := []document.Document{
		person("Gareth Bult", 21),
		person("Squizzey", 3000),
		person("Fred Bloggs", 45),
		person("John Doe", 40),
		person("John Smith", 40),
		person("Jim Smith", 40),
		person("Gareth Bult1", 21),
	}

	for i, row := range plain {
		if i < 3 {
			row = row.Set("admin", document.Bool(true))
		}

		_, err := tbl.Append(nil, row)
		require.NoError(t, err)
	}

	idx, err := db.Indexes("demo1")
	require.NoError(t, err)
	require.Contains(t, idx, "by_admin")

	var names []string

	for doc, err := range tbl.Find("by_admin", nil, 0) {
		require.NoError(t, err)

		v, _ := doc.Get("name")
		s, _ := v.AsString()
		names = append(names, s)
	}

	require.Len(t, names, 3)

	records, err := tbl.Records()
	require.NoError(t, err)
	require.Equal(t, uint64(7), records)
}

// Closing and reopening the environment rehydrates indexes strictly
// from catalog entries.
func TestReopenRehydratesCatalog(t *testing.T) {
	dir := t.TempDir()

	db, err := docdb.Open(docdb.Config{Path: dir})
	require.NoError(t, err)

	tbl, err := db.Table("demo1")
	require.NoError(t, err)

	_, err = tbl.Index(nil, "by_age", "{age:03}", true, false)
	require.NoError(t, err)
	_, err = tbl.Index(nil, "by_age_name", "{age:03}|{name}", true, false)
	require.NoError(t, err)
	_, err = tbl.Index(nil, "by_name", "{name}", false, false)
	require.NoError(t, err)

	require.NoError(t, db.Close())

	db2, err := docdb.Open(docdb.Config{Path: dir})
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, db2.Close()) })

	indexes, err := db2.Indexes("demo1")
	require.NoError(t, err)
	require.Equal(t, []string{"by_age", "by_age_name", "by_name"}, indexes)
}
