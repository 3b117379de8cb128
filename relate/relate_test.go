package relate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/docdb"
	"github.com/calvinalkan/docdb/document"
	"github.com/calvinalkan/docdb/relate"
)

func openTestDB(t *testing.T) *docdb.Database {
	t.Helper()

	db, err := docdb.Open(docdb.Config{Path: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, db.Close()) })

	return db
}

func TestLinkAndRelatedTraversal(t *testing.T) {
	db := openTestDB(t)

	authors, err := db.Table("authors")
	require.NoError(t, err)

	books, err := db.Table("books")
	require.NoError(t, err)

	gareth, err := authors.Append(nil, document.New().Set("name", document.String("Gareth Bult")))
	require.NoError(t, err)
	garethID, _ := gareth.ID()

	book1, err := books.Append(nil, document.New().Set("title", document.String("embedded stores internals")))
	require.NoError(t, err)
	book1ID, _ := book1.ID()

	book2, err := books.Append(nil, document.New().Set("title", document.String("lmdb for fun")))
	require.NoError(t, err)
	book2ID, _ := book2.ID()

	require.NoError(t, relate.Link(db, "authors", garethID, "books", book1ID))
	require.NoError(t, relate.Link(db, "authors", garethID, "books", book2ID))

	related, err := relate.Related(db, "authors", garethID, "books")
	require.NoError(t, err)
	require.Len(t, related, 2)

	titles := map[string]bool{}

	for _, doc := range related {
		v, ok := doc.Get("title")
		require.True(t, ok)

		s, _ := v.AsString()
		titles[s] = true
	}

	require.True(t, titles["embedded stores internals"])
	require.True(t, titles["lmdb for fun"])
}

func TestRelatedWithNoLinksReturnsEmpty(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Table("authors")
	require.NoError(t, err)

	_, err = db.Table("books")
	require.NoError(t, err)

	related, err := relate.Related(db, "authors", "no-such-id", "books")
	require.NoError(t, err)
	require.Empty(t, related)
}

func TestRelatedSurfacesForeignKeyViolationForOrphanLink(t *testing.T) {
	db := openTestDB(t)

	authors, err := db.Table("authors")
	require.NoError(t, err)

	books, err := db.Table("books")
	require.NoError(t, err)

	gareth, err := authors.Append(nil, document.New().Set("name", document.String("Gareth Bult")))
	require.NoError(t, err)
	garethID, _ := gareth.ID()

	book, err := books.Append(nil, document.New().Set("title", document.String("orphaned")))
	require.NoError(t, err)
	bookID, _ := book.ID()

	require.NoError(t, relate.Link(db, "authors", garethID, "books", bookID))
	require.NoError(t, books.Delete(nil, bookID))

	_, err = relate.Related(db, "authors", garethID, "books")
	require.Error(t, err)

	var dbErr *docdb.Error

	require.ErrorAs(t, err, &dbErr)
	require.Equal(t, docdb.KindForeignKeyViolation, dbErr.Kind)
}
