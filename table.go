package docdb

import (
	"bytes"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/bmatsuo/lmdb-go/lmdb"

	"github.com/calvinalkan/docdb/document"
	"github.com/calvinalkan/docdb/template"
)

// Table is a primary sub-database of documents plus the set of secondary
// [Index]es derived from them.
type Table struct {
	db   *Database
	name string
	dbi  lmdb.DBI

	mu      sync.RWMutex
	indexes map[string]*Index
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

func (t *Table) lookupIndex(name string) (*Index, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.indexes[name]
	if !ok {
		return nil, newErr(KindIndexMissing, t.name, name, nil)
	}

	return idx, nil
}

// Indexes returns the names of every index currently defined on t, sorted
// for deterministic output.
func (t *Table) Indexes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.indexes))
	for name := range t.indexes {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Records returns the number of documents currently stored in t.
func (t *Table) Records() (uint64, error) {
	var n uint64

	err := t.db.env.View(func(txn *lmdb.Txn) error {
		stat, err := txn.Stat(t.dbi)
		if err != nil {
			return err
		}

		n = stat.Entries

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("docdb: counting records in table %q: %w", t.name, err)
	}

	return n, nil
}

func (t *Table) withWriteTxn(tx *Tx, fn func(txn *lmdb.Txn) error) error {
	if tx != nil {
		return fn(tx.txn)
	}

	return t.db.withWriteTxn(fn)
}

// Append inserts doc as a new document, assigning it a fresh, time-ordered
// primary key, and returns the stored document (with its primary key
// field set). Indexes are updated within the same transaction.
//
// When tx is nil, Append manages its own transaction; when tx is non-nil,
// the write is folded into the caller's ambient transaction instead.
func (t *Table) Append(tx *Tx, doc document.Document) (document.Document, error) {
	pk, err := newPrimaryKey()
	if err != nil {
		return document.Document{}, wrapWriteFail(t.name, err)
	}

	stored := doc.WithID(string(pk))

	data, err := document.Marshal(stored)
	if err != nil {
		return document.Document{}, wrapWriteFail(t.name, err)
	}

	err = t.withWriteTxn(tx, func(txn *lmdb.Txn) error {
		if putErr := txn.Put(t.dbi, pk, data, lmdb.Append); putErr != nil {
			// The generated key is not strictly greater than the table's
			// current maximum (e.g. after Restructure ran concurrently,
			// or the system clock moved backwards); fall back to a plain
			// insert instead of failing the whole append.
			if putErr = txn.Put(t.dbi, pk, data, 0); putErr != nil {
				return putErr
			}
		}

		return t.putIndexes(txn, pk, stored)
	})
	if err != nil {
		return document.Document{}, wrapWriteFail(t.name, err)
	}

	return stored, nil
}

func (t *Table) putIndexes(txn *lmdb.Txn, pk []byte, doc document.Document) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, idx := range t.indexes {
		if err := idx.put(txn, pk, doc); err != nil {
			return err
		}
	}

	return nil
}

func (t *Table) deleteIndexes(txn *lmdb.Txn, pk []byte, doc document.Document) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, idx := range t.indexes {
		if err := idx.delete(txn, pk, doc); err != nil {
			return err
		}
	}

	return nil
}

// Save writes back a document that already carries a primary key
// (typically one previously returned by [Table.Append] or [Table.Get]),
// removing its stale index entries and inserting fresh ones derived from
// the new field values.
func (t *Table) Save(tx *Tx, doc document.Document) (document.Document, error) {
	id, ok := doc.ID()
	if !ok || id == "" {
		return document.Document{}, newErr(KindNotFound, t.name, "", fmt.Errorf("docdb: document has no primary key to save"))
	}

	pk := []byte(id)

	data, err := document.Marshal(doc)
	if err != nil {
		return document.Document{}, wrapWriteFail(t.name, err)
	}

	err = t.withWriteTxn(tx, func(txn *lmdb.Txn) error {
		old, getErr := txn.Get(t.dbi, pk)
		if lmdb.IsNotFound(getErr) {
			return newErr(KindNotFound, t.name, "", fmt.Errorf("docdb: no document with primary key %q", id))
		}

		if getErr != nil {
			return getErr
		}

		oldDoc, unmarshalErr := document.Unmarshal(old)
		if unmarshalErr != nil {
			return unmarshalErr
		}

		if err := t.deleteIndexes(txn, pk, oldDoc); err != nil {
			return err
		}

		if err := txn.Put(t.dbi, pk, data, 0); err != nil {
			return err
		}

		return t.putIndexes(txn, pk, doc)
	})
	if err != nil {
		if dbErr, ok := err.(*Error); ok && dbErr.Kind == KindNotFound {
			return document.Document{}, err
		}

		return document.Document{}, wrapWriteFail(t.name, err)
	}

	return doc, nil
}

// Delete removes the document with primary key id and every index entry
// derived from it.
func (t *Table) Delete(tx *Tx, id string) error {
	pk := []byte(id)

	err := t.withWriteTxn(tx, func(txn *lmdb.Txn) error {
		old, getErr := txn.Get(t.dbi, pk)
		if lmdb.IsNotFound(getErr) {
			return newErr(KindNotFound, t.name, "", fmt.Errorf("docdb: no document with primary key %q", id))
		}

		if getErr != nil {
			return getErr
		}

		oldDoc, unmarshalErr := document.Unmarshal(old)
		if unmarshalErr != nil {
			return unmarshalErr
		}

		if err := t.deleteIndexes(txn, pk, oldDoc); err != nil {
			return err
		}

		return txn.Del(t.dbi, pk, nil)
	})
	if err != nil {
		if dbErr, ok := err.(*Error); ok && dbErr.Kind == KindNotFound {
			return err
		}

		return wrapWriteFail(t.name, err)
	}

	return nil
}

// Get returns the document stored under primary key id.
func (t *Table) Get(id string) (document.Document, error) {
	var doc document.Document

	err := t.db.env.View(func(txn *lmdb.Txn) error {
		data, err := txn.Get(t.dbi, []byte(id))
		if lmdb.IsNotFound(err) {
			return newErr(KindNotFound, t.name, "", fmt.Errorf("docdb: no document with primary key %q", id))
		}

		if err != nil {
			return err
		}

		doc, err = document.Unmarshal(data)

		return err
	})
	if err != nil {
		return document.Document{}, err
	}

	return doc, nil
}

// Find iterates documents in ascending key order: the primary sub-database
// when indexName is "", or the named index (dereferenced through the
// primary sub-database) otherwise. expression, if non-nil, is a post-filter
// applied after the cursor already advanced past a document — documents it
// rejects are skipped but still count against nothing, since this is a
// pure filter, not an index pushdown. limit, if > 0, stops the sequence
// after that many documents have been yielded (matching, not merely
// visited).
//
// The underlying reader transaction is opened lazily, on the first pull
// from the returned sequence, and released as soon as iteration stops —
// whether by running out of matches or by the caller breaking out of the
// range loop early.
func (t *Table) Find(indexName string, expression func(document.Document) bool, limit int) iter.Seq2[document.Document, error] {
	return func(yield func(document.Document, error) bool) {
		txn, err := t.db.env.BeginTxn(nil, lmdb.Readonly)
		if err != nil {
			yield(document.Document{}, fmt.Errorf("docdb: beginning read transaction: %w", err))

			return
		}
		defer txn.Abort()

		if indexName == "" {
			t.walkPrimary(txn, nil, nil, expression, limit, yield)

			return
		}

		idx, err := t.lookupIndex(indexName)
		if err != nil {
			yield(document.Document{}, err)

			return
		}

		t.walkIndex(txn, idx, nil, nil, true, expression, limit, yield)
	}
}

// Seek positions on indexName at the first key equal to the one formatted
// from partial and yields every document sharing that key: one for a
// unique index, possibly several (in insertion order) for a duplicate
// index. Use [Table.Range] to span more than one distinct key.
func (t *Table) Seek(indexName string, partial document.Document) iter.Seq2[document.Document, error] {
	return func(yield func(document.Document, error) bool) {
		idx, err := t.lookupIndex(indexName)
		if err != nil {
			yield(document.Document{}, err)

			return
		}

		txn, err := t.db.env.BeginTxn(nil, lmdb.Readonly)
		if err != nil {
			yield(document.Document{}, fmt.Errorf("docdb: beginning read transaction: %w", err))

			return
		}
		defer txn.Abort()

		pks, err := idx.get(txn, partial)
		if err != nil {
			yield(document.Document{}, err)

			return
		}

		for _, pk := range pks {
			data, getErr := txn.Get(t.dbi, pk)
			if getErr != nil {
				if !yield(document.Document{}, getErr) {
					return
				}

				continue
			}

			doc, unmarshalErr := document.Unmarshal(data)
			if !yield(doc, unmarshalErr) {
				return
			}
		}
	}
}

// SeekOne returns the first document matching partial on indexName, and
// false if there is none.
func (t *Table) SeekOne(indexName string, partial document.Document) (document.Document, bool, error) {
	for doc, err := range t.Seek(indexName, partial) {
		return doc, err == nil, err
	}

	return document.Document{}, false, nil
}

// Range yields, in ascending key order, every document on indexName (or
// the primary sub-database when indexName is "") whose key lies between
// the ones formatted from lower and upper. lower/upper may be nil,
// meaning unbounded on that side; when indexName is "", lower/upper carry
// an "_id" field instead of being run through a template. inclusive
// controls both endpoints together: true (the default callers should
// pass) keeps keys equal to a bound, false excludes them.
func (t *Table) Range(indexName string, lower, upper *document.Document, inclusive bool) iter.Seq2[document.Document, error] {
	return func(yield func(document.Document, error) bool) {
		txn, err := t.db.env.BeginTxn(nil, lmdb.Readonly)
		if err != nil {
			yield(document.Document{}, fmt.Errorf("docdb: beginning read transaction: %w", err))

			return
		}
		defer txn.Abort()

		if indexName == "" {
			lowerKey, upperKey, err := primaryRangeBounds(lower, upper)
			if err != nil {
				yield(document.Document{}, err)

				return
			}

			t.walkPrimaryRange(txn, lowerKey, upperKey, inclusive, nil, 0, yield)

			return
		}

		idx, err := t.lookupIndex(indexName)
		if err != nil {
			yield(document.Document{}, err)

			return
		}

		lowerKey, ok, err := formatBound(idx.tpl, lower)
		if err != nil {
			yield(document.Document{}, err)

			return
		}

		if !ok {
			return
		}

		upperKey, ok, err := formatBound(idx.tpl, upper)
		if err != nil {
			yield(document.Document{}, err)

			return
		}

		if !ok {
			return
		}

		t.walkIndex(txn, idx, lowerKey, upperKey, inclusive, nil, 0, yield)
	}
}

// formatBound formats doc's template key, treating a nil doc as "no
// bound" (ok=true, key=nil) rather than a partial-index skip.
func formatBound(tpl *template.Template, doc *document.Document) (key []byte, ok bool, err error) {
	if doc == nil {
		return nil, true, nil
	}

	return tpl.Format(*doc)
}

// primaryRangeBounds extracts the "_id" field from lower/upper as raw
// primary-key bytes, for a Range call against the primary sub-database.
func primaryRangeBounds(lower, upper *document.Document) (lowerKey, upperKey []byte, err error) {
	extract := func(doc *document.Document) ([]byte, error) {
		if doc == nil {
			return nil, nil
		}

		id, ok := doc.ID()
		if !ok {
			return nil, fmt.Errorf("docdb: primary range bound is missing an %q field", document.IDField)
		}

		return []byte(id), nil
	}

	lowerKey, err = extract(lower)
	if err != nil {
		return nil, nil, err
	}

	upperKey, err = extract(upper)
	if err != nil {
		return nil, nil, err
	}

	return lowerKey, upperKey, nil
}

// boundsOK reports whether k satisfies the [fromKey, toKey] window under
// inclusive semantics: inclusive keeps k == a bound, exclusive requires a
// strict inequality against both bounds that are set.
func boundsOK(k, fromKey, toKey []byte, inclusive bool) (inWindow bool, pastEnd bool) {
	if fromKey != nil {
		cmp := bytes.Compare(k, fromKey)
		if inclusive && cmp < 0 {
			return false, false
		}

		if !inclusive && cmp <= 0 {
			return false, false
		}
	}

	if toKey != nil {
		cmp := bytes.Compare(k, toKey)
		if inclusive && cmp > 0 {
			return false, true
		}

		if !inclusive && cmp >= 0 {
			return false, true
		}
	}

	return true, false
}

// walkPrimary walks the entire primary sub-database in ascending key
// order, applying expression as a post-filter and stopping after limit
// matches (limit <= 0 means unbounded).
func (t *Table) walkPrimary(txn *lmdb.Txn, fromKey, toKey []byte, expression func(document.Document) bool, limit int, yield func(document.Document, error) bool) {
	t.walkPrimaryRange(txn, fromKey, toKey, true, expression, limit, yield)
}

func (t *Table) walkPrimaryRange(txn *lmdb.Txn, fromKey, toKey []byte, inclusive bool, expression func(document.Document) bool, limit int, yield func(document.Document, error) bool) {
	cur, err := txn.OpenCursor(t.dbi)
	if err != nil {
		yield(document.Document{}, err)

		return
	}
	defer cur.Close()

	var (
		k, v []byte
	)

	if fromKey != nil {
		k, v, err = cur.Get(fromKey, nil, lmdb.SetRange)
	} else {
		k, v, err = cur.Get(nil, nil, lmdb.First)
	}

	matched := 0

	for {
		if lmdb.IsNotFound(err) {
			return
		}

		if err != nil {
			yield(document.Document{}, err)

			return
		}

		inWindow, pastEnd := boundsOK(k, fromKey, toKey, inclusive)
		if pastEnd {
			return
		}

		if inWindow {
			doc, unmarshalErr := document.Unmarshal(v)
			if unmarshalErr == nil && expression != nil && !expression(doc) {
				k, v, err = cur.Get(nil, nil, lmdb.Next)

				continue
			}

			if !yield(doc, unmarshalErr) {
				return
			}

			matched++
			if limit > 0 && matched >= limit {
				return
			}
		}

		k, v, err = cur.Get(nil, nil, lmdb.Next)
	}
}

// walkIndex walks idx in ascending key order starting at fromKey
// (defaulting to the first entry when nil), bounded by [fromKey, toKey]
// under inclusive semantics (see [boundsOK]), dereferencing each entry
// through the primary sub-database, applying expression as a post-filter,
// and stopping after limit matches (limit <= 0 means unbounded).
func (t *Table) walkIndex(txn *lmdb.Txn, idx *Index, fromKey, toKey []byte, inclusive bool, expression func(document.Document) bool, limit int, yield func(document.Document, error) bool) {
	cur, err := txn.OpenCursor(idx.dbi)
	if err != nil {
		yield(document.Document{}, err)

		return
	}
	defer cur.Close()

	var k, v []byte

	if fromKey != nil {
		k, v, err = cur.Get(fromKey, nil, lmdb.SetRange)
	} else {
		k, v, err = cur.Get(nil, nil, lmdb.First)
	}

	matched := 0

	for {
		if lmdb.IsNotFound(err) {
			return
		}

		if err != nil {
			yield(document.Document{}, err)

			return
		}

		inWindow, pastEnd := boundsOK(k, fromKey, toKey, inclusive)
		if pastEnd {
			return
		}

		if !inWindow {
			k, v, err = cur.Get(nil, nil, lmdb.Next)

			continue
		}

		data, getErr := txn.Get(t.dbi, v)

		var doc document.Document

		if getErr == nil {
			doc, getErr = document.Unmarshal(data)
		}

		if getErr == nil && expression != nil && !expression(doc) {
			k, v, err = cur.Get(nil, nil, lmdb.Next)

			continue
		}

		if !yield(doc, getErr) {
			return
		}

		if getErr == nil {
			matched++
			if limit > 0 && matched >= limit {
				return
			}
		}

		k, v, err = cur.Get(nil, nil, lmdb.Next)
	}
}

// Index creates a new secondary index named name on t, deriving keys from
// tpl. duplicates permits more than one document per formatted key;
// integerKey restricts tpl to a single field and encodes it as an 8-byte
// big-endian integer key instead of text. Every existing document is
// indexed as part of the same transaction.
func (t *Table) Index(tx *Tx, name, tpl string, duplicates, integerKey bool) (*Index, error) {
	if _, err := t.lookupIndex(name); err == nil {
		return nil, newErr(KindIndexExists, t.name, name, nil)
	}

	compiled, err := template.Compile(tpl, integerKey)
	if err != nil {
		return nil, newErr(KindTemplateSyntax, t.name, name, err)
	}

	var idx *Index

	err = t.withWriteTxn(tx, func(txn *lmdb.Txn) error {
		created, createErr := createIndex(txn, t.db.rootDBI, t, name, compiled, duplicates, integerKey)
		if createErr != nil {
			return createErr
		}

		idx = created

		return idx.reindexAll(txn, t.dbi)
	})
	if err != nil {
		return nil, wrapWriteFail(t.name, err)
	}

	t.mu.Lock()
	t.indexes[name] = idx
	t.mu.Unlock()

	return idx, nil
}

// DropIndex removes index name's catalog entry and sub-database.
func (t *Table) DropIndex(tx *Tx, name string) error {
	idx, err := t.lookupIndex(name)
	if err != nil {
		return err
	}

	err = t.withWriteTxn(tx, func(txn *lmdb.Txn) error {
		return idx.drop(txn, t.db.rootDBI)
	})
	if err != nil {
		return wrapWriteFail(t.name, err)
	}

	t.mu.Lock()
	delete(t.indexes, name)
	t.mu.Unlock()

	return nil
}

// Reindex rebuilds every index on t from the documents currently in the
// primary sub-database, without altering any index's definition.
func (t *Table) Reindex(tx *Tx) error {
	err := t.withWriteTxn(tx, func(txn *lmdb.Txn) error {
		t.mu.RLock()
		indexes := make([]*Index, 0, len(t.indexes))
		for _, idx := range t.indexes {
			indexes = append(indexes, idx)
		}
		t.mu.RUnlock()

		for _, idx := range indexes {
			if err := idx.reindexAll(txn, t.dbi); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return wrapWriteFail(t.name, err)
	}

	return nil
}

// reindexAll clears idx's sub-database and repopulates it by walking
// every document currently in the primary sub-database.
func (idx *Index) reindexAll(txn *lmdb.Txn, primary lmdb.DBI) error {
	if err := txn.Drop(idx.dbi, false); err != nil {
		return err
	}

	cur, err := txn.OpenCursor(primary)
	if err != nil {
		return err
	}
	defer cur.Close()

	k, v, err := cur.Get(nil, nil, lmdb.First)

	for {
		if lmdb.IsNotFound(err) {
			return nil
		}

		if err != nil {
			return err
		}

		doc, unmarshalErr := document.Unmarshal(v)
		if unmarshalErr != nil {
			return unmarshalErr
		}

		if err := idx.put(txn, k, doc); err != nil {
			return err
		}

		k, v, err = cur.Get(nil, nil, lmdb.Next)
	}
}

// Empty clears every row from the primary sub-database and every index,
// without dropping any index's definition or catalog entry.
func (t *Table) Empty(tx *Tx) error {
	err := t.withWriteTxn(tx, func(txn *lmdb.Txn) error {
		t.mu.RLock()
		indexes := make([]*Index, 0, len(t.indexes))
		for _, idx := range t.indexes {
			indexes = append(indexes, idx)
		}
		t.mu.RUnlock()

		for _, idx := range indexes {
			if err := txn.Drop(idx.dbi, false); err != nil {
				return err
			}
		}

		return txn.Drop(t.dbi, false)
	})
	if err != nil {
		return wrapWriteFail(t.name, err)
	}

	return nil
}

// Drop removes every index (catalog entry and sub-database) and the
// primary sub-database itself, and forgets t in the owning [Database]'s
// registry so a later [Database.Table] call reopens a fresh handle rather
// than returning this now-invalid one (LMDB can reassign a freed DBI slot
// to an unrelated sub-database on its next open). The Table must not be
// used afterward.
func (t *Table) Drop(tx *Tx) error {
	err := t.withWriteTxn(tx, func(txn *lmdb.Txn) error {
		t.mu.RLock()
		indexes := make([]*Index, 0, len(t.indexes))
		for _, idx := range t.indexes {
			indexes = append(indexes, idx)
		}
		t.mu.RUnlock()

		for _, idx := range indexes {
			if err := idx.drop(txn, t.db.rootDBI); err != nil {
				return err
			}
		}

		return txn.Drop(t.dbi, true)
	})
	if err != nil {
		return wrapWriteFail(t.name, err)
	}

	t.mu.Lock()
	t.indexes = make(map[string]*Index)
	t.mu.Unlock()

	t.db.mu.Lock()
	if t.db.tables[t.name] == t {
		delete(t.db.tables, t.name)
	}
	t.db.mu.Unlock()

	return nil
}
