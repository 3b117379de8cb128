package docdb

import (
	"fmt"

	"github.com/bmatsuo/lmdb-go/lmdb"

	"github.com/calvinalkan/docdb/document"
	"github.com/calvinalkan/docdb/template"
)

// Index is a secondary sub-database mapping a template-derived key to one
// (or, for a duplicate index, many) primary keys of the owning Table.
type Index struct {
	table      *Table
	name       string
	tpl        *template.Template
	duplicates bool
	integerKey bool
	dbi        lmdb.DBI
}

// Name returns the index's name.
func (idx *Index) Name() string { return idx.name }

// Template returns the source text of the key template compiled for this
// index.
func (idx *Index) Template() string { return idx.tpl.Source() }

// Duplicates reports whether the index permits more than one primary key
// per formatted key.
func (idx *Index) Duplicates() bool { return idx.duplicates }

// Count returns the number of entries currently in the index's
// sub-database: one per distinct key for a non-duplicate index, one per
// (key, pk) pair for a duplicate index. Documents skipped by a partial
// template are not counted.
func (idx *Index) Count() (uint64, error) {
	var n uint64

	err := idx.table.db.env.View(func(txn *lmdb.Txn) error {
		c, err := idx.count(txn)
		if err != nil {
			return err
		}

		n = c

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("docdb: counting index %q on table %q: %w", idx.name, idx.table.name, err)
	}

	return n, nil
}

// openIndexFlags returns the sub-database flags for an index. An
// integer-keyed index is opened without lmdb.IntegerKey: its keys are
// 8-byte big-endian, so LMDB's default byte-wise comparison already orders
// them numerically, whereas lmdb.IntegerKey would compare them in native
// byte order.
func openIndexFlags(duplicates, integerKey bool) uint {
	flags := uint(lmdb.Create)

	if duplicates {
		flags |= lmdb.DupSort
	}

	return flags
}

// createIndex opens (creating if absent) the index's sub-database, writes
// its catalog entry, and returns the constructed Index. Called with the
// table's write lock held, inside the same writer transaction used to
// reindex any existing documents.
func createIndex(txn *lmdb.Txn, rootDBI lmdb.DBI, t *Table, name string, tpl *template.Template, duplicates, integerKey bool) (*Index, error) {
	dbi, err := txn.OpenDBI(indexSubDBName(t.name, name), openIndexFlags(duplicates, integerKey))
	if err != nil {
		return nil, err
	}

	desc := indexDescriptor{Template: tpl.Source(), Duplicates: duplicates, IntegerKey: integerKey}

	encoded, err := encodeDescriptor(desc)
	if err != nil {
		return nil, err
	}

	if err := txn.Put(rootDBI, catalogKey(t.name, name), encoded, 0); err != nil {
		return nil, err
	}

	return &Index{table: t, name: name, tpl: tpl, duplicates: duplicates, integerKey: integerKey, dbi: dbi}, nil
}

// rehydrateIndexes scans the root sub-database for every catalog entry
// belonging to t and reconstructs the matching Index, called once when a
// Table is first opened within a Database.
func rehydrateIndexes(txn *lmdb.Txn, rootDBI lmdb.DBI, t *Table) error {
	cur, err := txn.OpenCursor(rootDBI)
	if err != nil {
		return err
	}
	defer cur.Close()

	prefix := catalogKeyTablePrefix(t.name)

	k, v, err := cur.Get([]byte(prefix), nil, lmdb.SetRange)

	for {
		if lmdb.IsNotFound(err) {
			return nil
		}

		if err != nil {
			return err
		}

		name, ok := indexNameFromCatalogKey(k, t.name)
		if !ok {
			return nil
		}

		desc, err := decodeDescriptor(v)
		if err != nil {
			return fmt.Errorf("docdb: decoding catalog entry for index %q on table %q: %w", name, t.name, err)
		}

		tpl, err := template.Compile(desc.Template, desc.IntegerKey)
		if err != nil {
			return fmt.Errorf("docdb: recompiling template for index %q on table %q: %w", name, t.name, err)
		}

		dbi, err := txn.OpenDBI(indexSubDBName(t.name, name), openIndexFlags(desc.Duplicates, desc.IntegerKey))
		if err != nil {
			return err
		}

		t.indexes[name] = &Index{
			table:      t,
			name:       name,
			tpl:        tpl,
			duplicates: desc.Duplicates,
			integerKey: desc.IntegerKey,
			dbi:        dbi,
		}

		k, v, err = cur.Get(nil, nil, lmdb.Next)
	}
}

// put writes the (key, pk) pair for doc, skipping silently if the
// template is partial and doc is missing one of its fields.
func (idx *Index) put(txn *lmdb.Txn, pk []byte, doc document.Document) error {
	key, ok, err := idx.tpl.Format(doc)
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	flags := uint(0)
	if idx.duplicates {
		flags = lmdb.NoDupData
	}

	return txn.Put(idx.dbi, key, pk, flags)
}

// delete removes the specific (key, pk) pair contributed by doc, if the
// template formatted to a key for it at all.
func (idx *Index) delete(txn *lmdb.Txn, pk []byte, doc document.Document) error {
	key, ok, err := idx.tpl.Format(doc)
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	err = txn.Del(idx.dbi, key, pk)
	if lmdb.IsNotFound(err) {
		return nil
	}

	return err
}

// get returns every primary key stored under the formatted key derived
// from partial, in index order.
func (idx *Index) get(txn *lmdb.Txn, partial document.Document) ([][]byte, error) {
	key, ok, err := idx.tpl.Format(partial)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	cur, err := txn.OpenCursor(idx.dbi)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var pks [][]byte

	if idx.duplicates {
		_, v, err := cur.Get(key, nil, lmdb.SetKey)
		for {
			if lmdb.IsNotFound(err) {
				break
			}

			if err != nil {
				return nil, err
			}

			pks = append(pks, cloneBytes(v))

			_, v, err = cur.Get(nil, nil, lmdb.NextDup)
		}

		return pks, nil
	}

	_, v, err := cur.Get(key, nil, lmdb.SetKey)
	if lmdb.IsNotFound(err) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return [][]byte{cloneBytes(v)}, nil
}

// count returns the number of entries in the index's sub-database.
func (idx *Index) count(txn *lmdb.Txn) (uint64, error) {
	stat, err := txn.Stat(idx.dbi)
	if err != nil {
		return 0, err
	}

	return stat.Entries, nil
}

// drop removes the index's catalog entry and its sub-database entirely.
func (idx *Index) drop(txn *lmdb.Txn, rootDBI lmdb.DBI) error {
	if err := txn.Del(rootDBI, catalogKey(idx.table.name, idx.name), nil); err != nil && !lmdb.IsNotFound(err) {
		return err
	}

	return txn.Drop(idx.dbi, true)
}
