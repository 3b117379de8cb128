// Package docdb is an embedded document database layered on LMDB: tables
// of JSON-like documents with an auto-generated primary key, plus
// secondary indexes whose keys are derived from a per-index template
// applied to each document.
//
// A [Database] owns the LMDB environment and a registry of open [Table]s.
// Each Table owns one primary sub-database (keyed by generated primary
// keys) and a set of [Index]es, each owning one sub-database keyed by a
// template-derived key with the primary key as its value. The core
// responsibility is keeping the primary store and every secondary index
// mutually consistent under concurrent readers and a serialized writer.
package docdb

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bmatsuo/lmdb-go/lmdb"

	"github.com/calvinalkan/docdb/pkg/fs"
)

// ErrClosed indicates an operation was attempted on a closed [Database].
var ErrClosed = errors.New("docdb: database is closed")

// Database owns an LMDB environment and the registry of [Table]s opened
// against it.
type Database struct {
	cfg     Config
	env     *lmdb.Env
	rootDBI lmdb.DBI
	fs      fs.FS

	// mu guards tables. LMDB itself serializes writers and isolates
	// readers; this mutex only protects the in-process Table/Index
	// handle cache from duplicate construction (reopening the same
	// handle twice is wasteful, not unsafe, but we avoid it anyway).
	mu     sync.RWMutex
	tables map[string]*Table

	closed atomic.Bool
}

// Open creates (if needed) and opens the environment at cfg.Path.
func Open(cfg Config) (*Database, error) {
	if cfg.Path == "" {
		return nil, errors.New("docdb: Config.Path is required")
	}

	cfg = cfg.withDefaults()

	fsReal := fs.NewReal()

	if cfg.Subdir {
		if err := fsReal.MkdirAll(cfg.Path, cfg.FileMode); err != nil {
			return nil, fmt.Errorf("docdb: creating environment directory: %w", err)
		}
	} else {
		// In NoSubdir mode LMDB creates the data and lock files at
		// cfg.Path directly but never creates the directory those files
		// live in; without this check a missing parent surfaces as an
		// opaque errno from env.Open instead of a docdb error naming the
		// actual path.
		parent := filepath.Dir(cfg.Path)

		ok, err := fsReal.Exists(parent)
		if err != nil {
			return nil, fmt.Errorf("docdb: checking environment directory %q: %w", parent, err)
		}

		if !ok {
			return nil, fmt.Errorf("docdb: environment directory %q does not exist", parent)
		}
	}

	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("docdb: creating environment: %w", err)
	}

	if err := env.SetMapSize(cfg.MapSize); err != nil {
		_ = env.Close()

		return nil, fmt.Errorf("docdb: setting map size: %w", err)
	}

	if err := env.SetMaxDBs(int(cfg.MaxDBs)); err != nil {
		_ = env.Close()

		return nil, fmt.Errorf("docdb: setting max dbs: %w", err)
	}

	flags := uint(0)
	if !cfg.Subdir {
		flags |= lmdb.NoSubdir
	}

	if cfg.Sync != nil && !*cfg.Sync {
		flags |= lmdb.NoSync
	}

	if !cfg.MetaSync {
		flags |= lmdb.NoMetaSync
	}

	if cfg.WriteMap != nil && *cfg.WriteMap {
		flags |= lmdb.WriteMap
	}

	if err := env.Open(cfg.Path, flags, cfg.FileMode); err != nil {
		_ = env.Close()

		return nil, fmt.Errorf("docdb: opening environment: %w", err)
	}

	db := &Database{
		cfg:    cfg,
		env:    env,
		fs:     fsReal,
		tables: make(map[string]*Table),
	}

	err = db.withWriteTxn(func(txn *lmdb.Txn) error {
		dbi, rootErr := txn.OpenRoot(0)
		if rootErr != nil {
			return rootErr
		}

		db.rootDBI = dbi

		return nil
	})
	if err != nil {
		_ = env.Close()

		return nil, fmt.Errorf("docdb: opening root sub-database: %w", err)
	}

	return db, nil
}

// Close releases the environment. Safe on nil, idempotent.
func (db *Database) Close() error {
	if db == nil {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed.Swap(true) {
		return nil
	}

	db.env.Close()

	return nil
}

func (db *Database) checkOpen() error {
	if db == nil || db.closed.Load() {
		return ErrClosed
	}

	return nil
}

// Table returns the open [Table] named name, opening (and, on first use,
// implicitly creating) its primary sub-database if this is the first
// access within this Database.
func (db *Database) Table(name string) (*Table, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	if err := validateTableName(name); err != nil {
		return nil, err
	}

	db.mu.RLock()
	if t, ok := db.tables[name]; ok {
		db.mu.RUnlock()

		return t, nil
	}
	db.mu.RUnlock()

	db.mu.Lock()
	defer db.mu.Unlock()

	// Re-check: another goroutine may have opened it while we upgraded
	// the lock.
	if t, ok := db.tables[name]; ok {
		return t, nil
	}

	t, err := db.openTable(name)
	if err != nil {
		return nil, err
	}

	db.tables[name] = t

	return t, nil
}

// openTable opens name's primary sub-database (creating it if absent) and
// rehydrates its indexes strictly from catalog entries.
func (db *Database) openTable(name string) (*Table, error) {
	t := &Table{
		db:      db,
		name:    name,
		indexes: make(map[string]*Index),
	}

	err := db.withWriteTxn(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenDBI(name, lmdb.Create)
		if err != nil {
			return err
		}

		t.dbi = dbi

		return rehydrateIndexes(txn, db.rootDBI, t)
	})
	if err != nil {
		return nil, fmt.Errorf("docdb: opening table %q: %w", name, err)
	}

	return t, nil
}

// Tables enumerates every table name known to the environment, by
// scanning the root sub-database's implicit list of sub-database names
// and filtering out index sub-databases ("_...") and catalog entries
// ("@..."). The whole list is read in one reader transaction and returned
// as a slice; it is not produced lazily.
func (db *Database) Tables() ([]string, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	var names []string

	err := db.env.View(func(txn *lmdb.Txn) error {
		cur, err := txn.OpenCursor(db.rootDBI)
		if err != nil {
			return err
		}
		defer cur.Close()

		k, _, err := cur.Get(nil, nil, lmdb.First)

		for {
			if lmdb.IsNotFound(err) {
				return nil
			}

			if err != nil {
				return err
			}

			name := string(k)
			if !isReservedSubDBName(name) {
				names = append(names, name)
			}

			k, _, err = cur.Get(nil, nil, lmdb.Next)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("docdb: listing tables: %w", err)
	}

	return names, nil
}

func isReservedSubDBName(name string) bool {
	return len(name) > 0 && (name[0] == '@' || name[0] == '_')
}

// Exists reports whether a table named name currently exists in this
// environment. A table removed by [Database.Drop] or [Table.Drop] no longer
// exists.
func (db *Database) Exists(name string) (bool, error) {
	if err := db.checkOpen(); err != nil {
		return false, err
	}

	found := false

	err := db.env.View(func(txn *lmdb.Txn) error {
		_, err := txn.OpenDBI(name, 0)
		if lmdb.IsNotFound(err) {
			return nil
		}

		if err != nil {
			return err
		}

		found = true

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("docdb: checking table %q: %w", name, err)
	}

	return found, nil
}

// Indexes returns the names of every index on table name.
func (db *Database) Indexes(name string) ([]string, error) {
	t, err := db.Table(name)
	if err != nil {
		return nil, err
	}

	return t.Indexes(), nil
}

// Drop removes table name entirely: every index's catalog entry and
// sub-database, the primary sub-database, and the Table from the
// registry ([Table.Drop] deregisters itself). [Table.Empty] is the
// lighter operation that clears rows but keeps indexes and catalog
// entries intact.
func (db *Database) Drop(name string) error {
	t, err := db.Table(name)
	if err != nil {
		return err
	}

	return t.Drop(nil)
}

// Restructure rebuilds table name's primary sub-database in place by
// copying its live documents forward in ascending key order, restoring
// the append-optimized write path that degrades once keys have been
// deleted out of order. LMDB sub-databases cannot be renamed, so
// "copying into a new primary sub-database" is realized here as an
// empty-then-refill of the same handle: the net effect (an ascending,
// gap-free bulk load ending with the highest existing key) is the same
// one a rename-based implementation would produce.
func (db *Database) Restructure(name string) error {
	t, err := db.Table(name)
	if err != nil {
		return err
	}

	err = db.withWriteTxn(func(txn *lmdb.Txn) error {
		type kv struct {
			key []byte
			val []byte
		}

		var rows []kv

		cur, err := txn.OpenCursor(t.dbi)
		if err != nil {
			return err
		}

		k, v, err := cur.Get(nil, nil, lmdb.First)
		for {
			if lmdb.IsNotFound(err) {
				break
			}

			if err != nil {
				cur.Close()

				return err
			}

			rows = append(rows, kv{key: cloneBytes(k), val: cloneBytes(v)})

			k, v, err = cur.Get(nil, nil, lmdb.Next)
		}

		cur.Close()

		if err := txn.Drop(t.dbi, false); err != nil {
			return err
		}

		for _, row := range rows {
			if err := txn.Put(t.dbi, row.key, row.val, lmdb.Append); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return wrapWriteFail(name, err)
	}

	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}

func validateTableName(name string) error {
	if name == "" {
		return errors.New("docdb: table name must not be empty")
	}

	if isReservedSubDBName(name) {
		return fmt.Errorf("docdb: table name %q must not start with '@' or '_' (reserved for indexes and the catalog)", name)
	}

	return nil
}
