package docdb

import (
	"fmt"
	"time"

	"github.com/bmatsuo/lmdb-go/lmdb"
)

// Tx is an ambient writer transaction spanning multiple [Table]
// operations, obtained from [Database.Begin]. Pass it as the first
// argument to a Table method to fold that write into the same commit or
// abort boundary as every other call sharing it, instead of each call
// managing its own transaction.
//
// A Tx must be committed or rolled back exactly once; since LMDB allows
// only one writer at a time, holding one open blocks every other writer
// on the environment until it is resolved.
type Tx struct {
	db   *Database
	txn  *lmdb.Txn
	done bool
}

// Begin opens a writer transaction against db, waiting up to
// [Config.LockTimeout] to acquire the engine's single-writer lock.
func (db *Database) Begin() (*Tx, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	txn, err := db.beginWriteTxn()
	if err != nil {
		return nil, err
	}

	return &Tx{db: db, txn: txn}, nil
}

// beginWriteTxn opens a writable transaction, bounding the wait for the
// engine's single-writer lock to cfg.LockTimeout. lmdb-go has no native
// begin-timeout, so the wait is bounded by racing the blocking BeginTxn
// call against a timer in a goroutine; if the timer wins, the in-flight
// BeginTxn is left running and aborted as soon as it does acquire the
// lock, so a timed-out caller never leaks it for the rest of the
// process's life.
func (db *Database) beginWriteTxn() (*lmdb.Txn, error) {
	type result struct {
		txn *lmdb.Txn
		err error
	}

	ch := make(chan result, 1)

	go func() {
		txn, err := db.env.BeginTxn(nil, 0)
		ch <- result{txn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("docdb: beginning transaction: %w", r.err)
		}

		return r.txn, nil
	case <-time.After(db.cfg.LockTimeout):
		go func() {
			r := <-ch
			if r.err == nil {
				r.txn.Abort()
			}
		}()

		return nil, newErr(KindWriteFail, "", "", fmt.Errorf("docdb: timed out after %s waiting for the writer lock", db.cfg.LockTimeout))
	}
}

// withWriteTxn runs fn inside a writable transaction bounded by
// [Database.beginWriteTxn], committing on success and aborting on any
// error or panic — the same contract (*lmdb.Env).Update offers, but with
// a bounded wait for the writer lock instead of an unbounded one.
func (db *Database) withWriteTxn(fn func(txn *lmdb.Txn) error) error {
	txn, err := db.beginWriteTxn()
	if err != nil {
		return err
	}

	committed := false

	defer func() {
		if !committed {
			txn.Abort()
		}
	}()

	if err := fn(txn); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return err
	}

	committed = true

	return nil
}

// Commit applies every write made through tx.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("docdb: transaction already resolved")
	}

	tx.done = true

	if err := tx.txn.Commit(); err != nil {
		return wrapWriteFail("", err)
	}

	return nil
}

// Rollback discards every write made through tx. Safe to call after a
// failed Table operation; it is a no-op if tx was already resolved.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}

	tx.done = true
	tx.txn.Abort()

	return nil
}
