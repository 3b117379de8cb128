// Package relate implements the many-to-many link table convention on top
// of docdb, without pulling in a calculated-field/ORM layer.
//
// A link table "rel_<A>_<B>" carries two duplicate indexes, one per side,
// each templated on that side's table name: {<side-table-name>}. Finding
// every B related to a given A is a [docdb.Table.Seek] on A's side index
// followed by a [docdb.Table.Get] into B for each match.
package relate

import (
	"fmt"

	"github.com/calvinalkan/docdb"
	"github.com/calvinalkan/docdb/document"
)

// LinkTableName returns the conventional link-table name joining a and b:
// "rel_<a>_<b>". Callers that created the link table with the sides in the
// opposite order should pass them in that same order here.
func LinkTableName(a, b string) string {
	return "rel_" + a + "_" + b
}

// EnsureLink opens (creating if absent) the link table "rel_<a>_<b>" and
// makes sure it carries a duplicate index per side, each templated on that
// side's own table name holding the foreign "_id". Safe to call repeatedly;
// an existing index of the right name is left untouched.
func EnsureLink(db *docdb.Database, a, b string) (*docdb.Table, error) {
	link, err := db.Table(LinkTableName(a, b))
	if err != nil {
		return nil, fmt.Errorf("relate: opening link table for %q/%q: %w", a, b, err)
	}

	for _, side := range [2]string{a, b} {
		if _, err := link.Index(nil, side, "{"+side+"}", true, false); err != nil {
			if dbErr, ok := err.(*docdb.Error); ok && dbErr.Kind == docdb.KindIndexExists {
				continue
			}

			return nil, fmt.Errorf("relate: indexing link table side %q: %w", side, err)
		}
	}

	return link, nil
}

// Link records that the document primary-keyed aID in table a is related
// to the document primary-keyed bID in table b, inserting one row into
// "rel_<a>_<b>".
func Link(db *docdb.Database, a, aID, b, bID string) error {
	link, err := EnsureLink(db, a, b)
	if err != nil {
		return err
	}

	row := document.New().Set(a, document.String(aID)).Set(b, document.String(bID))

	_, err = link.Append(nil, row)
	if err != nil {
		return fmt.Errorf("relate: linking %s:%s to %s:%s: %w", a, aID, b, bID, err)
	}

	return nil
}

// Related returns every document in table b related to the document
// primary-keyed id in table a, via the "rel_<a>_<b>" link table: a Seek on
// the link table's a-side index, followed by a Get into b for each match.
// The link table and its side indexes are created via [EnsureLink] if
// absent, so a pair that was never linked yields no documents.
// A link row whose target is missing from b (an orphan, reachable if b was
// dropped and recreated independently of its link table) surfaces as
// [docdb.KindForeignKeyViolation].
func Related(db *docdb.Database, a, id, b string) ([]document.Document, error) {
	link, err := EnsureLink(db, a, b)
	if err != nil {
		return nil, err
	}

	bTable, err := db.Table(b)
	if err != nil {
		return nil, err
	}

	partial := document.New().Set(a, document.String(id))

	var out []document.Document

	for row, seekErr := range link.Seek(a, partial) {
		if seekErr != nil {
			return nil, seekErr
		}

		bVal, ok := row.Get(b)
		if !ok {
			continue
		}

		bID, ok := bVal.AsString()
		if !ok {
			continue
		}

		target, getErr := bTable.Get(bID)
		if getErr != nil {
			if dbErr, ok := getErr.(*docdb.Error); ok && dbErr.Kind == docdb.KindNotFound {
				return nil, &docdb.Error{Kind: docdb.KindForeignKeyViolation, Table: b, Err: fmt.Errorf("relate: link row references missing %s:%s", b, bID)}
			}

			return nil, getErr
		}

		out = append(out, target)
	}

	return out, nil
}
