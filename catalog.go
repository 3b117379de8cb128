package docdb

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tailscale/hujson"
)

const (
	indexDBPrefix    = "_"
	catalogKeyPrefix = "@_"
)

// indexSubDBName returns the sub-database name an index's entries live
// under: "_<table>_<index>".
func indexSubDBName(table, index string) string {
	return indexDBPrefix + table + "_" + index
}

// catalogKey returns the root sub-database key an index's descriptor is
// stored under: "@_<table>_<index>".
func catalogKey(table, index string) []byte {
	return []byte(catalogKeyPrefix + table + "_" + index)
}

// catalogKeyTablePrefix returns the prefix every catalog key for table
// starts with, used to enumerate a table's indexes on open.
func catalogKeyTablePrefix(table string) string {
	return catalogKeyPrefix + table + "_"
}

// indexDescriptor is the catalog entry persisted for one index: enough to
// reconstruct its [Index] and [template.Template] on reopen without
// re-deriving anything from the data itself.
type indexDescriptor struct {
	Template   string `json:"template"`
	Duplicates bool   `json:"duplicates"`
	IntegerKey bool   `json:"integer"`
}

// encodeDescriptor serializes d to the catalog's compact JSON text format.
func encodeDescriptor(d indexDescriptor) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("docdb: encoding index descriptor: %w", err)
	}

	return data, nil
}

// decodeDescriptor parses a catalog entry. Standardizing through hujson
// first means a hand-edited catalog entry (comments, trailing commas) is
// still accepted.
func decodeDescriptor(data []byte) (indexDescriptor, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return indexDescriptor{}, fmt.Errorf("docdb: standardizing index descriptor: %w", err)
	}

	var d indexDescriptor

	if err := json.Unmarshal(standardized, &d); err != nil {
		return indexDescriptor{}, fmt.Errorf("docdb: decoding index descriptor: %w", err)
	}

	return d, nil
}

// indexNameFromCatalogKey strips table's catalog prefix from key, returning
// the bare index name and true, or ("", false) if key does not belong to
// table.
func indexNameFromCatalogKey(key []byte, table string) (string, bool) {
	prefix := catalogKeyTablePrefix(table)
	s := string(key)

	if !strings.HasPrefix(s, prefix) {
		return "", false
	}

	return s[len(prefix):], true
}
