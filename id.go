package docdb

import (
	"fmt"

	"github.com/google/uuid"
)

// newPrimaryKey mints a time-ordered 128-bit identifier and returns its
// canonical hyphen-separated string form as key bytes.
//
// UUIDv7 embeds a 48-bit millisecond timestamp in its high bits, so IDs
// minted within the same process are monotonically non-decreasing, which
// is what lets [Table.Append] use the engine's append-optimized write
// path.
func newPrimaryKey() ([]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("docdb: generating primary key: %w", err)
	}

	return []byte(id.String()), nil
}
