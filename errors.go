package docdb

// Kind classifies the cause of an [*Error].
type Kind int

const (
	// KindUnknown is the zero Kind; never returned by this package.
	KindUnknown Kind = iota

	// KindTableMissing: an operation named a table that does not exist.
	KindTableMissing

	// KindTableExists: table creation conflicted with an existing table.
	KindTableExists

	// KindIndexMissing: Find/Seek/SeekOne/Range/DropIndex referenced an
	// unknown index.
	KindIndexMissing

	// KindIndexExists: Index was called twice for the same name.
	KindIndexExists

	// KindNotFound: Get(pk) found no such primary key.
	KindNotFound

	// KindWriteFail: a writer transaction failed and was rolled back.
	KindWriteFail

	// KindTemplateSyntax: a key template failed to compile.
	KindTemplateSyntax

	// KindForeignKeyViolation: an expected link-table row was absent
	// (surfaced by the docdb/relate collaborator).
	KindForeignKeyViolation
)

// String renders the Kind's taxonomy name.
func (k Kind) String() string {
	switch k {
	case KindTableMissing:
		return "TableMissing"
	case KindTableExists:
		return "TableExists"
	case KindIndexMissing:
		return "IndexMissing"
	case KindIndexExists:
		return "IndexExists"
	case KindNotFound:
		return "NotFound"
	case KindWriteFail:
		return "WriteFail"
	case KindTemplateSyntax:
		return "TemplateSyntax"
	case KindForeignKeyViolation:
		return "ForeignKeyViolation"
	default:
		return "Unknown"
	}
}

// Error is the structured error type docdb returns for the kinds above.
// Not every failure is an *Error: Open, Database.Table, Tables, Exists,
// Table.Records and Index.Count wrap other failures with fmt.Errorf, and a
// closed Database yields [ErrClosed].
//
// Carries structured table/index context alongside the underlying cause,
// the same shape as the ticket tracker's own *Error{ID, Path, Err}: here
// the context is "which table, which index" rather than "which document".
//
// Use [errors.As] to recover the structured fields, or [errors.Is]
// against the Kind-specific sentinels ([ErrNotFound] and friends) —
// both work because Error implements Unwrap and Is.
type Error struct {
	Kind  Kind
	Table string
	Index string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()

	if e.Table != "" {
		msg += " table=" + e.Table
	}

	if e.Index != "" {
		msg += " index=" + e.Index
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes the underlying cause to [errors.Is]/[errors.As].
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind, so callers can
// write errors.Is(err, docdb.ErrNotFound) without caring about table/index
// context.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}

	return sentinel.Kind == e.Kind && sentinel.Table == "" && sentinel.Index == "" && sentinel.Err == nil
}

func newErr(kind Kind, table, index string, cause error) *Error {
	return &Error{Kind: kind, Table: table, Index: index, Err: cause}
}

// Sentinel errors for [errors.Is] checks against a specific Kind,
// ignoring table/index context.
var (
	ErrTableMissing        = &Error{Kind: KindTableMissing}
	ErrTableExists         = &Error{Kind: KindTableExists}
	ErrIndexMissing        = &Error{Kind: KindIndexMissing}
	ErrIndexExists         = &Error{Kind: KindIndexExists}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrWriteFail           = &Error{Kind: KindWriteFail}
	ErrTemplateSyntax      = &Error{Kind: KindTemplateSyntax}
	ErrForeignKeyViolation = &Error{Kind: KindForeignKeyViolation}
)

// wrapWriteFail builds the [*Error] surfaced when a writer transaction
// fails and is rolled back.
func wrapWriteFail(table string, cause error) error {
	return newErr(KindWriteFail, table, "", cause)
}
