package docdb_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/docdb"
)

func TestConfigDefaultsApplyOnOpen(t *testing.T) {
	db, err := docdb.Open(docdb.Config{Path: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, db.Close()) })

	// A table can be created and used with every default left in place,
	// exercising MapSize/MaxDBs/Subdir/Sync/MetaSync/WriteMap/FileMode/
	// LockTimeout defaults together.
	tbl, err := db.Table("demo1")
	require.NoError(t, err)

	_, err = tbl.Append(nil, person("Gareth Bult", 21))
	require.NoError(t, err)
}

func TestConfigWithSubdirDistinguishesUnsetFromFalse(t *testing.T) {
	cfg := docdb.Config{Path: t.TempDir()}
	require.False(t, cfg.Subdir, "zero Config leaves Subdir false until defaults are applied")

	explicit := cfg.WithSubdir(false)
	require.False(t, explicit.Subdir)

	// Left unset, Open uses subdir mode: Path becomes a directory.
	dirPath := filepath.Join(t.TempDir(), "env")

	db, err := docdb.Open(docdb.Config{Path: dirPath})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	info, err := os.Stat(dirPath)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// Explicitly false, Open uses single-file mode: Path is the map file.
	filePath := filepath.Join(t.TempDir(), "env.mdb")

	db, err = docdb.Open(docdb.Config{Path: filePath}.WithSubdir(false))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	info, err = os.Stat(filePath)
	require.NoError(t, err)
	require.False(t, info.IsDir())
}
