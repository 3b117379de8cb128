// Package fs provides the small filesystem surface [Database.Open] needs
// around the LMDB environment path: creating the environment directory
// when the database lives in its own subdirectory, and checking whether a
// path already exists before handing it to the LMDB environment.
package fs

import "os"

// FS defines the filesystem operations [Database.Open] performs against an
// environment path.
//
// The only implementation is [Real], which Database.Open always uses;
// Open has no way to be given a different FS.
type FS interface {
	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	// No error if the directory already exists.
	MkdirAll(path string, perm os.FileMode) error

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
