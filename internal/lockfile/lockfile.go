// Package lockfile guards against two engine instances opening the
// same data directory concurrently — the log file is owned by exactly
// one writer handle and one reader handle, both held by a single
// engine (spec §5).
package lockfile

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ErrAlreadyLocked is returned when the directory is already locked by
// another process.
var ErrAlreadyLocked = errors.New("lockfile: data directory is already locked")

const fileName = "LOCK"

// Lock represents an acquired exclusive lock on a data directory.
type Lock struct {
	path  string
	owner string
}

// Acquire creates dir/LOCK exclusively, tagging it with a fresh
// identifier so a stale lock left by a crashed process is at least
// attributable. It fails with ErrAlreadyLocked if the file already
// exists.
func Acquire(dir string) (*Lock, error) {
	owner, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Wrap(err, "lockfile: generate owner id")
	}

	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyLocked
		}
		return nil, errors.Wrap(err, "lockfile: create lock file")
	}
	defer f.Close()

	if _, err := f.WriteString(owner.String()); err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, "lockfile: write owner id")
	}

	return &Lock{path: path, owner: owner.String()}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "lockfile: remove lock file")
	}
	return nil
}

// Owner returns the identifier tagging this lock's acquisition.
func (l *Lock) Owner() string {
	return l.owner
}
