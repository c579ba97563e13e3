package keyfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/forest6511/keylight/pkg/secure"
)

// FileMode is the permission of a written keyfile (owner read/write only).
const FileMode = 0600

// FileStore persists records on the local filesystem.
type FileStore struct{}

// Exists reports whether a keyfile is present at path.
func (FileStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load reads and decodes the keyfile at path. The raw bytes are wiped once
// decoded.
func (FileStore) Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keyfile: failed to read %s: %w", filepath.Base(path), err)
	}
	defer secure.Wipe(data)

	return Decode(data)
}

// Save encodes r and atomically replaces the keyfile at path.
//
// The bytes go to a temporary file in the same directory which is synced and
// renamed over path, so a reader sees either the old keyfile or the new one
// and never a torn write.
func (FileStore) Save(path string, r *Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	defer secure.Wipe(data)

	return WriteAtomic(path, data)
}

// WriteAtomic writes data to path with write-then-rename.
func WriteAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("keyfile: failed to create temp file: %w", err)
	}
	tempPath := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if err = f.Chmod(FileMode); err != nil {
		return fmt.Errorf("keyfile: failed to set permissions: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("keyfile: failed to write: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("keyfile: failed to sync: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("keyfile: failed to close: %w", err)
	}
	if err = os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("keyfile: failed to rename: %w", err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
