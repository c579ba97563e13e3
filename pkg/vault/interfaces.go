package vault

import (
	"context"

	"github.com/forest6511/keylight/pkg/crypto"
	"github.com/forest6511/keylight/pkg/keyfile"
	"github.com/forest6511/keylight/pkg/secure"
	"github.com/forest6511/keylight/pkg/store"
)

// KeyDeriver turns a password into a key and authenticates keys.
type KeyDeriver interface {
	DeriveKey(ctx context.Context, password []byte, salt string) (*secure.Buffer, error)
	HashKey(ctx context.Context, key []byte) (string, error)
	VerifyKey(ctx context.Context, key []byte, encoded string) (bool, error)
}

// Keyfiles persists keyfile records.
type Keyfiles interface {
	Exists(path string) bool
	Load(path string) (*keyfile.Record, error)
	Save(path string, r *keyfile.Record) error
}

// Cipher seals and opens the recovery passphrase.
type Cipher interface {
	Seal(key, plaintext []byte) (crypto.Nonce, []byte, error)
	Open(key []byte, nonce crypto.Nonce, ciphertext []byte) (*secure.Buffer, error)
}

// Database is an open vault database.
type Database interface {
	Bootstrap(ctx context.Context) error
	CheckSchema(ctx context.Context) error
	Folders(ctx context.Context) ([]store.Folder, error)
	FoldersWithStats(ctx context.Context) ([]store.FolderWithStats, error)
	Entries(ctx context.Context, folderID int64) ([]store.Entry, error)
	Sections(ctx context.Context, entryID int64) ([]store.EntryData, error)
	Close() error
}

// Connector opens vault databases.
type Connector interface {
	Open(ctx context.Context, cfg store.Config) (Database, error)
}

// StoreConnector opens databases with the store package.
type StoreConnector struct{}

// Open implements Connector.
func (StoreConnector) Open(ctx context.Context, cfg store.Config) (Database, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return db, nil
}
