// Package keyfile reads and writes the keylight keyfile.
//
// The keyfile is the only persisted unlock material. It holds the
// verification hash of the derived master key, the derivation salt, and the
// recovery passphrase sealed under the derived key with its nonce. None of
// these are secret on their own.
package keyfile

import "errors"

// Keyfile errors
var (
	// ErrCorrupt indicates the keyfile bytes are truncated, malformed or fail the checksum.
	ErrCorrupt = errors.New("keyfile: corrupt keyfile")

	// ErrUnsupportedVersion indicates a keyfile written by a newer format version.
	ErrUnsupportedVersion = errors.New("keyfile: unsupported format version")

	// ErrInvalidRecord indicates a record that cannot be serialized.
	ErrInvalidRecord = errors.New("keyfile: invalid record")

	// ErrNotFound indicates no keyfile exists at the given path.
	ErrNotFound = errors.New("keyfile: not found")
)
