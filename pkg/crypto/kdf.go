package crypto

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/keylight/pkg/secure"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// MaxMemory bounds the memory cost accepted from configuration or from a
	// stored verification hash (4GB).
	MaxMemory = 4 * 1024 * 1024

	// SaltLength is the number of random bytes in a salt before encoding.
	SaltLength = 16

	// MaxPasswordBytes is the largest master password accepted.
	MaxPasswordBytes = 1024
)

var (
	// ErrInvalidParams indicates Argon2id parameters outside the supported range.
	ErrInvalidParams = errors.New("crypto: invalid argon2id parameters")

	// ErrKDFFailed indicates the key derivation itself failed.
	ErrKDFFailed = errors.New("crypto: key derivation failed")

	// ErrPasswordTooLong indicates the password exceeds MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("crypto: password too long")

	// ErrEmptySalt indicates a derivation was requested without a salt.
	ErrEmptySalt = errors.New("crypto: empty salt")
)

// Params are the Argon2id cost parameters.
type Params struct {
	Memory    uint32 // KiB
	Time      uint32
	Threads   uint8
	KeyLength uint32
}

// DefaultParams returns the OWASP-recommended parameters.
func DefaultParams() Params {
	return Params{
		Memory:    Argon2Memory,
		Time:      Argon2Time,
		Threads:   Argon2Threads,
		KeyLength: KeyLength,
	}
}

// Validate reports whether p can be passed to Argon2id safely.
func (p Params) Validate() error {
	switch {
	case p.Time < 1:
		return fmt.Errorf("%w: time must be at least 1", ErrInvalidParams)
	case p.Threads < 1:
		return fmt.Errorf("%w: threads must be at least 1", ErrInvalidParams)
	case p.Memory < 8*uint32(p.Threads):
		return fmt.Errorf("%w: memory must be at least 8KiB per thread", ErrInvalidParams)
	case p.Memory > MaxMemory:
		return fmt.Errorf("%w: memory above %d KiB", ErrInvalidParams, MaxMemory)
	case p.KeyLength != KeyLength:
		return fmt.Errorf("%w: key length must be %d", ErrInvalidParams, KeyLength)
	}
	return nil
}

// NewSalt returns 16 random bytes in unpadded standard base64.
func NewSalt() (string, error) {
	b := make([]byte, SaltLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

// Deriver runs Argon2id computations one at a time.
//
// Argon2id is memory hard; every call holds the Deriver's single slot for its
// whole duration, so concurrent callers queue rather than multiply the
// memory footprint. Create one Deriver per process and share it.
//
// The computation runs on its own goroutine. The calling goroutine waits for
// the result; ctx is honoured only while waiting for the slot, a started
// derivation always runs to completion.
type Deriver struct {
	params Params
	slot   *semaphore.Weighted

	// scratch stages the normalized password. Guarded by slot.
	scratch []byte
}

// NewDeriver returns a Deriver using p.
func NewDeriver(p Params) (*Deriver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Deriver{
		params:  p,
		slot:    semaphore.NewWeighted(1),
		scratch: make([]byte, 0, 4*MaxPasswordBytes),
	}, nil
}

// Params returns the parameters new keys and hashes are derived with.
func (d *Deriver) Params() Params {
	return d.params
}

// DeriveKey derives a KeyLength key from password and salt.
//
// The password is normalized to Unicode NFC first, so the same passphrase
// typed on different platforms derives the same key. The caller owns the
// returned buffer.
func (d *Deriver) DeriveKey(ctx context.Context, password []byte, salt string) (*secure.Buffer, error) {
	if len(password) > MaxPasswordBytes {
		return nil, ErrPasswordTooLong
	}
	if salt == "" {
		return nil, ErrEmptySalt
	}

	p := d.params
	var key []byte
	err := d.run(ctx, func(scratch []byte) {
		pw := norm.NFC.Append(scratch[:0], password...)
		defer secure.Wipe(pw)
		key = argon2.IDKey(pw, []byte(salt), p.Time, p.Memory, p.Threads, p.KeyLength)
	})
	if err != nil {
		return nil, err
	}
	return secure.From(key), nil
}

// run executes job on a worker goroutine while holding the slot. The scratch
// buffer is zeroed before and after the job.
func (d *Deriver) run(ctx context.Context, job func(scratch []byte)) error {
	if err := d.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.slot.Release(1)

	secure.Wipe(d.scratch[:cap(d.scratch)])
	defer secure.Wipe(d.scratch[:cap(d.scratch)])

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrKDFFailed, r)
			}
		}()
		job(d.scratch)
		done <- nil
	}()
	return <-done
}
