package crypto

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/forest6511/keylight/pkg/secure"
)

// ErrMalformedHash indicates a verification hash that is not a valid
// argon2id PHC string.
var ErrMalformedHash = errors.New("crypto: malformed verification hash")

// HashKey computes a verification hash of a derived key.
//
// This is a second Argon2id pass with its own random salt, so the stored hash
// reveals nothing usable about key. The result is a PHC string:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func (d *Deriver) HashKey(ctx context.Context, key []byte) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: failed to generate salt: %w", err)
	}

	p := d.params
	var sum []byte
	if err := d.run(ctx, func([]byte) {
		sum = argon2.IDKey(key, salt, p.Time, p.Memory, p.Threads, p.KeyLength)
	}); err != nil {
		return "", err
	}
	defer secure.Wipe(sum)

	return encodeHash(p, salt, sum), nil
}

// VerifyKey reports whether key matches a hash produced by HashKey.
//
// The parameters are read from the hash, so keys hashed under older
// parameters keep verifying. The comparison is constant time.
func (d *Deriver) VerifyKey(ctx context.Context, key []byte, encoded string) (bool, error) {
	p, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	var got []byte
	if err := d.run(ctx, func([]byte) {
		got = argon2.IDKey(key, salt, p.Time, p.Memory, p.Threads, p.KeyLength)
	}); err != nil {
		return false, err
	}
	defer secure.Wipe(got)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func encodeHash(p Params, salt, sum []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$%s$%s$%s",
		argon2.Version,
		formatCost(p),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	)
}

func formatCost(p Params) string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", p.Memory, p.Time, p.Threads)
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrMalformedHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if formatCost(p) != parts[3] {
		return Params{}, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: bad hash", ErrMalformedHash)
	}

	p.KeyLength = uint32(len(sum))
	if err := p.Validate(); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return p, salt, sum, nil
}
