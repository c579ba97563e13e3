package keyfile

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/forest6511/keylight/pkg/secure"
)

// Magic number for keyfiles: "KLGT_KEY"
var MagicNumber = [8]byte{'K', 'L', 'G', 'T', '_', 'K', 'E', 'Y'}

// Current keyfile format version.
const FormatVersion = 1

// Field limits. Anything larger is rejected on both encode and decode.
const (
	NonceSize     = 24
	MaxHashLen    = 1024
	MaxSaltLen    = 256
	MaxCipherLen  = 64 * 1024
	checksumSize  = sha256.Size
	minRecordSize = len(MagicNumber) + 2 + 2 + 2 + NonceSize + 4 + checksumSize
)

// Record is the decoded content of a keyfile.
type Record struct {
	// VerificationHash is the argon2id PHC string of the derived key.
	VerificationHash string
	// Salt is the derivation salt string for the master password.
	Salt string
	// Nonce used to seal Ciphertext.
	Nonce [NonceSize]byte
	// Ciphertext is the sealed recovery passphrase including its tag.
	Ciphertext []byte
}

// Wipe clears the record.
func (r *Record) Wipe() {
	if r == nil {
		return
	}
	secure.Wipe(r.Ciphertext)
	secure.Wipe(r.Nonce[:])
	r.Ciphertext = nil
	r.VerificationHash = ""
	r.Salt = ""
}

func (r *Record) validate() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	case r.VerificationHash == "" || len(r.VerificationHash) > MaxHashLen:
		return fmt.Errorf("%w: verification hash length %d", ErrInvalidRecord, len(r.VerificationHash))
	case r.Salt == "" || len(r.Salt) > MaxSaltLen:
		return fmt.Errorf("%w: salt length %d", ErrInvalidRecord, len(r.Salt))
	case len(r.Ciphertext) == 0 || len(r.Ciphertext) > MaxCipherLen:
		return fmt.Errorf("%w: ciphertext length %d", ErrInvalidRecord, len(r.Ciphertext))
	}
	return nil
}

// Encode serializes r. The caller should wipe the result once written.
//
// Layout (all integers big-endian):
//
//	magic[8] version:u16
//	hashLen:u16 hash  saltLen:u16 salt
//	nonce[24] ctLen:u32 ciphertext
//	sha256[32] over everything above
func Encode(r *Record) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	size := minRecordSize + len(r.VerificationHash) + len(r.Salt) + len(r.Ciphertext)
	buf := make([]byte, 0, size)

	buf = append(buf, MagicNumber[:]...)
	buf = binary.BigEndian.AppendUint16(buf, FormatVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.VerificationHash)))
	buf = append(buf, r.VerificationHash...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Salt)))
	buf = append(buf, r.Salt...)
	buf = append(buf, r.Nonce[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Ciphertext)))
	buf = append(buf, r.Ciphertext...)

	sum := sha256.Sum256(buf)
	buf = append(buf, sum[:]...)
	return buf, nil
}

// Decode parses keyfile bytes. Any structural problem yields ErrCorrupt; a
// partially decoded record is never returned.
func Decode(data []byte) (*Record, error) {
	if len(data) < minRecordSize {
		return nil, fmt.Errorf("%w: truncated (%d bytes)", ErrCorrupt, len(data))
	}

	body, trailer := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	sum := sha256.Sum256(body)
	if subtle.ConstantTimeCompare(sum[:], trailer) != 1 {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	rd := reader{buf: body}

	magic := rd.next(len(MagicNumber))
	if !bytes.Equal(magic, MagicNumber[:]) {
		return nil, fmt.Errorf("%w: magic number mismatch", ErrCorrupt)
	}

	version := rd.uint16()
	if rd.err == nil && (version == 0 || version > FormatVersion) {
		return nil, fmt.Errorf("%w: %w: got %d, max supported %d",
			ErrCorrupt, ErrUnsupportedVersion, version, FormatVersion)
	}

	hash := rd.next(int(rd.uint16()))
	salt := rd.next(int(rd.uint16()))
	nonce := rd.next(NonceSize)
	ctLen := rd.uint32()
	if ctLen > MaxCipherLen {
		return nil, fmt.Errorf("%w: ciphertext too large: %d bytes", ErrCorrupt, ctLen)
	}
	ct := rd.next(int(ctLen))

	if rd.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, rd.err)
	}
	if rd.off != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(body)-rd.off)
	}

	r := &Record{
		VerificationHash: string(hash),
		Salt:             string(salt),
		Ciphertext:       bytes.Clone(ct),
	}
	copy(r.Nonce[:], nonce)

	if err := r.validate(); err != nil {
		r.Wipe()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return r, nil
}

// reader is a bounds-checked cursor. After the first short read every call
// returns zero values and err stays set.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("truncated at offset %d", r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
