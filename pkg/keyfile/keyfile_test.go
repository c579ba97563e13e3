package keyfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func sampleRecord() *Record {
	r := &Record{
		VerificationHash: "$argon2id$v=19$m=65536,t=3,p=4$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g",
		Salt:             "c2FsdHNhbHRzYWx0c2FsdA",
		Ciphertext:       bytes.Repeat([]byte{0xC7}, 80),
	}
	for i := range r.Nonce {
		r.Nonce[i] = byte(i + 1)
	}
	return r
}

// TestEncodeDecodeRoundTrip tests that a decoded record equals the original
func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleRecord()

	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.HasPrefix(data, MagicNumber[:]) {
		t.Error("Encode() output does not start with the magic number")
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.VerificationHash != want.VerificationHash {
		t.Errorf("VerificationHash = %q, want %q", got.VerificationHash, want.VerificationHash)
	}
	if got.Salt != want.Salt {
		t.Errorf("Salt = %q, want %q", got.Salt, want.Salt)
	}
	if got.Nonce != want.Nonce {
		t.Errorf("Nonce = %x, want %x", got.Nonce, want.Nonce)
	}
	if !bytes.Equal(got.Ciphertext, want.Ciphertext) {
		t.Errorf("Ciphertext mismatch")
	}

	// decoded ciphertext must not alias the input buffer
	data[len(data)-sha256.Size-1] ^= 0xFF
	if !bytes.Equal(got.Ciphertext, want.Ciphertext) {
		t.Error("Decode() ciphertext aliases the input bytes")
	}
}

// TestDecodeTruncated tests that every proper prefix is rejected as corrupt
func TestDecodeTruncated(t *testing.T) {
	data, err := Encode(sampleRecord())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	for n := 0; n < len(data); n++ {
		r, err := Decode(data[:n])
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("Decode(%d of %d bytes) error = %v, want %v", n, len(data), err, ErrCorrupt)
		}
		if r != nil {
			t.Fatalf("Decode(%d bytes) returned a partial record", n)
		}
	}
}

// TestDecodeByteFlip tests that flipping any single byte is rejected as corrupt
func TestDecodeByteFlip(t *testing.T) {
	data, err := Encode(sampleRecord())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	for i := range data {
		flipped := bytes.Clone(data)
		flipped[i] ^= 0x01
		if _, err := Decode(flipped); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("Decode() with byte %d flipped error = %v, want %v", i, err, ErrCorrupt)
		}
	}
}

// TestDecodeTrailingBytes tests that data after the checksum is rejected
func TestDecodeTrailingBytes(t *testing.T) {
	data, _ := Encode(sampleRecord())
	if _, err := Decode(append(data, 0x00)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Decode() with trailing byte error = %v, want %v", err, ErrCorrupt)
	}
}

// reseal rewrites the checksum after a deliberate edit of body bytes.
func reseal(data []byte) []byte {
	body := data[:len(data)-sha256.Size]
	sum := sha256.Sum256(body)
	return append(bytes.Clone(body), sum[:]...)
}

// TestDecodeUnsupportedVersion tests a well-formed keyfile from a newer format
func TestDecodeUnsupportedVersion(t *testing.T) {
	data, _ := Encode(sampleRecord())
	binary.BigEndian.PutUint16(data[len(MagicNumber):], FormatVersion+1)

	_, err := Decode(reseal(data))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Decode() error = %v, want %v", err, ErrUnsupportedVersion)
	}
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Decode() error = %v, want wrapped %v", err, ErrCorrupt)
	}
}

// TestDecodeBadLengths tests checksummed input with inconsistent length prefixes
func TestDecodeBadLengths(t *testing.T) {
	data, _ := Encode(sampleRecord())
	hashLenOff := len(MagicNumber) + 2

	tests := []struct {
		name string
		edit func([]byte)
	}{
		{"bad magic", func(b []byte) { b[0] = 'X' }},
		{"hash length overruns", func(b []byte) { binary.BigEndian.PutUint16(b[hashLenOff:], 0xFFFF) }},
		{"empty hash", func(b []byte) { binary.BigEndian.PutUint16(b[hashLenOff:], 0) }},
		{"version zero", func(b []byte) { binary.BigEndian.PutUint16(b[len(MagicNumber):], 0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edited := bytes.Clone(data)
			tt.edit(edited)
			if _, err := Decode(reseal(edited)); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Decode() error = %v, want %v", err, ErrCorrupt)
			}
		})
	}
}

// TestEncodeInvalidRecord tests records that cannot be serialized
func TestEncodeInvalidRecord(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Record)
	}{
		{"empty hash", func(r *Record) { r.VerificationHash = "" }},
		{"empty salt", func(r *Record) { r.Salt = "" }},
		{"empty ciphertext", func(r *Record) { r.Ciphertext = nil }},
		{"oversized ciphertext", func(r *Record) { r.Ciphertext = make([]byte, MaxCipherLen+1) }},
		{"oversized salt", func(r *Record) { r.Salt = string(make([]byte, MaxSaltLen+1)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sampleRecord()
			tt.edit(r)
			if _, err := Encode(r); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Encode() error = %v, want %v", err, ErrInvalidRecord)
			}
		})
	}

	if _, err := Encode(nil); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Encode(nil) error = %v, want %v", err, ErrInvalidRecord)
	}
}

// TestRecordWipe tests that Wipe clears every field
func TestRecordWipe(t *testing.T) {
	r := sampleRecord()
	ct := r.Ciphertext
	r.Wipe()

	if r.Ciphertext != nil || r.Salt != "" || r.VerificationHash != "" || r.Nonce != [NonceSize]byte{} {
		t.Errorf("Wipe() left data in record: %+v", r)
	}
	for i, b := range ct {
		if b != 0 {
			t.Fatalf("Wipe() ciphertext[%d] = %d, want 0", i, b)
		}
	}
}

// TestFileStoreSaveLoad tests persistence through the filesystem
func TestFileStoreSaveLoad(t *testing.T) {
	var fs FileStore
	path := filepath.Join(t.TempDir(), "main.keyfile")

	if fs.Exists(path) {
		t.Fatal("Exists() = true before Save()")
	}
	if _, err := fs.Load(path); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() missing file error = %v, want %v", err, ErrNotFound)
	}

	want := sampleRecord()
	if err := fs.Save(path, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !fs.Exists(path) {
		t.Fatal("Exists() = false after Save()")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != FileMode {
		t.Errorf("keyfile permissions = %o, want %o", perm, FileMode)
	}

	got, err := fs.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Salt != want.Salt || !bytes.Equal(got.Ciphertext, want.Ciphertext) {
		t.Error("Load() returned a different record")
	}
}

// TestFileStoreSaveReplaces tests that a second Save replaces the file and leaves no temp files
func TestFileStoreSaveReplaces(t *testing.T) {
	var fs FileStore
	dir := t.TempDir()
	path := filepath.Join(dir, "main.keyfile")

	if err := fs.Save(path, sampleRecord()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	r := sampleRecord()
	r.Salt = "b3RoZXJzYWx0b3RoZXJzYQ"
	if err := fs.Save(path, r); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := fs.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Salt != r.Salt {
		t.Errorf("Salt = %q, want %q", got.Salt, r.Salt)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contains %v, want only main.keyfile", names)
	}
}

// TestFileStoreSaveFailureLeavesNothing tests failed writes in a missing directory
func TestFileStoreSaveFailureLeavesNothing(t *testing.T) {
	var fs FileStore
	path := filepath.Join(t.TempDir(), "missing", "main.keyfile")

	if err := fs.Save(path, sampleRecord()); err == nil {
		t.Fatal("Save() into a missing directory should fail")
	}
	if fs.Exists(path) {
		t.Error("failed Save() left a keyfile behind")
	}
}

// TestFileStoreLoadCorrupt tests a damaged file on disk
func TestFileStoreLoadCorrupt(t *testing.T) {
	var fs FileStore
	path := filepath.Join(t.TempDir(), "main.keyfile")
	if err := fs.Save(path, sampleRecord()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	data[len(data)/2] ^= 0x40
	if err := os.WriteFile(path, data, FileMode); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := fs.Load(path); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load() error = %v, want %v", err, ErrCorrupt)
	}
}
