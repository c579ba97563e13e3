// Package secure holds secret material in memory for as short a time as
// possible.
//
// A Buffer owns a byte slice containing key material, a password or a
// recovery passphrase. It never prints its contents and can be wiped in
// place. A Scope collects buffers and raw slices acquired during one flow and
// wipes all of them on exit:
//
//	scope := secure.NewScope()
//	defer scope.Wipe()
//
//	key := scope.Track(deriveKey(...))
//
// Wiping is best effort. The Go runtime may have copied a slice before it
// was handed to a Buffer, and strings can never be wiped.
package secure

import (
	"fmt"
	"runtime"
	"sync"
)

// Redacted is printed in place of secret contents.
const Redacted = "[REDACTED]"

// Wipe overwrites b with zeros in a way the compiler cannot elide.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// keep b reachable until the loop has run
	runtime.KeepAlive(b)
}

// IsZero reports whether every byte of b is zero.
func IsZero(b []byte) bool {
	var acc byte
	for _, c := range b {
		acc |= c
	}
	return acc == 0
}

// Buffer is an owned secret byte slice.
type Buffer struct {
	mu     sync.Mutex
	b      []byte
	locked bool
	wiped  bool
}

// New allocates a zeroed buffer of n bytes.
func New(n int) *Buffer {
	return From(make([]byte, n))
}

// From wraps b without copying. The buffer takes ownership of b; the caller
// must not use b after the buffer is wiped.
func From(b []byte) *Buffer {
	buf := &Buffer{b: b}
	buf.locked = lock(b)
	return buf
}

// Bytes returns the underlying slice. It is nil once the buffer is wiped.
func (s *Buffer) Bytes() []byte {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b
}

// Len returns the number of secret bytes.
func (s *Buffer) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.b)
}

// Use calls fn with the secret bytes. fn must not retain the slice.
func (s *Buffer) Use(fn func([]byte) error) error {
	if s == nil {
		return fn(nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.b)
}

// Wiped reports whether Wipe has been called.
func (s *Buffer) Wiped() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wiped
}

// Wipe zeroes the contents and releases the slice. Safe to call repeatedly.
func (s *Buffer) Wipe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return
	}
	Wipe(s.b)
	if s.locked {
		unlock(s.b)
		s.locked = false
	}
	s.b = nil
	s.wiped = true
}

// String implements fmt.Stringer.
func (s *Buffer) String() string { return Redacted }

// GoString implements fmt.GoStringer.
func (s *Buffer) GoString() string { return Redacted }

// Format implements fmt.Formatter so that every verb, %x included, redacts.
func (s *Buffer) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(Redacted))
}

// MarshalJSON implements json.Marshaler.
func (s *Buffer) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}

// MarshalText implements encoding.TextMarshaler.
func (s *Buffer) MarshalText() ([]byte, error) {
	return []byte(Redacted), nil
}
