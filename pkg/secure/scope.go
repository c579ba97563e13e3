package secure

import "sync"

// Scope releases every secret acquired during one flow.
//
// Releasers run in reverse registration order, exactly once, when Wipe is
// called. A Scope is safe for concurrent use.
type Scope struct {
	mu        sync.Mutex
	releasers []func()
	done      bool
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

// Track registers b for wiping and returns it.
func (s *Scope) Track(b *Buffer) *Buffer {
	if b != nil {
		s.Defer(b.Wipe)
	}
	return b
}

// TrackBytes registers a raw slice for wiping and returns it.
func (s *Scope) TrackBytes(b []byte) []byte {
	s.Defer(func() { Wipe(b) })
	return b
}

// Defer registers an arbitrary releaser. If the scope was already wiped the
// releaser runs immediately.
func (s *Scope) Defer(fn func()) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		fn()
		return
	}
	s.releasers = append(s.releasers, fn)
	s.mu.Unlock()
}

// Wipe runs all releasers. Later calls are no-ops.
func (s *Scope) Wipe() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	rs := s.releasers
	s.releasers = nil
	s.mu.Unlock()

	for i := len(rs) - 1; i >= 0; i-- {
		rs[i]()
	}
}
