//go:build linux || darwin || freebsd || openbsd || netbsd

package secure

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mlock works on whole pages and does not nest, so small buffers sharing a
// page would unpin each other. pinned counts the live locks per page and a
// page is only unlocked once its count drops to zero.
var (
	pinnedMu sync.Mutex
	pinned   = map[uintptr]int{}
	pageSize = uintptr(os.Getpagesize())
)

// pages returns the start address of b and the first and last page it
// spans.
func pages(b []byte) (start, first, last uintptr) {
	start = uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	first = start &^ (pageSize - 1)
	last = (start + uintptr(len(b)) - 1) &^ (pageSize - 1)
	return start, first, last
}

// lock pins b in RAM so it is not written to swap. Failure (for example an
// exhausted RLIMIT_MEMLOCK) is not an error.
func lock(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	pinnedMu.Lock()
	defer pinnedMu.Unlock()
	if unix.Mlock(b) != nil {
		return false
	}
	_, first, last := pages(b)
	for p := first; p <= last; p += pageSize {
		pinned[p]++
	}
	return true
}

// unlock releases a lock taken by lock. Pages still pinned by another
// buffer stay locked.
func unlock(b []byte) {
	if len(b) == 0 {
		return
	}
	pinnedMu.Lock()
	defer pinnedMu.Unlock()
	start, first, last := pages(b)
	end := start + uintptr(len(b))
	for p := first; p <= last; p += pageSize {
		pinned[p]--
		if pinned[p] > 0 {
			continue
		}
		delete(pinned, p)
		lo, hi := max(p, start), min(p+pageSize, end)
		_ = unix.Munlock(b[lo-start : hi-start])
	}
}
