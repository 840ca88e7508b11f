//go:build unix

// Package security provides handling primitives for seed and key material.
//
// Every buffer that ever held entropy input, seed material, or DRNG output
// destined for a client must be wiped before it is released. The helpers
// here centralize that discipline:
//   - Wipe overwrites a slice in place.
//   - SecureBytes is an mlock-backed slice that is wiped on Destroy and by
//     finalizer as a backstop.
//   - ConstantTimeCompare for comparisons of secret-derived values.
package security

import (
	"crypto/subtle"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// SecureBytes holds sensitive bytes in memory that is locked against
// swapping when the process has the privilege to do so.
type SecureBytes struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// NewSecureBytes allocates a zeroed buffer of the given size. mlock failure
// is not fatal; unprivileged processes simply run without the lock.
func NewSecureBytes(size int) *SecureBytes {
	sb := &SecureBytes{data: make([]byte, size)}
	if size > 0 {
		if err := unix.Mlock(sb.data); err == nil {
			sb.locked = true
		}
	}
	runtime.SetFinalizer(sb, func(s *SecureBytes) { s.Destroy() })
	return sb
}

// Bytes returns the underlying slice. The slice must not be retained past
// the lifetime of the SecureBytes.
func (s *SecureBytes) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Len returns the buffer length.
func (s *SecureBytes) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Destroy wipes the buffer and releases the memory lock. Safe to call more
// than once.
func (s *SecureBytes) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return
	}
	wipe(s.data)
	if s.locked {
		_ = unix.Munlock(s.data)
		s.locked = false
	}
	s.data = nil
}

// Wipe overwrites data with zeros.
func Wipe(data []byte) {
	wipe(data)
}

func wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

// ConstantTimeCompare reports whether a and b are equal without leaking
// the position of a mismatch through timing.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
