//go:build !unix

package security

import (
	"crypto/subtle"
	"runtime"
	"sync"
)

// SecureBytes on platforms without mlock falls back to a plain
// wiped-on-destroy buffer.
type SecureBytes struct {
	mu   sync.Mutex
	data []byte
}

func NewSecureBytes(size int) *SecureBytes {
	sb := &SecureBytes{data: make([]byte, size)}
	runtime.SetFinalizer(sb, func(s *SecureBytes) { s.Destroy() })
	return sb
}

func (s *SecureBytes) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *SecureBytes) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *SecureBytes) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return
	}
	wipe(s.data)
	s.data = nil
}

func Wipe(data []byte) {
	wipe(data)
}

func wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
