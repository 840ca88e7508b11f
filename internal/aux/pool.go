// Package aux implements the auxiliary entropy pool.
//
// The pool is a conditioning component: callers fold data in by absorbing it
// into a running cryptographic hash, together with an entropy credit counter
// bounded by the digest width. Extraction finalizes the state and re-absorbs
// the digest so that repeated extraction never replays seed material.
package aux

import (
	"errors"
	"hash"
	"sync"

	"golang.org/x/crypto/sha3"

	"esdmd/internal/security"
)

// Supported conditioner widths in bits.
const (
	Digest256 = 256
	Digest512 = 512
)

var (
	// ErrNilBuffer is returned when insertion is attempted with no data.
	ErrNilBuffer = errors.New("aux: nil input buffer")

	// ErrClosed is returned after the pool has been wiped.
	ErrClosed = errors.New("aux: pool closed")

	// ErrDigestWidth is returned for an unsupported conditioner width.
	ErrDigestWidth = errors.New("aux: unsupported digest width")
)

// Pool is the auxiliary conditioning pool. A single mutex guards both the
// hash state and the credit counter so the two can never diverge.
type Pool struct {
	mu         sync.Mutex
	cond       hash.Hash
	digestBits uint32
	credited   uint32
	closed     bool
}

// New creates a pool whose conditioner is SHA3-256 or SHA3-512 depending on
// digestBits.
func New(digestBits int) (*Pool, error) {
	var h hash.Hash
	switch digestBits {
	case Digest256:
		h = sha3.New256()
	case Digest512:
		h = sha3.New512()
	default:
		return nil, ErrDigestWidth
	}
	return &Pool{cond: h, digestBits: uint32(digestBits)}, nil
}

// Insert absorbs data into the conditioner and credits bits of entropy,
// saturating at the pool size. In SP800-90C operation the caller asserts
// that data credited with bits > 0 originates from an SP800-90B source; the
// pool records the credit without validating the claim.
func (p *Pool) Insert(data []byte, bits uint32) error {
	if data == nil {
		return ErrNilBuffer
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	p.cond.Write(data)

	if sum := uint64(p.credited) + uint64(bits); sum > uint64(p.digestBits) {
		p.credited = p.digestBits
	} else {
		p.credited = uint32(sum)
	}
	return nil
}

// Extract finalizes the conditioner and returns the digest as seed material
// together with the entropy credited to it: min(credited, wantBits), capped
// at the digest width. The credit counter drops to zero and the state is
// re-keyed with the digest so a subsequent extraction cannot replay it.
func (p *Pool) Extract(wantBits uint32) ([]byte, uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, 0
	}

	// Sum does not disturb the running state; the explicit re-key below
	// replaces it.
	seed := p.cond.Sum(nil)

	bits := p.credited
	if wantBits < bits {
		bits = wantBits
	}
	if bits > p.digestBits {
		bits = p.digestBits
	}
	p.credited = 0

	p.cond.Reset()
	p.cond.Write(seed)

	return seed, bits
}

// AvailableEntropy returns the currently credited entropy in bits.
func (p *Pool) AvailableEntropy() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credited
}

// SetEntropy clamps and sets the credit counter. Debug and test use only.
func (p *Pool) SetEntropy(bits uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bits > p.digestBits {
		bits = p.digestBits
	}
	p.credited = bits
}

// Poolsize returns the conditioner width in bits.
func (p *Pool) Poolsize() uint32 {
	return p.digestBits
}

// Close wipes the pool state. The final digest is overwritten before the
// hash state is dropped.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	last := p.cond.Sum(nil)
	security.Wipe(last)
	p.cond.Reset()
	p.credited = 0
	p.closed = true
}
