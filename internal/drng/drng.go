// Package drng wraps an SP800-90A AES-256 CTR DRBG instance together with
// the reseed bookkeeping the manager drives: a generation counter, output
// accounting since the last reseed, and the force-reseed latch.
package drng

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ctrdrbg "github.com/sixafter/aes-ctr-drbg"
)

const (
	// MaxRequestBytes caps one generate call; larger requests are chunked
	// by the manager. Matches the framed message cap.
	MaxRequestBytes = 64 * 1024

	// ReseedThresholdBytes triggers an opportunistic reseed once this much
	// output has been produced from one seed.
	ReseedThresholdBytes = 1 << 20

	// SecurityStrengthBits is the claimed strength of the AES-256 DRBG.
	SecurityStrengthBits = 256

	// OversampleBits is the additional seed entropy required by the
	// SP800-90C construction.
	OversampleBits = 128

	// MinSeedBits is the minimum credited entropy for the minimally
	// seeded level.
	MinSeedBits = 128
)

var (
	// ErrRequestTooLarge is returned for a generate call above the cap.
	ErrRequestTooLarge = errors.New("drng: request exceeds max generate size")

	// ErrClosed is returned after the instance was zeroized.
	ErrClosed = errors.New("drng: instance closed")
)

// SeedBits returns the credited entropy one full seed must carry.
func SeedBits(sp80090c bool) uint32 {
	if sp80090c {
		return SecurityStrengthBits + OversampleBits
	}
	return SecurityStrengthBits
}

// DRNG is one deterministic generator instance bound to a node.
type DRNG struct {
	mu sync.Mutex

	rng  ctrdrbg.Interface
	node int

	generation       uint64
	bytesSinceReseed uint64
	lastReseed       time.Time
	forceReseed      bool
	closed           bool
}

// New constructs an unseeded instance for the given node. The underlying
// DRBG self-initializes from the OS; the instance still counts as unseeded
// until the manager delivers credited entropy through Seed.
func New(node int) (*DRNG, error) {
	rng, err := ctrdrbg.NewReader(
		ctrdrbg.WithKeySize(ctrdrbg.KeySize256),
		ctrdrbg.WithPersonalization([]byte(fmt.Sprintf("esdm-drng-node-%d", node))),
		ctrdrbg.WithEnableKeyRotation(false),
		ctrdrbg.WithZeroization(true),
	)
	if err != nil {
		return nil, fmt.Errorf("drng: instantiate node %d: %w", node, err)
	}
	return &DRNG{rng: rng, node: node}, nil
}

// Node returns the node ordinal this instance serves.
func (d *DRNG) Node() int { return d.node }

// Seed reseeds the DRBG with the given material as additional input, bumps
// the generation and resets the output accounting. The caller wipes the
// material.
func (d *DRNG) Seed(material []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.rng.Reseed(material); err != nil {
		return fmt.Errorf("drng: reseed node %d: %w", d.node, err)
	}
	d.generation++
	d.bytesSinceReseed = 0
	d.lastReseed = time.Now()
	d.forceReseed = false
	return nil
}

// Generate fills buf with DRBG output. One call is capped at
// MaxRequestBytes.
func (d *DRNG) Generate(buf []byte) (int, error) {
	if len(buf) > MaxRequestBytes {
		return 0, ErrRequestTooLarge
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	n, err := d.rng.Read(buf)
	d.bytesSinceReseed += uint64(n)
	return n, err
}

// NeedsReseed reports whether the next generate must be preceded by a
// reseed: the force latch is set, the output budget is spent, or the seed
// is older than maxAge.
func (d *DRNG) NeedsReseed(maxAge time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.forceReseed {
		return true
	}
	if d.bytesSinceReseed > ReseedThresholdBytes {
		return true
	}
	return d.generation > 0 && time.Since(d.lastReseed) > maxAge
}

// SetForceReseed latches a reseed for the next generate path.
func (d *DRNG) SetForceReseed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceReseed = true
}

// Generation returns the reseed generation counter.
func (d *DRNG) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// BytesSinceReseed returns the output produced since the last reseed.
func (d *DRNG) BytesSinceReseed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bytesSinceReseed
}

// LastReseed returns the wallclock time of the last successful reseed.
func (d *DRNG) LastReseed() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReseed
}

// Close zeroizes the instance. The wrapped DRBG wipes its key state on
// release; the handle is dropped so further use fails closed.
func (d *DRNG) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.rng = nil
}
