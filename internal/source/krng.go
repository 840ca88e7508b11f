//go:build linux

package source

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// krng pulls from the kernel RNG via getrandom(2). The kernel output is
// already conditioned, so it is credited at the full rate once the kernel
// pool is initialized; GRND_NONBLOCK keeps the daemon from stalling during
// early boot.
type krng struct {
	mu     sync.Mutex
	health *Health
	seeded bool
}

// NewKernel returns the kernel RNG entropy source.
func NewKernel() Source {
	return &krng{health: NewHealth()}
}

func (k *krng) Name() string { return "krng" }

func (k *krng) AvailableEntropy() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.seeded || !k.health.Healthy() {
		return 0
	}
	// The kernel RNG regenerates; report one full seed worth.
	return 256
}

func (k *krng) Poll(ctx context.Context, needBits uint32) ([]byte, uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	n := int(needBits+7) / 8
	if n == 0 {
		return nil, 0, nil
	}
	buf := make([]byte, n)

	got := 0
	for got < n {
		r, err := unix.Getrandom(buf[got:], unix.GRND_NONBLOCK)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				// Kernel pool not initialized yet: deliver what we
				// have with zero credit.
				break
			}
			return nil, 0, err
		}
		got += r
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.health.FeedAll(buf[:got])
	if got < n || !k.health.Healthy() {
		return buf[:got], 0, nil
	}
	k.seeded = true
	return buf, needBits, nil
}

func (k *krng) Fini() {}
