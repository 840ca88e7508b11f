//go:build !linux

package source

import (
	"context"
	"crypto/rand"
	"sync"
)

// krng on non-Linux platforms falls back to the OS CSPRNG via crypto/rand.
type krng struct {
	mu     sync.Mutex
	health *Health
}

// NewKernel returns the OS RNG entropy source.
func NewKernel() Source {
	return &krng{health: NewHealth()}
}

func (k *krng) Name() string { return "krng" }

func (k *krng) AvailableEntropy() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.health.Healthy() {
		return 0
	}
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
	if _, err := rand.Read(buf); err != nil {
		return nil, 0, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.health.FeedAll(buf)
	if !k.health.Healthy() {
		return buf, 0, nil
	}
	return buf, needBits, nil
}

func (k *krng) Fini() {}
