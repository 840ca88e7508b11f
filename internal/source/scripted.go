package source

import (
	"context"
	"sync"
)

// Scripted is a deterministic entropy source for tests and bring-up. Each
// Poll delivers at most BitsPerPoll of credit from a repeating pattern
// until the configured budget is exhausted; Refill restores the budget.
type Scripted struct {
	mu sync.Mutex

	// BitsPerPoll caps the credit of a single poll.
	BitsPerPoll uint32

	remaining uint32
	pattern   byte
}

// NewScripted returns a scripted source holding budget bits of entropy.
func NewScripted(budget, bitsPerPoll uint32) *Scripted {
	return &Scripted{BitsPerPoll: bitsPerPoll, remaining: budget}
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) AvailableEntropy() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

func (s *Scripted) Poll(ctx context.Context, needBits uint32) ([]byte, uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	credit := needBits
	if credit > s.BitsPerPoll {
		credit = s.BitsPerPoll
	}
	if credit > s.remaining {
		credit = s.remaining
	}
	s.remaining -= credit

	n := int(credit+7) / 8
	buf := make([]byte, n)
	for i := range buf {
		s.pattern++
		buf[i] = s.pattern
	}
	return buf, credit, nil
}

// Refill adds budget bits back to the source.
func (s *Scripted) Refill(bits uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining += bits
}

func (s *Scripted) Fini() {}
