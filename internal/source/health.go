package source

import "sync"

// SP800-90B continuous health tests.
//
// The repetition count test (section 4.4.1) catches stuck-at faults, the
// adaptive proportion test (section 4.4.2) catches large bias. Cutoffs are
// for a false positive rate of 2^-20 at a min-entropy estimate of 1 bit per
// sample.
const (
	rctCutoff = 21
	aptWindow = 512
	aptCutoff = 410
)

// Health runs both continuous tests over the byte stream of one source.
type Health struct {
	mu sync.Mutex

	// Repetition count state
	lastValue   byte
	repeatCount int

	// Adaptive proportion state
	aptFirst   byte
	aptCount   int
	aptMatches int

	failures uint64
	failed   bool
	primed   bool
}

// NewHealth returns a monitor with untested state.
func NewHealth() *Health {
	return &Health{}
}

// Feed runs one sample through both tests.
func (h *Health) Feed(b byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.primed {
		h.primed = true
		h.lastValue = b
		h.repeatCount = 1
		h.aptFirst = b
		h.aptCount = 1
		h.aptMatches = 1
		return
	}

	// Repetition count
	if b == h.lastValue {
		h.repeatCount++
		if h.repeatCount >= rctCutoff {
			h.failures++
			h.failed = true
		}
	} else {
		h.lastValue = b
		h.repeatCount = 1
		if h.failed {
			// A changing stream lets the source recover.
			h.failed = false
		}
	}

	// Adaptive proportion
	if h.aptCount == aptWindow {
		h.aptFirst = b
		h.aptCount = 1
		h.aptMatches = 1
	} else {
		h.aptCount++
		if b == h.aptFirst {
			h.aptMatches++
			if h.aptMatches >= aptCutoff {
				h.failures++
				h.failed = true
			}
		}
	}
}

// FeedAll runs a slice of samples through the tests.
func (h *Health) FeedAll(data []byte) {
	for _, b := range data {
		h.Feed(b)
	}
}

// Healthy reports whether the source currently passes both tests.
func (h *Health) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.failed
}

// Failures returns the number of test failures since Reset.
func (h *Health) Failures() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

// Reset clears all test state.
func (h *Health) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastValue, h.repeatCount = 0, 0
	h.aptFirst, h.aptCount, h.aptMatches = 0, 0, 0
	h.failures = 0
	h.failed = false
	h.primed = false
}
