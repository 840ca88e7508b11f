package source

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Entropy credited per delivered jitter byte, in bits. The raw timing
// deltas carry more than this, but the estimate stays conservative so a
// quiet machine cannot over-credit.
const jitterBitsPerByte = 1

// jitterSource harvests entropy from scheduler and memory-subsystem timing
// noise: it measures nanosecond deltas across forced reschedule points and
// keeps only the low bits after von Neumann debiasing.
type jitterSource struct {
	mu     sync.Mutex
	health *Health
}

// NewJitter returns the CPU timing jitter entropy source.
func NewJitter() Source {
	return &jitterSource{health: NewHealth()}
}

func (j *jitterSource) Name() string { return "jitter" }

func (j *jitterSource) AvailableEntropy() uint32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.health.Healthy() {
		return 0
	}
	// Jitter regenerates continuously; report one seed worth.
	return 256
}

func (j *jitterSource) Poll(ctx context.Context, needBits uint32) ([]byte, uint32, error) {
	// One output byte carries jitterBitsPerByte credited bits.
	want := int(needBits) / jitterBitsPerByte / 8
	if want == 0 {
		want = 1
	}

	buf := make([]byte, 0, want)
	var (
		cur  byte
		nbit int
	)

	last := time.Now().UnixNano()
	for len(buf) < want {
		if err := ctx.Err(); err != nil {
			return buf, 0, err
		}

		b1, ok1 := jitterBit(&last)
		b2, ok2 := jitterBit(&last)
		if !ok1 || !ok2 {
			continue
		}
		// Von Neumann: keep the first bit of an unequal pair.
		if b1 == b2 {
			continue
		}
		cur = cur<<1 | b1
		nbit++
		if nbit == 8 {
			buf = append(buf, cur)
			cur, nbit = 0, 0
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.health.FeedAll(buf)
	if !j.health.Healthy() {
		return buf, 0, nil
	}
	return buf, uint32(len(buf) * jitterBitsPerByte), nil
}

// jitterBit measures one timing delta across a reschedule point and returns
// its least significant bit. A zero delta means the clock did not advance
// and carries no information.
func jitterBit(last *int64) (byte, bool) {
	runtime.Gosched()
	now := time.Now().UnixNano()
	delta := now - *last
	*last = now
	if delta <= 0 {
		return 0, false
	}
	return byte(delta & 1), true
}

func (j *jitterSource) Fini() {}
