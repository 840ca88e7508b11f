// Package source defines the entropy source interface and the registry the
// DRNG manager pulls from during seeding.
//
// Each driver reports how much entropy it can currently deliver and answers
// Poll requests with raw bytes plus a conservative entropy credit. Drivers
// feed every delivered byte through SP800-90B health tests; a source that
// fails its tests keeps delivering data but credits zero bits until the
// tests recover.
package source

import (
	"context"
	"sync"
)

// Source is a pluggable producer of entropy.
type Source interface {
	// Name identifies the source in logs and status output.
	Name() string

	// AvailableEntropy estimates the entropy in bits the source could
	// deliver right now.
	AvailableEntropy() uint32

	// Poll collects fresh data worth up to needBits of entropy. The
	// returned credit may be lower than requested, including zero. The
	// caller owns the returned buffer and must wipe it.
	Poll(ctx context.Context, needBits uint32) (data []byte, creditedBits uint32, err error)

	// Fini releases driver resources.
	Fini()
}

// Registry holds the registered sources in registration order.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a source. Registration order is the poll order.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, s)
}

// Sources returns a snapshot of the registered sources.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// AvailableEntropy sums the entropy estimates of all sources, saturating
// at the uint32 range.
func (r *Registry) AvailableEntropy() uint32 {
	var sum uint64
	for _, s := range r.Sources() {
		sum += uint64(s.AvailableEntropy())
	}
	if sum > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(sum)
}

// PollAll queries every source for needBits and concatenates the results.
// Credits are accumulated with saturating arithmetic. Sources returning an
// error contribute nothing; polling continues with the remaining sources.
func (r *Registry) PollAll(ctx context.Context, needBits uint32) ([]byte, uint32) {
	var (
		buf  []byte
		bits uint64
	)
	for _, s := range r.Sources() {
		data, credited, err := s.Poll(ctx, needBits)
		if err != nil {
			continue
		}
		buf = append(buf, data...)
		bits += uint64(credited)
	}
	if bits > uint64(^uint32(0)) {
		bits = uint64(^uint32(0))
	}
	return buf, uint32(bits)
}

// FiniAll shuts down all sources and empties the registry.
func (r *Registry) FiniAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		s.Fini()
	}
	r.sources = nil
}
