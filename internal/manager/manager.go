// Package manager owns the DRNG instances and drives their lifecycle: it
// orchestrates seeding from the entropy source registry and the auxiliary
// pool, enforces the seeding state transitions, and serves the four random
// byte request levels the RPC layer exposes.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"esdmd/internal/aux"
	"esdmd/internal/drng"
	"esdmd/internal/logging"
	"esdmd/internal/security"
	"esdmd/internal/source"
)

var (
	// ErrAgain signals insufficient entropy right now; the caller may
	// retry once sources have replenished.
	ErrAgain = errors.New("manager: insufficient entropy, try again")

	// ErrShutdown is returned once the manager has been closed.
	ErrShutdown = errors.New("manager: shut down")
)

// Config parameterizes a manager instance.
type Config struct {
	// Nodes is the number of DRNG instances; 0 means one per CPU.
	Nodes int

	// SP80090C enables the oversampling regime.
	SP80090C bool

	// WriteWakeupBits is the initial writer wakeup threshold.
	WriteWakeupBits uint32

	// ReseedMaxSeconds is the initial maximum seed age.
	ReseedMaxSeconds uint32

	Log *slog.Logger
}

// Manager multiplexes requests over per-node DRNGs and keeps them seeded.
type Manager struct {
	pool     *aux.Pool
	registry *source.Registry
	drngs    []*drng.DRNG
	sp80090c bool
	log      *slog.Logger

	nodeCounter atomic.Uint64

	writeWakeupBits  atomic.Uint32
	reseedMaxSeconds atomic.Uint32

	minSeeded       atomic.Bool
	fullySeededNow  atomic.Bool
	fullySeededEver atomic.Bool
	operational     atomic.Bool
	closed          atomic.Bool

	minCh    chan struct{}
	fullCh   chan struct{}
	minOnce  sync.Once
	fullOnce sync.Once

	// onUpdate is invoked after every state or generation change so the
	// daemon can refresh the shared status segment.
	onUpdate atomic.Pointer[func()]
}

// New creates a manager over the given pool and source registry.
func New(cfg Config, pool *aux.Pool, registry *source.Registry) (*Manager, error) {
	nodes := cfg.Nodes
	if nodes <= 0 {
		nodes = runtime.NumCPU()
	}

	log := cfg.Log
	if log == nil {
		log = logging.Component("manager")
	}

	m := &Manager{
		pool:     pool,
		registry: registry,
		sp80090c: cfg.SP80090C,
		log:      log,
		minCh:    make(chan struct{}),
		fullCh:   make(chan struct{}),
	}
	m.writeWakeupBits.Store(cfg.WriteWakeupBits)
	m.reseedMaxSeconds.Store(cfg.ReseedMaxSeconds)

	for i := 0; i < nodes; i++ {
		d, err := drng.New(i)
		if err != nil {
			for _, prev := range m.drngs {
				prev.Close()
			}
			return nil, err
		}
		m.drngs = append(m.drngs, d)
	}

	log.Info("DRNG manager initialized",
		"nodes", nodes,
		"sp80090c", cfg.SP80090C,
		"seed_bits", drng.SeedBits(cfg.SP80090C))
	return m, nil
}

// SetUpdateHook installs a callback fired after reseeds and state changes.
func (m *Manager) SetUpdateHook(fn func()) {
	m.onUpdate.Store(&fn)
}

func (m *Manager) notify() {
	if fn := m.onUpdate.Load(); fn != nil {
		(*fn)()
	}
}

// pick selects the DRNG for the next request round-robin over the nodes.
func (m *Manager) pick() *drng.DRNG {
	n := m.nodeCounter.Add(1)
	return m.drngs[int(n)%len(m.drngs)]
}

func (m *Manager) reseedMaxAge() time.Duration {
	return time.Duration(m.reseedMaxSeconds.Load()) * time.Second
}

// seedNeed returns the credited entropy a full seed must carry.
func (m *Manager) seedNeed() uint32 {
	return drng.SeedBits(m.sp80090c)
}

// tryReseed gathers entropy from all sources plus the aux pool and reseeds
// d with the concatenation. With mustFull set, the reseed only happens when
// the gathered credit reaches a full seed; otherwise the pulled data is
// folded back into the pool with its credit preserved and ErrAgain is
// returned. Without mustFull the reseed is best-effort and always happens.
// The returned value is the credited entropy of the performed seeding.
func (m *Manager) tryReseed(ctx context.Context, d *drng.DRNG, mustFull bool) (uint32, error) {
	if m.closed.Load() {
		return 0, ErrShutdown
	}

	need := m.seedNeed()

	srcData, srcBits := m.registry.PollAll(ctx, need)
	defer security.Wipe(srcData)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if mustFull {
		if uint64(srcBits)+uint64(m.pool.AvailableEntropy()) < uint64(need) {
			// Preserve what was pulled; the pool stays credited.
			if len(srcData) > 0 {
				_ = m.pool.Insert(srcData, srcBits)
			}
			return 0, ErrAgain
		}
	}

	seedAux, auxBits := m.pool.Extract(need)
	defer security.Wipe(seedAux)

	material := make([]byte, 0, len(srcData)+len(seedAux))
	material = append(material, srcData...)
	material = append(material, seedAux...)
	defer security.Wipe(material)

	total := saturateAdd32(srcBits, auxBits)
	if err := d.Seed(material); err != nil {
		return 0, err
	}

	m.advanceState(total, need)
	m.log.Debug("DRNG reseeded",
		"node", d.Node(),
		"generation", d.Generation(),
		"credited_bits", total)
	m.notify()
	return total, nil
}

// advanceState applies the latching state transitions for a reseed that
// carried credited bits of entropy.
func (m *Manager) advanceState(credited, need uint32) {
	if credited >= drng.MinSeedBits {
		if m.minSeeded.CompareAndSwap(false, true) {
			m.log.Info("ESDM minimally seeded", "credited_bits", credited)
		}
		m.minOnce.Do(func() { close(m.minCh) })
	}
	if credited >= need {
		m.fullySeededNow.Store(true)
		if m.fullySeededEver.CompareAndSwap(false, true) {
			m.log.Info("ESDM fully seeded", "credited_bits", credited)
		}
		m.operational.Store(true)
		m.fullOnce.Do(func() { close(m.fullCh) })
	}
}

func saturateAdd32(a, b uint32) uint32 {
	if sum := uint64(a) + uint64(b); sum <= uint64(^uint32(0)) {
		return uint32(sum)
	}
	return ^uint32(0)
}

// GetRandomBytes fills buf from a DRNG without a seed level guarantee. An
// opportunistic reseed precedes generation when the force latch, the output
// budget or the seed age demands one.
func (m *Manager) GetRandomBytes(buf []byte) (int, error) {
	return m.generate(context.Background(), buf, false)
}

// GetRandomBytesFull blocks until the ESDM has been fully seeded at least
// once, then serves buf from a fully seeded DRNG. Returns ErrAgain when a
// due reseed cannot gather a full seed.
func (m *Manager) GetRandomBytesFull(ctx context.Context, buf []byte) (int, error) {
	if err := m.waitSeeded(ctx, m.fullCh); err != nil {
		return 0, err
	}
	return m.generate(ctx, buf, true)
}

// GetRandomBytesMin blocks until the ESDM is at least minimally seeded,
// then behaves like GetRandomBytes.
func (m *Manager) GetRandomBytesMin(ctx context.Context, buf []byte) (int, error) {
	if err := m.waitSeeded(ctx, m.minCh); err != nil {
		return 0, err
	}
	return m.generate(ctx, buf, false)
}

// GetRandomBytesPR serves prediction-resistant output: each call reseeds
// from the entropy sources first and returns no more bytes than entropy was
// pulled for this call. A return of 0 bytes is legitimate.
func (m *Manager) GetRandomBytesPR(ctx context.Context, buf []byte) (int, error) {
	if err := m.waitSeeded(ctx, m.fullCh); err != nil {
		return 0, err
	}
	if m.closed.Load() {
		return 0, ErrShutdown
	}

	need := m.seedNeed()
	d := m.pick()

	srcData, srcBits := m.registry.PollAll(ctx, need)
	defer security.Wipe(srcData)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	seedAux, auxBits := m.pool.Extract(need)
	defer security.Wipe(seedAux)

	material := make([]byte, 0, len(srcData)+len(seedAux))
	material = append(material, srcData...)
	material = append(material, seedAux...)
	defer security.Wipe(material)

	total := saturateAdd32(srcBits, auxBits)
	if total < need {
		// A drained PR pull demotes the current seed level until the
		// next full reseed.
		m.fullySeededNow.Store(false)
		m.notify()
	}
	if total == 0 {
		return 0, nil
	}

	if err := d.Seed(material); err != nil {
		return 0, err
	}
	m.advanceState(total, need)
	m.notify()

	n := len(buf)
	if max := int(total / 8); n > max {
		n = max
	}
	if n == 0 {
		return 0, nil
	}
	return d.Generate(buf[:n])
}

func (m *Manager) waitSeeded(ctx context.Context, ch <-chan struct{}) error {
	if m.closed.Load() {
		return ErrShutdown
	}
	select {
	case <-ch:
		return nil
	default:
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) generate(ctx context.Context, buf []byte, mustFull bool) (int, error) {
	if m.closed.Load() {
		return 0, ErrShutdown
	}

	total := 0
	for total < len(buf) {
		end := total + drng.MaxRequestBytes
		if end > len(buf) {
			end = len(buf)
		}
		chunk := buf[total:end]

		d := m.pick()
		if d.NeedsReseed(m.reseedMaxAge()) {
			if _, err := m.tryReseed(ctx, d, mustFull); err != nil {
				if mustFull || errors.Is(err, context.Canceled) ||
					errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrShutdown) {
					return total, err
				}
				// Best-effort path continues on a thin reseed.
			}
		}

		n, err := d.Generate(chunk)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ForceReseed latches a reseed on every DRNG; the next generate on each
// instance reseeds before producing output.
func (m *Manager) ForceReseed() {
	for _, d := range m.drngs {
		d.SetForceReseed()
	}
	m.log.Info("forced reseed of all DRNG instances", "nodes", len(m.drngs))
}

// SeedDRNGs attempts to bring all DRNG instances to the full seed level.
// Short entropy is not an error; the call reports whether full seeding was
// reached.
func (m *Manager) SeedDRNGs(ctx context.Context) bool {
	full := true
	for _, d := range m.drngs {
		if _, err := m.tryReseed(ctx, d, true); err != nil {
			full = false
			if errors.Is(err, ErrAgain) {
				// Fall back to a best-effort seeding so the instance
				// at least reaches the minimal level.
				if _, err := m.tryReseed(ctx, d, false); err != nil {
					m.log.Warn("initial seeding failed", "node", d.Node(), "err", err)
				}
				continue
			}
			m.log.Warn("initial seeding failed", "node", d.Node(), "err", err)
		}
	}
	return full
}

// InsertAux credits entropy to the auxiliary pool. When the ESDM is not yet
// fully seeded, a full-seed attempt follows immediately so waiting callers
// make progress as soon as enough entropy has arrived.
func (m *Manager) InsertAux(data []byte, bits uint32) error {
	if err := m.pool.Insert(data, bits); err != nil {
		return err
	}
	m.notify()
	if !m.fullySeededEver.Load() {
		for _, d := range m.drngs {
			if _, err := m.tryReseed(context.Background(), d, true); err != nil {
				break
			}
		}
	}
	return nil
}

// AvailEntropy returns the total entropy estimate across sources and pool.
func (m *Manager) AvailEntropy() uint32 {
	return saturateAdd32(m.registry.AvailableEntropy(), m.pool.AvailableEntropy())
}

// AvailEntropyAux returns the entropy credited to the auxiliary pool.
func (m *Manager) AvailEntropyAux() uint32 {
	return m.pool.AvailableEntropy()
}

// PoolsizeAux returns the auxiliary pool size in bits.
func (m *Manager) PoolsizeAux() uint32 {
	return m.pool.Poolsize()
}

// SetEntropyAux overrides the pool credit. Debug interface.
func (m *Manager) SetEntropyAux(bits uint32) {
	m.pool.SetEntropy(bits)
	m.notify()
}

// Generation returns the highest reseed generation across all instances.
func (m *Manager) Generation() uint64 {
	var max uint64
	for _, d := range m.drngs {
		if g := d.Generation(); g > max {
			max = g
		}
	}
	return max
}

// Operational reports whether the ESDM has ever been fully seeded.
func (m *Manager) Operational() bool { return m.operational.Load() }

// FullySeeded reports whether a DRNG currently holds a full seed.
func (m *Manager) FullySeeded() bool { return m.fullySeededNow.Load() }

// MinSeeded reports whether the minimal seed level was reached.
func (m *Manager) MinSeeded() bool { return m.minSeeded.Load() }

// SP80090C reports whether the oversampling regime is active.
func (m *Manager) SP80090C() bool { return m.sp80090c }

// Nodes returns the number of DRNG instances.
func (m *Manager) Nodes() int { return len(m.drngs) }

// WriteWakeupBits returns the writer wakeup threshold.
func (m *Manager) WriteWakeupBits() uint32 { return m.writeWakeupBits.Load() }

// SetWriteWakeupBits updates the writer wakeup threshold.
func (m *Manager) SetWriteWakeupBits(bits uint32) {
	m.writeWakeupBits.Store(bits)
	m.notify()
}

// ReseedMaxSeconds returns the maximum seed age in seconds.
func (m *Manager) ReseedMaxSeconds() uint32 { return m.reseedMaxSeconds.Load() }

// SetReseedMaxSeconds updates the maximum seed age.
func (m *Manager) SetReseedMaxSeconds(secs uint32) {
	if secs == 0 {
		secs = 1
	}
	m.reseedMaxSeconds.Store(secs)
	m.notify()
}

// StatusText renders the human-readable status report.
func (m *Manager) StatusText(version string) string {
	return fmt.Sprintf(
		"ESDM library version: %s\n"+
			"DRNG security strength in bits: %d\n"+
			"Number of DRNG instances: %d\n"+
			"Standards compliance: %s\n"+
			"ESDM minimally seeded: %t\n"+
			"ESDM fully seeded: %t\n"+
			"ESDM entropy level: %d bits\n"+
			"Auxiliary pool entropy: %d bits\n"+
			"Auxiliary pool size: %d bits\n"+
			"DRNG generation: %d\n",
		version,
		drng.SecurityStrengthBits,
		len(m.drngs),
		m.complianceString(),
		m.MinSeeded(),
		m.FullySeeded(),
		m.AvailEntropy(),
		m.AvailEntropyAux(),
		m.PoolsizeAux(),
		m.Generation(),
	)
}

func (m *Manager) complianceString() string {
	if m.sp80090c {
		return "SP800-90A, SP800-90B, SP800-90C"
	}
	return "SP800-90A"
}

// Close zeroizes all DRNG instances, wipes the pool and shuts the sources
// down. All subsequent requests fail with ErrShutdown.
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	for _, d := range m.drngs {
		d.Close()
	}
	m.registry.FiniAll()
	m.pool.Close()
	m.log.Info("DRNG manager shut down")
}
