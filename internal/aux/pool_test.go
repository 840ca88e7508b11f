package aux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownWidth(t *testing.T) {
	_, err := New(384)
	assert.ErrorIs(t, err, ErrDigestWidth)
}

func TestInsertNilBuffer(t *testing.T) {
	p, err := New(Digest256)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Insert(nil, 0), ErrNilBuffer)
}

func TestCreditAccounting(t *testing.T) {
	for _, width := range []int{Digest256, Digest512} {
		p, err := New(width)
		require.NoError(t, err)

		require.NoError(t, p.Insert([]byte("a"), 100))
		assert.Equal(t, uint32(100), p.AvailableEntropy())

		require.NoError(t, p.Insert([]byte("b"), 100))
		assert.Equal(t, uint32(200), p.AvailableEntropy())

		// Credit saturates at the pool size.
		require.NoError(t, p.Insert([]byte("c"), 1<<31))
		assert.Equal(t, uint32(width), p.AvailableEntropy())

		_, bits := p.Extract(uint32(width))
		assert.Equal(t, uint32(width), bits)
		assert.Zero(t, p.AvailableEntropy())
	}
}

func TestCreditSaturationNoOverflow(t *testing.T) {
	p, err := New(Digest256)
	require.NoError(t, err)
	p.SetEntropy(Digest256)
	// An addend that would wrap uint32 must not under-credit.
	require.NoError(t, p.Insert([]byte("x"), ^uint32(0)))
	assert.Equal(t, uint32(Digest256), p.AvailableEntropy())
}

func TestExtractCapsAtPoolsize(t *testing.T) {
	p, err := New(Digest256)
	require.NoError(t, err)
	p.SetEntropy(Digest256)

	seed, bits := p.Extract(4096)
	assert.Len(t, seed, Digest256/8)
	assert.Equal(t, uint32(Digest256), bits)
}

func TestExtractReturnsMinOfCreditedAndWant(t *testing.T) {
	p, err := New(Digest256)
	require.NoError(t, err)
	p.SetEntropy(128)

	_, bits := p.Extract(64)
	assert.Equal(t, uint32(64), bits)
	// Extraction zeroes the credit regardless of how much was withdrawn.
	assert.Zero(t, p.AvailableEntropy())
}

func TestExtractNeverReplays(t *testing.T) {
	p, err := New(Digest256)
	require.NoError(t, err)
	require.NoError(t, p.Insert([]byte("event"), 32))

	first, _ := p.Extract(256)
	second, _ := p.Extract(256)
	assert.False(t, bytes.Equal(first, second), "consecutive extracts replayed seed material")
}

func TestExtractDependsOnInsertedData(t *testing.T) {
	p1, _ := New(Digest256)
	p2, _ := New(Digest256)
	require.NoError(t, p1.Insert([]byte("alpha"), 8))
	require.NoError(t, p2.Insert([]byte("beta"), 8))

	s1, _ := p1.Extract(256)
	s2, _ := p2.Extract(256)
	assert.False(t, bytes.Equal(s1, s2))
}

func TestSetEntropyClamps(t *testing.T) {
	p, err := New(Digest512)
	require.NoError(t, err)
	p.SetEntropy(10_000)
	assert.Equal(t, uint32(Digest512), p.AvailableEntropy())
}

func TestPoolsize(t *testing.T) {
	p256, _ := New(Digest256)
	p512, _ := New(Digest512)
	assert.Equal(t, uint32(256), p256.Poolsize())
	assert.Equal(t, uint32(512), p512.Poolsize())
}

func TestClose(t *testing.T) {
	p, err := New(Digest256)
	require.NoError(t, err)
	require.NoError(t, p.Insert([]byte("data"), 16))
	p.Close()

	assert.ErrorIs(t, p.Insert([]byte("more"), 8), ErrClosed)
	seed, bits := p.Extract(256)
	assert.Nil(t, seed)
	assert.Zero(t, bits)
	// Close is idempotent.
	p.Close()
}
