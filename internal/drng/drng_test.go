package drng

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedBits(t *testing.T) {
	assert.Equal(t, uint32(256), SeedBits(false))
	assert.Equal(t, uint32(384), SeedBits(true))
}

func TestSeedBumpsGeneration(t *testing.T) {
	d, err := New(0)
	require.NoError(t, err)
	defer d.Close()

	assert.Zero(t, d.Generation())
	require.NoError(t, d.Seed([]byte("seed material one")))
	assert.Equal(t, uint64(1), d.Generation())
	require.NoError(t, d.Seed([]byte("seed material two")))
	assert.Equal(t, uint64(2), d.Generation())
}

func TestGenerateAccountsOutput(t *testing.T) {
	d, err := New(0)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Seed([]byte("seed")))

	buf := make([]byte, 128)
	n, err := d.Generate(buf)
	require.NoError(t, err)
	assert.Equal(t, 128, n)
	assert.Equal(t, uint64(128), d.BytesSinceReseed())

	require.NoError(t, d.Seed([]byte("again")))
	assert.Zero(t, d.BytesSinceReseed())
}

func TestGenerateOutputsDiffer(t *testing.T) {
	d, err := New(0)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Seed([]byte("seed")))

	a := make([]byte, 32)
	b := make([]byte, 32)
	_, err = d.Generate(a)
	require.NoError(t, err)
	_, err = d.Generate(b)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b))
}

func TestGenerateCap(t *testing.T) {
	d, err := New(0)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Generate(make([]byte, MaxRequestBytes+1))
	assert.ErrorIs(t, err, ErrRequestTooLarge)

	buf := make([]byte, MaxRequestBytes)
	n, err := d.Generate(buf)
	require.NoError(t, err)
	assert.Equal(t, MaxRequestBytes, n)
}

func TestNeedsReseed(t *testing.T) {
	d, err := New(0)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Seed([]byte("seed")))

	assert.False(t, d.NeedsReseed(time.Hour))

	d.SetForceReseed()
	assert.True(t, d.NeedsReseed(time.Hour))
	require.NoError(t, d.Seed([]byte("clears the latch")))
	assert.False(t, d.NeedsReseed(time.Hour))

	// Output budget exhaustion.
	buf := make([]byte, MaxRequestBytes)
	for produced := 0; produced <= ReseedThresholdBytes; produced += len(buf) {
		_, err := d.Generate(buf)
		require.NoError(t, err)
	}
	assert.True(t, d.NeedsReseed(time.Hour))

	// Seed age.
	require.NoError(t, d.Seed([]byte("fresh")))
	assert.True(t, d.NeedsReseed(0))
}

func TestUnseededDoesNotAgeTrigger(t *testing.T) {
	d, err := New(0)
	require.NoError(t, err)
	defer d.Close()
	// Never seeded: the age rule must not fire on the zero timestamp.
	assert.False(t, d.NeedsReseed(time.Nanosecond))
}

func TestClosed(t *testing.T) {
	d, err := New(3)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Node())
	d.Close()

	assert.ErrorIs(t, d.Seed([]byte("x")), ErrClosed)
	_, err = d.Generate(make([]byte, 8))
	assert.ErrorIs(t, err, ErrClosed)
}
