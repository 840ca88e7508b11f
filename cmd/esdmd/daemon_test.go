package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esdmd/internal/config"
	"esdmd/internal/rpc"
	"esdmd/internal/status"
)

// testConfig builds a daemon configuration confined to a temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.PrivSocketPath = filepath.Join(dir, "priv.socket")
	cfg.UnprivSocketPath = filepath.Join(dir, "unpriv.socket")
	cfg.StatusDir = filepath.Join(dir, "shm")
	cfg.SeedFilePath = filepath.Join(dir, "seed")
	cfg.Nodes = 1
	cfg.EnableJitter = false
	require.NoError(t, cfg.Validate())
	require.NoError(t, os.MkdirAll(cfg.StatusDir, 0o755))
	return cfg
}

func TestServeLifecycle(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan int, 1)
	go func() { exited <- serveWith(ctx, cfg, nil) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	require.NoError(t, status.WaitReady(waitCtx, cfg.StatusDir))

	// The kernel source seeds the daemon quickly; wait for operational.
	deadline := time.Now().Add(10 * time.Second)
	for {
		snap, err := status.Read(cfg.StatusDir)
		if err == nil && snap.Operational {
			assert.True(t, snap.FullySeeded)
			assert.Positive(t, snap.Generation)
			break
		}
		require.True(t, time.Now().Before(deadline), "daemon never became operational")
		time.Sleep(50 * time.Millisecond)
	}

	// Full-strength requests succeed over the wire.
	c, err := rpc.Dial(cfg.UnprivSocketPath)
	require.NoError(t, err)
	out, err := c.GetRandomBytes(rpc.MethodGetRandomBytesFull, 32)
	require.NoError(t, err)
	assert.Len(t, out, 32)

	v, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, Version, v)
	c.Close()

	// Both sockets answer; the privileged one carries the query methods
	// too.
	pc, err := rpc.Dial(cfg.PrivSocketPath)
	require.NoError(t, err)
	_, err = pc.Value(rpc.MethodAvailEntropy)
	require.NoError(t, err)
	pc.Close()

	cancel()
	select {
	case code := <-exited:
		assert.Zero(t, code)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	// The shutdown path persisted a seed file.
	assert.FileExists(t, cfg.SeedFilePath)
}

func TestServeSeedFileConsumedOnStartup(t *testing.T) {
	cfg := testConfig(t)

	// First run writes the seed file on shutdown.
	ctx1, cancel1 := context.WithCancel(context.Background())
	exited := make(chan int, 1)
	go func() { exited <- serveWith(ctx1, cfg, nil) }()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	require.NoError(t, status.WaitReady(waitCtx, cfg.StatusDir))
	cancel1()
	require.Zero(t, <-exited)
	require.FileExists(t, cfg.SeedFilePath)

	// Second run consumes it.
	require.NoError(t, status.Remove(cfg.StatusDir))
	ctx2, cancel2 := context.WithCancel(context.Background())
	go func() { exited <- serveWith(ctx2, cfg, nil) }()
	waitCtx2, waitCancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel2()
	require.NoError(t, status.WaitReady(waitCtx2, cfg.StatusDir))

	// The file is merged into the pool and removed before the daemon
	// signals readiness.
	assert.NoFileExists(t, cfg.SeedFilePath)

	cancel2()
	<-exited
}

func TestBuildRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableJitter = true

	reg := buildRegistry(cfg)
	srcs := reg.Sources()
	require.Len(t, srcs, 2)
	assert.Equal(t, "krng", srcs[0].Name())
	assert.Equal(t, "jitter", srcs[1].Name())
}
