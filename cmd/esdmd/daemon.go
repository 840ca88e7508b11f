package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esdmd/internal/aux"
	"esdmd/internal/config"
	"esdmd/internal/logging"
	"esdmd/internal/manager"
	"esdmd/internal/privileges"
	"esdmd/internal/rpc"
	"esdmd/internal/source"
	"esdmd/internal/status"
)

// seedRetryInterval paces the background seeding attempts until the ESDM
// reaches the fully seeded level.
const seedRetryInterval = 5 * time.Second

// run dispatches between the three process roles: the reaper parent, the
// re-executed server child, and the single-process unprivileged mode used
// for development and tests.
func run(cfg *config.Config) int {
	log := logging.Default()

	switch {
	case *serveMode:
		// Child of the reaper; the privileged listener arrives on fd 3.
		ln, err := inheritedListener()
		if err != nil {
			log.Error("inherited listener", "err", err)
			return 1
		}
		return serve(cfg, ln)

	case privileges.IsRoot():
		return runReaper(cfg)

	default:
		log.Warn("not running as root; serving without privilege separation")
		return serve(cfg, nil)
	}
}

// inheritedListener recovers the privileged socket passed by the reaper.
func inheritedListener() (net.Listener, error) {
	f := os.NewFile(3, "esdm-rpc-priv")
	defer f.Close()
	return net.FileListener(f)
}

// serve is the server tier: entropy sources, pool, manager, RPC front end.
// It blocks until a termination signal arrives and returns the exit code.
func serve(cfg *config.Config, privLn net.Listener) int {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()
	return serveWith(ctx, cfg, privLn)
}

// serveWith runs the server tier until ctx is cancelled.
func serveWith(ctx context.Context, cfg *config.Config, privLn net.Listener) int {
	log := logging.Default()

	if err := cfg.EnsureDirectories(); err != nil {
		log.Error("create directories", "err", err)
		return 1
	}

	pool, err := aux.New(cfg.DigestBits)
	if err != nil {
		log.Error("aux pool", "err", err)
		return 1
	}

	registry := buildRegistry(cfg)

	mgr, err := manager.New(manager.Config{
		Nodes:            cfg.Nodes,
		SP80090C:         cfg.SP80090C,
		WriteWakeupBits:  cfg.WriteWakeupBits,
		ReseedMaxSeconds: cfg.ReseedMaxSeconds,
		Log:              logging.Component("manager"),
	}, pool, registry)
	if err != nil {
		log.Error("DRNG manager", "err", err)
		return 1
	}
	defer mgr.Close()

	if err := mgr.LoadSeed(cfg.SeedFilePath); err != nil {
		log.Warn("seed file", "err", err)
	}

	seg, err := status.Create(cfg.StatusDir)
	if err != nil {
		log.Error("status segment", "err", err)
		return 1
	}
	defer seg.Close()
	mgr.SetUpdateHook(func() {
		seg.Update(status.Snapshot{
			Operational:  mgr.Operational(),
			FullySeeded:  mgr.FullySeeded(),
			SP80090C:     mgr.SP80090C(),
			AvailEntropy: mgr.AvailEntropy(),
			Generation:   mgr.Generation(),
		})
	})

	svc := rpc.NewService(mgr, Version, logging.Component("rpc"))
	srv := rpc.NewServer(svc, cfg.PrivSocketPath, cfg.UnprivSocketPath,
		logging.Component("rpc"))
	if err := srv.Start(privLn); err != nil {
		log.Error("RPC server", "err", err)
		return 1
	}

	// The accept loops stay gated until privileges are gone for good.
	if privileges.IsRoot() {
		if err := privileges.DropTo(cfg.User); err != nil {
			log.Error("privilege drop", "err", err)
			srv.Stop()
			return 1
		}
		log.Info("privileges dropped", "user", cfg.User)
	}
	srv.SignalReady()

	if err := status.MarkReady(cfg.StatusDir); err != nil {
		log.Warn("readiness file", "err", err)
	}

	go seedLoop(ctx, mgr)
	go func() {
		_ = config.Watch(ctx, *configPath, logging.Component("config"), func(tn config.Tunables) {
			mgr.SetWriteWakeupBits(tn.WriteWakeupBits)
			mgr.SetReseedMaxSeconds(tn.ReseedMaxSeconds)
		})
	}()

	log.Info("esdmd up", "version", Version, "sp80090c", cfg.SP80090C)
	<-ctx.Done()
	log.Info("shutting down")

	srv.Stop()
	if err := mgr.SaveSeed(cfg.SeedFilePath); err != nil {
		log.Warn("seed file", "err", err)
	}
	return 0
}

// buildRegistry wires the configured entropy source drivers.
func buildRegistry(cfg *config.Config) *source.Registry {
	log := logging.Component("source")
	registry := source.NewRegistry()

	registry.Register(source.NewKernel())
	if cfg.EnableJitter {
		registry.Register(source.NewJitter())
	}
	if cfg.EnableTPM {
		if tpm, ok := source.NewTPM(); ok {
			registry.Register(tpm)
			log.Info("TPM entropy source registered")
		} else {
			log.Warn("TPM requested but no usable device found")
		}
	}
	return registry
}

// seedLoop drives seeding attempts until the ESDM is fully seeded and then
// returns; later reseeds happen on the request path when a DRNG's seed is
// due.
func seedLoop(ctx context.Context, mgr *manager.Manager) {
	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()

	for {
		if mgr.SeedDRNGs(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
