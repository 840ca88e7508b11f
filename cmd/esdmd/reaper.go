package main

import (
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"esdmd/internal/config"
	"esdmd/internal/logging"
	"esdmd/internal/rpc"
	"esdmd/internal/status"
)

// runReaper is the retained-privilege parent: it binds the privileged
// socket, re-executes itself as the server tier with the listener on fd 3,
// relays termination signals, and after the server exits removes both
// sockets and the shared status files that the unprivileged server can no
// longer unlink.
func runReaper(cfg *config.Config) int {
	log := logging.Component("reaper")

	if err := cfg.EnsureDirectories(); err != nil {
		log.Error("create directories", "err", err)
		return 1
	}

	privLn, err := rpc.Listen(cfg.PrivSocketPath, rpc.PrivSocketMode)
	if err != nil {
		log.Error("privileged socket", "err", err)
		return 1
	}

	lnFile, err := privLn.(*net.UnixListener).File()
	if err != nil {
		log.Error("listener fd", "err", err)
		return 1
	}
	defer lnFile.Close()

	self, err := os.Executable()
	if err != nil {
		log.Error("resolve executable", "err", err)
		return 1
	}

	args := append([]string{"-serve"}, os.Args[1:]...)
	cmd := exec.Command(self, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{lnFile}

	if err := cmd.Start(); err != nil {
		log.Error("start server tier", "err", err)
		return 1
	}
	log.Info("server tier started", "pid", cmd.Process.Pid)

	// The duplicated fd keeps the socket alive in the child. Closing the
	// parent's copy must not unlink the path the child serves on.
	privLn.(*net.UnixListener).SetUnlinkOnClose(false)
	privLn.Close()

	// Relay termination signals to the child; it performs the orderly
	// shutdown, the reaper only cleans up afterwards.
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	relayDone := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				_ = cmd.Process.Signal(sig)
			case <-relayDone:
				return
			}
		}
	}()

	err = cmd.Wait()
	close(relayDone)
	signal.Stop(sigCh)

	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		log.Error("wait for server tier", "err", err)
		code = 1
	}

	cleanup(cfg, log)
	return code
}

// cleanup removes everything the server created but cannot unlink after
// the privilege drop. Failures are logged, never fatal.
func cleanup(cfg *config.Config, log *slog.Logger) {
	for _, path := range []string{cfg.PrivSocketPath, cfg.UnprivSocketPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("socket not removed", "path", path, "err", err)
		}
	}
	if err := status.Remove(cfg.StatusDir); err != nil {
		log.Warn("status files not removed", "err", err)
	}
	log.Info("cleanup complete")
}
