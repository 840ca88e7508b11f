// esdmd is the Entropy Source and DRNG Manager daemon. It collects entropy
// from the configured sources, conditions it into the auxiliary pool,
// keeps the per-node DRNGs seeded and serves random bytes over the two
// RPC sockets.
//
// Startup runs as root and splits in two: the parent binds the privileged
// socket and stays behind as the reaper, the re-executed child serves
// requests after permanently dropping privileges. The reaper relays
// termination signals and removes sockets and the status segment once the
// server exits.
package main

import (
	"flag"
	"fmt"
	"os"

	"esdmd/internal/config"
	"esdmd/internal/logging"
)

// Version information (set via ldflags during build)
var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	configPath  = flag.String("config", "", "path to config file")
	userName    = flag.String("user", "", "account to drop privileges to (overrides config)")
	fipsMode    = flag.Bool("fips", false, "enable SP800-90C compliant operation")
	logLevel    = flag.String("log-level", "", "debug, info, warn or error (overrides config)")
	showVersion = flag.Bool("version", false, "print version and exit")
	serveMode   = flag.Bool("serve", false, "internal: run the server tier (set by the reaper)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("esdmd %s (%s)\n", Version, Commit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "esdmd: config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "esdmd: %v\n", err)
		os.Exit(1)
	}

	logging.Init(&logging.Config{
		Level:     logging.ParseLevel(cfg.LogLevel),
		Format:    logging.FormatText,
		Output:    os.Stderr,
		Component: "esdmd",
	})

	os.Exit(run(cfg))
}

func applyFlagOverrides(cfg *config.Config) {
	if *userName != "" {
		cfg.User = *userName
	}
	if *fipsMode {
		cfg.SP80090C = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
}
