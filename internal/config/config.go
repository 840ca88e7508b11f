// Package config handles configuration loading and validation for the ESDM
// daemon.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Default socket paths. Tests and unprivileged runs override these.
const (
	DefaultPrivSocketPath   = "/var/run/esdm-rpc-priv.socket"
	DefaultUnprivSocketPath = "/var/run/esdm-rpc-unpriv.socket"
)

// Config holds the daemon configuration.
type Config struct {
	// PrivSocketPath is the root-only control socket (mode 0600).
	PrivSocketPath string `toml:"priv_socket_path"`

	// UnprivSocketPath is the public data socket (mode 0666).
	UnprivSocketPath string `toml:"unpriv_socket_path"`

	// User is the account the server drops privileges to.
	User string `toml:"user"`

	// SP80090C enables the SP800-90C oversampling regime (FIPS mode).
	SP80090C bool `toml:"sp80090c"`

	// DigestBits selects the conditioning hash width (256 or 512).
	DigestBits int `toml:"digest_bits"`

	// Nodes is the number of DRNG instances. 0 means one per CPU.
	Nodes int `toml:"nodes"`

	// WriteWakeupBits is the entropy threshold for writer wakeups.
	WriteWakeupBits uint32 `toml:"write_wakeup_bits"`

	// ReseedMaxSeconds forces a reseed when a DRNG has not been reseeded
	// for this long.
	ReseedMaxSeconds uint32 `toml:"reseed_max_seconds"`

	// SeedFilePath stores a seed across restarts. Empty disables it.
	SeedFilePath string `toml:"seed_file_path"`

	// StatusDir holds the shared status segment and readiness file.
	StatusDir string `toml:"status_dir"`

	// EnableJitter registers the CPU jitter entropy source.
	EnableJitter bool `toml:"enable_jitter"`

	// EnableTPM registers the TPM entropy source when a TPM is present.
	EnableTPM bool `toml:"enable_tpm"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PrivSocketPath:   DefaultPrivSocketPath,
		UnprivSocketPath: DefaultUnprivSocketPath,
		User:             "nobody",
		SP80090C:         false,
		DigestBits:       256,
		Nodes:            0,
		WriteWakeupBits:  256,
		ReseedMaxSeconds: 600,
		SeedFilePath:     "/var/lib/esdm/seed",
		StatusDir:        "/dev/shm",
		EnableJitter:     true,
		EnableTPM:        false,
		LogLevel:         "info",
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return "/etc/esdm/esdmd.toml"
}

// Load reads configuration from the specified path. If the file does not
// exist, defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PrivSocketPath == "" || c.UnprivSocketPath == "" {
		return errors.New("config: socket paths are required")
	}
	if c.PrivSocketPath == c.UnprivSocketPath {
		return errors.New("config: socket paths must differ")
	}
	if c.DigestBits != 256 && c.DigestBits != 512 {
		return errors.New("config: digest_bits must be 256 or 512")
	}
	if c.Nodes < 0 {
		return errors.New("config: nodes must not be negative")
	}
	if c.ReseedMaxSeconds == 0 {
		return errors.New("config: reseed_max_seconds must be at least 1")
	}
	if c.User == "" {
		return errors.New("config: user is required")
	}
	return nil
}

// EnsureDirectories creates directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.PrivSocketPath),
		filepath.Dir(c.UnprivSocketPath),
		c.StatusDir,
	}
	if c.SeedFilePath != "" {
		dirs = append(dirs, filepath.Dir(c.SeedFilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
