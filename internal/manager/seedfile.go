package manager

import (
	"fmt"
	"os"

	"esdmd/internal/security"
)

// SaveSeed persists seed material across a restart: one pool extraction
// concatenated with one block of DRNG output, written with owner-only
// permissions. Buffers are wiped on every path.
func (m *Manager) SaveSeed(path string) error {
	if path == "" {
		return nil
	}

	poolSeed, _ := m.pool.Extract(m.pool.Poolsize())
	defer security.Wipe(poolSeed)

	out := make([]byte, 32)
	defer security.Wipe(out)
	if _, err := m.pick().Generate(out); err != nil {
		return fmt.Errorf("manager: seed file generate: %w", err)
	}

	blob := make([]byte, 0, len(poolSeed)+len(out))
	blob = append(blob, poolSeed...)
	blob = append(blob, out...)
	defer security.Wipe(blob)

	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("manager: seed file write: %w", err)
	}
	m.log.Info("seed file written", "path", path, "bytes", len(blob))
	return nil
}

// LoadSeed folds a previously saved seed file into the auxiliary pool. The
// file contents are credited zero bits: data at rest cannot prove its
// entropy. The file is removed afterwards so a crash cannot replay it.
func (m *Manager) LoadSeed(path string) error {
	if path == "" {
		return nil
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("manager: seed file read: %w", err)
	}
	defer security.Wipe(blob)

	if err := m.pool.Insert(blob, 0); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		m.log.Warn("seed file not removed", "path", path, "err", err)
	}
	m.log.Info("seed file merged into aux pool", "path", path, "bytes", len(blob))
	return nil
}
