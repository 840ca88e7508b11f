//go:build unix

// Package status maintains the shared status segment: a small fixed-layout
// file under /dev/shm the daemon mmaps and refreshes on every state change,
// plus a readiness file created once both RPC sockets accept connections.
// Clients read the segment without a round-trip to the daemon. Both files
// are created by the server and removed by the reaper.
package status

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// File names inside the status directory.
const (
	SegmentName = "esdm-status"
	ReadyName   = "esdm-ready"
)

// SegmentSize is the fixed segment layout size: operational u8,
// fully_seeded u8, sp80090c u8, one pad byte, avail_entropy u32 LE,
// generation u64 LE.
const SegmentSize = 16

// ErrSegmentSize is returned when an existing segment has a foreign size.
var ErrSegmentSize = errors.New("status: unexpected segment size")

// Snapshot is the decoded segment content.
type Snapshot struct {
	Operational  bool
	FullySeeded  bool
	SP80090C     bool
	AvailEntropy uint32
	Generation   uint64
}

// Segment is the writer side, held by the daemon.
type Segment struct {
	f   *os.File
	mem []byte
}

// Create sets up the mmapped segment under dir.
func Create(dir string) (*Segment, error) {
	path := filepath.Join(dir, SegmentName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("status: create segment: %w", err)
	}
	if err := f.Truncate(SegmentSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("status: size segment: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, SegmentSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("status: mmap segment: %w", err)
	}
	return &Segment{f: f, mem: mem}, nil
}

// Update publishes a snapshot into the segment.
func (s *Segment) Update(snap Snapshot) {
	s.mem[0] = boolByte(snap.Operational)
	s.mem[1] = boolByte(snap.FullySeeded)
	s.mem[2] = boolByte(snap.SP80090C)
	s.mem[3] = 0
	binary.LittleEndian.PutUint32(s.mem[4:8], snap.AvailEntropy)
	binary.LittleEndian.PutUint64(s.mem[8:16], snap.Generation)
}

// Close unmaps the segment. The file stays for the reaper to remove.
func (s *Segment) Close() {
	if s.mem != nil {
		unix.Munmap(s.mem)
		s.mem = nil
	}
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Read decodes the segment under dir without mapping it.
func Read(dir string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, SegmentName))
	if err != nil {
		return Snapshot{}, err
	}
	if len(data) != SegmentSize {
		return Snapshot{}, ErrSegmentSize
	}
	return Snapshot{
		Operational:  data[0] != 0,
		FullySeeded:  data[1] != 0,
		SP80090C:     data[2] != 0,
		AvailEntropy: binary.LittleEndian.Uint32(data[4:8]),
		Generation:   binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

// MarkReady creates the readiness file. The daemon calls this once both
// sockets accept connections.
func MarkReady(dir string) error {
	return os.WriteFile(filepath.Join(dir, ReadyName), []byte{1}, 0o644)
}

// Ready reports whether the readiness file exists.
func Ready(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ReadyName))
	return err == nil
}

// Remove deletes the segment and readiness files. Reaper duty; missing
// files are not an error.
func Remove(dir string) error {
	var firstErr error
	for _, name := range []string{SegmentName, ReadyName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
