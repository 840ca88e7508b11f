//go:build linux

package source

import (
	"context"
	"os"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// TPM device paths in order of preference.
var tpmDevicePaths = []string{
	"/dev/tpmrm0", // TPM resource manager
	"/dev/tpm0",   // direct access
}

// tpmSource pulls from a TPM 2.0 hardware RNG. GetRandom returns at most
// the digest size of the TPM's hash per call, so larger requests loop.
type tpmSource struct {
	mu     sync.Mutex
	dev    transport.TPMCloser
	health *Health
}

// NewTPM opens the first usable TPM device and returns it as an entropy
// source. A nil Source with ok=false means no TPM is present; the caller
// simply does not register the source.
func NewTPM() (Source, bool) {
	for _, path := range tpmDevicePaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		dev, err := transport.OpenTPM(path)
		if err != nil {
			continue
		}
		return &tpmSource{dev: dev, health: NewHealth()}, true
	}
	return nil, false
}

func (t *tpmSource) Name() string { return "tpm" }

func (t *tpmSource) AvailableEntropy() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil || !t.health.Healthy() {
		return 0
	}
	return 256
}

func (t *tpmSource) Poll(ctx context.Context, needBits uint32) ([]byte, uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil, 0, nil
	}

	n := int(needBits+7) / 8
	buf := make([]byte, 0, n)
	for len(buf) < n {
		if err := ctx.Err(); err != nil {
			return buf, 0, err
		}
		want := n - len(buf)
		if want > 32 {
			want = 32
		}
		rsp, err := tpm2.GetRandom{BytesRequested: uint16(want)}.Execute(t.dev)
		if err != nil {
			return buf, 0, err
		}
		buf = append(buf, rsp.RandomBytes.Buffer...)
	}

	t.health.FeedAll(buf)
	if !t.health.Healthy() {
		return buf, 0, nil
	}
	return buf, needBits, nil
}

func (t *tpmSource) Fini() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
}
