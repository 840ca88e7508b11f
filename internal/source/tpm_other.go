//go:build !linux

package source

// NewTPM reports no TPM on platforms without a TPM character device.
func NewTPM() (Source, bool) {
	return nil, false
}
