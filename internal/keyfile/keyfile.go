// Package keyfile loads the 32-byte pre-shared key from disk through
// spf13/afero, so startup code can be tested against an in-memory
// filesystem instead of a real PSK file (SPEC_FULL.md §6, §9).
package keyfile

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/cwheel/outpost/internal/outpostcrypto"
)

// Load reads exactly outpostcrypto.KeySize raw bytes from path on fs. Any
// other length is a startup-fatal KEY_IO error (SPEC_FULL.md §7).
func Load(fs afero.Fs, path string) (outpostcrypto.Key, error) {
	var key outpostcrypto.Key

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return key, fmt.Errorf("keyfile: reading %s: %w", path, err)
	}
	if len(data) != outpostcrypto.KeySize {
		return key, fmt.Errorf("keyfile: %s must be exactly %d bytes, got %d", path, outpostcrypto.KeySize, len(data))
	}

	copy(key[:], data)
	return key, nil
}
