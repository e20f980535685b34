package task

import (
	"encoding/hex"
	"fmt"
	"hash"
)

// checksumVerifier hashes the body as it streams into the sink.
type checksumVerifier struct {
	hash     hash.Hash
	expected string
}

func (v *checksumVerifier) Write(p []byte) (int, error) {
	return v.hash.Write(p)
}

// Verify is a no-op on a nil verifier.
func (v *checksumVerifier) Verify() error {
	if v == nil {
		return nil
	}

	actual := hex.EncodeToString(v.hash.Sum(nil))
	if actual != v.expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksum, v.expected, actual)
	}

	return nil
}
