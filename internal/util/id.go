package util

import (
	"crypto/rand"
	"encoding/hex"
)

// deviceIDBytes sizes generated ids; 16 random bytes keeps per-device
// session keys collision-free across any realistic fleet.
const deviceIDBytes = 16

// NewID returns a URL-safe hex id, used as the default device identity for
// the redis session key when none is configured.
func NewID() string {
	b := make([]byte, deviceIDBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
