package kernel

import (
	"crypto/sha512"
	"encoding/hex"
)

// ApiKeyHash is how reseller api keys are stored: hex encoded sha512.
func ApiKeyHash(key string) string {
	sum := sha512.Sum512([]byte(key))
	return hex.EncodeToString(sum[:])
}
