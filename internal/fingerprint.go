package internal

import "crypto/sha256"

// HashBindingValue hashes a client-supplied binding value (device
// fingerprint, IP, user agent) for storage. Raw values are never persisted.
func HashBindingValue(value string) [32]byte {
	return sha256.Sum256([]byte(value))
}
