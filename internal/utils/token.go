package utils // package utils provides helpers for token and credential generation

import (
	"crypto/rand"  // secure random number generation
	"encoding/hex" // hex encoding of random bytes
)

// SessionTokenBytes is the amount of entropy in a session token before hex
// encoding.  64 bytes gives 512 bits and a 128 character token.
const SessionTokenBytes = 64

// NewSessionToken returns an opaque, high-entropy session identifier.  It
// is a pure lookup key and carries no information about its owner.
func NewSessionToken() (string, error) {
	return RandomHex(SessionTokenBytes)
}

// RandomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.  If the random number generator
// fails, an error is returned.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
