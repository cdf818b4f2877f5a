package utils

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

// Default scrypt parameters.  N=16384 with r=8 costs roughly 16 MiB and
// 50-100ms per hash on commodity hardware.
const (
	DefaultScryptN = 16384
	scryptR        = 8
	scryptP        = 1
	hashKeyLen     = 64
	saltLen        = 16
)

// ErrEmptyPassword is returned by Hash for an empty password.
var ErrEmptyPassword = errors.New("password is empty")

// PasswordHasher computes and checks salted scrypt digests.  It never
// persists anything; the users table owns the hash and salt.
type PasswordHasher struct {
	N int // CPU/memory cost, power of two
}

// NewPasswordHasher returns a hasher using cost n, or DefaultScryptN when n
// is not a power of two greater than one.
func NewPasswordHasher(n int) PasswordHasher {
	if n < 2 || n&(n-1) != 0 {
		n = DefaultScryptN
	}
	return PasswordHasher{N: n}
}

// Hash derives a hex digest from the NFC form of password and salt.  A
// composed "é" and a decomposed "é" therefore hash identically.
func (h PasswordHasher) Hash(password, salt string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	n := h.N
	if n == 0 {
		n = DefaultScryptN
	}
	key, err := scrypt.Key(
		[]byte(norm.NFC.String(password)),
		[]byte(norm.NFC.String(salt)),
		n, scryptR, scryptP, hashKeyLen,
	)
	if err != nil {
		return "", err
	}
	return norm.NFC.String(hex.EncodeToString(key)), nil
}

// Verify recomputes the digest and compares it in constant time.
func (h PasswordHasher) Verify(password, salt, expectedHash string) bool {
	got, err := h.Hash(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(norm.NFC.String(expectedHash))) == 1
}

// GenerateSalt returns 16 random bytes, hex encoded.
func GenerateSalt() (string, error) {
	s, err := RandomHex(saltLen)
	if err != nil {
		return "", err
	}
	return norm.NFC.String(s), nil
}
