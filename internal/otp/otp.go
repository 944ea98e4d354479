// Package otp generates and compares one-time verification codes.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"strconv"
)

const (
	codeMin   = 100000
	codeRange = 900000 // codes are uniform over [100000, 999999]
)

// GenerateCode returns a 6-digit numeric code drawn uniformly from [100000, 999999]
// using crypto/rand. It never has a leading zero.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// HashCode returns a SHA-256 hash of the code, hex-encoded.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual performs constant-time comparison of the provided code's hash with the stored hash.
func CodeEqual(providedCode, storedHash string) bool {
	if providedCode == "" {
		return false
	}
	providedHash := HashCode(providedCode)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
