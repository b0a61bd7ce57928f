package service

import (
	"crypto/sha256"
	"encoding/hex"
)

// ChecksumLength is the length of a hex encoded checksum
const ChecksumLength = sha256.Size * 2

// Checksum returns the lower-case hex SHA-256 digest of a migration's content.
// It depends on the bytes only, never on the filename or the host.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
