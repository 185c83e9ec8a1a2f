package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashCredential returns a one-way fingerprint of an API token. It is used as
// a lookup key wherever the raw credential must not be stored twice.
func HashCredential(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// LooksLikeAPIToken is a format sanity check only ("user:HEX").
func LooksLikeAPIToken(token string) bool {
	i := strings.IndexByte(token, ':')
	return i > 0 && i < len(token)-1
}

// UsernameFromToken returns the user part of a "user:HEX" token.
func UsernameFromToken(token string) string {
	if i := strings.IndexByte(token, ':'); i > 0 {
		return token[:i]
	}
	return ""
}
