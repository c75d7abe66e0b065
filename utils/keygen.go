// utils/keygen.go
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// randomHex returns n random bytes hex-encoded (2n characters).
func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateInvitationCode builds a product-prefixed invitation code,
// e.g. "VELO-3F9A21BC". Uppercase throughout; codes are compared
// case-insensitively by uppercasing input at the boundary.
func GenerateInvitationCode(productSlug string) string {
	prefix := strings.ToUpper(productSlug)
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(randomHex(4)))
}

// GenerateReferralCode builds the shareable code a member hands out,
// seeded from their name for recognizability, e.g. "ANNA-7C01".
func GenerateReferralCode(memberName string) string {
	seed := strings.ToUpper(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return r
		}
		return -1
	}, memberName))
	if len(seed) > 4 {
		seed = seed[:4]
	}
	if seed == "" {
		seed = "REF"
	}
	return fmt.Sprintf("%s-%s", seed, strings.ToUpper(randomHex(2)))
}

// GenerateAPIKey returns a new plaintext API key and its sha256 hash.
// Only the hash is persisted.
func GenerateAPIKey() (key string, hash string) {
	key = "vis_" + randomHex(32)
	return key, HashAPIKey(key)
}

// HashAPIKey is the lookup hash for stored API keys.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
