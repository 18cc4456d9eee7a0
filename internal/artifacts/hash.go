package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashPrefix marks the digest algorithm of stored prompt hashes.
const HashPrefix = "sha256:"

// HashPrompt returns "sha256:" + hex(sha256(system || 0x00 || user)).
func HashPrompt(system, user string) string {
	h := sha256.New()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(user))
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// ValidHash reports whether value has the shape HashPrompt produces.
func ValidHash(value string) bool {
	digest, ok := strings.CutPrefix(value, HashPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return false
	}
	for _, r := range digest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
