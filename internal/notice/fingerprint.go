package notice

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns the stable hash used to detect duplicate announcements
// across runs. Two candidates with the same district and the same normalized
// text are the same announcement. Uniqueness holds within a district.
func Fingerprint(district DistrictCode, rawText string) string {
	sum := sha256.Sum256([]byte(string(district) + "\x00" + NormalizeText(rawText)))
	return hex.EncodeToString(sum[:])
}

// NormalizeText collapses all whitespace runs to a single space so that
// markup-only re-renders of the same announcement fingerprint identically.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
