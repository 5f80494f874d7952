package template

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeContent lowercases the text and collapses all whitespace
// runs to single spaces, so trivially reworded duplicates hash alike.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// Hash returns the hex SHA-256 of the normalized content. This is the
// dedup key for template reuse and the spam counter.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}
