package utils

import (
	"crypto/sha256"
	"fmt"
)

// HashString returns a short hex digest used for cache keys and artifact
// object names.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", sum[:12])
}
