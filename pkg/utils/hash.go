package utils

import (
	"encoding/hex"

	"github.com/go-crypt/x/blake2b"
)

// HashString returns the hex encoded BLAKE2b-256 digest of input.
func HashString(input string) string {
	h, _ := blake2b.New(32, nil) // only fails for invalid sizes or keys
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}
