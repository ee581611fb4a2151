package utils

import (
	"crypto/sha1"
	"encoding/hex"
)

// MakeHash returns a stable hex hash string for the given key.
// The same key always produces the same hash across process restarts,
// so hashes are safe to use as persistent file names.
func MakeHash(key string) string {
	hash := sha1.New()
	hash.Write([]byte(key))
	hashBytes := hash.Sum(nil)
	return hex.EncodeToString(hashBytes)
}
