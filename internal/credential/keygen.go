package credential

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// KeyPrefix marks vantage API key secrets so they are recognizable in
// operator tooling without revealing anything about the key itself.
const KeyPrefix = "vnt_"

// NewKeySecret generates a fresh API key secret. The secret is returned
// exactly once at mint time; only its argon2id hash and SHA-256 fingerprint
// are ever persisted.
func NewKeySecret() string {
	var material []byte
	for i := 0; i < 4; i++ {
		id := uuid.New()
		material = append(material, id[:]...)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(material)
}

// Fingerprint returns the hex SHA-256 of a key secret. It is stored alongside
// the slow hash to make lookup O(1); verification still goes through the
// argon2id hash.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// LooksLikeKey reports whether a presented credential has the API key shape.
func LooksLikeKey(secret string) bool {
	return strings.HasPrefix(secret, KeyPrefix)
}
