package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrMissingSalt = errors.New("crypto: server salt is required")

// Hasher digests user supplied codes and session tokens with a server-only salt.
type Hasher struct {
	salt string
}

func NewHasher(salt string) (*Hasher, error) {
	if strings.TrimSpace(salt) == "" {
		return nil, ErrMissingSalt
	}
	return &Hasher{salt: salt}, nil
}

// HashCode scopes code by scope (usually a class code) before digesting.
func (h *Hasher) HashCode(code, scope string) string {
	return digest(code + ":" + scope + ":" + h.salt)
}

func (h *Hasher) HashToken(token string) string {
	return digest(token + ":" + h.salt)
}

func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
