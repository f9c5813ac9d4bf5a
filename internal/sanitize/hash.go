package sanitize

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
)

// hashConstructors maps supported algorithm names to hash.Hash constructors.
var hashConstructors = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha512": sha512.New,
	"sha1":   sha1.New,
}

// FieldHasher computes keyed digests of original PII values. The digest of
// secret || value is independent of the token store: a hashed field remains
// computable even if the token map is lost, provided the secret is known.
type FieldHasher struct {
	newHash func() hash.Hash
	secret  []byte
}

// NewFieldHasher creates a hasher for the named algorithm (sha256, sha512 or
// sha1). The secret is injected explicitly; resolution from the environment
// and the missing-secret warning live in the config layer, not here.
func NewFieldHasher(algorithm, secret string) (*FieldHasher, error) {
	ctor, ok := hashConstructors[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
	return &FieldHasher{newHash: ctor, secret: []byte(secret)}, nil
}

// Hash returns the lowercase hex digest of secret || value.
func (h *FieldHasher) Hash(value string) string {
	d := h.newHash()
	d.Write(h.secret)
	d.Write([]byte(value))
	return hex.EncodeToString(d.Sum(nil))
}
