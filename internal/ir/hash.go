package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes separate digests of different kinds of content.
// The version suffix leaves room for changing the encoding later.
const (
	DomainSnapshot = "strand/snapshot/v1"
	DomainAction   = "strand/action/v1"
	DomainRun      = "strand/run/v1"
)

// hashWithDomain returns hex(SHA256(domain || 0x00 || data)).
// The zero byte keeps domain and data from running into each other.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest hashes the canonical encoding of v under domain.
func Digest(domain string, v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when v is built from known-good parts.
func MustDigest(domain string, v Value) string {
	d, err := Digest(domain, v)
	if err != nil {
		panic(err)
	}
	return d
}
