// Package canonicalize produces RFC 8785 (JSON Canonicalization Scheme)
// encodings for the pipeline's content hashing: workflow history chain
// links, audit-object digests, and timeline entry hashes all depend on a
// byte-stable encoding, so two replicas hashing the same payload must
// produce the same digest regardless of map iteration order.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON encoding of v: keys sorted by
// UTF-16 code units, ES6 number formatting, no HTML escaping. v is first
// marshaled with encoding/json so struct tags are honored.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the SHA-256 hex digest of v's canonical encoding.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// JCSString returns the canonical encoding as a string.
func JCSString(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
