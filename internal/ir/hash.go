package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed ids. The version suffix allows the
// hashed shape to change without colliding with older ids.
const (
	DomainRecord   = "caps/record/v1"
	DomainSpec     = "caps/spec/v1"
	DomainSnapshot = "caps/snapshot/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data) as lowercase hex.
// The separator keeps domain and data boundaries unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentID hashes the canonical form of v under a domain.
func ContentID(domain string, v IRValue) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("content id %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// RecordID computes the content id of a journal record body.
// Two sessions that made the same call at the same position with the same
// result produce the same id, which makes traces comparable across runs.
func RecordID(body IRObject) (string, error) {
	return ContentID(DomainRecord, body)
}

// SpecHash computes the content id of a compiled problem description.
func SpecHash(spec *ProblemSpec) (string, error) {
	return ContentID(DomainSpec, spec.ToIR())
}

// MustSpecHash is like SpecHash but panics on error.
// Use only in tests or with specs known to be valid.
func MustSpecHash(spec *ProblemSpec) string {
	h, err := SpecHash(spec)
	if err != nil {
		panic(err)
	}
	return h
}

// SnapshotHash identifies the serialized bytes of a restart snapshot.
func SnapshotHash(data []byte) string {
	return hashWithDomain(DomainSnapshot, data)
}
