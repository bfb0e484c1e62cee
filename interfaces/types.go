// Package interfaces defines the core types and contracts for the credential
// rotation engine. It provides the boundary between components without
// implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxSubjectIDLength bounds subject identifiers to keep them indexable in
// every backend.
const MaxSubjectIDLength = 256

// SubjectID is the stable external identifier a credential is bound to.
// At most one credential record exists per subject at any time.
type SubjectID string

// NewSubjectID creates a subject identifier with validation.
func NewSubjectID(s string) (SubjectID, error) {
	id := SubjectID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// String returns the subject identifier as a string.
func (s SubjectID) String() string {
	return string(s)
}

// Validate checks the subject identifier is usable as a record key.
func (s SubjectID) Validate() error {
	if s == "" {
		return errors.New("subject id must not be empty")
	}
	if len(s) > MaxSubjectIDLength {
		return fmt.Errorf("subject id exceeds %d bytes", MaxSubjectIDLength)
	}
	if strings.ContainsRune(string(s), 0) {
		return errors.New("subject id must not contain NUL bytes")
	}
	return nil
}

// CredentialRecord is the single persisted row per subject. CipherText is an
// opaque, versioned, self-describing blob produced by the credential sealer;
// it is never decomposed outside of it. UpdatedAt only moves forward and only
// together with a CipherText write.
type CredentialRecord struct {
	SubjectID  SubjectID
	CipherText []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy so stores can hand out records without aliasing
// their internal state.
func (r *CredentialRecord) Clone() *CredentialRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.CipherText = append([]byte(nil), r.CipherText...)
	return &cp
}

// Stamp returns the record's version stamp used for optimistic concurrency
// control.
func (r *CredentialRecord) Stamp() VersionStamp {
	return VersionStamp{CipherText: r.CipherText, UpdatedAt: r.UpdatedAt}
}

// VersionStamp is the {CipherText, UpdatedAt} pair a conditional update is
// keyed on. A write only applies while the stored record still carries the
// exact stamp the writer read.
type VersionStamp struct {
	CipherText []byte
	UpdatedAt  time.Time
}

// NextUpdateTime returns the timestamp for a write replacing a record last
// written at prev. It keeps UpdatedAt strictly increasing even when the wall
// clock has not advanced past the previous write.
func NextUpdateTime(prev time.Time) time.Time {
	now := time.Now().UTC()
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}

// KeyMaterial is a freshly generated signing keypair together with its
// derived public identifiers. PrivateKeyHex is the secret material the engine
// protects; its internal structure is opaque to the rest of the system.
type KeyMaterial struct {
	// Address is the canonical public identifier (EIP-55 checksummed).
	Address string `json:"address"`

	// PublicKeyHex is the raw uncompressed public key in hex.
	PublicKeyHex string `json:"public_key_hex"`

	// PrivateKeyHex is the raw private key in hex.
	PrivateKeyHex string `json:"private_key_hex"`
}
