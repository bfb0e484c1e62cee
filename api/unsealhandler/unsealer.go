package unsealhandler

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/vault/shamir"

	"github.com/lucerna-id/credential-engine/securebuf"
)

// SealState describes whether the derivation secret has been reconstructed.
type SealState string

const (
	// StateSealed means the engine is still collecting shares.
	StateSealed SealState = "sealed"

	// StateUnsealed means the derivation secret is live in memory.
	StateUnsealed SealState = "unsealed"
)

// SecretUnsealer collects signed Shamir shares until the derivation secret
// can be reconstructed. The secret never touches persistent storage: shares
// arrive over the admin API, reconstruction happens in memory, and the
// shares are wiped the moment the secret exists.
//
// Admins are identified by the hex SHA-256 fingerprint of their PEM-encoded
// public key, so the keyset file is just a list of keys and every admin can
// derive their own ID offline.
type SecretUnsealer struct {
	mu             sync.RWMutex
	threshold      int
	receivedShares map[int][]byte
	adminKeys      map[string][]byte // fingerprint -> public key PEM
	secret         *securebuf.Buffer // nil until unsealed
	unsealed       bool
	doneChan       chan struct{}
	log            *slog.Logger
}

// NewSecretUnsealer creates an unsealer in the sealed state.
//
// Parameters:
//   - threshold: Minimum number of distinct shares required, at least 2
//   - adminKeys: Map of key fingerprints to public key PEMs, from LoadAdminKeys
//   - log: Logger for operational insights
//
// Returns:
//   - Configured SecretUnsealer instance
//   - Error if the threshold or keyset is unusable
func NewSecretUnsealer(threshold int, adminKeys map[string][]byte, log *slog.Logger) (*SecretUnsealer, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if len(adminKeys) < threshold {
		return nil, errors.New("admin keyset smaller than threshold")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	for fingerprint, pubPEM := range adminKeys {
		if _, err := parseECDSAPublicKey(pubPEM); err != nil {
			return nil, fmt.Errorf("invalid admin key %s: %w", fingerprint, err)
		}
		if KeyFingerprint(pubPEM) != fingerprint {
			return nil, fmt.Errorf("admin key fingerprint mismatch for %s", fingerprint)
		}
	}

	return &SecretUnsealer{
		threshold:      threshold,
		receivedShares: make(map[int][]byte),
		adminKeys:      adminKeys,
		doneChan:       make(chan struct{}),
		log:            log,
	}, nil
}

// SubmitShare accepts one signed share from a registered admin. The
// signature must be an ASN.1 ECDSA signature over SHA-256 of the share
// bytes, made with the key matching adminID. When the threshold is reached
// the secret is reconstructed and WaitForSecret unblocks.
//
// Returns:
//   - Error if the engine is already unsealed, the admin is unknown, the
//     signature does not verify, or reconstruction fails at threshold
func (u *SecretUnsealer) SubmitShare(shareIndex int, share, signature []byte, adminID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.unsealed {
		return errors.New("engine is already unsealed")
	}
	if len(share) == 0 {
		return errors.New("empty share")
	}

	pubPEM, found := u.adminKeys[adminID]
	if !found {
		return errors.New("unregistered admin key")
	}
	pubKey, err := parseECDSAPublicKey(pubPEM)
	if err != nil {
		return fmt.Errorf("failed to parse admin public key: %w", err)
	}

	hash := sha256.Sum256(share)
	if !ecdsa.VerifyASN1(pubKey, hash[:], signature) {
		return errors.New("invalid share signature")
	}

	// A re-submitted index overwrites; distinct indices count toward the
	// threshold.
	u.receivedShares[shareIndex] = append([]byte(nil), share...)
	u.log.Info("Unseal share accepted",
		slog.String("adminID", adminID),
		slog.Int("shareIndex", shareIndex),
		slog.Int("sharesReceived", len(u.receivedShares)),
		slog.Int("threshold", u.threshold),
	)

	return u.tryReconstructLocked()
}

// tryReconstructLocked combines the collected shares once the threshold is
// met. Callers hold u.mu.
func (u *SecretUnsealer) tryReconstructLocked() error {
	if len(u.receivedShares) < u.threshold {
		return nil // not enough shares yet, not an error
	}

	shares := make([][]byte, 0, len(u.receivedShares))
	for _, share := range u.receivedShares {
		shares = append(shares, share)
	}

	combined, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct derivation secret: %w", err)
	}

	secret, err := securebuf.FromBytes(combined)
	if err != nil {
		securebuf.Wipe(combined)
		return fmt.Errorf("failed to protect derivation secret: %w", err)
	}

	for i := range u.receivedShares {
		securebuf.Wipe(u.receivedShares[i])
	}
	u.receivedShares = make(map[int][]byte)

	u.secret = secret
	u.unsealed = true
	close(u.doneChan)

	u.log.Info("Derivation secret reconstructed", slog.Int("threshold", u.threshold))
	return nil
}

// WaitForSecret blocks until the secret has been reconstructed or the
// context is cancelled. The returned buffer is owned by the caller.
func (u *SecretUnsealer) WaitForSecret(ctx context.Context) (*securebuf.Buffer, error) {
	select {
	case <-u.doneChan:
		u.mu.RLock()
		defer u.mu.RUnlock()
		return u.secret, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsealed reports whether the derivation secret is live.
func (u *SecretUnsealer) Unsealed() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.unsealed
}

// Status reports the seal state for the status endpoint.
func (u *SecretUnsealer) Status() (state SealState, threshold, sharesReceived int) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	state = StateSealed
	if u.unsealed {
		state = StateUnsealed
	}
	return state, u.threshold, len(u.receivedShares)
}

// SplitSecret splits a derivation secret into shares with the given
// threshold. Used by the admin tooling before shares are handed out;
// the secret itself should be wiped once the shares exist.
func SplitSecret(secret []byte, totalShares, threshold int) ([][]byte, error) {
	if len(secret) < 32 {
		return nil, errors.New("derivation secret must be at least 32 bytes")
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if totalShares < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	shares, err := shamir.Split(secret, totalShares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split derivation secret: %w", err)
	}
	return shares, nil
}

// SignShare produces the ASN.1 ECDSA signature over SHA-256 of a share that
// SubmitShare expects.
func SignShare(share []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	hash := sha256.Sum256(share)
	return ecdsa.SignASN1(rand.Reader, privateKey, hash[:])
}

// parseECDSAPublicKey decodes a PEM-encoded PKIX ECDSA public key.
func parseECDSAPublicKey(pubPEM []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	ecdsaPubKey, ok := pubKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an ECDSA key")
	}
	return ecdsaPubKey, nil
}
