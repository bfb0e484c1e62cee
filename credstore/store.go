package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lucerna-id/credential-engine/cryptoutils"
	"github.com/lucerna-id/credential-engine/interfaces"
	"github.com/lucerna-id/credential-engine/securebuf"
)

// Store is the high-level credential lifecycle API: generate key material,
// seal it under a passphrase, and look it up or remove it later. It owns no
// state of its own; everything persistent lives in the record store and
// everything secret passes through the sealer.
//
// The read and write operations report plain booleans and nil pointers
// instead of errors: a caller that could distinguish "no such subject" from
// "wrong passphrase" would be a decryption oracle. Details land in the logs,
// never in the return value.
type Store struct {
	records interfaces.RecordStore
	sealer  *cryptoutils.CredentialSealer
	log     *slog.Logger
}

// New creates a credential store. All three dependencies are mandatory.
func New(records interfaces.RecordStore, sealer *cryptoutils.CredentialSealer, log *slog.Logger) (*Store, error) {
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if sealer == nil {
		return nil, errors.New("credential sealer is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{records: records, sealer: sealer, log: log}, nil
}

// GenerateKeyMaterial creates a fresh secp256k1 keypair and derives its
// public identifiers: the raw uncompressed public key and the EIP-55
// checksummed address. Generation is pure computation with no I/O; the
// intermediate raw private key bytes are wiped before returning.
func GenerateKeyMaterial() (*interfaces.KeyMaterial, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	privateKeyBytes := crypto.FromECDSA(privateKey)
	defer securebuf.Wipe(privateKeyBytes)

	return &interfaces.KeyMaterial{
		Address:       crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		PublicKeyHex:  hexutil.Encode(crypto.FromECDSAPub(&privateKey.PublicKey)),
		PrivateKeyHex: hexutil.Encode(privateKeyBytes),
	}, nil
}

// GenerateKeyMaterial calls the package-level generator; it exists so a
// store handle covers the full credential lifecycle.
func (s *Store) GenerateKeyMaterial() (*interfaces.KeyMaterial, error) {
	return GenerateKeyMaterial()
}

// StoreEncryptedCredential seals the secret material under the passphrase
// and inserts the record. Returns false on invalid input, a subject that
// already has a credential, or a store failure; the reason is logged, not
// returned.
func (s *Store) StoreEncryptedCredential(ctx context.Context, subject interfaces.SubjectID, secretMaterial, passphrase string) bool {
	if err := subject.Validate(); err != nil {
		s.log.Warn("Rejected credential store request", "err", err)
		return false
	}
	if secretMaterial == "" || passphrase == "" {
		s.log.Warn("Rejected credential store request: empty secret material or passphrase",
			slog.String("subject", subject.String()))
		return false
	}

	plaintext := []byte(secretMaterial)
	defer securebuf.Wipe(plaintext)

	sealed, err := s.sealer.Seal(plaintext, passphrase)
	if err != nil {
		s.log.Error("Failed to seal credential", slog.String("subject", subject.String()), "err", err)
		return false
	}

	now := time.Now().UTC()
	record := &interfaces.CredentialRecord{
		SubjectID:  subject,
		CipherText: sealed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.records.InsertRecord(ctx, record); err != nil {
		if errors.Is(err, interfaces.ErrDuplicateRecord) {
			s.log.Warn("Subject already has a credential", slog.String("subject", subject.String()))
		} else {
			s.log.Error("Failed to insert credential record", slog.String("subject", subject.String()), "err", err)
		}
		return false
	}

	s.log.Info("Credential stored",
		slog.String("subject", subject.String()),
		slog.String("store", s.records.Name()))
	return true
}

// RetrieveDecryptedCredential fetches and opens the subject's credential.
// Returns the plaintext in a secure buffer the caller must Clear, or nil on
// any failure: missing record, wrong passphrase, tampered blob, unavailable
// backend. All failures look identical to the caller.
func (s *Store) RetrieveDecryptedCredential(ctx context.Context, subject interfaces.SubjectID, passphrase string) *securebuf.Buffer {
	if err := subject.Validate(); err != nil {
		s.log.Warn("Rejected credential retrieve request", "err", err)
		return nil
	}
	if passphrase == "" {
		s.log.Warn("Rejected credential retrieve request: empty passphrase",
			slog.String("subject", subject.String()))
		return nil
	}

	record, err := s.records.FetchRecord(ctx, subject)
	if err != nil {
		s.log.Debug("Failed to fetch credential record", slog.String("subject", subject.String()), "err", err)
		return nil
	}

	plaintext, err := s.sealer.Open(record.CipherText, passphrase)
	if err != nil {
		s.log.Debug("Failed to open credential blob", slog.String("subject", subject.String()), "err", err)
		return nil
	}

	// FromBytes moves the plaintext into locked memory and wipes the source.
	buffer, err := securebuf.FromBytes(plaintext)
	if err != nil {
		securebuf.Wipe(plaintext)
		s.log.Error("Failed to protect decrypted credential", slog.String("subject", subject.String()), "err", err)
		return nil
	}
	return buffer
}

// HasCredential checks whether a subject has a stored credential. No secret
// material is touched.
func (s *Store) HasCredential(ctx context.Context, subject interfaces.SubjectID) bool {
	if err := subject.Validate(); err != nil {
		return false
	}
	has, err := s.records.HasRecord(ctx, subject)
	if err != nil {
		s.log.Debug("Failed to check credential record", slog.String("subject", subject.String()), "err", err)
		return false
	}
	return has
}

// DeleteCredential removes the subject's credential. Stores with transaction
// support delete inside a transaction; the rest delete directly. Returns
// false when there was nothing to delete or the backend failed.
func (s *Store) DeleteCredential(ctx context.Context, subject interfaces.SubjectID) bool {
	if err := subject.Validate(); err != nil {
		return false
	}

	if s.records.Capabilities().Transactions {
		return s.deleteInTx(ctx, subject)
	}

	if err := s.records.DeleteRecord(ctx, subject); err != nil {
		s.log.Debug("Failed to delete credential record", slog.String("subject", subject.String()), "err", err)
		return false
	}
	s.log.Info("Credential deleted", slog.String("subject", subject.String()))
	return true
}

func (s *Store) deleteInTx(ctx context.Context, subject interfaces.SubjectID) bool {
	tx, err := s.records.BeginTx(ctx)
	if err != nil {
		s.log.Error("Failed to begin delete transaction", slog.String("subject", subject.String()), "err", err)
		return false
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	if err := tx.DeleteRecord(ctx, subject); err != nil {
		s.log.Debug("Failed to delete credential record", slog.String("subject", subject.String()), "err", err)
		return false
	}
	if err := tx.Commit(); err != nil {
		s.log.Error("Failed to commit delete transaction", slog.String("subject", subject.String()), "err", err)
		return false
	}
	s.log.Info("Credential deleted", slog.String("subject", subject.String()))
	return true
}
