package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/lucerna-id/credential-engine/interfaces"
)

// VaultBackend stores credential records in HashiCorp Vault's KV v2 engine,
// one secret per subject. It reports no transaction capability; conditional
// updates ride on KV v2's native check-and-set instead, which maps exactly
// onto the CompareAndSwapRecord contract: a check-and-set rejection is the
// typed lost-race result, not an error.
//
// Timestamps are stored as unix-nanosecond strings because Vault returns
// JSON numbers as floats, which cannot carry nanosecond precision.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault record store. The client token is taken
// from the VAULT_TOKEN environment variable, as usual for Vault tooling.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path prefix within the mount (e.g. "credential-engine")
//   - log: structured logger for operational insights
func NewVaultBackend(address, mountPath, dataPath string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	// Ensure paths are properly formatted
	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.TrimPrefix(dataPath, "/")
	dataPath = strings.TrimSuffix(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Capabilities reports no transaction support; updates go through
// CompareAndSwapRecord.
func (b *VaultBackend) Capabilities() interfaces.StoreCapabilities {
	return interfaces.StoreCapabilities{Transactions: false}
}

// recordPath returns the KV v2 data path for a subject's record.
func (b *VaultBackend) recordPath(subject interfaces.SubjectID) string {
	return fmt.Sprintf("%s/data/%s/records/%s", b.mountPath, b.dataPath, string(subject))
}

// metadataPath returns the KV v2 metadata path for a subject's record.
func (b *VaultBackend) metadataPath(subject interfaces.SubjectID) string {
	return fmt.Sprintf("%s/metadata/%s/records/%s", b.mountPath, b.dataPath, string(subject))
}

// FetchRecord retrieves the record for a subject.
func (b *VaultBackend) FetchRecord(ctx context.Context, subject interfaces.SubjectID) (*interfaces.CredentialRecord, error) {
	record, _, err := b.readRecord(ctx, subject)
	return record, err
}

// readRecord reads a subject's record together with its KV v2 version, the
// handle the check-and-set write is keyed on.
func (b *VaultBackend) readRecord(ctx context.Context, subject interfaces.SubjectID) (*interfaces.CredentialRecord, int, error) {
	path := b.recordPath(subject)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			slog.String("subject", subject.String()),
			"err", err)
		return nil, 0, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, 0, interfaces.ErrRecordNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// Soft-deleted versions come back with nil data.
		return nil, 0, interfaces.ErrRecordNotFound
	}

	metadata, ok := secret.Data["metadata"].(map[string]interface{})
	if !ok {
		return nil, 0, fmt.Errorf("invalid metadata format in Vault response")
	}
	version, err := parseVaultNumber(metadata["version"])
	if err != nil {
		return nil, 0, fmt.Errorf("invalid record version in Vault response: %w", err)
	}

	record, err := decodeVaultRecord(subject, data)
	if err != nil {
		return nil, 0, err
	}
	return record, version, nil
}

// InsertRecord creates the record for a subject that has none, using
// check-and-set version 0: Vault only accepts the write when no version
// exists yet, so duplicate detection is atomic.
func (b *VaultBackend) InsertRecord(ctx context.Context, record *interfaces.CredentialRecord) error {
	path := b.recordPath(record.SubjectID)

	_, err := b.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data":    encodeVaultRecord(record),
		"options": map[string]interface{}{"cas": 0},
	})
	if err != nil {
		if isVaultCASFailure(err) {
			return interfaces.ErrDuplicateRecord
		}
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			slog.String("subject", record.SubjectID.String()),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// CompareAndSwapRecord reads the current record and its KV v2 version,
// verifies the stored stamp still matches the expected one, and writes the
// replacement keyed on that version. Both a stamp mismatch and a
// check-and-set rejection report (false, nil).
func (b *VaultBackend) CompareAndSwapRecord(ctx context.Context, subject interfaces.SubjectID, expected interfaces.VersionStamp, cipherText []byte, updatedAt time.Time) (bool, error) {
	current, version, err := b.readRecord(ctx, subject)
	if errors.Is(err, interfaces.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !bytes.Equal(current.CipherText, expected.CipherText) || !current.UpdatedAt.Equal(expected.UpdatedAt) {
		return false, nil
	}

	replacement := &interfaces.CredentialRecord{
		SubjectID:  subject,
		CipherText: cipherText,
		CreatedAt:  current.CreatedAt,
		UpdatedAt:  updatedAt,
	}

	_, err = b.client.Logical().WriteWithContext(ctx, b.recordPath(subject), map[string]interface{}{
		"data":    encodeVaultRecord(replacement),
		"options": map[string]interface{}{"cas": version},
	})
	if err != nil {
		if isVaultCASFailure(err) {
			// Someone replaced the record between our read and write.
			return false, nil
		}
		b.log.Error("Failed to compare-and-swap in Vault",
			slog.String("subject", subject.String()),
			"err", err)
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return true, nil
}

// DeleteRecord removes the record and all its versions.
func (b *VaultBackend) DeleteRecord(ctx context.Context, subject interfaces.SubjectID) error {
	if _, _, err := b.readRecord(ctx, subject); err != nil {
		return err
	}

	// Deleting the metadata path removes every version, not just the latest.
	if _, err := b.client.Logical().DeleteWithContext(ctx, b.metadataPath(subject)); err != nil {
		b.log.Error("Failed to delete from Vault",
			slog.String("subject", subject.String()),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// HasRecord checks whether a subject has a record.
func (b *VaultBackend) HasRecord(ctx context.Context, subject interfaces.SubjectID) (bool, error) {
	_, _, err := b.readRecord(ctx, subject)
	if errors.Is(err, interfaces.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListRecords returns a snapshot of every stored record, ordered by subject.
func (b *VaultBackend) ListRecords(ctx context.Context) ([]*interfaces.CredentialRecord, error) {
	listPath := fmt.Sprintf("%s/metadata/%s/records", b.mountPath, b.dataPath)

	secret, err := b.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid list format in Vault response")
	}

	records := make([]*interfaces.CredentialRecord, 0, len(keys))
	for _, key := range keys {
		name, ok := key.(string)
		if !ok {
			continue
		}
		record, _, err := b.readRecord(ctx, interfaces.SubjectID(name))
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			// Deleted between list and read.
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// BeginTx always fails; Vault has no transactions.
func (b *VaultBackend) BeginTx(context.Context) (interfaces.RecordTx, error) {
	return nil, interfaces.ErrTransactionsUnsupported
}

// Available checks if the Vault backend is accessible. It uses the health
// endpoint to verify that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this store.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

// encodeVaultRecord maps a record onto the KV v2 data payload.
func encodeVaultRecord(record *interfaces.CredentialRecord) map[string]interface{} {
	return map[string]interface{}{
		"cipher_text": base64.StdEncoding.EncodeToString(record.CipherText),
		"created_at":  strconv.FormatInt(record.CreatedAt.UnixNano(), 10),
		"updated_at":  strconv.FormatInt(record.UpdatedAt.UnixNano(), 10),
	}
}

// decodeVaultRecord maps a KV v2 data payload back onto a record.
func decodeVaultRecord(subject interfaces.SubjectID, data map[string]interface{}) (*interfaces.CredentialRecord, error) {
	cipherB64, ok := data["cipher_text"].(string)
	if !ok {
		return nil, fmt.Errorf("cipher_text missing in Vault data")
	}
	cipherText, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return nil, fmt.Errorf("invalid cipher_text in Vault data: %w", err)
	}

	createdAt, err := parseVaultTimestamp(data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at in Vault data: %w", err)
	}
	updatedAt, err := parseVaultTimestamp(data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at in Vault data: %w", err)
	}

	return &interfaces.CredentialRecord{
		SubjectID:  subject,
		CipherText: cipherText,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

// parseVaultTimestamp parses a unix-nanosecond string field.
func parseVaultTimestamp(value interface{}) (time.Time, error) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp is not a string")
	}
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

// parseVaultNumber parses Vault's JSON numbers, which arrive as json.Number
// or float64 depending on the decoder.
func parseVaultNumber(value interface{}) (int, error) {
	switch n := value.(type) {
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	case interface{ Int64() (int64, error) }:
		v, err := n.Int64()
		return int(v), err
	default:
		return 0, fmt.Errorf("unexpected number type %T", value)
	}
}

// isVaultCASFailure reports whether a write was rejected by the KV v2
// check-and-set guard. Vault signals it with HTTP 400 on the write.
func isVaultCASFailure(err error) bool {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 400
	}
	return false
}
