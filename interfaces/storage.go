package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// StoreLocation represents a parsed record store URI.
type StoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStoreLocation creates a new store location from a URI string with validation.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("invalid URI format: %w", err)
	}

	// Validate scheme is supported
	scheme := parsed.Scheme
	switch scheme {
	case "memory", "sqlite", "postgres", "vault":
		// Valid scheme
	default:
		return StoreLocation{}, fmt.Errorf("unsupported store scheme: %s", scheme)
	}

	// Parse authentication info if present
	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StoreLocation) String() string {
	return loc.Raw
}

// IsMemory checks if this is an in-memory store location.
func (loc StoreLocation) IsMemory() bool {
	return loc.Scheme == "memory"
}

// IsSQLite checks if this is a SQLite store location.
func (loc StoreLocation) IsSQLite() bool {
	return loc.Scheme == "sqlite"
}

// IsPostgres checks if this is a PostgreSQL store location.
func (loc StoreLocation) IsPostgres() bool {
	return loc.Scheme == "postgres"
}

// IsVault checks if this is a Vault store location.
func (loc StoreLocation) IsVault() bool {
	return loc.Scheme == "vault"
}

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrRecordNotFound is returned when no credential record exists for a subject.
	ErrRecordNotFound = errors.New("credential record not found")

	// ErrDuplicateRecord is returned when inserting a record for a subject that
	// already has one.
	ErrDuplicateRecord = errors.New("credential record already exists")

	// ErrTransactionsUnsupported is returned by BeginTx on stores whose
	// capabilities report Transactions as false.
	ErrTransactionsUnsupported = errors.New("record store does not support transactions")

	// ErrBackendUnavailable is returned when a record store is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("record store unavailable")

	// ErrInvalidLocationURI is returned when a store location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid store location URI")
)

// StoreCapabilities describes what a record store can do. The flags are fixed
// at construction time so callers choose their strategy deterministically
// instead of probing the backend per operation.
type StoreCapabilities struct {
	// Transactions reports whether BeginTx is usable on this store.
	Transactions bool
}

// RecordStore persists encrypted credential records keyed by subject.
// Implementations never see plaintext credentials; every CipherText they
// handle is a sealed blob produced by the credential sealer.
type RecordStore interface {
	// Capabilities returns the store's fixed capability flags.
	Capabilities() StoreCapabilities

	// FetchRecord retrieves the record for a subject.
	// Returns ErrRecordNotFound if the subject has no record.
	FetchRecord(ctx context.Context, subject SubjectID) (*CredentialRecord, error)

	// InsertRecord creates the record for a subject that has none.
	// Returns ErrDuplicateRecord if the subject already has one.
	InsertRecord(ctx context.Context, record *CredentialRecord) error

	// CompareAndSwapRecord replaces the record's cipher text only if the
	// stored record still matches the expected version stamp. A lost race is
	// reported structurally as (false, nil), never as an error to be
	// string-matched. (true, nil) means exactly this caller won the swap.
	CompareAndSwapRecord(ctx context.Context, subject SubjectID, expected VersionStamp, cipherText []byte, updatedAt time.Time) (bool, error)

	// DeleteRecord removes the record for a subject.
	// Returns ErrRecordNotFound if the subject has no record.
	DeleteRecord(ctx context.Context, subject SubjectID) error

	// HasRecord checks whether a subject has a record without fetching it.
	HasRecord(ctx context.Context, subject SubjectID) (bool, error)

	// ListRecords returns a snapshot of every stored record.
	ListRecords(ctx context.Context) ([]*CredentialRecord, error)

	// BeginTx starts a transaction scoped to ctx.
	// Returns ErrTransactionsUnsupported if Capabilities().Transactions is false.
	BeginTx(ctx context.Context) (RecordTx, error)

	// Available checks if the store is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this store.
	LocationURI() string
}

// RecordTx is a transaction over a RecordStore. Reads observe writes made
// earlier in the same transaction.
type RecordTx interface {
	// FetchRecord retrieves a record within the transaction.
	FetchRecord(ctx context.Context, subject SubjectID) (*CredentialRecord, error)

	// UpdateRecord replaces the record's cipher text within the transaction.
	// Returns ErrRecordNotFound if the subject has no record.
	UpdateRecord(ctx context.Context, subject SubjectID, cipherText []byte, updatedAt time.Time) error

	// DeleteRecord removes a record within the transaction.
	DeleteRecord(ctx context.Context, subject SubjectID) error

	// Commit makes the transaction's writes visible atomically.
	Commit() error

	// Rollback discards the transaction's writes. Rollback after a successful
	// Commit is a no-op so it can sit in a defer.
	Rollback() error
}
