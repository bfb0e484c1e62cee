// Package interfaces defines core interfaces and types for the credential
// rotation engine, separating interface definitions from implementations.
//
// The package provides the contracts the engine's components are wired
// through:
//
// # Record Store Interfaces
//
// RecordStore: Persists encrypted credential records keyed by subject across
// multiple backend types (memory, SQLite, PostgreSQL, Vault). Every backend
// reports its fixed StoreCapabilities so callers can choose a transactional
// or compare-and-swap update strategy deterministically.
//
// RecordTx: A transaction over a RecordStore for backends that support one.
// Rollback after Commit is a no-op, so transactions compose with defer.
//
// RotationDispatcher: Routes rotations that could not complete in-process to
// the rotation worker daemon. Acceptance is an enqueue acknowledgement, not
// a completion signal.
//
// # Core Types
//
// - SubjectID: validated identifier of the credential owner
// - CredentialRecord: one sealed credential blob plus its timestamps
// - VersionStamp: the {CipherText, UpdatedAt} pair conditional updates key on
// - KeyMaterial: freshly generated secp256k1 key material
//
// # Key Functions
//
// NextUpdateTime: Produces a strictly increasing update timestamp even when
// the wall clock has not advanced between two writes.
//
// Sentinel errors (ErrRecordNotFound, ErrDuplicateRecord,
// ErrTransactionsUnsupported, ErrBackendUnavailable, ErrInvalidLocationURI)
// are matched with errors.Is throughout the engine.
package interfaces
