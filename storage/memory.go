package storage

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lucerna-id/credential-engine/interfaces"
)

// MemoryBackend is a mutex-guarded in-memory record store, primarily for
// development and tests. Transactions hold the store lock for their whole
// lifetime, so writers are fully serialized; constructing it with
// transactions disabled forces callers onto the compare-and-swap path.
type MemoryBackend struct {
	mu           sync.Mutex
	records      map[interfaces.SubjectID]*interfaces.CredentialRecord
	transactions bool
	log          *slog.Logger
	locationURI  string
}

// NewMemoryBackend creates an empty in-memory record store.
func NewMemoryBackend(transactions bool, log *slog.Logger) *MemoryBackend {
	locationURI := "memory://"
	if !transactions {
		locationURI = "memory://?transactions=off"
	}
	return &MemoryBackend{
		records:      make(map[interfaces.SubjectID]*interfaces.CredentialRecord),
		transactions: transactions,
		log:          log,
		locationURI:  locationURI,
	}
}

// Capabilities returns the store's fixed capability flags.
func (b *MemoryBackend) Capabilities() interfaces.StoreCapabilities {
	return interfaces.StoreCapabilities{Transactions: b.transactions}
}

// FetchRecord retrieves the record for a subject.
func (b *MemoryBackend) FetchRecord(_ context.Context, subject interfaces.SubjectID) (*interfaces.CredentialRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.records[subject]
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	return record.Clone(), nil
}

// InsertRecord creates the record for a subject that has none.
func (b *MemoryBackend) InsertRecord(_ context.Context, record *interfaces.CredentialRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[record.SubjectID]; ok {
		return interfaces.ErrDuplicateRecord
	}
	b.records[record.SubjectID] = record.Clone()
	return nil
}

// CompareAndSwapRecord replaces the record's cipher text if the stored record
// still matches the expected stamp. A record that is missing or carries a
// different stamp reports (false, nil): the swap structurally could not
// apply, which is a lost race, not an infrastructure error.
func (b *MemoryBackend) CompareAndSwapRecord(_ context.Context, subject interfaces.SubjectID, expected interfaces.VersionStamp, cipherText []byte, updatedAt time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.records[subject]
	if !ok {
		return false, nil
	}
	if !bytes.Equal(record.CipherText, expected.CipherText) || !record.UpdatedAt.Equal(expected.UpdatedAt) {
		return false, nil
	}

	record.CipherText = append([]byte(nil), cipherText...)
	record.UpdatedAt = updatedAt
	return true, nil
}

// DeleteRecord removes the record for a subject.
func (b *MemoryBackend) DeleteRecord(_ context.Context, subject interfaces.SubjectID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[subject]; !ok {
		return interfaces.ErrRecordNotFound
	}
	delete(b.records, subject)
	return nil
}

// HasRecord checks whether a subject has a record.
func (b *MemoryBackend) HasRecord(_ context.Context, subject interfaces.SubjectID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.records[subject]
	return ok, nil
}

// ListRecords returns a snapshot of every stored record, ordered by subject.
func (b *MemoryBackend) ListRecords(_ context.Context) ([]*interfaces.CredentialRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := make([]*interfaces.CredentialRecord, 0, len(b.records))
	for _, record := range b.records {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SubjectID < records[j].SubjectID })
	return records, nil
}

// BeginTx starts a transaction by taking the store lock. Every other store
// operation blocks until the transaction commits or rolls back.
func (b *MemoryBackend) BeginTx(_ context.Context) (interfaces.RecordTx, error) {
	if !b.transactions {
		return nil, interfaces.ErrTransactionsUnsupported
	}
	b.mu.Lock()
	return &memoryTx{
		store:  b,
		staged: make(map[interfaces.SubjectID]*interfaces.CredentialRecord),
	}, nil
}

// Available always reports true; the map is process-local.
func (b *MemoryBackend) Available(_ context.Context) bool {
	return true
}

// Name returns identifier for logging.
func (b *MemoryBackend) Name() string {
	return "memory"
}

// LocationURI returns the URI that identifies this store.
func (b *MemoryBackend) LocationURI() string {
	return b.locationURI
}

// memoryTx stages writes in an overlay map while holding the store lock. A
// nil staged value is a delete tombstone. The methods never re-lock; the
// transaction owns the lock from BeginTx until Commit or Rollback.
type memoryTx struct {
	store  *MemoryBackend
	staged map[interfaces.SubjectID]*interfaces.CredentialRecord
	done   bool
}

// FetchRecord reads through the overlay, so the transaction observes its own
// earlier writes.
func (tx *memoryTx) FetchRecord(_ context.Context, subject interfaces.SubjectID) (*interfaces.CredentialRecord, error) {
	if tx.done {
		return nil, interfaces.ErrBackendUnavailable
	}
	if staged, ok := tx.staged[subject]; ok {
		if staged == nil {
			return nil, interfaces.ErrRecordNotFound
		}
		return staged.Clone(), nil
	}
	record, ok := tx.store.records[subject]
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	return record.Clone(), nil
}

// UpdateRecord stages a cipher text replacement for an existing record.
func (tx *memoryTx) UpdateRecord(ctx context.Context, subject interfaces.SubjectID, cipherText []byte, updatedAt time.Time) error {
	if tx.done {
		return interfaces.ErrBackendUnavailable
	}
	current, err := tx.FetchRecord(ctx, subject)
	if err != nil {
		return err
	}
	current.CipherText = append([]byte(nil), cipherText...)
	current.UpdatedAt = updatedAt
	tx.staged[subject] = current
	return nil
}

// DeleteRecord stages a tombstone for an existing record.
func (tx *memoryTx) DeleteRecord(ctx context.Context, subject interfaces.SubjectID) error {
	if tx.done {
		return interfaces.ErrBackendUnavailable
	}
	if _, err := tx.FetchRecord(ctx, subject); err != nil {
		return err
	}
	tx.staged[subject] = nil
	return nil
}

// Commit applies the staged writes to the store and releases the lock.
func (tx *memoryTx) Commit() error {
	if tx.done {
		return interfaces.ErrBackendUnavailable
	}
	for subject, staged := range tx.staged {
		if staged == nil {
			delete(tx.store.records, subject)
		} else {
			tx.store.records[subject] = staged
		}
	}
	tx.done = true
	tx.store.mu.Unlock()
	return nil
}

// Rollback discards the staged writes and releases the lock. After Commit it
// is a no-op, so it can sit in a defer.
func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.staged = nil
	tx.done = true
	tx.store.mu.Unlock()
	return nil
}
