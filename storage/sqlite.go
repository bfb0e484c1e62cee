package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lucerna-id/credential-engine/interfaces"
)

// SQLiteBackend stores credential records in a SQLite database via the pure
// Go modernc.org/sqlite driver. It keeps dual connection pools: the writer is
// capped at a single connection to avoid "database is locked" errors, the
// reader pool allows up to 4 concurrent readers. Timestamps are persisted as
// unix nanoseconds so a version stamp read back compares equal to the one
// that was written.
type SQLiteBackend struct {
	writer      *sql.DB
	reader      *sql.DB
	log         *slog.Logger
	locationURI string
	name        string
}

// NewSQLiteBackend opens (creating if needed) the database at path with WAL
// mode, busy timeout, synchronous NORMAL and a 64MB cache, and applies the
// embedded schema migrations.
func NewSQLiteBackend(path string, log *slog.Logger) (*SQLiteBackend, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		path,
	)
	return newSQLiteBackendDSN(dsn, "sqlite://"+path, fmt.Sprintf("sqlite-%s", path), log)
}

// newSQLiteBackendDSN is the shared constructor; tests use it with a named
// shared-cache in-memory DSN.
func newSQLiteBackendDSN(dsn, locationURI, name string, log *slog.Logger) (*SQLiteBackend, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	if err := runSQLiteMigrations(writer); err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}

	return &SQLiteBackend{
		writer:      writer,
		reader:      reader,
		log:         log,
		locationURI: locationURI,
		name:        name,
	}, nil
}

// Close closes both connection pools. Returns the first error encountered.
func (b *SQLiteBackend) Close() error {
	var firstErr error
	if err := b.reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}
	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}
	return firstErr
}

// Capabilities reports transaction support.
func (b *SQLiteBackend) Capabilities() interfaces.StoreCapabilities {
	return interfaces.StoreCapabilities{Transactions: true}
}

// FetchRecord retrieves the record for a subject.
func (b *SQLiteBackend) FetchRecord(ctx context.Context, subject interfaces.SubjectID) (*interfaces.CredentialRecord, error) {
	const query = `SELECT cipher_text, created_at, updated_at FROM credential_records WHERE subject_id = ?`
	return scanRecord(b.reader.QueryRowContext(ctx, query, string(subject)), subject)
}

// InsertRecord creates the record for a subject that has none. The conflict
// clause makes duplicate detection atomic: zero affected rows means the
// subject already had a record.
func (b *SQLiteBackend) InsertRecord(ctx context.Context, record *interfaces.CredentialRecord) error {
	const query = `INSERT INTO credential_records (subject_id, cipher_text, created_at, updated_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (subject_id) DO NOTHING`

	res, err := b.writer.ExecContext(ctx, query,
		string(record.SubjectID), record.CipherText, record.CreatedAt.UnixNano(), record.UpdatedAt.UnixNano())
	if err != nil {
		b.log.Error("Failed to insert credential record",
			slog.String("subject", record.SubjectID.String()), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if affected == 0 {
		return interfaces.ErrDuplicateRecord
	}
	return nil
}

// CompareAndSwapRecord applies the update only where the stored stamp still
// matches. Zero affected rows is the typed lost-race result (false, nil),
// never an error.
func (b *SQLiteBackend) CompareAndSwapRecord(ctx context.Context, subject interfaces.SubjectID, expected interfaces.VersionStamp, cipherText []byte, updatedAt time.Time) (bool, error) {
	const query = `UPDATE credential_records SET cipher_text = ?, updated_at = ?
		WHERE subject_id = ? AND cipher_text = ? AND updated_at = ?`

	res, err := b.writer.ExecContext(ctx, query,
		cipherText, updatedAt.UnixNano(),
		string(subject), expected.CipherText, expected.UpdatedAt.UnixNano())
	if err != nil {
		b.log.Error("Failed to compare-and-swap credential record",
			slog.String("subject", subject.String()), "err", err)
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return affected == 1, nil
}

// DeleteRecord removes the record for a subject.
func (b *SQLiteBackend) DeleteRecord(ctx context.Context, subject interfaces.SubjectID) error {
	const query = `DELETE FROM credential_records WHERE subject_id = ?`

	res, err := b.writer.ExecContext(ctx, query, string(subject))
	if err != nil {
		b.log.Error("Failed to delete credential record",
			slog.String("subject", subject.String()), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if affected == 0 {
		return interfaces.ErrRecordNotFound
	}
	return nil
}

// HasRecord checks whether a subject has a record without fetching it.
func (b *SQLiteBackend) HasRecord(ctx context.Context, subject interfaces.SubjectID) (bool, error) {
	const query = `SELECT 1 FROM credential_records WHERE subject_id = ?`

	var one int
	err := b.reader.QueryRowContext(ctx, query, string(subject)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return true, nil
}

// ListRecords returns a snapshot of every stored record, ordered by subject.
func (b *SQLiteBackend) ListRecords(ctx context.Context) ([]*interfaces.CredentialRecord, error) {
	const query = `SELECT subject_id, cipher_text, created_at, updated_at FROM credential_records ORDER BY subject_id`

	rows, err := b.reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var records []*interfaces.CredentialRecord
	for rows.Next() {
		var subject string
		var cipherText []byte
		var createdAt, updatedAt int64
		if err := rows.Scan(&subject, &cipherText, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
		}
		records = append(records, &interfaces.CredentialRecord{
			SubjectID:  interfaces.SubjectID(subject),
			CipherText: cipherText,
			CreatedAt:  time.Unix(0, createdAt).UTC(),
			UpdatedAt:  time.Unix(0, updatedAt).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return records, nil
}

// BeginTx starts a write transaction on the single-connection writer pool.
func (b *SQLiteBackend) BeginTx(ctx context.Context) (interfaces.RecordTx, error) {
	tx, err := b.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return &sqliteTx{tx: tx}, nil
}

// Available checks if the database answers a ping.
func (b *SQLiteBackend) Available(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := b.reader.PingContext(pingCtx); err != nil {
		b.log.Debug("SQLite ping failed", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (b *SQLiteBackend) Name() string {
	return b.name
}

// LocationURI returns the URI that identifies this store.
func (b *SQLiteBackend) LocationURI() string {
	return b.locationURI
}

// sqliteTx runs record operations inside a database transaction.
type sqliteTx struct {
	tx *sql.Tx
}

// FetchRecord retrieves a record within the transaction, observing the
// transaction's own earlier writes.
func (t *sqliteTx) FetchRecord(ctx context.Context, subject interfaces.SubjectID) (*interfaces.CredentialRecord, error) {
	const query = `SELECT cipher_text, created_at, updated_at FROM credential_records WHERE subject_id = ?`
	return scanRecord(t.tx.QueryRowContext(ctx, query, string(subject)), subject)
}

// UpdateRecord replaces the record's cipher text within the transaction.
func (t *sqliteTx) UpdateRecord(ctx context.Context, subject interfaces.SubjectID, cipherText []byte, updatedAt time.Time) error {
	const query = `UPDATE credential_records SET cipher_text = ?, updated_at = ? WHERE subject_id = ?`

	res, err := t.tx.ExecContext(ctx, query, cipherText, updatedAt.UnixNano(), string(subject))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if affected == 0 {
		return interfaces.ErrRecordNotFound
	}
	return nil
}

// DeleteRecord removes a record within the transaction.
func (t *sqliteTx) DeleteRecord(ctx context.Context, subject interfaces.SubjectID) error {
	const query = `DELETE FROM credential_records WHERE subject_id = ?`

	res, err := t.tx.ExecContext(ctx, query, string(subject))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if affected == 0 {
		return interfaces.ErrRecordNotFound
	}
	return nil
}

// Commit makes the transaction's writes visible atomically.
func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Rollback discards the transaction's writes. After Commit the database
// reports ErrTxDone, which is swallowed so Rollback can sit in a defer.
func (t *sqliteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// scanRecord maps one row (or its absence) onto a credential record.
func scanRecord(row *sql.Row, subject interfaces.SubjectID) (*interfaces.CredentialRecord, error) {
	var cipherText []byte
	var createdAt, updatedAt int64

	err := row.Scan(&cipherText, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	return &interfaces.CredentialRecord{
		SubjectID:  subject,
		CipherText: cipherText,
		CreatedAt:  time.Unix(0, createdAt).UTC(),
		UpdatedAt:  time.Unix(0, updatedAt).UTC(),
	}, nil
}
