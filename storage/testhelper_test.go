package storage

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/lucerna-id/credential-engine/interfaces"
)

// discardLogger returns a logger for tests that should stay quiet.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupSQLiteBackend creates a named shared in-memory SQLite database for
// testing. Writer and reader pools share the same in-memory database via
// cache=shared; the name derived from t.Name() isolates parallel tests.
func setupSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename
	// component and cannot be misinterpreted as query parameters.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	backend, err := newSQLiteBackendDSN(dsn, "sqlite://"+safeName, "sqlite-test", discardLogger())
	if err != nil {
		t.Fatalf("create test backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	return backend
}

// newTestRecord builds a credential record with UTC timestamps, the form
// every backend persists and returns.
func newTestRecord(subject, cipherText string) *interfaces.CredentialRecord {
	now := time.Now().UTC()
	return &interfaces.CredentialRecord{
		SubjectID:  interfaces.SubjectID(subject),
		CipherText: []byte(cipherText),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
