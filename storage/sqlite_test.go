package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucerna-id/credential-engine/interfaces"
)

func TestSQLiteBackendInsertAndFetch(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	record := newTestRecord("svc-alpha", "sealed-blob")
	require.NoError(t, backend.InsertRecord(ctx, record))

	fetched, err := backend.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.Equal(t, record.SubjectID, fetched.SubjectID)
	assert.Equal(t, record.CipherText, fetched.CipherText)
	assert.True(t, fetched.CreatedAt.Equal(record.CreatedAt))
	assert.True(t, fetched.UpdatedAt.Equal(record.UpdatedAt))

	_, err = backend.FetchRecord(ctx, "svc-missing")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestSQLiteBackendDuplicateInsert(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.InsertRecord(ctx, newTestRecord("svc-alpha", "first")))

	err := backend.InsertRecord(ctx, newTestRecord("svc-alpha", "second"))
	assert.ErrorIs(t, err, interfaces.ErrDuplicateRecord)

	fetched, err := backend.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), fetched.CipherText)
}

func TestSQLiteBackendStampSurvivesRoundTrip(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	// A nanosecond-precision timestamp must come back exactly as written,
	// otherwise a swap keyed on the fetched stamp could never apply.
	written := time.Unix(1712345678, 123456789).UTC()
	record := &interfaces.CredentialRecord{
		SubjectID:  "svc-alpha",
		CipherText: []byte("sealed-blob"),
		CreatedAt:  written,
		UpdatedAt:  written,
	}
	require.NoError(t, backend.InsertRecord(ctx, record))

	fetched, err := backend.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.True(t, fetched.UpdatedAt.Equal(written))

	swapped, err := backend.CompareAndSwapRecord(ctx, "svc-alpha", fetched.Stamp(), []byte("new-blob"), interfaces.NextUpdateTime(fetched.UpdatedAt))
	require.NoError(t, err)
	assert.True(t, swapped)
}

func TestSQLiteBackendCompareAndSwap(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.InsertRecord(ctx, newTestRecord("svc-alpha", "old-blob")))

	fetched, err := backend.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	stamp := fetched.Stamp()

	newTime := interfaces.NextUpdateTime(fetched.UpdatedAt)
	swapped, err := backend.CompareAndSwapRecord(ctx, "svc-alpha", stamp, []byte("new-blob"), newTime)
	require.NoError(t, err)
	assert.True(t, swapped)

	updated, err := backend.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("new-blob"), updated.CipherText)
	assert.True(t, updated.UpdatedAt.Equal(newTime))

	// Stale stamp: typed failure, no error.
	swapped, err = backend.CompareAndSwapRecord(ctx, "svc-alpha", stamp, []byte("stale-write"), interfaces.NextUpdateTime(newTime))
	require.NoError(t, err)
	assert.False(t, swapped)

	// Missing subject: same typed failure.
	swapped, err = backend.CompareAndSwapRecord(ctx, "svc-missing", stamp, []byte("blob"), newTime)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestSQLiteBackendConcurrentCompareAndSwap(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.InsertRecord(ctx, newTestRecord("svc-alpha", "contested")))

	fetched, err := backend.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	stamp := fetched.Stamp()
	newTime := interfaces.NextUpdateTime(fetched.UpdatedAt)

	const writers = 4
	results := make(chan bool, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			swapped, err := backend.CompareAndSwapRecord(ctx, "svc-alpha", stamp, []byte{byte(n)}, newTime)
			assert.NoError(t, err)
			results <- swapped
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for swapped := range results {
		if swapped {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent swap should win")
}

func TestSQLiteBackendDeleteAndHas(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.InsertRecord(ctx, newTestRecord("svc-alpha", "blob")))

	has, err := backend.HasRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, backend.DeleteRecord(ctx, "svc-alpha"))

	has, err = backend.HasRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.False(t, has)

	err = backend.DeleteRecord(ctx, "svc-alpha")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestSQLiteBackendListRecords(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	records, err := backend.ListRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, backend.InsertRecord(ctx, newTestRecord("svc-charlie", "c")))
	require.NoError(t, backend.InsertRecord(ctx, newTestRecord("svc-alpha", "a")))
	require.NoError(t, backend.InsertRecord(ctx, newTestRecord("svc-bravo", "b")))

	records, err = backend.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, interfaces.SubjectID("svc-alpha"), records[0].SubjectID)
	assert.Equal(t, interfaces.SubjectID("svc-bravo"), records[1].SubjectID)
	assert.Equal(t, interfaces.SubjectID("svc-charlie"), records[2].SubjectID)
}

func TestSQLiteBackendTransactionCommit(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	record := newTestRecord("svc-alpha", "before")
	require.NoError(t, backend.InsertRecord(ctx, record))

	tx, err := backend.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	inTx, err := tx.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), inTx.CipherText)

	newTime := interfaces.NextUpdateTime(inTx.UpdatedAt)
	require.NoError(t, tx.UpdateRecord(ctx, "svc-alpha", []byte("after"), newTime))

	// The transaction observes its own write.
	inTx, err = tx.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), inTx.CipherText)

	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

	fetched, err := backend.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), fetched.CipherText)
	assert.True(t, fetched.UpdatedAt.Equal(newTime))
}

func TestSQLiteBackendTransactionRollback(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.InsertRecord(ctx, newTestRecord("svc-alpha", "before")))

	tx, err := backend.BeginTx(ctx)
	require.NoError(t, err)

	inTx, err := tx.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	require.NoError(t, tx.UpdateRecord(ctx, "svc-alpha", []byte("discarded"), interfaces.NextUpdateTime(inTx.UpdatedAt)))
	require.NoError(t, tx.Rollback())

	fetched, err := backend.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), fetched.CipherText)
}

func TestSQLiteBackendTransactionUpdateMissing(t *testing.T) {
	backend := setupSQLiteBackend(t)
	ctx := context.Background()

	tx, err := backend.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	err = tx.UpdateRecord(ctx, "svc-missing", []byte("blob"), time.Now().UTC())
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)

	err = tx.DeleteRecord(ctx, "svc-missing")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestSQLiteBackendAvailable(t *testing.T) {
	backend := setupSQLiteBackend(t)

	assert.True(t, backend.Available(context.Background()))
	assert.True(t, backend.Capabilities().Transactions)
	assert.Equal(t, "sqlite-test", backend.Name())
}
