package backup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lucerna-id/credential-engine/interfaces"
	"github.com/lucerna-id/credential-engine/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeS3 is a minimal path-style S3 endpoint: it accepts object PUTs and
// bucket HEADs. Failure statuses use 403 because the SDK retries 5xx.
type fakeS3 struct {
	mu         sync.Mutex
	puts       map[string][]byte
	headStatus int
	putStatus  int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		puts:       make(map[string][]byte),
		headStatus: http.StatusOK,
		putStatus:  http.StatusOK,
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(f.headStatus)
	case http.MethodPut:
		if f.putStatus != http.StatusOK {
			w.WriteHeader(f.putStatus)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.puts[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeS3) storedObjects() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string][]byte, len(f.puts))
	for k, v := range f.puts {
		out[k] = v
	}
	return out
}

func newTestArchiver(t *testing.T, endpoint string, records interfaces.RecordStore, prefix string) *S3Archiver {
	t.Helper()

	archiver, err := NewS3Archiver(records, &S3ArchiverConfig{
		Bucket:         "test-bucket",
		Prefix:         prefix,
		Region:         "us-east-1",
		Endpoint:       endpoint,
		AccessKey:      "test-access",
		SecretKey:      "test-secret",
		ForcePathStyle: true,
		Log:            testLogger(),
	})
	require.NoError(t, err)
	return archiver
}

func seededStore(t *testing.T, subjects ...string) interfaces.RecordStore {
	t.Helper()

	store := storage.NewMemoryBackend(false, testLogger())
	now := time.Now().UTC()
	for i, subject := range subjects {
		id, err := interfaces.NewSubjectID(subject)
		require.NoError(t, err)
		require.NoError(t, store.InsertRecord(context.Background(), &interfaces.CredentialRecord{
			SubjectID:  id,
			CipherText: []byte{0xCA, 0xFE, byte(i)},
			CreatedAt:  now,
			UpdatedAt:  now,
		}))
	}
	return store
}

func TestNewS3ArchiverValidation(t *testing.T) {
	store := storage.NewMemoryBackend(false, testLogger())

	_, err := NewS3Archiver(nil, &S3ArchiverConfig{Bucket: "b", Region: "r", Log: testLogger()})
	assert.ErrorContains(t, err, "record store")

	_, err = NewS3Archiver(store, nil)
	assert.ErrorContains(t, err, "config")

	_, err = NewS3Archiver(store, &S3ArchiverConfig{Region: "r", Log: testLogger()})
	assert.ErrorContains(t, err, "bucket")

	_, err = NewS3Archiver(store, &S3ArchiverConfig{Bucket: "b", Log: testLogger()})
	assert.ErrorContains(t, err, "region")

	_, err = NewS3Archiver(store, &S3ArchiverConfig{Bucket: "b", Region: "r"})
	assert.ErrorContains(t, err, "logger")
}

func TestArchiveWritesSnapshot(t *testing.T) {
	fake := newFakeS3()
	server := httptest.NewServer(fake)
	defer server.Close()

	archiver := newTestArchiver(t, server.URL, seededStore(t, "svc-alpha", "svc-beta"), "lucerna")

	key, err := archiver.Archive(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "lucerna/snapshots/"), "key %q", key)
	assert.True(t, strings.HasSuffix(key, ".json"), "key %q", key)

	objects := fake.storedObjects()
	require.Len(t, objects, 1)
	body, ok := objects["/test-bucket/"+key]
	require.True(t, ok, "object not stored under the returned key, got %v", objects)

	var doc snapshotDocument
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.False(t, doc.TakenAt.IsZero())
	require.Len(t, doc.Records, 2)

	bySubject := make(map[string]snapshotRecord)
	for _, rec := range doc.Records {
		bySubject[rec.SubjectID] = rec
	}
	alpha, ok := bySubject["svc-alpha"]
	require.True(t, ok)
	cipher, err := base64.StdEncoding.DecodeString(alpha.CipherText)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCA, 0xFE, 0x00}, cipher)
	assert.NotZero(t, alpha.CreatedAt)
	assert.NotZero(t, alpha.UpdatedAt)
}

func TestArchiveEmptyStore(t *testing.T) {
	fake := newFakeS3()
	server := httptest.NewServer(fake)
	defer server.Close()

	archiver := newTestArchiver(t, server.URL, seededStore(t), "")

	key, err := archiver.Archive(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "snapshots/"), "key %q", key)

	objects := fake.storedObjects()
	require.Len(t, objects, 1)

	var doc snapshotDocument
	require.NoError(t, json.Unmarshal(objects["/test-bucket/"+key], &doc))
	assert.Empty(t, doc.Records)
}

func TestArchiveUploadFailure(t *testing.T) {
	fake := newFakeS3()
	fake.putStatus = http.StatusForbidden
	server := httptest.NewServer(fake)
	defer server.Close()

	archiver := newTestArchiver(t, server.URL, seededStore(t, "svc-alpha"), "lucerna")

	_, err := archiver.Archive(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload snapshot")
}

func TestArchiveListFailure(t *testing.T) {
	fake := newFakeS3()
	server := httptest.NewServer(fake)
	defer server.Close()

	records := new(interfaces.MockRecordStore)
	records.On("ListRecords", mock.Anything).Return(nil, interfaces.ErrBackendUnavailable)

	archiver := newTestArchiver(t, server.URL, records, "lucerna")

	_, err := archiver.Archive(context.Background())
	require.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.Empty(t, fake.storedObjects(), "nothing should be uploaded when listing fails")
}

func TestAvailable(t *testing.T) {
	fake := newFakeS3()
	server := httptest.NewServer(fake)
	defer server.Close()

	archiver := newTestArchiver(t, server.URL, seededStore(t), "")
	assert.True(t, archiver.Available(context.Background()))

	fake.mu.Lock()
	fake.headStatus = http.StatusForbidden
	fake.mu.Unlock()
	assert.False(t, archiver.Available(context.Background()))
}
