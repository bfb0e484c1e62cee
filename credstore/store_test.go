package credstore

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lucerna-id/credential-engine/cryptoutils"
	"github.com/lucerna-id/credential-engine/interfaces"
	"github.com/lucerna-id/credential-engine/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSealer(t *testing.T) *cryptoutils.CredentialSealer {
	t.Helper()
	// The constructor wipes its input, so hand it a fresh copy.
	sealer, err := cryptoutils.NewCredentialSealer([]byte("test-derivation-secret-0123456789"))
	require.NoError(t, err)
	return sealer
}

// newTestStore wires the store to an in-memory backend; transactions toggles
// which delete path runs.
func newTestStore(t *testing.T, transactions bool) *Store {
	t.Helper()
	store, err := New(storage.NewMemoryBackend(transactions, testLogger()), newTestSealer(t), testLogger())
	require.NoError(t, err)
	return store
}

func TestNewRequiresDependencies(t *testing.T) {
	records := storage.NewMemoryBackend(true, testLogger())
	sealer := newTestSealer(t)

	_, err := New(nil, sealer, testLogger())
	assert.Error(t, err)

	_, err = New(records, nil, testLogger())
	assert.Error(t, err)

	_, err = New(records, sealer, nil)
	assert.Error(t, err)

	store, err := New(records, sealer, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestGenerateKeyMaterial(t *testing.T) {
	store := newTestStore(t, true)

	material, err := store.GenerateKeyMaterial()
	require.NoError(t, err)

	assert.Len(t, material.Address, 42)
	assert.True(t, strings.HasPrefix(material.Address, "0x"))
	assert.True(t, strings.HasPrefix(material.PublicKeyHex, "0x04"), "public key should be uncompressed")
	assert.Len(t, material.PrivateKeyHex, 66)

	// The address must be derivable from the private key.
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(material.PrivateKeyHex, "0x"))
	require.NoError(t, err)
	assert.Equal(t, material.Address, crypto.PubkeyToAddress(privateKey.PublicKey).Hex())

	// Two generations never collide.
	second, err := store.GenerateKeyMaterial()
	require.NoError(t, err)
	assert.NotEqual(t, material.PrivateKeyHex, second.PrivateKeyHex)
	assert.NotEqual(t, material.Address, second.Address)
}

func TestStoreAndRetrieveCredential(t *testing.T) {
	store := newTestStore(t, true)
	ctx := context.Background()

	ok := store.StoreEncryptedCredential(ctx, "svc-alpha", "0xdeadbeefcafe", "correct horse")
	require.True(t, ok)

	buf := store.RetrieveDecryptedCredential(ctx, "svc-alpha", "correct horse")
	require.NotNil(t, buf)
	defer buf.Clear()

	plaintext, err := buf.Plaintext()
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeefcafe", plaintext)
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	store := newTestStore(t, true)
	ctx := context.Background()

	tests := []struct {
		name       string
		subject    interfaces.SubjectID
		secret     string
		passphrase string
	}{
		{name: "empty subject", subject: "", secret: "material", passphrase: "pass"},
		{name: "oversized subject", subject: interfaces.SubjectID(strings.Repeat("a", 300)), secret: "material", passphrase: "pass"},
		{name: "empty secret material", subject: "svc-alpha", secret: "", passphrase: "pass"},
		{name: "empty passphrase", subject: "svc-alpha", secret: "material", passphrase: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, store.StoreEncryptedCredential(ctx, tt.subject, tt.secret, tt.passphrase))
		})
	}
}

func TestStoreDuplicateSubject(t *testing.T) {
	store := newTestStore(t, true)
	ctx := context.Background()

	require.True(t, store.StoreEncryptedCredential(ctx, "svc-alpha", "first-secret", "pass"))
	assert.False(t, store.StoreEncryptedCredential(ctx, "svc-alpha", "second-secret", "pass"))

	// The original credential is untouched.
	buf := store.RetrieveDecryptedCredential(ctx, "svc-alpha", "pass")
	require.NotNil(t, buf)
	defer buf.Clear()
	plaintext, err := buf.Plaintext()
	require.NoError(t, err)
	assert.Equal(t, "first-secret", plaintext)
}

func TestRetrieveFailuresAreUniform(t *testing.T) {
	store := newTestStore(t, true)
	ctx := context.Background()

	require.True(t, store.StoreEncryptedCredential(ctx, "svc-alpha", "secret-material", "right"))

	// Every failure mode collapses to nil.
	assert.Nil(t, store.RetrieveDecryptedCredential(ctx, "svc-missing", "right"))
	assert.Nil(t, store.RetrieveDecryptedCredential(ctx, "svc-alpha", "wrong"))
	assert.Nil(t, store.RetrieveDecryptedCredential(ctx, "svc-alpha", ""))
	assert.Nil(t, store.RetrieveDecryptedCredential(ctx, "", "right"))
}

func TestRetrieveTamperedBlob(t *testing.T) {
	records := storage.NewMemoryBackend(true, testLogger())
	store, err := New(records, newTestSealer(t), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.True(t, store.StoreEncryptedCredential(ctx, "svc-alpha", "secret-material", "pass"))

	// Corrupt the stored blob behind the store's back.
	record, err := records.FetchRecord(ctx, "svc-alpha")
	require.NoError(t, err)
	tampered := append([]byte(nil), record.CipherText...)
	tampered[len(tampered)-1] ^= 0x01
	swapped, err := records.CompareAndSwapRecord(ctx, "svc-alpha", record.Stamp(), tampered, record.UpdatedAt)
	require.NoError(t, err)
	require.True(t, swapped)

	assert.Nil(t, store.RetrieveDecryptedCredential(ctx, "svc-alpha", "pass"))
}

func TestHasCredential(t *testing.T) {
	store := newTestStore(t, true)
	ctx := context.Background()

	assert.False(t, store.HasCredential(ctx, "svc-alpha"))
	assert.False(t, store.HasCredential(ctx, ""))

	require.True(t, store.StoreEncryptedCredential(ctx, "svc-alpha", "secret", "pass"))
	assert.True(t, store.HasCredential(ctx, "svc-alpha"))
}

func TestDeleteCredentialTransactional(t *testing.T) {
	store := newTestStore(t, true)
	ctx := context.Background()

	require.True(t, store.StoreEncryptedCredential(ctx, "svc-alpha", "secret", "pass"))
	assert.True(t, store.DeleteCredential(ctx, "svc-alpha"))
	assert.False(t, store.HasCredential(ctx, "svc-alpha"))

	// Nothing left to delete.
	assert.False(t, store.DeleteCredential(ctx, "svc-alpha"))
}

func TestDeleteCredentialDirect(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()

	require.True(t, store.StoreEncryptedCredential(ctx, "svc-alpha", "secret", "pass"))
	assert.True(t, store.DeleteCredential(ctx, "svc-alpha"))
	assert.False(t, store.HasCredential(ctx, "svc-alpha"))
	assert.False(t, store.DeleteCredential(ctx, "svc-missing"))
}

func TestStoreBackendFailure(t *testing.T) {
	records := new(interfaces.MockRecordStore)
	records.On("InsertRecord", mock.Anything, mock.Anything).Return(interfaces.ErrBackendUnavailable)

	store, err := New(records, newTestSealer(t), testLogger())
	require.NoError(t, err)

	assert.False(t, store.StoreEncryptedCredential(context.Background(), "svc-alpha", "secret", "pass"))
	records.AssertExpectations(t)
}

func TestHasCredentialBackendFailure(t *testing.T) {
	records := new(interfaces.MockRecordStore)
	records.On("HasRecord", mock.Anything, interfaces.SubjectID("svc-alpha")).Return(false, interfaces.ErrBackendUnavailable)

	store, err := New(records, newTestSealer(t), testLogger())
	require.NoError(t, err)

	assert.False(t, store.HasCredential(context.Background(), "svc-alpha"))
	records.AssertExpectations(t)
}

func TestDeleteCredentialRollsBackOnFailure(t *testing.T) {
	tx := new(interfaces.MockRecordTx)
	tx.On("DeleteRecord", mock.Anything, interfaces.SubjectID("svc-alpha")).Return(interfaces.ErrBackendUnavailable)
	tx.On("Rollback").Return(nil)

	records := new(interfaces.MockRecordStore)
	records.On("Capabilities").Return(interfaces.StoreCapabilities{Transactions: true})
	records.On("BeginTx", mock.Anything).Return(tx, nil)

	store, err := New(records, newTestSealer(t), testLogger())
	require.NoError(t, err)

	assert.False(t, store.DeleteCredential(context.Background(), "svc-alpha"))
	records.AssertExpectations(t)
	tx.AssertExpectations(t)
}
