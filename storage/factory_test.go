package storage

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucerna-id/credential-engine/interfaces"
)

func TestFactoryMemoryBackend(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	store, err := factory.RecordStoreFor("memory://")
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Name())
	assert.True(t, store.Capabilities().Transactions)

	store, err = factory.RecordStoreFor("memory://?transactions=off")
	require.NoError(t, err)
	assert.False(t, store.Capabilities().Transactions)
}

func TestFactorySQLiteBackend(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	path := filepath.Join(t.TempDir(), "records.db")
	store, err := factory.RecordStoreFor("sqlite://" + path)
	require.NoError(t, err)
	t.Cleanup(func() {
		if closer, ok := store.(io.Closer); ok {
			_ = closer.Close()
		}
	})

	assert.True(t, store.Capabilities().Transactions)
	assert.Contains(t, store.Name(), "sqlite")
}

func TestFactoryVaultBackend(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	store, err := factory.RecordStoreFor("vault://vault.example.com:8200/kv?tls=off&prefix=custom")
	require.NoError(t, err)
	assert.Equal(t, "vault-kv-custom", store.Name())
	assert.False(t, store.Capabilities().Transactions)
	assert.Equal(t, "vault://http://vault.example.com:8200/kv/custom", store.LocationURI())

	// Defaults: TLS on, "secret" mount, standard prefix.
	store, err = factory.RecordStoreFor("vault://vault.example.com:8200")
	require.NoError(t, err)
	assert.Equal(t, "vault://https://vault.example.com:8200/secret/credential-engine", store.LocationURI())
}

func TestFactoryRejectsInvalidURIs(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	tests := []struct {
		name string
		uri  string
	}{
		{name: "unsupported scheme", uri: "ftp://example.com/records"},
		{name: "no scheme", uri: "just-a-path"},
		{name: "sqlite without path", uri: "sqlite://"},
		{name: "vault without host", uri: "vault://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.RecordStoreFor(tt.uri)
			assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
		})
	}
}
