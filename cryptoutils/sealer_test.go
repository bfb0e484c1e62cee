package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestSealer builds a sealer with a fresh pepper copy, since the
// constructor wipes its input slice.
func newTestSealer(t *testing.T) *CredentialSealer {
	t.Helper()
	sealer, err := NewCredentialSealer([]byte("0123456789abcdef-test-pepper"))
	require.NoError(t, err)
	return sealer
}

func TestSealOpenRoundTrip(t *testing.T) {
	sealer := newTestSealer(t)

	testCases := []struct {
		name string
		data []byte
	}{
		{
			name: "Private key hex",
			data: []byte("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"),
		},
		{
			name: "Binary data",
			data: []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD},
		},
		{
			name: "Long data",
			data: bytes.Repeat([]byte("k"), 1024),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := sealer.Seal(tc.data, "hunter2-rotated")
			require.NoError(t, err)
			require.Greater(t, len(blob), len(tc.data))

			plaintext, err := sealer.Open(blob, "hunter2-rotated")
			require.NoError(t, err)
			require.Equal(t, tc.data, plaintext)
		})
	}
}

func TestOpenWithWrongPassphrase(t *testing.T) {
	sealer := newTestSealer(t)

	blob, err := sealer.Seal([]byte("secret material"), "right-passphrase")
	require.NoError(t, err)

	_, err = sealer.Open(blob, "wrong-passphrase")
	require.Error(t, err)
}

func TestOpenTamperedBlob(t *testing.T) {
	sealer := newTestSealer(t)

	blob, err := sealer.Seal([]byte("secret material"), "pass")
	require.NoError(t, err)

	// Flip one ciphertext byte; Poly1305 must reject it.
	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = sealer.Open(tampered, "pass")
	require.Error(t, err)

	// Flip one salt byte; the derived key changes and authentication fails.
	tampered = append([]byte(nil), blob...)
	tampered[3] ^= 0x01
	_, err = sealer.Open(tampered, "pass")
	require.Error(t, err)
}

func TestBlobFormat(t *testing.T) {
	sealer := newTestSealer(t)

	blob, err := sealer.Seal([]byte("secret material"), "pass")
	require.NoError(t, err)

	require.Equal(t, BlobVersion1, blob[0])
	require.Equal(t, AlgChaCha20Poly1305, blob[1])
	require.Equal(t, byte(16), blob[2], "salt length")
	require.Equal(t, byte(12), blob[3+16], "nonce length")

	// Fresh salt and nonce per call: sealing the same plaintext twice under
	// the same passphrase must produce different blobs.
	blob2, err := sealer.Seal([]byte("secret material"), "pass")
	require.NoError(t, err)
	require.NotEqual(t, blob, blob2)
}

func TestOpenRejectsUnknownVersionAndAlgorithm(t *testing.T) {
	sealer := newTestSealer(t)

	blob, err := sealer.Seal([]byte("secret material"), "pass")
	require.NoError(t, err)

	unknownVersion := append([]byte(nil), blob...)
	unknownVersion[0] = 0x7F
	_, err = sealer.Open(unknownVersion, "pass")
	require.ErrorIs(t, err, ErrUnsupportedBlobVersion)

	unknownAlg := append([]byte(nil), blob...)
	unknownAlg[1] = 0x7F
	_, err = sealer.Open(unknownAlg, "pass")
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestOpenRejectsMalformedBlobs(t *testing.T) {
	sealer := newTestSealer(t)

	testCases := []struct {
		name string
		blob []byte
	}{
		{
			name: "nil",
			blob: nil,
		},
		{
			name: "too short for header",
			blob: []byte{BlobVersion1, AlgChaCha20Poly1305},
		},
		{
			name: "zero salt length",
			blob: []byte{BlobVersion1, AlgChaCha20Poly1305, 0x00, 0x0C},
		},
		{
			name: "truncated salt",
			blob: []byte{BlobVersion1, AlgChaCha20Poly1305, 0x10, 0x01, 0x02},
		},
		{
			name: "bad nonce length",
			blob: append([]byte{BlobVersion1, AlgChaCha20Poly1305, 0x01, 0xAA, 0x05}, make([]byte, 64)...),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sealer.Open(tc.blob, "pass")
			require.ErrorIs(t, err, ErrMalformedBlob)
		})
	}
}

func TestSealerRequiresDerivationSecret(t *testing.T) {
	_, err := NewCredentialSealer(nil)
	require.ErrorIs(t, err, ErrNoDerivationSecret)

	_, err = NewCredentialSealer([]byte("too-short"))
	require.ErrorIs(t, err, ErrNoDerivationSecret)

	sealer, err := NewCredentialSealer([]byte("exactly-16-bytes"))
	require.NoError(t, err)
	require.NotNil(t, sealer)
}

func TestCrossPepperIsolation(t *testing.T) {
	sealerA, err := NewCredentialSealer([]byte("pepper-for-deployment-a"))
	require.NoError(t, err)
	sealerB, err := NewCredentialSealer([]byte("pepper-for-deployment-b"))
	require.NoError(t, err)

	blob, err := sealerA.Seal([]byte("secret material"), "same-passphrase")
	require.NoError(t, err)

	// Same passphrase, different server pepper: must not decrypt.
	_, err = sealerB.Open(blob, "same-passphrase")
	require.Error(t, err)
}
