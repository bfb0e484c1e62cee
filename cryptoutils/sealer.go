package cryptoutils

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/lucerna-id/credential-engine/securebuf"
)

// Sealed blob layout:
//
//	[1B version][1B algorithm][1B salt len][salt][1B nonce len][nonce][ciphertext+tag]
//
// The blob is self-describing so future versions can change the KDF salt
// size, the nonce size, or the cipher without a stored-format migration.
const (
	// BlobVersion1 is the current sealed blob format version.
	BlobVersion1 byte = 0x01

	// AlgChaCha20Poly1305 identifies the ChaCha20-Poly1305 AEAD.
	AlgChaCha20Poly1305 byte = 0x01

	// MinDerivationSecretLen is the minimum accepted server-side pepper size.
	MinDerivationSecretLen = 16

	saltLen = 16

	// Argon2id parameters: time=1, memory=64MiB, threads=4, keyLen=32
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

var (
	// ErrNoDerivationSecret is returned when the sealer is constructed without
	// a usable server-side derivation secret.
	ErrNoDerivationSecret = fmt.Errorf("derivation secret missing or shorter than %d bytes", MinDerivationSecretLen)

	// ErrMalformedBlob is returned when a sealed blob does not parse.
	ErrMalformedBlob = errors.New("malformed credential blob")

	// ErrUnsupportedBlobVersion is returned for blob versions this build does not know.
	ErrUnsupportedBlobVersion = errors.New("unsupported credential blob version")

	// ErrUnsupportedAlgorithm is returned for cipher identifiers this build does not know.
	ErrUnsupportedAlgorithm = errors.New("unsupported credential blob algorithm")
)

// CredentialSealer turns a passphrase into an AEAD key and seals credential
// plaintext into a versioned blob. The key derivation appends a server-side
// pepper to the passphrase, so a leaked database cannot be brute-forced
// offline without also compromising the server.
//
// The pepper lives in a memguard enclave (encrypted at rest in memory) and is
// only opened for the duration of a key derivation.
type CredentialSealer struct {
	pepper *memguard.Enclave
}

// NewCredentialSealer creates a sealer from the server-side derivation
// secret. The secret is mandatory, minimum 16 bytes; a missing secret is a
// deployment configuration error and is rejected here, at wiring time, so
// Seal and Open never run half-configured. The input slice is moved into a
// memguard enclave and wiped.
func NewCredentialSealer(derivationSecret []byte) (*CredentialSealer, error) {
	if len(derivationSecret) < MinDerivationSecretLen {
		return nil, ErrNoDerivationSecret
	}
	// NewEnclave copies the secret into encrypted memory and wipes the source.
	return &CredentialSealer{pepper: memguard.NewEnclave(derivationSecret)}, nil
}

// Seal encrypts plaintext under a key derived from the passphrase. Every call
// draws a fresh random salt and nonce, so sealing the same plaintext twice
// yields different blobs.
func (s *CredentialSealer) Seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := s.buildAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	// Format: [version][algorithm][salt len][salt][nonce len][nonce][ciphertext+tag]
	blob := make([]byte, 0, 4+len(salt)+len(nonce)+len(ciphertext))
	blob = append(blob, BlobVersion1, AlgChaCha20Poly1305, byte(len(salt)))
	blob = append(blob, salt...)
	blob = append(blob, byte(len(nonce)))
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Open parses a sealed blob, re-derives the key from the passphrase, and
// decrypts. Malformed blobs, unknown versions or algorithms, and
// authentication failures (wrong passphrase or tampered data) all fail;
// callers collapse these into their uniform failure signal rather than
// leaking which one occurred.
func (s *CredentialSealer) Open(blob []byte, passphrase string) ([]byte, error) {
	if len(blob) < 3 {
		return nil, ErrMalformedBlob
	}
	if blob[0] != BlobVersion1 {
		return nil, ErrUnsupportedBlobVersion
	}
	if blob[1] != AlgChaCha20Poly1305 {
		return nil, ErrUnsupportedAlgorithm
	}

	blobSaltLen := int(blob[2])
	off := 3
	if blobSaltLen == 0 || len(blob) < off+blobSaltLen+1 {
		return nil, ErrMalformedBlob
	}
	salt := blob[off : off+blobSaltLen]
	off += blobSaltLen

	nonceLen := int(blob[off])
	off++
	// Reject structurally broken blobs before paying for the slow KDF.
	if nonceLen != chacha20poly1305.NonceSize || len(blob) < off+nonceLen+chacha20poly1305.Overhead {
		return nil, ErrMalformedBlob
	}
	nonce := blob[off : off+nonceLen]
	off += nonceLen
	ciphertext := blob[off:]

	aead, err := s.buildAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential blob: %w", err)
	}
	return plaintext, nil
}

// buildAEAD derives the encryption key with Argon2id over passphrase plus
// pepper and constructs the cipher. The derived key and the concatenated
// input material are wiped before returning; the cipher keeps its own
// internal key schedule.
func (s *CredentialSealer) buildAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	pepper, err := s.pepper.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open derivation secret: %w", err)
	}
	defer pepper.Destroy()

	material := make([]byte, 0, len(passphrase)+pepper.Size())
	material = append(material, passphrase...)
	material = append(material, pepper.Bytes()...)
	defer securebuf.Wipe(material)

	key := argon2.IDKey(material, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer securebuf.Wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return aead, nil
}
