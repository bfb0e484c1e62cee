package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/lucerna-id/credential-engine/securebuf"
)

// Wrapped blob layout:
//
//	[2B ephemeral key length][ephemeral public key][12B nonce][ciphertext+tag]
//
// The ephemeral key is an uncompressed curve point on the recipient's curve.
const eciesNonceLen = 12

// EncryptWithPublicKey encrypts data to the holder of an ECDSA key using
// ECIES: an ephemeral ECDH agreement, SHA-256 key derivation, and an AES-GCM
// seal. A fresh ephemeral key is generated per call, so encrypting the same
// bytes twice never yields the same blob.
//
// Admin tooling uses this to wrap unseal shares for one admin's public key,
// so share files are ciphertext at rest and useless to anyone else.
func EncryptWithPublicKey(publicKeyPEM []byte, data []byte) ([]byte, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	publicKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}

	recipient, err := publicKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("unsupported public key: %w", err)
	}
	ephemeralKey, err := recipient.Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	shared, err := ephemeralKey.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	sharedSecret := sha256.Sum256(shared)
	securebuf.Wipe(shared)
	defer securebuf.Wipe(sharedSecret[:])

	nonce := make([]byte, eciesNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aesBlock, err := aes.NewCipher(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	ciphertext := aesGCM.Seal(nil, nonce, data, nil)
	ephemeralPublicKeyBytes := ephemeralKey.PublicKey().Bytes()

	result := make([]byte, 2+len(ephemeralPublicKeyBytes)+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(result[0:2], uint16(len(ephemeralPublicKeyBytes)))
	copy(result[2:], ephemeralPublicKeyBytes)
	copy(result[2+len(ephemeralPublicKeyBytes):], nonce)
	copy(result[2+len(ephemeralPublicKeyBytes)+len(nonce):], ciphertext)

	return result, nil
}

// DecryptWithPrivateKey reverses EncryptWithPublicKey using the matching
// private key. Any damage to the blob, and any key but the right one, fails
// the GCM tag check.
func DecryptWithPrivateKey(privateKeyPEM []byte, encryptedData []byte) ([]byte, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	recipientKey, err := privateKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("unsupported private key: %w", err)
	}

	if len(encryptedData) < 2 {
		return nil, errors.New("encrypted data too short")
	}
	ephemeralKeyLen := int(binary.BigEndian.Uint16(encryptedData[0:2]))
	if len(encryptedData) < 2+ephemeralKeyLen+eciesNonceLen {
		return nil, errors.New("encrypted data has invalid format")
	}

	ephemeralPublicKey, err := recipientKey.Curve().NewPublicKey(encryptedData[2 : 2+ephemeralKeyLen])
	if err != nil {
		return nil, errors.New("failed to parse ephemeral public key")
	}

	shared, err := recipientKey.ECDH(ephemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	sharedSecret := sha256.Sum256(shared)
	securebuf.Wipe(shared)
	defer securebuf.Wipe(sharedSecret[:])

	nonceStart := 2 + ephemeralKeyLen
	nonce := encryptedData[nonceStart : nonceStart+eciesNonceLen]
	ciphertext := encryptedData[nonceStart+eciesNonceLen:]

	aesBlock, err := aes.NewCipher(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("failed to decrypt")
	}
	return plaintext, nil
}
