package unsealhandler

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

// adminKeyFile is the on-disk JSON format for the admin keyset.
type adminKeyFile struct {
	AdminKeys []string `json:"admin_keys"`
}

// LoadAdminKeys reads the admin keyset from a JSON file of PEM-encoded
// public keys and returns it keyed by fingerprint.
//
// File format:
//
//	{"admin_keys": ["-----BEGIN PUBLIC KEY-----\n...", ...]}
func LoadAdminKeys(path string) (map[string][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin keys file: %w", err)
	}

	var keyFile adminKeyFile
	if err := json.Unmarshal(data, &keyFile); err != nil {
		return nil, fmt.Errorf("failed to parse admin keys file: %w", err)
	}
	if len(keyFile.AdminKeys) == 0 {
		return nil, errors.New("admin keys file contains no keys")
	}

	adminKeys := make(map[string][]byte, len(keyFile.AdminKeys))
	for i, pemStr := range keyFile.AdminKeys {
		pubPEM := []byte(pemStr)
		if _, err := parseECDSAPublicKey(pubPEM); err != nil {
			return nil, fmt.Errorf("admin key %d: %w", i, err)
		}
		adminKeys[KeyFingerprint(pubPEM)] = pubPEM
	}
	return adminKeys, nil
}

// SaveAdminKeys writes an admin keyset file from PEM-encoded public keys,
// in the format LoadAdminKeys reads. Keys that do not parse are rejected
// rather than written.
func SaveAdminKeys(path string, pubKeys [][]byte) error {
	if len(pubKeys) == 0 {
		return errors.New("no admin keys to write")
	}

	keyFile := adminKeyFile{AdminKeys: make([]string, 0, len(pubKeys))}
	for i, pubPEM := range pubKeys {
		if _, err := parseECDSAPublicKey(pubPEM); err != nil {
			return fmt.Errorf("admin key %d: %w", i, err)
		}
		keyFile.AdminKeys = append(keyFile.AdminKeys, string(pubPEM))
	}

	data, err := json.MarshalIndent(keyFile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode admin keys file: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// KeyFingerprint returns the hex SHA-256 fingerprint of a PEM-encoded
// public key. This is the admin's identity on the unseal API.
func KeyFingerprint(pubPEM []byte) string {
	fingerprint := sha256.Sum256(pubPEM)
	return hex.EncodeToString(fingerprint[:])
}

// GenerateAdminKey creates a fresh P-256 admin keypair.
func GenerateAdminKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// MarshalPublicKeyPEM encodes an ECDSA public key as PKIX PEM.
func MarshalPublicKeyPEM(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// MarshalPrivateKeyPEM encodes an ECDSA private key as SEC1 PEM.
func MarshalPrivateKeyPEM(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// LoadPrivateKey reads a PEM-encoded ECDSA private key from a file.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return priv, nil
}

// SignRequest adds the unseal API's authentication headers to a request:
// X-Admin-ID carries the key fingerprint and X-Admin-Signature an ASN.1
// ECDSA signature over SHA-256 of path+body.
func SignRequest(req *http.Request, privateKey *ecdsa.PrivateKey) error {
	if req == nil {
		return errors.New("request cannot be nil")
	}

	pubPEM, err := MarshalPublicKeyPEM(&privateKey.PublicKey)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-ID", KeyFingerprint(pubPEM))

	message := req.URL.Path

	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}

		// Restore the body for the actual request
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		message += string(bodyBytes)
	}

	hash := sha256.Sum256([]byte(message))
	signature, err := ecdsa.SignASN1(rand.Reader, privateKey, hash[:])
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req.Header.Set("X-Admin-Signature", base64.StdEncoding.EncodeToString(signature))
	return nil
}
