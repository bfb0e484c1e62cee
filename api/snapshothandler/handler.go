// Package snapshothandler exposes the on-demand snapshot trigger on the
// worker's admin plane. Requests are authenticated the same way as unseal
// submissions: an ECDSA signature over path+body carried in the X-Admin-ID
// and X-Admin-Signature headers, verified against the admin keyset.
package snapshothandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// maxTriggerBodyBytes caps the request body. Trigger requests normally carry
// no body at all.
const maxTriggerBodyBytes = 4 << 10

// DefaultTriggerTimeout bounds how long a trigger request may wait for the
// snapshot to complete, uploads included.
const DefaultTriggerTimeout = 2 * time.Minute

// SnapshotTrigger requests an immediate snapshot and reports its key.
// backup.Runner implements it.
type SnapshotTrigger interface {
	TriggerSnapshot(ctx context.Context) (string, error)
}

// TriggerResponse is the body of a successful snapshot trigger.
type TriggerResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

// Handler processes snapshot trigger requests.
type Handler struct {
	trigger   SnapshotTrigger
	adminKeys map[string][]byte // fingerprint -> public key PEM
	timeout   time.Duration
	log       *slog.Logger
}

// NewHandler creates a snapshot trigger handler authenticated against the
// given admin keyset (fingerprint -> PEM, as loaded from the admin keys
// file).
func NewHandler(trigger SnapshotTrigger, adminKeys map[string][]byte, log *slog.Logger) (*Handler, error) {
	if trigger == nil {
		return nil, errors.New("snapshot trigger is required")
	}
	if len(adminKeys) == 0 {
		return nil, errors.New("admin keyset is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	for fingerprint, pubPEM := range adminKeys {
		if _, err := parseECDSAPublicKey(pubPEM); err != nil {
			return nil, fmt.Errorf("invalid admin key %s: %w", fingerprint, err)
		}
	}
	return &Handler{
		trigger:   trigger,
		adminKeys: adminKeys,
		timeout:   DefaultTriggerTimeout,
		log:       log,
	}, nil
}

// RegisterRoutes configures the HTTP router with the snapshot endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/admin/snapshot", h.HandleTriggerSnapshot)
}

// HandleTriggerSnapshot runs one snapshot and returns its object key.
//
// Endpoint: POST /api/admin/snapshot
// Required headers:
//   - X-Admin-ID: hex SHA-256 fingerprint of the admin's public key PEM
//   - X-Admin-Signature: base64 ASN.1 ECDSA signature over path+body
//
// Response: 200 {"status":"ok","key":"<snapshot object key>"}
func (h *Handler) HandleTriggerSnapshot(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.verifyAdmin(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := time.Now()
	key, err := h.trigger.TriggerSnapshot(ctx)
	if err != nil {
		h.log.Error("Snapshot trigger failed", slog.String("adminID", adminID), "err", err)
		http.Error(w, fmt.Errorf("snapshot failed: %w", err).Error(), http.StatusInternalServerError)
		return
	}

	h.log.Info("Snapshot triggered",
		slog.String("adminID", adminID),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(TriggerResponse{Status: "ok", Key: key}); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// verifyAdmin authenticates a request against the admin keyset using the
// X-Admin-ID and X-Admin-Signature headers. The signature covers
// SHA-256(path + body); the body is restored for later handlers.
func (h *Handler) verifyAdmin(r *http.Request) (string, bool) {
	adminID := r.Header.Get("X-Admin-ID")
	adminSignatureStr := r.Header.Get("X-Admin-Signature")

	if adminID == "" || adminSignatureStr == "" {
		return "", false
	}

	pubPEM, exists := h.adminKeys[adminID]
	if !exists {
		h.log.Warn("Authentication failed: unknown admin ID", slog.String("adminID", adminID))
		return adminID, false
	}

	adminSignature, err := base64.StdEncoding.DecodeString(adminSignatureStr)
	if err != nil {
		h.log.Warn("Authentication failed: invalid signature encoding", slog.String("adminID", adminID), "err", err)
		return adminID, false
	}

	pubKey, err := parseECDSAPublicKey(pubPEM)
	if err != nil {
		h.log.Error("Failed to parse admin public key", slog.String("adminID", adminID), "err", err)
		return adminID, false
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, err = io.ReadAll(http.MaxBytesReader(nil, r.Body, maxTriggerBodyBytes))
		if err != nil {
			h.log.Warn("Failed to read request body", "err", err)
			return adminID, false
		}

		// Restore the body for later handlers
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	message := r.URL.Path
	if len(bodyBytes) > 0 {
		message += string(bodyBytes)
	}

	hash := sha256.Sum256([]byte(message))
	if !ecdsa.VerifyASN1(pubKey, hash[:], adminSignature) {
		h.log.Warn("Authentication failed: invalid signature", slog.String("adminID", adminID))
		return adminID, false
	}

	h.log.Debug("Admin authentication successful", slog.String("adminID", adminID))
	return adminID, true
}

func parseECDSAPublicKey(pubPEM []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pubKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not ECDSA")
	}
	return pubKey, nil
}
