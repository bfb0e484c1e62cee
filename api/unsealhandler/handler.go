package unsealhandler

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxShareBodyBytes caps unseal submissions; a share plus its signature is
// well under a kilobyte.
const maxShareBodyBytes = 64 << 10

// SubmitShareRequest is the body of POST /api/admin/unseal/share.
type SubmitShareRequest struct {
	ShareIndex int    `json:"share_index"`
	Share      string `json:"share"`     // base64
	Signature  string `json:"signature"` // base64, ECDSA over SHA-256 of the share
}

// StatusResponse reports the unseal progress.
type StatusResponse struct {
	State          SealState `json:"state"`
	Threshold      int       `json:"threshold"`
	SharesReceived int       `json:"shares_received"`
}

// Handler processes HTTP requests for unsealing a worker that started
// without its derivation secret.
//
// Share submissions are authenticated twice: the request itself carries an
// ECDSA signature over path+body in the X-Admin-ID/X-Admin-Signature
// headers, and the share inside the body carries its own signature that the
// unsealer verifies before counting it. Both must come from a key in the
// admin keyset.
type Handler struct {
	unsealer *SecretUnsealer
	log      *slog.Logger
}

// NewHandler creates an unseal API handler.
func NewHandler(unsealer *SecretUnsealer, log *slog.Logger) (*Handler, error) {
	if unsealer == nil {
		return nil, errors.New("unsealer is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Handler{unsealer: unsealer, log: log}, nil
}

// RegisterRoutes configures the HTTP router with the unseal endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/admin/unseal/share", h.HandleSubmitShare)
	r.Get("/api/admin/unseal/status", h.HandleStatus)
}

// HandleSubmitShare accepts one Shamir share from an admin.
//
// Endpoint: POST /api/admin/unseal/share
// Required headers:
//   - X-Admin-ID: hex SHA-256 fingerprint of the admin's public key PEM
//   - X-Admin-Signature: base64 ASN.1 ECDSA signature over path+body
//
// Request body: {"share_index", "share" (b64), "signature" (b64)}
//
// Response: 200 with the unseal status after counting the share.
func (h *Handler) HandleSubmitShare(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.verifyAdmin(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SubmitShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	share, err := base64.StdEncoding.DecodeString(req.Share)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid share encoding: %w", err).Error(), http.StatusBadRequest)
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid signature encoding: %w", err).Error(), http.StatusBadRequest)
		return
	}

	if err := h.unsealer.SubmitShare(req.ShareIndex, share, signature, adminID); err != nil {
		h.log.Warn("Unseal share rejected", slog.String("adminID", adminID), "err", err)
		http.Error(w, fmt.Errorf("share rejected: %w", err).Error(), http.StatusBadRequest)
		return
	}

	state, threshold, received := h.unsealer.Status()
	h.writeJSON(w, StatusResponse{State: state, Threshold: threshold, SharesReceived: received})
}

// HandleStatus returns the unseal progress.
//
// Endpoint: GET /api/admin/unseal/status
//
// Response: {"state", "threshold", "shares_received"}. Share counts reset
// to zero once unsealed because the shares are wiped at reconstruction.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	state, threshold, received := h.unsealer.Status()
	h.writeJSON(w, StatusResponse{State: state, Threshold: threshold, SharesReceived: received})
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

	h.unsealer.mu.RLock()
	pubPEM, exists := h.unsealer.adminKeys[adminID]
	h.unsealer.mu.RUnlock()
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
		bodyBytes, err = io.ReadAll(http.MaxBytesReader(nil, r.Body, maxShareBodyBytes))
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

func (h *Handler) writeJSON(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
