// Package adminclient implements the client side of the worker's signed
// admin plane: unseal status, share submission, and snapshot triggering.
// cmd/admin is its main consumer.
package adminclient

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lucerna-id/credential-engine/api/snapshothandler"
	"github.com/lucerna-id/credential-engine/api/unsealhandler"
)

// DefaultRequestTimeout bounds every admin API call.
const DefaultRequestTimeout = 30 * time.Second

// Client talks to one worker's admin endpoints. Authenticated calls sign
// path+body with the admin's private key; Status works without a key.
type Client struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	client     *http.Client
}

// New creates an admin client for a worker's base URL. The private key may
// be nil when only Status is needed.
func New(baseURL string, privateKey *ecdsa.PrivateKey) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		privateKey: privateKey,
		client:     &http.Client{Timeout: DefaultRequestTimeout},
	}
}

// Status fetches the worker's unseal progress.
func (c *Client) Status(ctx context.Context) (*unsealhandler.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/admin/unseal/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", responseError(resp))
	}

	var status unsealhandler.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// SubmitShare signs and submits one Shamir share and returns the unseal
// status afterwards.
func (c *Client) SubmitShare(ctx context.Context, shareIndex int, share []byte) (*unsealhandler.StatusResponse, error) {
	if c.privateKey == nil {
		return nil, errors.New("an admin private key is required to submit shares")
	}

	shareSignature, err := unsealhandler.SignShare(share, c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign share: %w", err)
	}

	body, err := json.Marshal(unsealhandler.SubmitShareRequest{
		ShareIndex: shareIndex,
		Share:      base64.StdEncoding.EncodeToString(share),
		Signature:  base64.StdEncoding.EncodeToString(shareSignature),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode share request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admin/unseal/share", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create share request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := unsealhandler.SignRequest(req, c.privateKey); err != nil {
		return nil, fmt.Errorf("failed to sign share request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("share submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("share submission failed: %s", responseError(resp))
	}

	var status unsealhandler.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode share response: %w", err)
	}
	return &status, nil
}

// TriggerSnapshot requests an immediate record snapshot and returns its
// object key.
func (c *Client) TriggerSnapshot(ctx context.Context) (string, error) {
	if c.privateKey == nil {
		return "", errors.New("an admin private key is required to trigger snapshots")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admin/snapshot", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot request: %w", err)
	}
	if err := unsealhandler.SignRequest(req, c.privateKey); err != nil {
		return "", fmt.Errorf("failed to sign snapshot request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("snapshot request failed: %s", responseError(resp))
	}

	var triggered snapshothandler.TriggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&triggered); err != nil {
		return "", fmt.Errorf("failed to decode snapshot response: %w", err)
	}
	return triggered.Key, nil
}

// responseError renders a non-2xx response for error messages.
func responseError(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
