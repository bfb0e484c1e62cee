// Package unsealhandler lets a worker start without its derivation secret
// and receive it as Shamir shares over an authenticated admin API.
//
// # Sealed Startup
//
// In Shamir mode the worker boots sealed: it knows the admin keyset and the
// threshold, but holds no secret, so the sealer cannot exist yet. Only the
// health and unseal endpoints are served; the rotation API answers 503. The
// main goroutine blocks in WaitForSecret until enough shares arrive, then
// builds the sealer and mounts the rotation API.
//
// # Share Submission
//
// Each admin holds one share of the derivation secret, produced by
// SplitSecret. Submissions are authenticated twice:
//
//   - The HTTP request carries X-Admin-ID (the hex SHA-256 fingerprint of
//     the admin's public key PEM) and X-Admin-Signature (ECDSA over
//     SHA-256 of path+body).
//   - The share itself carries an ECDSA signature over its SHA-256, checked
//     against the same key before the share counts toward the threshold.
//
// At threshold the secret is reconstructed in locked memory, every share
// copy is wiped, and the engine reports unsealed. Shares never exist on
// disk on the worker side.
//
// # Key Management
//
// The admin keyset is a JSON file of PEM public keys; identities are key
// fingerprints, so no separate ID assignment is needed. GenerateAdminKey,
// MarshalPublicKeyPEM, and LoadPrivateKey support the admin CLI.
package unsealhandler
