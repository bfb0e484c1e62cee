// Package main (cmd/admin) implements the admin client for the credential
// engine's sealed startup and snapshot operations.
//
// The admin client provides command-line tools for managing the Shamir
// based unseal flow of a rotation worker: key generation, keyset
// configuration, share splitting and submission, and on-demand snapshots.
//
// Commands:
//
//	status                - Query the worker's seal state and unseal progress
//	generate-admin        - Generate a new administrator key pair for authentication
//	generate-admin-config - Create the admin-keys.json keyset from admin public keys
//	split-shares          - Split a derivation secret into unseal share files
//	submit-share          - Submit one share to a sealed worker
//	trigger-snapshot      - Ask the worker to write an encrypted snapshot now
//
// Each administrator must be registered with the worker by including their
// public key in the admin keyset file. Administrators authenticate using
// ECDSA signatures created with their private keys; the worker identifies
// them by the SHA-256 fingerprint of their public key PEM.
//
// Example workflow:
//
//  1. Generate an admin keypair for each administrator:
//     admin generate-admin --admin-privkey-file=admin1-private.pem --admin-pubkey-file=admin1-public.pem
//
//  2. Create the keyset file the worker loads at startup:
//     admin generate-admin-config --admin-pubkey-files=admin1-public.pem,admin2-public.pem
//
//  3. Split a fresh derivation secret into 3 shares, any 2 of which unseal.
//     With --admin-pubkey-files, share N is encrypted for key N and only
//     that admin can use it:
//     admin split-shares --generate --shares-total=3 --shares-threshold=2 \
//     --admin-pubkey-files=admin1-public.pem,admin2-public.pem,admin3-public.pem
//
//  4. After a worker restart, administrators submit their shares:
//     admin submit-share --share-file=unseal-share-0.json --admin-privkey-file=admin1-private.pem
//
//  5. Take an encrypted snapshot on demand:
//     admin trigger-snapshot --admin-privkey-file=admin1-private.pem
//
// The security model ensures that:
//   - The derivation secret is never persisted, only reconstructed in memory
//   - A threshold number of shares is required to reconstruct it
//   - Each submission is signed, and only registered admins are accepted
//   - Share files hold single shares, useless below the threshold, and can
//     be wrapped so only their designated admin can read them
package main
