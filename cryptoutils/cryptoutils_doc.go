// Package cryptoutils provides the cryptographic operations of the
// credential engine: passphrase-bound sealing of credential material and
// asymmetric wrapping of admin-held secrets.
//
// # Credential sealing
//
// CredentialSealer binds secret material to a user passphrase and a
// server-side pepper. Keys are derived with Argon2id (time=1, memory=64MiB,
// threads=4) over passphrase+pepper and a random per-blob salt, then the
// material is sealed with ChaCha20-Poly1305. The sealed blob is
// self-describing:
//
//	[1B version][1B algorithm][1B salt len][salt][1B nonce len][nonce][ciphertext+tag]
//
// so KDF or cipher changes never need a stored-format migration. Opening
// with the wrong passphrase, the wrong pepper, or a damaged blob fails the
// AEAD tag check; the error does not say which.
//
// # Admin secret wrapping
//
// EncryptWithPublicKey and DecryptWithPrivateKey implement ECIES over the
// admin ECDSA keys: an ephemeral ECDH agreement, SHA-256 key derivation,
// and AES-GCM authenticated encryption. The wrapped blob format is
//
//	[ephemeral key length (2 bytes)][ephemeral key][nonce (12 bytes)][ciphertext]
//
// with the ephemeral key encoded as an uncompressed curve point. A fresh
// ephemeral key per call gives forward secrecy: compromising one wrapped
// share reveals nothing about others encrypted to the same admin.
//
// The admin tooling uses this pair to keep unseal share files ciphertext
// at rest, each readable only by the admin it was wrapped for.
//
// # Security Considerations
//
//   - Derived keys, shared secrets, and plaintext intermediates are wiped
//     after use; the pepper lives in a memguard enclave.
//   - All failures are deliberately vague. Distinguishing "wrong
//     passphrase" from "corrupt blob" would hand an attacker an oracle.
//   - Neither scheme stores or transmits key material; both operate on
//     caller-supplied buffers only.
package cryptoutils
