// Package credstore implements the credential lifecycle on top of a record
// store and the credential sealer: generate key material, store it sealed
// under a passphrase, retrieve it into locked memory, and delete it.
//
// # Failure Semantics
//
// Mutating and reading operations return plain booleans and nil pointers.
// RetrieveDecryptedCredential in particular returns nil for every failure
// cause, whether the subject has no record, the passphrase is wrong, the
// blob was tampered with, or the backend was unreachable. Distinguishing
// those cases in the API would hand an attacker a decryption oracle;
// operators read the cause from the structured logs instead.
//
// # Key Material
//
// GenerateKeyMaterial produces a secp256k1 keypair in the conventional hex
// forms: 0x-prefixed private key, uncompressed public key, and EIP-55
// checksummed address. The address is the stable public identifier; the
// private key hex is the secret material the rest of the engine protects.
//
// # Usage
//
//	store, err := credstore.New(records, sealer, logger)
//	if err != nil {
//	    return err
//	}
//
//	material, err := store.GenerateKeyMaterial()
//	if err != nil {
//	    return err
//	}
//	if !store.StoreEncryptedCredential(ctx, subject, material.PrivateKeyHex, passphrase) {
//	    return errors.New("credential not stored")
//	}
//
//	buf := store.RetrieveDecryptedCredential(ctx, subject, passphrase)
//	if buf == nil {
//	    return errors.New("credential not available")
//	}
//	defer buf.Clear()
package credstore
