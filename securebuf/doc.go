// Package securebuf provides wipeable in-memory holders for plaintext
// secrets.
//
// A Buffer wraps a memguard locked buffer, so its content is:
//
//   - Protected from swapping via mlock
//   - Guarded against overflow via guard pages and a canary
//   - Overwritten (0x00, 0xFF, 0x00) and destroyed on Clear
//
// # Usage
//
// Buffers are call-scoped. Create one, use it, and clear it in a deferred
// cleanup on every exit path:
//
//	buf, err := securebuf.FromString(passphrase)
//	if err != nil {
//	    return err
//	}
//	defer buf.Clear()
//
//	secret, err := buf.Plaintext()
//
// After Clear, Plaintext and Bytes return ErrBufferCleared and Size reports
// zero. Clear is idempotent.
//
// The package-level Wipe helper applies the same overwrite pattern to
// transient byte slices (derived keys, intermediate plaintext) that never
// lived in a Buffer.
//
// # Limits
//
// The wipe discipline keeps secrets out of core dumps and swap. It does not
// defend against an attacker with root on the running host, nor against
// hardware-level attacks.
package securebuf
