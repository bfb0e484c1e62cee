package securebuf

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

var (
	// ErrBufferCleared is returned when a buffer's content is requested after Clear.
	ErrBufferCleared = errors.New("secure buffer already cleared")

	// ErrEmptyPlaintext is returned when constructing a buffer from zero bytes.
	ErrEmptyPlaintext = errors.New("secure buffer requires non-empty plaintext")
)

// Buffer holds plaintext secret bytes in a memguard locked region: mlocked
// against swapping, guard-paged against overflow, canary-protected. Instances
// are call-scoped; every code path that creates one wipes it in a deferred
// cleanup before returning.
type Buffer struct {
	mu      sync.Mutex
	buf     *memguard.LockedBuffer
	cleared bool
}

// FromString copies s into locked memory. The string itself cannot be wiped
// (Go strings are immutable), so callers pass secrets as strings only at the
// outermost API boundary.
func FromString(s string) (*Buffer, error) {
	if len(s) == 0 {
		return nil, ErrEmptyPlaintext
	}
	return &Buffer{buf: memguard.NewBufferFromBytes([]byte(s))}, nil
}

// FromBytes copies b into locked memory and wipes the source slice, so the
// only readable copy left is the protected one.
func FromBytes(b []byte) (*Buffer, error) {
	if len(b) == 0 {
		return nil, ErrEmptyPlaintext
	}
	return &Buffer{buf: memguard.NewBufferFromBytes(b)}, nil
}

// Plaintext returns the content as a string, or ErrBufferCleared once the
// buffer has been cleared.
func (b *Buffer) Plaintext() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cleared {
		return "", ErrBufferCleared
	}
	return string(b.buf.Bytes()), nil
}

// Bytes returns a borrowed view of the protected region. The view is valid
// until Clear; callers must not retain it past the buffer's lifetime.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cleared {
		return nil, ErrBufferCleared
	}
	return b.buf.Bytes(), nil
}

// Size returns the byte length of the content, 0 once cleared.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cleared {
		return 0
	}
	return b.buf.Size()
}

// Clear overwrites the region with 0x00, then 0xFF, then 0x00, and destroys
// the locked buffer. The explicit passes are the documented wipe floor;
// memguard's destruction is the stronger primitive layered on top. Clear is
// idempotent.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cleared {
		return
	}
	Wipe(b.buf.Bytes())
	b.buf.Destroy()
	b.buf = nil
	b.cleared = true
}

// Wipe overwrites b in place with 0x00, then 0xFF, then 0x00. Use it on any
// transient plaintext or key slice that does not live in a Buffer.
func Wipe(b []byte) {
	for _, pattern := range [3]byte{0x00, 0xFF, 0x00} {
		for i := range b {
			b[i] = pattern
		}
	}
}
