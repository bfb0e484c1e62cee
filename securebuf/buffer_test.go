package securebuf

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	buf, err := FromString("correct horse battery staple")
	require.NoError(t, err)
	defer buf.Clear()

	assert.Equal(t, 28, buf.Size())

	got, err := buf.Plaintext()
	require.NoError(t, err)
	assert.Equal(t, "correct horse battery staple", got)

	view, err := buf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("correct horse battery staple"), view)
}

func TestBufferRejectsEmptyInput(t *testing.T) {
	_, err := FromString("")
	assert.ErrorIs(t, err, ErrEmptyPlaintext)

	_, err = FromBytes(nil)
	assert.ErrorIs(t, err, ErrEmptyPlaintext)

	_, err = FromBytes([]byte{})
	assert.ErrorIs(t, err, ErrEmptyPlaintext)
}

func TestFromBytesWipesSource(t *testing.T) {
	src := []byte("wipe-me-after-copy")
	expected := []byte("wipe-me-after-copy") // separate copy, src gets wiped

	buf, err := FromBytes(src)
	require.NoError(t, err)
	defer buf.Clear()

	assert.Equal(t, bytes.Repeat([]byte{0}, len(expected)), src, "source slice must be wiped")

	got, err := buf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestBufferClear(t *testing.T) {
	buf, err := FromString("ephemeral")
	require.NoError(t, err)

	buf.Clear()

	_, err = buf.Plaintext()
	assert.ErrorIs(t, err, ErrBufferCleared)

	_, err = buf.Bytes()
	assert.ErrorIs(t, err, ErrBufferCleared)

	assert.Equal(t, 0, buf.Size())

	// Idempotent
	buf.Clear()
	assert.Equal(t, 0, buf.Size())
}

func TestBufferConcurrentReads(t *testing.T) {
	buf, err := FromString("concurrent-secret")
	require.NoError(t, err)
	defer buf.Clear()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := buf.Plaintext()
			if assert.NoError(t, err) {
				assert.Equal(t, "concurrent-secret", got)
			}
		}()
	}
	wg.Wait()
}

func TestWipe(t *testing.T) {
	b := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	Wipe(b)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, b)

	// Zero-length and nil are no-ops.
	Wipe(nil)
	Wipe([]byte{})
}
