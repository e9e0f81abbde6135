package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferLayout(t *testing.T) {
	b := New(0)
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, InitialSize, b.WritableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
}

func TestAppendRetrieveRoundTrip(t *testing.T) {
	b := New(0)
	b.Append([]byte("hello"))
	require.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, "hello", string(b.Peek()))

	b.Retrieve(2)
	assert.Equal(t, "llo", string(b.Peek()))
	assert.Equal(t, 3, b.ReadableBytes())
}

func TestRetrieveAllAsString(t *testing.T) {
	b := New(0)
	b.WriteString("abcdef")
	s := b.RetrieveAllAsString()
	assert.Equal(t, "abcdef", s)
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
}

func TestRetrieveAsStringPartial(t *testing.T) {
	b := New(0)
	b.WriteString("abcdef")
	s := b.RetrieveAsString(3)
	assert.Equal(t, "abc", s)
	assert.Equal(t, "def", string(b.Peek()))
}

func TestGrowBeyondInitialCapacity(t *testing.T) {
	b := New(8)
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.Append(payload)
	require.Equal(t, len(payload), b.ReadableBytes())
	assert.Equal(t, payload, b.Peek())
}

func TestMakeSpaceCompactsInPlaceWhenRoomAllows(t *testing.T) {
	b := New(1024)
	b.Append(make([]byte, 900))
	b.Retrieve(899)

	// one byte is still readable, so writerIndex stays near the end and the
	// writable tail is only 124 bytes; appending 200 bytes should compact in
	// place rather than grow the backing array, since prependable+writable
	// already covers it.
	tail := make([]byte, 200)
	for i := range tail {
		tail[i] = 'x'
	}
	before := cap(b.buf)
	b.Append(tail)
	assert.Equal(t, before, cap(b.buf))
	assert.Equal(t, append([]byte{0}, tail...), b.Peek())
}

func TestRetrieveMoreThanReadableResetsBuffer(t *testing.T) {
	b := New(0)
	b.WriteString("ab")
	b.Retrieve(100)
	assert.Equal(t, 0, b.ReadableBytes())
}
