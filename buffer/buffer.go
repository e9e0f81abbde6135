// Package buffer implements the growable byte buffer every Connection uses
// for buffered reads and writes.
//
//	+-------------------+------------------+------------------+
//	| prependable bytes |  readable bytes  |  writable bytes  |
//	+-------------------+------------------+------------------+
//	0      <=      readerIndex   <=   writerIndex    <=     len(buf)
package buffer

import (
	"golang.org/x/sys/unix"
)

const (
	// CheapPrepend reserves space at the front of the buffer so a caller
	// can prepend a length header without shifting the payload.
	CheapPrepend = 8
	// InitialSize is the capacity of a freshly constructed Buffer, not
	// counting CheapPrepend.
	InitialSize = 1024
)

// Buffer is a single-writer, single-reader byte buffer. It is not safe for
// concurrent use; each Connection owns its own input and output Buffer and
// touches them only from its assigned loop goroutine.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

// New constructs a Buffer with the given initial payload capacity (the
// prependable region is added on top of it).
func New(initialSize int) *Buffer {
	if initialSize <= 0 {
		initialSize = InitialSize
	}
	return &Buffer{
		buf:         make([]byte, CheapPrepend+initialSize),
		readerIndex: CheapPrepend,
		writerIndex: CheapPrepend,
	}
}

// ReadableBytes is the number of bytes available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// WritableBytes is the number of bytes Append can write without growing.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writerIndex }

// PrependableBytes is the number of bytes free before the readable region.
func (b *Buffer) PrependableBytes() int { return b.readerIndex }

// Peek returns the readable region without consuming it. The slice is only
// valid until the next mutating call on this Buffer.
func (b *Buffer) Peek() []byte { return b.buf[b.readerIndex:b.writerIndex] }

// Retrieve consumes len bytes from the front of the readable region.
func (b *Buffer) Retrieve(len int) {
	if len < b.ReadableBytes() {
		b.readerIndex += len
		return
	}
	b.RetrieveAll()
}

// RetrieveAll resets both cursors back to the start of the payload region,
// discarding whatever was readable.
func (b *Buffer) RetrieveAll() {
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
}

// RetrieveAllAsString drains the entire readable region into a string.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// RetrieveAsString copies len readable bytes out as a string and consumes
// them. len is clamped to ReadableBytes.
func (b *Buffer) RetrieveAsString(len int) string {
	if len > b.ReadableBytes() {
		len = b.ReadableBytes()
	}
	s := string(b.Peek()[:len])
	b.Retrieve(len)
	return s
}

// EnsureWritableBytes makes at least length bytes writable, by compacting
// in place when that frees enough room and by growing the backing array
// otherwise.
func (b *Buffer) EnsureWritableBytes(length int) {
	if b.WritableBytes() < length {
		b.makeSpace(length)
	}
}

// Append copies data into the writable region, growing if necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritableBytes(len(data))
	copy(b.buf[b.writerIndex:], data)
	b.writerIndex += len(data)
}

// Write implements io.Writer so a Buffer can be used as an encoding target.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// WriteString appends s to the writable region.
func (b *Buffer) WriteString(s string) {
	b.Append([]byte(s))
}

func (b *Buffer) beginWrite() []byte { return b.buf[b.writerIndex:] }

// makeSpace mirrors the original buffer's compaction strategy: if sliding
// the unread bytes back to the front of the payload region frees enough
// room, do that instead of growing the backing array.
func (b *Buffer) makeSpace(length int) {
	if b.WritableBytes()+b.PrependableBytes() < length+CheapPrepend {
		grown := make([]byte, b.writerIndex+length)
		copy(grown, b.buf[:b.writerIndex])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
	b.readerIndex = CheapPrepend
	b.writerIndex = b.readerIndex + readable
}

// ReadFd reads from fd directly into the buffer's writable tail, falling
// back to a stack-allocated scratch buffer via readv when the writable
// tail is small, so a single large datagram doesn't force a buffer growth
// spree. Returns the number of bytes read (possibly split across both
// regions, in which case the scratch bytes are appended) and any error.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extra [65536]byte

	writable := b.beginWrite()
	n, err := unix.Readv(fd, [][]byte{writable, extra[:]})
	if n <= 0 {
		return n, err
	}

	if n <= len(writable) {
		b.writerIndex += n
		return n, err
	}

	b.writerIndex = len(b.buf)
	b.Append(extra[:n-len(writable)])
	return n, err
}
