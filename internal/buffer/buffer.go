// Package buffer implements a growable byte ring used by the reactor to
// frame FTP command lines and to batch writes without copying on every call.
package buffer

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

const defaultInitSize = 1024

// overflow is the scratch span used for scatter reads so a single readv(2)
// call can capture more than the buffer's current writable tail.
const overflowSize = 64 * 1024

// Buffer is a contiguous byte region with independent read and write
// cursors. 0 <= r <= w <= len(data) holds after every operation; the
// readable region is data[r:w].
type Buffer struct {
	data []byte
	r    int
	w    int
}

// New returns an empty Buffer with a default initial capacity.
func New() *Buffer {
	return &Buffer{data: make([]byte, defaultInitSize)}
}

// Readable returns the number of bytes available to read.
func (b *Buffer) Readable() int { return b.w - b.r }

// Writable returns the number of bytes that can be appended without growing.
func (b *Buffer) Writable() int { return len(b.data) - b.w }

func (b *Buffer) remaining() int { return len(b.data) - b.Readable() }

// Bytes returns the current readable region. The slice is only valid until
// the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data[b.r:b.w] }

// Read performs a scatter read from fd into the buffer's writable tail plus
// a stack-local overflow span, looping while a single call fills both spans
// (edge-triggered readiness requires draining fully). It returns the total
// bytes read; a peer that has shut down its write side is reported as
// io.EOF, distinct from EAGAIN (no data currently available), which is
// reported as (total, nil).
func (b *Buffer) Read(fd int) (int, error) {
	total := 0
	for {
		b.adjustSpace(overflowSize)
		var overflow [overflowSize]byte
		iovs := []unix.Iovec{
			{Base: &b.data[b.w], Len: uint64(b.Writable())},
			{Base: &overflow[0], Len: uint64(len(overflow))},
		}
		n, err := unix.Readv(fd, iovs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return total, nil
			}
			return total, fmt.Errorf("buffer: readv: %w", err)
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
		writable := b.Writable()
		if n <= writable {
			b.w += n
			return total, nil
		}
		b.w += writable
		b.append(overflow[:n-writable])
		if n < writable+len(overflow) {
			return total, nil
		}
	}
}

// GetLine returns the next LF-terminated line (exclusive of the LF) if one
// is buffered, advancing the read cursor past it.
func (b *Buffer) GetLine() ([]byte, bool) {
	idx := bytes.IndexByte(b.data[b.r:b.w], '\n')
	if idx < 0 {
		return nil, false
	}
	line := b.data[b.r : b.r+idx]
	b.r += idx + 1
	return line, true
}

// GetCRLFLine returns the next CRLF-terminated line (exclusive of the CRLF)
// if one is buffered, advancing the read cursor past it.
func (b *Buffer) GetCRLFLine() ([]byte, bool) {
	idx := bytes.Index(b.data[b.r:b.w], []byte{'\r', '\n'})
	if idx < 0 {
		return nil, false
	}
	line := b.data[b.r : b.r+idx]
	b.r += idx + 2
	return line, true
}

// ReadBuf drains and returns all currently buffered readable bytes, copying
// them out so the caller owns a stable slice.
func (b *Buffer) ReadBuf() []byte {
	out := make([]byte, b.Readable())
	copy(out, b.data[b.r:b.w])
	b.r = b.w
	return out
}

// Append copies buf into the writable region, growing or compacting first
// if necessary.
func (b *Buffer) Append(buf []byte) {
	b.append(buf)
}

func (b *Buffer) append(buf []byte) {
	if len(buf) == 0 {
		return
	}
	b.adjustSpace(len(buf))
	copy(b.data[b.w:], buf)
	b.w += len(buf)
}

// adjustSpace ensures at least need bytes are writable, either by
// compacting the readable region to offset zero or by growing to the next
// power of two.
func (b *Buffer) adjustSpace(need int) {
	if b.Writable() >= need {
		return
	}
	if b.remaining() >= need {
		b.leftShift()
		return
	}
	newCap := approximatePow(b.w + need)
	grown := make([]byte, newCap)
	copy(grown, b.data[b.r:b.w])
	n := b.w - b.r
	b.data = grown
	b.r = 0
	b.w = n
}

func (b *Buffer) leftShift() {
	n := copy(b.data, b.data[b.r:b.w])
	b.r = 0
	b.w = n
}

// approximatePow returns the smallest power of two >= n, but never less
// than defaultInitSize.
func approximatePow(n int) int {
	p := defaultInitSize
	for p < n {
		p <<= 1
	}
	return p
}
