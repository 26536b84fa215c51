// Copyright (c) 2022 The reactor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package reactor

import (
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"

	"github.com/cf-sky/reactor/pkg/logging"
	"github.com/cf-sky/reactor/pkg/rerrors"
)

const (
	// cheapPrepend is the reserved headroom at the front of every Buffer,
	// left free for a length prefix an upper layer may want to insert later.
	cheapPrepend = 8
	initialSize  = 1024
	// extraBufSize bounds a single readFd syscall: once the buffer's own
	// writable region is at least this large, readv only needs one iovec.
	extraBufSize = 65536
)

var scratchPool bytebufferpool.Pool

// Buffer is a growable byte buffer with prepend headroom, modeled directly
// on muduo's Buffer: three indices (prependable, readable, writable) over
// one contiguous slice, sized so a single readv can absorb a large burst
// without the caller pre-growing the buffer.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

// NewBuffer returns a Buffer with cheapPrepend bytes of headroom followed
// by initialSize bytes of writable space.
func NewBuffer() *Buffer {
	return NewBufferSize(initialSize)
}

// NewBufferSize is like NewBuffer but with a caller-chosen initial capacity.
func NewBufferSize(size int) *Buffer {
	return &Buffer{
		buf:         make([]byte, cheapPrepend+size),
		readerIndex: cheapPrepend,
		writerIndex: cheapPrepend,
	}
}

func (b *Buffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writerIndex }
func (b *Buffer) PrependableBytes() int { return b.readerIndex }

// Peek returns the readable region without consuming it.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readerIndex:b.writerIndex]
}

// Retrieve consumes n bytes from the front of the readable region. A
// negative n is refused instead of walking readerIndex backwards.
func (b *Buffer) Retrieve(n int) {
	if n < 0 {
		logging.Errorf("Buffer.Retrieve: %v (n=%d)", rerrors.ErrBufferNegativeSize, n)
		return
	}
	if n < b.ReadableBytes() {
		b.readerIndex += n
	} else {
		b.RetrieveAll()
	}
}

// RetrieveAll resets both indices to the headroom origin, discarding all
// readable bytes.
func (b *Buffer) RetrieveAll() {
	b.readerIndex = cheapPrepend
	b.writerIndex = cheapPrepend
}

// RetrieveAllAsString drains every readable byte and returns it as a string.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// RetrieveAsString drains n readable bytes and returns them as a string.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.Peek()[:n])
	b.Retrieve(n)
	return s
}

// EnsureWritable grows or compacts the buffer so at least n bytes are
// writable, keeping every readable byte (compaction moves them back to the
// headroom origin).
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// Append copies data into the writable region, growing the buffer first if
// necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writerIndex:], data)
	b.writerIndex += len(data)
}

func (b *Buffer) beginWrite() []byte {
	return b.buf[b.writerIndex:]
}

// makeSpace either grows the underlying slice (when the whole buffer,
// prependable space included, is too small) or compacts the readable
// region back to the headroom origin. Mirrors Buffer::makeSpace.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+cheapPrepend {
		newBuf := make([]byte, b.writerIndex+n)
		copy(newBuf, b.buf)
		b.buf = newBuf
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[cheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
	b.readerIndex = cheapPrepend
	b.writerIndex = b.readerIndex + readable
}

// ReadFd performs a two-iovec scatter read from fd: the buffer's own
// writable region plus a 64 KiB pooled scratch slice, so a single syscall
// can absorb a burst larger than the buffer's current capacity without
// pre-growing it. Returns the number of bytes read (0 means peer closed,
// negative means error, with the errno available via unix.Errno).
func (b *Buffer) ReadFd(fd int) (int, error) {
	writable := b.WritableBytes()

	extra := scratchPool.Get()
	defer scratchPool.Put(extra)
	if cap(extra.B) < extraBufSize {
		extra.B = make([]byte, extraBufSize)
	} else {
		extra.B = extra.B[:extraBufSize]
	}

	iovs := [][]byte{b.beginWrite(), extra.B}
	iovcnt := 2
	if writable >= extraBufSize {
		iovcnt = 1
	}

	n, err := unix.Readv(fd, iovs[:iovcnt])
	if err != nil {
		return n, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append(extra.B[:n-writable])
	}
	return n, nil
}
