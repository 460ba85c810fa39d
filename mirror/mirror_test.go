// {{{ Copyright (c) Paul R. Tagliamonte <paultag@gmail.com> 2020-2021
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE. }}}

package mirror

import (
	"errors"
	"testing"

	"github.com/paultag/magicring/internal/platform"
	"github.com/paultag/magicring/magicringerr"
	"github.com/paultag/magicring/offset"
)

func newTestMap(t *testing.T, size uint64) *Map {
	t.Helper()
	m, err := New(platform.OrdinaryPagesOnly(), size, 0, Options{})
	if err != nil {
		if errors.Is(err, magicringerr.ErrLockFailed) || errors.Is(err, magicringerr.ErrPartialLock) {
			t.Skipf("skipping: mlock unavailable in this environment: %v", err)
		}
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMirrorWriteIsVisibleAtBothHalves(t *testing.T) {
	const size = 4096
	m := newTestMap(t, size)

	if uint64(m.BufferSize()) != size {
		t.Fatalf("BufferSize: got %d, want %d", m.BufferSize(), size)
	}

	msg := []byte("mirror test payload")
	copy(m.Slice(offset.Mono(0), offset.Size(len(msg))), msg)

	// Slice masks its offset onto the first half, so start one byte before
	// the end of the first half and skip that byte to read at V+N.
	mirrored := m.Slice(offset.Mono(size-1), offset.Size(len(msg)+1))[1:]
	if string(mirrored) != string(msg) {
		t.Fatalf("second half mirror: got %q, want %q", mirrored, msg)
	}
}

func TestMirrorSliceIsContiguousAcrossWraparound(t *testing.T) {
	const size = 4096
	m := newTestMap(t, size)

	// A write starting near the end of the ring and extending past it must
	// still be addressable as one contiguous slice.
	start := offset.Mono(size - 10)
	span := m.Slice(start, offset.Size(20))
	if len(span) != 20 {
		t.Fatalf("expected a 20-byte contiguous slice, got %d", len(span))
	}
	for i := range span {
		span[i] = byte(i)
	}

	// Reading the same range back through a fresh Slice should see the
	// same bytes.
	reread := m.Slice(start, offset.Size(20))
	for i := range span {
		if reread[i] != byte(i) {
			t.Fatalf("byte %d: got %d, want %d", i, reread[i], byte(i))
		}
	}
}

func TestMirrorCloseIsIdempotent(t *testing.T) {
	m := newTestMap(t, 4096)
	if err := m.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close (idempotent): %v", err)
	}
}

func TestNewRejectsZeroSize(t *testing.T) {
	_, err := New(platform.OrdinaryPagesOnly(), 0, 0, Options{})
	if err == nil {
		t.Fatalf("expected an error for a zero preferred size")
	}
}
