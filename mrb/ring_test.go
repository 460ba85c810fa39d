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

package mrb

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/paultag/magicring/internal/platform"
	"github.com/paultag/magicring/offset"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRing(t *testing.T, bufferSize uint64) *Ring {
	t.Helper()
	r, err := Allocate(platform.OrdinaryPagesOnly(), bufferSize, bufferSize, Options{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWriteReadRoundTrip(t *testing.T) {
	r := newTestRing(t, 4096)

	payload := []byte("hello, magic ring buffer")
	if err := r.Write(offset.Size(len(payload)), func(dst []byte) {
		copy(dst, payload)
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var got []byte
	more, err := r.Read(func(buf []byte) (int, error) {
		got = append(got, buf...)
		return len(buf), nil
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if more {
		t.Fatalf("expected no more data after draining a single write")
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestWriteLargerThanBufferFails(t *testing.T) {
	r := newTestRing(t, 4096)
	err := r.Write(offset.Size(1<<20), func(dst []byte) {})
	if err == nil {
		t.Fatalf("expected ErrWriteTooLarge")
	}
}

func TestWrapAroundStaysContiguous(t *testing.T) {
	r := newTestRing(t, 4096)

	// Drive the write cursor most of the way around the ring first, reading
	// after every write so back-pressure never blocks.
	chunk := make([]byte, int(r.BufferSize())-10)
	for i := range chunk {
		chunk[i] = 0xAA
	}
	if err := r.Write(offset.Size(len(chunk)), func(dst []byte) { copy(dst, chunk) }); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := r.Read(func(buf []byte) (int, error) { return len(buf), nil }); err != nil {
		t.Fatalf("Read: %v", err)
	}

	// This write starts 10 bytes before the end of the buffer and must wrap.
	wrapping := []byte("0123456789ABCDEF0123456789")
	if err := r.Write(offset.Size(len(wrapping)), func(dst []byte) {
		copy(dst, wrapping)
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var got []byte
	if _, err := r.Read(func(buf []byte) (int, error) {
		got = append([]byte(nil), buf...)
		return len(buf), nil
	}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(wrapping) {
		t.Fatalf("wrapped read got %q, want %q", got, wrapping)
	}
}

func TestBackpressureBlocksUntilConsumerFrees(t *testing.T) {
	r := newTestRing(t, 4096)

	first := make([]byte, int(r.BufferSize()))
	if err := r.Write(offset.Size(len(first)), func(dst []byte) { copy(dst, first) }); err != nil {
		t.Fatalf("first Write (fills the ring): %v", err)
	}

	writeDone := make(chan error, 1)
	go func() {
		writeDone <- r.Write(offset.Size(4), func(dst []byte) { copy(dst, []byte("next")) })
	}()

	select {
	case err := <-writeDone:
		t.Fatalf("second Write returned before the ring had room (err=%v); back-pressure should have blocked it", err)
	case <-time.After(50 * time.Millisecond):
		// expected: still blocked
	}

	if _, err := r.Read(func(buf []byte) (int, error) { return len(buf), nil }); err != nil {
		t.Fatalf("Read: %v", err)
	}

	select {
	case err := <-writeDone:
		if err != nil {
			t.Fatalf("second Write: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("second Write never unblocked after Read freed space")
	}
}

func TestConcurrentProducersDeliverEveryByte(t *testing.T) {
	r := newTestRing(t, 1<<16)

	const producers = 8
	const writesPerProducer = 64
	const payloadSize = 8

	var group errgroup.Group
	for p := 0; p < producers; p++ {
		p := p
		group.Go(func() error {
			payload := make([]byte, payloadSize)
			for i := range payload {
				payload[i] = byte(p)
			}
			for i := 0; i < writesPerProducer; i++ {
				if err := r.Write(offset.Size(payloadSize), func(dst []byte) {
					copy(dst, payload)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}

	var mu sync.Mutex
	var totalRead int
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		want := producers * writesPerProducer * payloadSize
		for {
			mu.Lock()
			done := totalRead >= want
			mu.Unlock()
			if done {
				return
			}
			more, err := r.Read(func(buf []byte) (int, error) {
				mu.Lock()
				totalRead += len(buf)
				mu.Unlock()
				return len(buf), nil
			})
			if err != nil {
				return
			}
			if !more {
				time.Sleep(time.Microsecond)
			}
		}
	}()

	if err := group.Wait(); err != nil {
		t.Fatalf("producer failed: %v", err)
	}

	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer never drained all writes")
	}

	mu.Lock()
	defer mu.Unlock()
	if want := producers * writesPerProducer * payloadSize; totalRead != want {
		t.Fatalf("totalRead = %d, want %d", totalRead, want)
	}
}

func TestRecoverDiscardsUncommittedClaim(t *testing.T) {
	r := newTestRing(t, 4096)

	// Simulate a claim that was made but never committed (e.g. a crash
	// between FetchAdd and the CompareAndSwap commit) by directly
	// advancing writer past unread.
	r.writer.Store(r.writer.Load().Add(offset.Size(8)))

	r.Recover()

	if r.writer.Load() != r.unread.Load() {
		t.Fatalf("Recover did not reset writer to the commit frontier")
	}

	// The ring must still be writable after recovery.
	if err := r.Write(offset.Size(4), func(dst []byte) { copy(dst, []byte("ok")) }); err != nil {
		t.Fatalf("Write after Recover: %v", err)
	}
}
