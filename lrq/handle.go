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

package lrq

import (
	"sync"

	"github.com/paultag/magicring/internal/platform"
)

// shared is the Rc<UnsafeCell<LargeRingQueue<E>>> equivalent: one Queue
// owned jointly by a Handle and every Borrowed it has lent out. Go's
// garbage collector would eventually reclaim an unreferenced Queue anyway,
// but Close() performs real munmap/destructor work that must happen exactly
// once and as soon as every borrower is done — hence the explicit refcount
// rather than relying on a finalizer.
type shared[E any] struct {
	mu   sync.Mutex
	q    *Queue[E]
	refs int
}

// Handle is a reference-counted handle over one Queue[E]. Cloning it
// increments the reference count; Close decrements it and closes the
// underlying Queue once the count reaches zero. Not safe for concurrent use
// from multiple goroutines, matching Queue's own single-threaded contract.
type Handle[E any] struct {
	s *shared[E]
}

// NewHandle allocates a Queue and wraps it in a Handle with a reference
// count of one.
func NewHandle[E any](idealCount uint64, policy platform.HugePagePolicy, maxWasteBytes uint64, clamp bool, mode InitMode, initializer func(index uint64, slot *E), opts Options) (*Handle[E], error) {
	q, err := New[E](idealCount, policy, maxWasteBytes, clamp, mode, initializer, opts)
	if err != nil {
		return nil, err
	}
	return &Handle[E]{s: &shared[E]{q: q, refs: 1}}, nil
}

// NewExactFitHandle is NewHandle with capacity clamped to exactly
// idealCount and no waste budget, suitable for fixed-size coroutine-style
// allocators.
func NewExactFitHandle[E any](idealCount uint64, policy platform.HugePagePolicy, mode InitMode, initializer func(index uint64, slot *E), opts Options) (*Handle[E], error) {
	return NewHandle[E](idealCount, policy, 0, true, mode, initializer, opts)
}

// Clone returns a new Handle sharing the same underlying Queue, incrementing
// the reference count.
func (h *Handle[E]) Clone() *Handle[E] {
	h.s.mu.Lock()
	h.s.refs++
	h.s.mu.Unlock()
	return &Handle[E]{s: h.s}
}

// Obtain borrows the next available slot, wrapping it in a Borrowed that
// will relinquish it automatically when Closed. onEmpty is invoked, and its
// error returned, if the queue currently has nothing to hand out.
func (h *Handle[E]) Obtain(onEmpty func() error) (*Borrowed[E], error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	return ObtainAndMap[E, *Borrowed[E]](h.s.q, func(ptr *E) *Borrowed[E] {
		// Inline clone: refs++ without re-acquiring h.s.mu, which is
		// already held by this call.
		h.s.refs++
		return &Borrowed[E]{element: ptr, handle: &Handle[E]{s: h.s}}
	}, onEmpty)
}

func (h *Handle[E]) relinquish(ptr *E) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.q.Relinquish(ptr)
}

// Close decrements the reference count, closing the underlying Queue once
// no Handle or Borrowed refers to it anymore. Not idempotent: every call
// decrements the count, so callers must Close each Handle exactly once
// (each Clone is a distinct handle that must be Closed exactly once).
func (h *Handle[E]) Close() error {
	h.s.mu.Lock()
	h.s.refs--
	remaining := h.s.refs
	h.s.mu.Unlock()

	if remaining > 0 {
		return nil
	}
	return h.s.q.Close()
}

// Borrowed is a previously obtained slot that returns itself to the queue
// when Closed. It holds its own cloned Handle so the underlying Queue
// cannot be torn down while any Borrowed is outstanding.
type Borrowed[E any] struct {
	element *E
	handle  *Handle[E]
	closed  bool
}

// Element returns the borrowed slot's pointer. The caller must not let a
// reference to it outlive Close.
func (b *Borrowed[E]) Element() *E { return b.element }

// Close relinquishes the slot back to the queue and releases this
// Borrowed's handle reference. Idempotent.
func (b *Borrowed[E]) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.handle.relinquish(b.element)
	return b.handle.Close()
}
