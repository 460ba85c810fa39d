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

// Package lrq implements the Large Ring Queue: a single-threaded,
// fixed-capacity ring of fixed-size elements backed by one anonymous,
// locked, non-forkable mapping of ordinary pages (internal/ringstore).
//
// Capacity is always a power of two (or, when the caller clamps, the exact
// requested count while the backing mapping still holds a power of two);
// offsets are masked rather than modulo'd, per spec.md §4.G.
package lrq

import (
	"unsafe"

	"go.uber.org/zap"

	"github.com/paultag/magicring/internal/platform"
	"github.com/paultag/magicring/internal/ringstore"
)

// Destroyer is implemented by element types that own resources needing
// explicit cleanup when a slot is dropped (either handed-out-but-not-
// relinquished, or still sitting on the queue) at Queue.Close time.
// Element types that don't implement it are treated as POD: spec.md's
// "POD element types set both [destruction] flags false."
type Destroyer interface {
	Destroy()
}

// InitMode selects how a freshly allocated Queue begins life.
type InitMode int

const (
	// Empty starts with head == tail == 0.
	Empty InitMode = iota
	// FullUninitialized starts full, head == capacity, tail == 0, with
	// slot contents left untouched. Only suitable for element types whose
	// bytes are fully overwritten on every use (e.g. buffer slices).
	FullUninitialized
	// FullZeroed starts full with every byte of the backing mapping set
	// to 0x00.
	FullZeroed
	// FullCustom starts full, invoking an initializer on every slot in
	// index order.
	FullCustom
)

// Options configures optional cross-cutting concerns of Queue construction.
type Options struct {
	Logger *zap.Logger
}

// Queue is a single-threaded fixed-capacity ring of elements of type E. It
// must not be shared across goroutines; unlike mrb.Ring, no path in this
// package uses atomics.
type Queue[E any] struct {
	region *ringstore.Region

	head uint64 // next slot to be produced
	tail uint64 // next slot to be consumed

	canDestroy bool // whether E implements Destroyer

	log *zap.Logger
}

// New allocates a Queue able to hold at least idealCount elements (rounded
// up to a power of two unless clamp is true, in which case the reported
// capacity is exactly idealCount while the backing mapping still holds a
// power of two of elements).
//
// initializer is only consulted when mode is FullCustom; it is called once
// per index in [0, capacity) and must populate the slot it's given.
func New[E any](idealCount uint64, policy platform.HugePagePolicy, maxWasteBytes uint64, clamp bool, mode InitMode, initializer func(index uint64, slot *E), opts Options) (*Queue[E], error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var zero E
	elemSize := unsafe.Sizeof(zero)

	region, err := ringstore.Allocate(elemSize, idealCount, policy, maxWasteBytes, clamp)
	if err != nil {
		return nil, err
	}

	q := &Queue[E]{
		region:     region,
		log:        log,
		canDestroy: implementsDestroyer[E](),
	}

	switch mode {
	case Empty:
		// head = tail = 0, nothing to do.
	case FullUninitialized:
		q.head = region.Capacity()
	case FullZeroed:
		zeroRegion(region)
		q.head = region.Capacity()
	case FullCustom:
		applyCustomInitializer(region, initializer)
		q.head = region.Capacity()
	}

	log.Debug("large ring queue allocated",
		zap.Uint64("capacity", region.Capacity()),
		zap.Uint64("size_bytes", region.SizeBytes()),
		zap.Int("init_mode", int(mode)),
	)

	return q, nil
}

func implementsDestroyer[E any]() bool {
	var zero E
	_, ok := any(&zero).(Destroyer)
	return ok
}

func zeroRegion(region *ringstore.Region) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(region.Base())), int(region.SizeBytes()))
	for i := range b {
		b[i] = 0
	}
}

// applyCustomInitializer walks every slot in index order, advancing the
// slot pointer by exactly one element between calls.
//
// This fixes the one documented bug in the upstream design: its loop
// advanced the pointer by `index` elements per iteration, rather than one,
// which would skip slots and eventually run off the end of the mapping.
func applyCustomInitializer[E any](region *ringstore.Region, initializer func(index uint64, slot *E)) {
	if initializer == nil {
		return
	}
	slot := (*E)(unsafe.Pointer(region.Base()))
	for i := uint64(0); i < region.Capacity(); i++ {
		initializer(i, slot)
		slot = (*E)(unsafe.Add(unsafe.Pointer(slot), unsafe.Sizeof(*slot)))
	}
}

func (q *Queue[E]) slot(monoOffset uint64) *E {
	return (*E)(unsafe.Pointer(q.region.Pointer(monoOffset)))
}

// IsEmpty reports whether the queue currently holds no elements.
func (q *Queue[E]) IsEmpty() bool { return q.head == q.tail }

// IsFull reports whether the queue is at capacity.
func (q *Queue[E]) IsFull() bool { return q.Available() == q.region.Capacity() }

// Available returns the number of elements currently on the queue.
func (q *Queue[E]) Available() uint64 { return q.head - q.tail }

// EnqueueChecked writes value to the next slot and advances head, or
// returns false without writing if the queue is full.
func (q *Queue[E]) EnqueueChecked(value E) bool {
	if q.IsFull() {
		return false
	}
	q.EnqueueUnchecked(value)
	return true
}

// EnqueueUnchecked writes value to the next slot and advances head without
// checking capacity first; the caller must already know there's room.
func (q *Queue[E]) EnqueueUnchecked(value E) {
	*q.slot(q.head) = value
	q.head++
}

// Dequeue reads and returns the next slot, advancing tail, or reports ok ==
// false if the queue is empty.
func (q *Queue[E]) Dequeue() (value E, ok bool) {
	if q.IsEmpty() {
		return value, false
	}
	value = *q.slot(q.tail)
	q.tail++
	return value, true
}

// Relinquish returns a previously obtained slot to the queue without moving
// data, advancing head. ptr must be a slot within this queue's mapping.
func (q *Queue[E]) Relinquish(ptr *E) {
	q.head++
}

// ObtainAndMap dequeues a slot pointer and passes it through mapper, or
// calls onEmpty if the queue has nothing to hand out.
func ObtainAndMap[E any, Mapped any](q *Queue[E], mapper func(*E) Mapped, onEmpty func() error) (Mapped, error) {
	var zero Mapped
	if q.IsEmpty() {
		return zero, onEmpty()
	}
	ptr := q.slot(q.tail)
	q.tail++
	return mapper(ptr), nil
}

// VirtualAddress returns the base address of the backing mapping.
func (q *Queue[E]) VirtualAddress() uintptr { return q.region.Base() }

// SizeInBytes returns the real size of the backing mapping.
func (q *Queue[E]) SizeInBytes() uint64 { return q.region.SizeBytes() }

// Close destroys every element still outstanding (handed out but not
// relinquished) and every element still on the queue, when E implements
// Destroyer, then unmaps the backing region.
func (q *Queue[E]) Close() error {
	if q.canDestroy {
		capacity := q.region.Capacity()

		// allocatedFrom is the start of the range handed out via
		// ObtainAndMap but not yet returned via Relinquish, computed as
		// head - capacity. Before head has reached capacity (an Empty-mode
		// queue that has never been filled) that subtraction would
		// underflow, so the first pass is skipped: a slot obtained from such
		// a queue and never relinquished is not destroyed here.
		allocatedFrom := q.tail
		if !q.IsEmpty() && q.head >= capacity {
			allocatedFrom = q.head - capacity
		}
		for i := allocatedFrom; i != q.tail; i++ {
			any(q.slot(i)).(Destroyer).Destroy()
		}

		for i := q.tail; i != q.head; i++ {
			any(q.slot(i)).(Destroyer).Destroy()
		}
	}

	q.log.Debug("large ring queue closed")
	return q.region.Close()
}
