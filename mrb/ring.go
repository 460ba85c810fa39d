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

// Package mrb implements the Magic Ring Buffer: a lock-free,
// multiple-producer/single-consumer byte ring built over a mirror.Map.
//
// The claim/back-pressure/commit protocol follows spec.md §4.F exactly; the
// MPSC bookkeeping style (atomic head/tail style counters, CAS-driven
// commit) is grounded on the ringBuffer type in agilira-lethe's buffer.go,
// generalized from lethe's fixed-slot design to the byte-oriented,
// variable-length claims this spec requires.
package mrb

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/paultag/magicring/internal/platform"
	"github.com/paultag/magicring/magicringerr"
	"github.com/paultag/magicring/mirror"
	"github.com/paultag/magicring/offset"
)

// spinIterationsBeforeYield bounds how long a producer busy-waits before
// cooperating with the Go scheduler via runtime.Gosched. Pure CPU spinning
// as spec.md §5 describes assumes producers and the consumer are pinned to
// dedicated cores; on a shared host that never yields, a stalled producer
// can starve the goroutine that would let the consumer run. Yielding after
// a bound preserves wait-free-on-claim-fits progress: the bound is only
// ever reached once the claim could already have progressed.
const spinIterationsBeforeYield = 4096

func spin(iteration int) {
	if iteration != 0 && iteration%spinIterationsBeforeYield == 0 {
		runtime.Gosched()
		return
	}
	// Busy-wait hint; Go has no portable PAUSE intrinsic, so an empty
	// loop body is the spin itself.
}

// Metrics are the optional Prometheus-backed counters a Ring can report
// through. A nil *Metrics disables all instrumentation.
type Metrics struct {
	ClaimsTotal      Counter
	CommitsTotal     Counter
	BackpressureWait Counter
	CommitWait       Counter
}

// Counter is the minimal surface Metrics needs from a prometheus.Counter,
// kept as an interface so tests don't need a real registry.
type Counter interface {
	Inc()
}

func (m *Metrics) incClaims() {
	if m != nil && m.ClaimsTotal != nil {
		m.ClaimsTotal.Inc()
	}
}

func (m *Metrics) incCommits() {
	if m != nil && m.CommitsTotal != nil {
		m.CommitsTotal.Inc()
	}
}

func (m *Metrics) incBackpressureWait() {
	if m != nil && m.BackpressureWait != nil {
		m.BackpressureWait.Inc()
	}
}

func (m *Metrics) incCommitWait() {
	if m != nil && m.CommitWait != nil {
		m.CommitWait.Inc()
	}
}

// Options configures optional cross-cutting concerns of Ring construction.
type Options struct {
	Logger  *zap.Logger
	Metrics *Metrics
}

// Ring is a lock-free multi-producer/single-consumer byte ring. Any number
// of goroutines may call Write concurrently; Read must only ever be called
// by one goroutine at a time (not enforced).
type Ring struct {
	mm *mirror.Map

	writer offset.Atomic // next byte a newly-arriving producer will claim
	unread offset.Atomic // commit frontier: [read, unread) is published
	read   offset.Atomic // consumer's cursor

	bufferSize offset.Size

	log     *zap.Logger
	metrics *Metrics
}

// Allocate constructs a new Ring backed by a fresh mirror.Map.
func Allocate(policy platform.HugePagePolicy, preferredBufferSize uint64, maxWasteBytes uint64, opts Options) (*Ring, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	mm, err := mirror.New(policy, preferredBufferSize, maxWasteBytes, mirror.Options{Logger: log})
	if err != nil {
		return nil, err
	}

	log.Info("magic ring buffer allocated", zap.Uint64("buffer_size_bytes", uint64(mm.BufferSize())))

	return &Ring{
		mm:         mm,
		bufferSize: mm.BufferSize(),
		log:        log,
		metrics:    opts.Metrics,
	}, nil
}

// Close releases the underlying mirror mapping.
func (r *Ring) Close() error {
	return r.mm.Close()
}

// BufferSize returns N, the ring's capacity in bytes.
func (r *Ring) BufferSize() offset.Size { return r.bufferSize }

// snapshot reads the commit frontier and the read cursor as a consistent
// pair for back-pressure and readability checks.
func (r *Ring) snapshot() (unread, read offset.Mono, used offset.Size) {
	unread = r.unread.Load()
	read = r.read.Load()
	used = unread.Sub(read)
	return
}

// Write claims n bytes, waits for the consumer to have freed enough space,
// invokes fn with the resulting contiguous slice, and commits the write in
// claim order.
//
// n must not exceed the ring's buffer size. writerFn must not panic; doing
// so leaves a permanent hole in the buffer because the claim has already
// advanced writer — see spec.md §4.F / §7. Write recovers that panic only
// long enough to log the fatal condition before re-raising it.
func (r *Ring) Write(n offset.Size, writerFn func([]byte)) error {
	if uint64(n) > uint64(r.bufferSize) {
		return magicringerr.ErrWriteTooLarge
	}

	myStart, myEnd := r.writer.FetchAdd(n)
	r.metrics.incClaims()

	// Back-pressure wait: loop until the reader has freed enough space for
	// this claim (and any earlier, still-uncommitted claims).
	var currentUnread offset.Mono
	for i := 0; ; i++ {
		unread, _, used := r.snapshot()
		inFlight := myEnd.Sub(unread)
		freeForWrites := r.bufferSize.Sub(used)
		if uint64(freeForWrites) >= uint64(inFlight) {
			currentUnread = unread
			break
		}
		r.metrics.incBackpressureWait()
		spin(i)
	}
	_ = currentUnread

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("producer callback panicked; ring buffer is now irrecoverable",
					zap.Any("panic", rec),
					zap.Uint64("claim_start", uint64(myStart)),
					zap.Uint64("claim_end", uint64(myEnd)),
				)
				panic(rec)
			}
		}()
		writerFn(r.mm.Slice(myStart, n))
	}()

	// Commit in claim order: this producer may only advance unread once it
	// has reached exactly this producer's starting offset, i.e. once every
	// earlier claimant has committed.
	for i := 0; ; i++ {
		if swapped, _ := r.unread.CompareAndSwap(myStart, myEnd); swapped {
			break
		}
		r.metrics.incCommitWait()
		spin(i)
	}
	r.metrics.incCommits()

	return nil
}

// Read invokes readerFn with the currently readable slice [read, unread),
// advances the read cursor by however much readerFn reports consuming, and
// reports whether more data remains. Only a single goroutine may call Read
// at a time; this is a caller contract, not enforced.
func (r *Ring) Read(readerFn func([]byte) (int, error)) (bool, error) {
	unread, read, _ := r.snapshot()

	slice := r.mm.Slice(read, unread.Sub(read))
	consumed, outcome := readerFn(slice)

	newRead := read.Add(offset.Size(consumed))
	r.read.Store(newRead)

	if outcome != nil {
		return false, outcome
	}

	latestUnread := r.unread.Load()
	return latestUnread != newRead, nil
}

// Recover implements the persistence-recovery hint: on restart over
// persistent memory, any producer claim that had not yet committed is
// discarded by setting writer back to the commit frontier. Idempotent.
func (r *Ring) Recover() {
	r.writer.Store(r.unread.Load())
}
