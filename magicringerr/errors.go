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

// Package magicringerr defines the named error kinds shared by the mirror,
// mrb and lrq packages.
//
// Construction errors are always wrapped with github.com/pkg/errors so an
// operator gets a stack trace pointing at the failing syscall, while still
// satisfying errors.Is against the sentinels below.
package magicringerr

import "errors"

var (
	// ErrCapacityOverflow is returned when rounding a requested size up to a
	// power of two, multiplying by an element size, or doubling for the
	// mirror would exceed the 63-bit limit this package reserves for sizes.
	ErrCapacityOverflow = errors.New("magicring: capacity overflow")

	// ErrNoSuitablePageSize is returned when no page size (ordinary or huge)
	// produces a power-of-two buffer within the caller's waste budget.
	ErrNoSuitablePageSize = errors.New("magicring: no page size fits the waste budget")

	// ErrMappingFailed covers both the initial reservation and the two
	// fixed file-backed overlay mappings.
	ErrMappingFailed = errors.New("magicring: mapping failed")

	// ErrMemfdOpenFailed is returned when the anonymous backing file could
	// not be created.
	ErrMemfdOpenFailed = errors.New("magicring: memfd open failed")

	// ErrMemfdSetLengthFailed is returned when ftruncate on the memfd
	// failed.
	ErrMemfdSetLengthFailed = errors.New("magicring: memfd set length failed")

	// ErrLockFailed is returned when mlock itself returned an error.
	ErrLockFailed = errors.New("magicring: memory lock failed")

	// ErrPartialLock is returned when mlock succeeded but did not lock the
	// entire requested range; treated as a failure because unlocked pages
	// would undermine the predictable-latency guarantee.
	ErrPartialLock = errors.New("magicring: memory only partially locked")

	// ErrAdviseFailed is returned when the DontFork advice could not be
	// applied to the mapping.
	ErrAdviseFailed = errors.New("magicring: madvise failed")

	// ErrUnsupportedPlatform is returned on any GOOS other than linux,
	// where the overlapping fixed-mapping trick and memfd_create are
	// unavailable.
	ErrUnsupportedPlatform = errors.New("magicring: unsupported platform")

	// ErrWriteTooLarge is returned by mrb.Ring.Write when the caller asks
	// to write more than the ring's buffer size in one call.
	ErrWriteTooLarge = errors.New("magicring: write exceeds ring buffer size")

	// ErrQueueEmpty reports that a queue has nothing to hand out. No function
	// in this module returns it on its own; the lrq Obtain functions return
	// whatever error the caller's onEmpty handler returns.
	ErrQueueEmpty = errors.New("magicring: queue is empty")
)
