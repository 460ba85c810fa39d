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

// Package ringstore implements the single-mapping ring storage spec.md
// §4.E describes: one anonymous, memory-locked, non-forkable mapping sized
// to a power-of-two multiple of a fixed-size element, used exclusively by
// lrq.Queue. The mapping always uses ordinary pages: a huge page size chosen
// by platform.BestFit only determines the rounded byte size.
package ringstore

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/paultag/magicring/internal/platform"
	"github.com/paultag/magicring/magicringerr"
)

// Region is one allocated, power-of-two-sized ring of fixed-size elements.
type Region struct {
	base     uintptr
	sizeBytes uint64
	elemSize  uint64
	capacity  uint64 // power of two, or the caller's clamp value
	mask      uint64

	closeOnce sync.Once
	closeErr  error
}

// Allocate rounds idealCount up to a power of two, asks the platform for a
// real byte size that is itself a power-of-two multiple of elemSize within
// the waste budget, and returns the resulting Region. If clamp is true, the
// reported Capacity is idealCount rather than the (possibly larger) power
// of two the backing mapping actually holds.
func Allocate(elemSize uintptr, idealCount uint64, policy platform.HugePagePolicy, maxWasteBytes uint64, clamp bool) (*Region, error) {
	if idealCount == 0 || elemSize == 0 {
		return nil, errors.Wrap(magicringerr.ErrCapacityOverflow, "ringstore: idealCount and elemSize must be non-zero")
	}

	pow2Count, ok := platform.NextPow2(idealCount)
	if !ok {
		return nil, errors.Wrap(magicringerr.ErrCapacityOverflow, "ringstore: element count rounded up to a power of two overflows 63 bits")
	}

	preferredBytes := pow2Count * uint64(elemSize)
	if preferredBytes/uint64(elemSize) != pow2Count {
		return nil, errors.Wrap(magicringerr.ErrCapacityOverflow, "ringstore: element count scaled by element size overflows 63 bits")
	}

	sizeBytes, class, ok := platform.BestFit(preferredBytes, policy, maxWasteBytes)
	if !ok {
		return nil, errors.Wrap(magicringerr.ErrNoSuitablePageSize, "ringstore: no page size fits the waste budget")
	}

	actualCount := sizeBytes / uint64(elemSize)
	if actualPow2, ok := platform.NextPow2(actualCount); !ok || actualPow2 != actualCount {
		return nil, errors.Wrap(magicringerr.ErrCapacityOverflow, "ringstore: backing size / element size is not itself a power of two")
	}

	base, err := platform.MmapAnonymous(uintptr(sizeBytes), platform.Any(), platform.ReadWrite, platform.Private)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrMappingFailed, err), "ringstore: mmap")
	}

	wholeLocked, err := platform.Mlock(base, uintptr(sizeBytes))
	if err != nil {
		platform.Munmap(base, uintptr(sizeBytes))
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrLockFailed, err), "ringstore: mlock")
	}
	if !wholeLocked {
		platform.Munmap(base, uintptr(sizeBytes))
		return nil, errors.Wrap(magicringerr.ErrPartialLock, "ringstore: mlock only locked part of the range")
	}

	if err := platform.MadviseDontFork(base, uintptr(sizeBytes)); err != nil {
		platform.Munmap(base, uintptr(sizeBytes))
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrAdviseFailed, err), "ringstore: madvise DontFork")
	}

	capacity := actualCount
	if clamp {
		capacity = idealCount
	}

	_ = class // reserved for observability callers that want to log it

	return &Region{
		base:      base,
		sizeBytes: sizeBytes,
		elemSize:  uint64(elemSize),
		capacity:  capacity,
		mask:      capacity - 1,
	}, nil
}

// Base returns the mapping's base address.
func (r *Region) Base() uintptr { return r.base }

// Capacity returns the element capacity (after any clamping).
func (r *Region) Capacity() uint64 { return r.capacity }

// Mask returns capacity-1.
func (r *Region) Mask() uint64 { return r.mask }

// SizeBytes returns the real backing mapping size in bytes.
func (r *Region) SizeBytes() uint64 { return r.sizeBytes }

// Pointer returns the address of the capacity-masked slot for a monotonic
// element offset.
func (r *Region) Pointer(monoOffset uint64) uintptr {
	return r.base + uintptr((monoOffset&r.mask)*r.elemSize)
}

// Close unmaps the backing region. Idempotent.
func (r *Region) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = platform.Munmap(r.base, uintptr(r.sizeBytes))
	})
	return r.closeErr
}
