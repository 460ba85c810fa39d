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

// Package mirror implements the magic/mirrored memory map: one physical
// backing store of length N mapped twice, contiguously, in virtual memory,
// so that [V, V+2N) reads as two copies of the same N bytes and any access
// of up to N bytes starting in the first N bytes is a single contiguous
// memory operation.
//
// Grounded on pault.ag/go/go-diskring's ring.go, which builds the identical
// double-mmap trick over a plain file rather than a memfd.
package mirror

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/paultag/magicring/internal/platform"
	"github.com/paultag/magicring/magicringerr"
	"github.com/paultag/magicring/offset"
)

// Map owns one mirrored mapping: a reservation of 2N bytes whose two N-byte
// halves alias the same physical pages.
type Map struct {
	base uintptr
	size uint64 // N, always a power of two
	mask uint64 // N - 1

	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

// Options configures optional cross-cutting concerns of Map construction.
type Options struct {
	// Logger receives construction/teardown diagnostics. A nil Logger
	// disables logging (zap.NewNop() semantics).
	Logger *zap.Logger
}

// New reserves a 2N-byte region and file-backs both halves with the same
// anonymous memfd of length N, per spec.md §4.D.
func New(policy platform.HugePagePolicy, preferredSize uint64, maxWasteBytes uint64, opts Options) (*Map, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if preferredSize == 0 {
		return nil, errors.Wrap(magicringerr.ErrCapacityOverflow, "mirror: preferred size must be non-zero")
	}

	n, class, ok := platform.BestFit(preferredSize, policy, maxWasteBytes)
	if !ok {
		return nil, errors.Wrap(magicringerr.ErrNoSuitablePageSize, "mirror: no page size fits the waste budget")
	}

	fd, err := platform.MemfdCreate("magicring-mirror", class)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrMemfdOpenFailed, err), "mirror: memfd_create")
	}
	// The fd is only needed to establish the two overlay mappings; once
	// they exist the kernel keeps the physical pages alive through them.
	defer platform.CloseFD(fd)

	if err := platform.Ftruncate(fd, int64(n)); err != nil {
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrMemfdSetLengthFailed, err), "mirror: ftruncate")
	}

	reservation, err := platform.MmapAnonymous(uintptr(n)*2, platform.Any(), platform.Inaccessible, platform.Private)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrMappingFailed, err), "mirror: reservation mmap")
	}

	first, err := platform.MmapFile(fd, 0, uintptr(n), platform.FixedAt(reservation), platform.ReadWrite, platform.Shared, class)
	if err != nil {
		platform.Munmap(reservation, uintptr(n)*2)
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrMappingFailed, err), "mirror: first overlay mmap")
	}
	if first != reservation {
		platform.Munmap(reservation, uintptr(n)*2)
		return nil, errors.Wrap(magicringerr.ErrMappingFailed, "mirror: first overlay landed at the wrong address")
	}

	second, err := platform.MmapFile(fd, 0, uintptr(n), platform.FixedAt(reservation+uintptr(n)), platform.ReadWrite, platform.Shared, class)
	if err != nil {
		platform.Munmap(reservation, uintptr(n)*2)
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrMappingFailed, err), "mirror: second overlay mmap")
	}
	if second != reservation+uintptr(n) {
		platform.Munmap(reservation, uintptr(n)*2)
		return nil, errors.Wrap(magicringerr.ErrMappingFailed, "mirror: second overlay landed at the wrong address")
	}

	wholeLocked, err := platform.Mlock(reservation, uintptr(n)*2)
	if err != nil {
		platform.Munmap(reservation, uintptr(n)*2)
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrLockFailed, err), "mirror: mlock")
	}
	if !wholeLocked {
		platform.Munmap(reservation, uintptr(n)*2)
		return nil, errors.Wrap(magicringerr.ErrPartialLock, "mirror: mlock only locked part of the range")
	}

	if err := platform.MadviseDontFork(reservation, uintptr(n)*2); err != nil {
		platform.Munmap(reservation, uintptr(n)*2)
		return nil, errors.Wrap(fmt.Errorf("%w: %v", magicringerr.ErrAdviseFailed, err), "mirror: madvise DontFork")
	}

	log.Debug("mirror map constructed",
		zap.Uint64("buffer_size_bytes", n),
		zap.Uint64("huge_page_bytes", class.SizeBytes),
	)

	return &Map{
		base: reservation,
		size: n,
		mask: n - 1,
		log:  log,
	}, nil
}

// BufferSize returns N, the size of one half of the mirror.
func (m *Map) BufferSize() offset.Size { return offset.Size(m.size) }

// Pointer projects off onto the ring and returns the address of that byte
// within the mirror.
func (m *Map) Pointer(off offset.Mono) unsafe.Pointer {
	return unsafe.Pointer(m.base + uintptr(off.Mask(m.mask)))
}

// Slice returns a contiguous, writable view of n bytes starting at off.
// Because of the mirror, this is always a single contiguous region even
// when off%N + n > N — that is the entire point of this package.
func (m *Map) Slice(off offset.Mono, n offset.Size) []byte {
	return unsafe.Slice((*byte)(m.Pointer(off)), int(n))
}

// Close unmaps the full 2N-byte reservation. Idempotent.
func (m *Map) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = platform.Munmap(m.base, uintptr(m.size)*2)
		m.log.Debug("mirror map closed", zap.Error(m.closeErr))
	})
	return m.closeErr
}
