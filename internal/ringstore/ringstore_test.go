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

package ringstore

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/paultag/magicring/internal/platform"
	"github.com/paultag/magicring/magicringerr"
)

func newTestRegion(t *testing.T, elemSize uintptr, idealCount uint64, clamp bool) *Region {
	t.Helper()
	// A region is at least one page, so the waste budget must allow rounding
	// a small element count up to a full page.
	r, err := Allocate(elemSize, idealCount, platform.OrdinaryPagesOnly(), platform.PageSize(), clamp)
	if err != nil {
		if errors.Is(err, magicringerr.ErrLockFailed) || errors.Is(err, magicringerr.ErrPartialLock) {
			t.Skipf("skipping: mlock unavailable in this environment: %v", err)
		}
		t.Fatalf("Allocate: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestAllocateRoundsUpToPowerOfTwo(t *testing.T) {
	r := newTestRegion(t, unsafe.Sizeof(uint64(0)), 5, false)
	// 5 rounds up to 8 elements, and the mapping then rounds up to one page,
	// so the unclamped capacity is a page's worth of 8-byte elements.
	want := platform.PageSize() / 8
	if r.Capacity() != want {
		t.Fatalf("Capacity: got %d, want %d", r.Capacity(), want)
	}
	if r.Mask() != want-1 {
		t.Fatalf("Mask: got %d, want %d", r.Mask(), want-1)
	}
}

func TestAllocateClampsCapacityWhenRequested(t *testing.T) {
	r := newTestRegion(t, unsafe.Sizeof(uint64(0)), 5, true)
	if r.Capacity() != 5 {
		t.Fatalf("Capacity: got %d, want 5 (clamped)", r.Capacity())
	}
	// The mask used internally for addressing must still be based on the
	// clamped capacity per this package's contract.
	if r.Mask() != 4 {
		t.Fatalf("Mask: got %d, want 4", r.Mask())
	}
}

func TestPointerMasksRatherThanModulos(t *testing.T) {
	r := newTestRegion(t, unsafe.Sizeof(uint64(0)), 4, false)
	p0 := r.Pointer(0)
	pLap := r.Pointer(r.Capacity()) // one full lap later, same slot
	if p0 != pLap {
		t.Fatalf("expected offset 0 and offset %d (one lap later) to address the same slot", r.Capacity())
	}
}

func TestAllocateRejectsZeroInputs(t *testing.T) {
	if _, err := Allocate(0, 4, platform.OrdinaryPagesOnly(), 0, false); err == nil {
		t.Fatalf("expected an error for a zero element size")
	}
	if _, err := Allocate(8, 0, platform.OrdinaryPagesOnly(), 0, false); err == nil {
		t.Fatalf("expected an error for a zero ideal count")
	}
}
