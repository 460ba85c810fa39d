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

package platform

import "testing"

func TestNextPow2(t *testing.T) {
	cases := []struct {
		in, want uint64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 4},
		{5, 8},
		{1023, 1024},
		{1024, 1024},
	}
	for _, c := range cases {
		got, ok := NextPow2(c.in)
		if !ok {
			t.Errorf("NextPow2(%d): unexpected overflow", c.in)
			continue
		}
		if got != c.want {
			t.Errorf("NextPow2(%d): got %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNextPow2Overflow(t *testing.T) {
	_, ok := NextPow2(1 << 63)
	if ok {
		t.Fatalf("expected overflow at 2^63 to be rejected")
	}
}

func TestBestFitSkipsPageSizeOverWasteBudget(t *testing.T) {
	policy := HugePagePolicy{
		PreferredSizes:     []uint64{1 << 30, 2 << 20}, // 1GiB, 2MiB
		FallbackToOrdinary: true,
	}
	size, class, ok := BestFit(3<<20, policy, 1<<20) // want ~3MiB, waste budget 1MiB
	if !ok {
		t.Fatalf("expected a fit")
	}
	// 1GiB wastes far more than the budget; 2MiB page size rounds 3MiB up to
	// 4MiB (a power-of-two multiple of 2MiB), wasting 1MiB, which is exactly
	// at budget.
	if class.SizeBytes != 2<<20 {
		t.Fatalf("expected 2MiB huge page class, got %d", class.SizeBytes)
	}
	if size != 4<<20 {
		t.Fatalf("expected size 4MiB, got %d", size)
	}
}

func TestBestFitFallsBackToOrdinaryPages(t *testing.T) {
	policy := HugePagePolicy{
		PreferredSizes:     []uint64{1 << 30},
		FallbackToOrdinary: true,
	}
	size, class, ok := BestFit(4096, policy, PageSize())
	if !ok {
		t.Fatalf("expected fallback to ordinary pages to succeed")
	}
	if !class.Ordinary() {
		t.Fatalf("expected ordinary page class, got %+v", class)
	}
	if size == 0 {
		t.Fatalf("expected non-zero size")
	}
}

func TestBestFitNoFitWithoutFallback(t *testing.T) {
	policy := HugePagePolicy{
		PreferredSizes:     []uint64{1 << 30},
		FallbackToOrdinary: false,
	}
	_, _, ok := BestFit(4096, policy, 0)
	if ok {
		t.Fatalf("expected no fit: 1GiB huge page wastes far more than a 0-byte budget and fallback is disabled")
	}
}

func TestDefaultHugePagePolicyAlwaysFallsBack(t *testing.T) {
	policy := DefaultHugePagePolicy()
	if !policy.FallbackToOrdinary {
		t.Fatalf("expected DefaultHugePagePolicy to always allow falling back to ordinary pages")
	}
}

func TestOrdinaryPagesOnlyHasNoPreferredSizes(t *testing.T) {
	policy := OrdinaryPagesOnly()
	if len(policy.PreferredSizes) != 0 {
		t.Fatalf("expected no preferred huge page sizes, got %v", policy.PreferredSizes)
	}
	if !policy.FallbackToOrdinary {
		t.Fatalf("expected fallback to ordinary pages to be enabled")
	}
}
