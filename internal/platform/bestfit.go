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

import "math/bits"

// maxSizeBits is the 63-bit ceiling spec.md imposes on every size this
// package computes (the top bit is reserved so offset/Size arithmetic never
// has to reason about signedness).
const maxSizeBits = 63

// NextPow2 returns the smallest power of two >= v. ok is false if that power
// of two would not fit in 63 bits.
//
// Grounded on the nextPow2 helper agilira-lethe uses to size its MPSC ring
// buffer.
func NextPow2(v uint64) (result uint64, ok bool) {
	if v <= 1 {
		return 1, true
	}
	shift := bits.Len64(v - 1)
	if shift >= maxSizeBits {
		return 0, false
	}
	return 1 << shift, true
}

// BestFit chooses a page size P (an entry from policy, or the ordinary page
// size) such that the smallest power-of-two multiple of P that is >=
// preferred wastes at most maxWaste bytes. It returns that multiple and the
// huge page class it is backed by.
func BestFit(preferred uint64, policy HugePagePolicy, maxWaste uint64) (size uint64, class HugePageClass, ok bool) {
	for _, hp := range policy.PreferredSizes {
		if hp == 0 {
			continue
		}
		if n, fits := fitToPageSize(preferred, hp, maxWaste); fits {
			return n, HugePageClass{SizeBytes: hp}, true
		}
	}
	if policy.FallbackToOrdinary || len(policy.PreferredSizes) == 0 {
		if n, fits := fitToPageSize(preferred, PageSize(), maxWaste); fits {
			return n, HugePageClass{}, true
		}
	}
	return 0, HugePageClass{}, false
}

func fitToPageSize(preferred, pageSize, maxWaste uint64) (uint64, bool) {
	n, ok := NextPow2(preferred)
	if !ok {
		return 0, false
	}
	for n%pageSize != 0 {
		n *= 2
		if bits.Len64(n) > maxSizeBits {
			return 0, false
		}
	}
	if n < pageSize {
		n = pageSize
	}
	if n-preferred > maxWaste {
		return 0, false
	}
	return n, true
}
