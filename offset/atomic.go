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

package offset

import "sync/atomic"

// Atomic is an atomically-updated Mono. It is padded to 16 bytes so that,
// packed into a struct alongside its siblings, each one is likely to land
// on its own cache line pair on common x86-64 layouts — mirroring the
// original design's #[repr(align(16))].
//
// Go's sync/atomic operations on amd64 and arm64 are sequentially
// consistent, which is strictly stronger than the acquire/release pairing
// spec.md asks for; the method names below (Load/Store/CompareAndSwap/
// FetchAdd) keep the acquire/release vocabulary only as documentation of the
// minimum ordering required.
type Atomic struct {
	v   atomic.Uint64
	_   uint64 // padding: keeps the struct at 16 bytes
}

// Load is an acquire load of the current value.
func (a *Atomic) Load() Mono {
	return Mono(a.v.Load())
}

// Store is a release store of a new value. The only legal caller contract
// is that new >= the previously stored value; Atomic itself does not
// enforce this (CompareAndSwap is the enforcement point used by mrb.Ring).
func (a *Atomic) Store(m Mono) {
	a.v.Store(uint64(m))
}

// CompareAndSwap performs an acquire-release compare-and-swap. It succeeds
// only if the currently stored value equals old, reports the value actually
// observed either way.
func (a *Atomic) CompareAndSwap(old, new Mono) (swapped bool, observed Mono) {
	if a.v.CompareAndSwap(uint64(old), uint64(new)) {
		return true, new
	}
	return false, Mono(a.v.Load())
}

// FetchAdd atomically adds n and returns the half-open claim
// [before, before+n) the caller now exclusively owns.
func (a *Atomic) FetchAdd(n Size) (start, end Mono) {
	after := a.v.Add(uint64(n))
	start = Mono(after - uint64(n))
	end = Mono(after)
	return start, end
}
