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

// Package offset implements the monotonic offset arithmetic both rings are
// built on: a byte/element count (Size) and a counter that only ever
// increases (Mono), whose low bits project onto a power-of-two ring via a
// mask rather than a modulo.
package offset

// Size is a byte or element count. Subtraction is only ever called by this
// module's own callers, who have already checked the minuend is not smaller
// than the subtrahend — see Mono.Sub.
type Size uint64

// Add returns s + other.
func (s Size) Add(other Size) Size { return s + other }

// Sub returns s - other. The caller must ensure s >= other; this package
// never guards against underflow itself, matching spec.md's "caller-checked"
// contract for Size subtraction.
func (s Size) Sub(other Size) Size { return s - other }

// Mono is a 64-bit counter that, by contract, only ever increases. It is
// never reduced modulo the ring size in storage; the ring projection only
// happens when deriving a memory address (see Mono.Mask). Overflow of 2^64
// is not guarded against — see spec.md §3's documented assumption that a
// write rate of 2^64 bytes is never reached in practice.
type Mono uint64

// Add advances m by n.
func (m Mono) Add(n Size) Mono { return m + Mono(n) }

// AddUint64 advances m by n raw units (used where the caller already has a
// plain counter instead of a Size, e.g. element counts in lrq).
func (m Mono) AddUint64(n uint64) Mono { return m + Mono(n) }

// Sub returns the Size between two monotonic offsets. The caller must
// ensure m >= other.
func (m Mono) Sub(other Mono) Size { return Size(m - other) }

// Mask projects m onto a power-of-two ring of the given mask (ringSize-1),
// yielding the in-buffer index.
func (m Mono) Mask(mask uint64) uint64 { return uint64(m) & mask }
