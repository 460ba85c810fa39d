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

// Package platform is the thin collaborator spec.md §6.2 assumes: anonymous
// fixed-size mappings, memfd-style anonymous files, fixed overlay mappings,
// memory locking and DontFork advice, plus page-size/huge-page discovery.
//
// Everything above this package is pure Go; only this package touches raw
// syscall numbers, and it does so through golang.org/x/sys/unix the way
// sakateka-yanet2 does for its own low-level platform calls.
package platform

// Protection mirrors the protection flags the caller may request for a
// mapping.
type Protection int

const (
	// Inaccessible mappings can't be read or written; used for the
	// reservation step before the fixed overlays land.
	Inaccessible Protection = iota
	// ReadWrite mappings can be read and written.
	ReadWrite
)

// Sharing mirrors MAP_PRIVATE vs MAP_SHARED.
type Sharing int

const (
	// Private changes are not visible to other mappings of the same file.
	Private Sharing = iota
	// Shared changes are visible to other mappings of the same file,
	// which is what lets the two halves of the mirror alias one another.
	Shared
)

// AddressHint controls whether the kernel is free to pick an address, or
// must place the mapping at a caller-chosen one.
type AddressHint struct {
	fixed   bool
	address uintptr
}

// Any lets the kernel choose the mapping's address.
func Any() AddressHint { return AddressHint{} }

// FixedAt requires the mapping to land at exactly addr, failing otherwise.
func FixedAt(addr uintptr) AddressHint { return AddressHint{fixed: true, address: addr} }

// HugePageClass identifies the page size backing a mapping. A zero value
// means the platform's ordinary page size.
type HugePageClass struct {
	SizeBytes uint64
}

// Ordinary reports whether this class is the regular (non-huge) page size.
func (c HugePageClass) Ordinary() bool { return c.SizeBytes == 0 }

// HugePagePolicy controls which huge page sizes BestFit is willing to
// consider, in preference order, before falling back to the ordinary page
// size.
type HugePagePolicy struct {
	// PreferredSizes lists candidate huge page sizes, most preferred
	// first. Typically populated from HugePageSizes(), largest first, so
	// that fewer, bigger pages are tried before smaller ones.
	PreferredSizes []uint64
	// FallbackToOrdinary allows BestFit to use the regular page size when
	// no huge page size fits the waste budget.
	FallbackToOrdinary bool
}

// DefaultHugePagePolicy discovers the huge page sizes this host supports and
// returns a policy that prefers the largest of them, falling back to
// ordinary pages.
func DefaultHugePagePolicy() HugePagePolicy {
	sizes := HugePageSizes()
	return HugePagePolicy{PreferredSizes: sizes, FallbackToOrdinary: true}
}

// OrdinaryPagesOnly returns a policy that never attempts a huge page
// mapping.
func OrdinaryPagesOnly() HugePagePolicy {
	return HugePagePolicy{FallbackToOrdinary: true}
}
