//go:build linux

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

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapHugeShift is MAP_HUGE_SHIFT / MFD_HUGE_SHIFT: the low bits of the
// flags word above bit 26 encode log2(huge page size) on Linux.
const mmapHugeShift = 26

func protFlags(p Protection) int {
	if p == ReadWrite {
		return unix.PROT_READ | unix.PROT_WRITE
	}
	return unix.PROT_NONE
}

func sharingFlags(s Sharing) int {
	if s == Shared {
		return unix.MAP_SHARED
	}
	return unix.MAP_PRIVATE
}

func hugeMmapFlags(class HugePageClass) int {
	if class.Ordinary() {
		return 0
	}
	shift := trailingZeros64(class.SizeBytes)
	return unix.MAP_HUGETLB | (shift << mmapHugeShift)
}

func trailingZeros64(v uint64) int {
	n := 0
	for v&1 == 0 && v != 0 {
		v >>= 1
		n++
	}
	return n
}

// rawMmap calls mmap(2) directly so the caller can request a fixed address,
// which the higher-level unix.Mmap wrapper does not expose.
func rawMmap(hint AddressHint, length uintptr, prot int, flags int, fd int, offset int64) (uintptr, error) {
	var addr uintptr
	if hint.fixed {
		addr = hint.address
		flags |= unix.MAP_FIXED
	}
	r0, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return r0, nil
}

func rawMunmap(addr uintptr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// MmapAnonymous reserves a fresh, anonymous mapping of the given length.
func MmapAnonymous(length uintptr, hint AddressHint, prot Protection, sharing Sharing) (uintptr, error) {
	flags := unix.MAP_ANONYMOUS | sharingFlags(sharing)
	return rawMmap(hint, length, protFlags(prot), flags, -1, 0)
}

// MmapFile overlays a file-backed mapping of length bytes from fd at
// offset, at the address given by hint.
func MmapFile(fd int, offset int64, length uintptr, hint AddressHint, prot Protection, sharing Sharing, class HugePageClass) (uintptr, error) {
	flags := sharingFlags(sharing) | hugeMmapFlags(class)
	return rawMmap(hint, length, protFlags(prot), flags, fd, offset)
}

// Munmap releases a mapping previously returned by MmapAnonymous or
// MmapFile.
func Munmap(addr uintptr, length uintptr) error {
	return rawMunmap(addr, length)
}

// MemfdCreate creates an anonymous, sealing-disabled in-memory file,
// optionally backed by a huge page class.
func MemfdCreate(name string, class HugePageClass) (int, error) {
	flags := unix.MFD_CLOEXEC
	if !class.Ordinary() {
		shift := trailingZeros64(class.SizeBytes)
		flags |= unix.MFD_HUGETLB | (shift << mmapHugeShift)
	}
	fd, err := unix.MemfdCreate(name, flags)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Ftruncate sets the length of an open file descriptor (typically a memfd).
func Ftruncate(fd int, size int64) error {
	return unix.Ftruncate(fd, size)
}

// CloseFD closes a raw file descriptor.
func CloseFD(fd int) error {
	return unix.Close(fd)
}

func sliceFor(addr uintptr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}

// Mlock locks the full range into RAM, reporting whether the whole range
// was locked (a partial lock is treated by the caller as a failure).
func Mlock(addr uintptr, length uintptr) (wholeRangeLocked bool, err error) {
	if err := unix.Mlock(sliceFor(addr, length)); err != nil {
		return false, err
	}
	return true, nil
}

// MadviseDontFork applies the DontFork advice to the range.
func MadviseDontFork(addr uintptr, length uintptr) error {
	return unix.Madvise(sliceFor(addr, length), unix.MADV_DONTFORK)
}

// PageSize returns the host's ordinary page size in bytes.
func PageSize() uint64 {
	return uint64(os.Getpagesize())
}

// HugePageSizes discovers the huge page sizes the kernel exposes under
// /sys/kernel/mm/hugepages, largest first. Returns nil if the host has none
// configured (the common case in containers without hugetlbfs reservations).
func HugePageSizes() []uint64 {
	entries, err := filepath.Glob("/sys/kernel/mm/hugepages/hugepages-*kB")
	if err != nil {
		return nil
	}
	var sizes []uint64
	for _, e := range entries {
		base := filepath.Base(e)
		base = strings.TrimPrefix(base, "hugepages-")
		base = strings.TrimSuffix(base, "kB")
		kb, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		sizes = append(sizes, kb*1024)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })
	return sizes
}
