//go:build !linux

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

import "github.com/paultag/magicring/magicringerr"

// This build is kept so the module still compiles on non-Linux hosts (for
// example during `go vet ./...` in CI running on darwin); every entry point
// fails with ErrUnsupportedPlatform since the overlapping fixed-mapping
// trick and memfd_create are Linux-specific.

func MmapAnonymous(length uintptr, hint AddressHint, prot Protection, sharing Sharing) (uintptr, error) {
	return 0, magicringerr.ErrUnsupportedPlatform
}

func MmapFile(fd int, offset int64, length uintptr, hint AddressHint, prot Protection, sharing Sharing, class HugePageClass) (uintptr, error) {
	return 0, magicringerr.ErrUnsupportedPlatform
}

func Munmap(addr uintptr, length uintptr) error {
	return magicringerr.ErrUnsupportedPlatform
}

func MemfdCreate(name string, class HugePageClass) (int, error) {
	return -1, magicringerr.ErrUnsupportedPlatform
}

func Ftruncate(fd int, size int64) error {
	return magicringerr.ErrUnsupportedPlatform
}

func CloseFD(fd int) error {
	return magicringerr.ErrUnsupportedPlatform
}

func Mlock(addr uintptr, length uintptr) (bool, error) {
	return false, magicringerr.ErrUnsupportedPlatform
}

func MadviseDontFork(addr uintptr, length uintptr) error {
	return magicringerr.ErrUnsupportedPlatform
}

func PageSize() uint64 {
	return 4096
}

func HugePageSizes() []uint64 {
	return nil
}
