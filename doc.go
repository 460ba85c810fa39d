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

// Package magicring is the root of two in-process ring structures built on
// raw mmap tricks rather than a single shared package:
//
//   - offset: monotonic offset/size arithmetic shared by both rings.
//   - mirror: the double-mmap "mirror" trick, one physical region mapped
//     twice contiguously in virtual memory.
//   - mrb: the Magic Ring Buffer, a lock-free multi-producer/single-consumer
//     byte ring built on mirror.Map.
//   - internal/ringstore: the single-mapping fixed-element-size storage
//     lrq.Queue is built on.
//   - lrq: the Large Ring Queue, a single-threaded fixed-capacity element
//     ring with reference-counted borrow handles.
//   - internal/platform: the Linux mmap/memfd/mlock/madvise syscall layer
//     both mirror and ringstore are built on.
//   - magicringerr: sentinel errors shared across the module.
//
// There is no exported code at this path; import the subpackage you need.
package magicring

// vim: foldmethod=marker
