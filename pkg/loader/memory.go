// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"apeloader.dev/ape/pkg/hostarch"
)

// HostMemory implements Memory on the loader's own address space.
type HostMemory struct{}

var _ Memory = HostMemory{}

func ptr(addr hostarch.Addr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr))
}

// Reserve implements Memory.Reserve.
func (HostMemory) Reserve(addr hostarch.Addr, length uint64, fixed bool) (hostarch.Addr, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	if fixed {
		flags |= mapFixedNoReplace
	}
	p, err := unix.MmapPtr(-1, 0, ptr(addr), uintptr(length), unix.PROT_NONE, flags)
	if err != nil {
		return 0, err
	}
	got := hostarch.Addr(uintptr(p))
	if fixed && got != addr {
		// Kernels without MAP_FIXED_NOREPLACE treat the address as a hint.
		unix.MunmapPtr(p, uintptr(length))
		return 0, unix.EEXIST
	}
	return got, nil
}

// MapFile implements Memory.MapFile.
func (HostMemory) MapFile(addr hostarch.Addr, length uint64, at hostarch.AccessType, fd int, offset uint64) error {
	_, err := unix.MmapPtr(fd, int64(offset), ptr(addr), uintptr(length), at.Prot(), unix.MAP_PRIVATE|unix.MAP_FIXED)
	return err
}

// MapAnon implements Memory.MapAnon.
func (HostMemory) MapAnon(addr hostarch.Addr, length uint64, at hostarch.AccessType) error {
	_, err := unix.MmapPtr(-1, 0, ptr(addr), uintptr(length), at.Prot(), unix.MAP_PRIVATE|unix.MAP_FIXED|unix.MAP_ANON)
	return err
}

// Protect implements Memory.Protect.
func (HostMemory) Protect(addr hostarch.Addr, length uint64, at hostarch.AccessType) error {
	return unix.Mprotect(unsafe.Slice((*byte)(ptr(addr)), length), at.Prot())
}

// Zero implements Memory.Zero.
func (HostMemory) Zero(addr hostarch.Addr, length uint64) error {
	clear(unsafe.Slice((*byte)(ptr(addr)), length))
	return nil
}

// Unmap removes the mappings in ar.
func (HostMemory) Unmap(ar hostarch.AddrRange) error {
	return unix.MunmapPtr(ptr(ar.Start), uintptr(ar.Length()))
}

// MapStack maps a fresh private region of size bytes for a stack, plus an
// inaccessible guard page below it. Every page is committed before MapStack
// returns. It returns the usable range.
func (HostMemory) MapStack(size uint64) (hostarch.AddrRange, error) {
	size = hostarch.PageRoundDown(size)
	total := size + hostarch.PageSize
	p, err := unix.MmapPtr(-1, 0, nil, uintptr(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|mapStack)
	if err != nil {
		return hostarch.AddrRange{}, err
	}
	guard := hostarch.Addr(uintptr(p))
	if err := unix.Mprotect(unsafe.Slice((*byte)(p), hostarch.PageSize), unix.PROT_NONE); err != nil {
		unix.MunmapPtr(p, uintptr(total))
		return hostarch.AddrRange{}, err
	}
	ar := hostarch.AddrRange{Start: guard + hostarch.PageSize, End: guard + hostarch.Addr(total)}
	touchPages(ar, func(addr hostarch.Addr) { *(*byte)(ptr(addr)) = 0 })
	return ar, nil
}

const (
	// DefaultStackSize is used when the stack limit cannot be read.
	DefaultStackSize = 8 << 20

	// MaxStackSize caps the stack limit.
	MaxStackSize = 64 << 20
)

// StackSize returns the size of the stack to map. If override is zero the
// soft RLIMIT_STACK is used.
func StackSize(override uint64) uint64 {
	size := override
	if size == 0 {
		var rlim unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_STACK, &rlim); err == nil {
			// An unlimited stack reads as the largest value and is capped
			// below.
			size = uint64(rlim.Cur)
		}
	}
	if size == 0 {
		size = DefaultStackSize
	}
	size = min(size, MaxStackSize)
	return max(hostarch.PageRoundDown(size), hostarch.PageSize)
}

// HostStack returns a Stack over the mapped range ar.
func HostStack(ar hostarch.AddrRange) *Stack {
	return NewStack(unsafe.Slice((*byte)(ptr(ar.Start)), ar.Length()), ar.Start)
}
