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
	"os"

	"golang.org/x/sys/unix"

	"apeloader.dev/ape/pkg/abi/linux"
	"apeloader.dev/ape/pkg/hostarch"
)

// AuxvWords is the number of words of the auxiliary vector. AT_NULL has no
// value word.
const AuxvWords = 29

// AuxEntry is one entry of the auxiliary vector.
type AuxEntry struct {
	Key   uint64
	Value uint64
}

// Auxv is an auxiliary vector.
type Auxv []AuxEntry

// Words returns the vector as it is laid out on the stack.
func (a Auxv) Words() []uint64 {
	words := make([]uint64, 0, 2*len(a))
	for _, e := range a {
		words = append(words, e.Key)
		if e.Key != linux.AT_NULL {
			words = append(words, e.Value)
		}
	}
	return words
}

// Lookup returns the value for key.
func (a Auxv) Lookup(key uint64) (uint64, bool) {
	for _, e := range a {
		if e.Key == key {
			return e.Value, true
		}
	}
	return 0, false
}

// InitialState is the loader's own startup state as handed over by the host.
type InitialState struct {
	Args []string
	Env  []string
	Auxv [][2]uintptr
}

// CurrentState returns the InitialState of this process.
func CurrentState() InitialState {
	// The vector is informational; hosts that do not expose it get an
	// empty one.
	auxv, _ := unix.Auxv()
	return InitialState{
		Args: os.Args,
		Env:  os.Environ(),
		Auxv: auxv,
	}
}

func (s InitialState) auxval(key uint64) (uint64, bool) {
	for _, e := range s.Auxv {
		if uint64(e[0]) == key {
			return uint64(e[1]), true
		}
	}
	return 0, false
}

// HostInfo holds the host facts reported to the image.
type HostInfo struct {
	UID    uint64
	EUID   uint64
	GID    uint64
	EGID   uint64
	HWCap  uint64
	HWCap2 uint64
	Secure bool
}

// QueryHostInfo returns the HostInfo of this process.
func QueryHostInfo(s InitialState) HostInfo {
	h := HostInfo{
		UID:  uint64(unix.Getuid()),
		EUID: uint64(unix.Geteuid()),
		GID:  uint64(unix.Getgid()),
		EGID: uint64(unix.Getegid()),
	}
	h.Secure = h.UID != h.EUID || h.GID != h.EGID
	fillHostInfo(&h, s)
	return h
}

// StartupAddrs are the stack addresses the auxiliary vector points into.
type StartupAddrs struct {
	Phdr   hostarch.Addr
	Random hostarch.Addr
	Execfn hostarch.Addr
}

// BuildAuxv returns the auxiliary vector for img mapped at l.
func BuildAuxv(img *Image, l Layout, addrs StartupAddrs, host HostInfo) Auxv {
	var secure uint64
	if host.Secure {
		secure = 1
	}
	return Auxv{
		{linux.AT_PHDR, uint64(addrs.Phdr)},
		{linux.AT_PHENT, linux.ELF64ProgHeaderSize},
		{linux.AT_PHNUM, uint64(len(img.Phdrs))},
		{linux.AT_ENTRY, uint64(l.Entry)},
		{linux.AT_PAGESZ, hostarch.PageSize},
		{linux.AT_UID, host.UID},
		{linux.AT_EUID, host.EUID},
		{linux.AT_GID, host.GID},
		{linux.AT_EGID, host.EGID},
		{linux.AT_HWCAP, host.HWCap},
		{linux.AT_HWCAP2, host.HWCap2},
		{linux.AT_SECURE, secure},
		{linux.AT_RANDOM, uint64(addrs.Random)},
		{linux.AT_EXECFN, uint64(addrs.Execfn)},
		{linux.AT_NULL, 0},
	}
}
