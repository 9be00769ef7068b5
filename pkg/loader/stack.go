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
	"encoding/binary"

	"golang.org/x/sys/unix"

	"apeloader.dev/ape/pkg/hostarch"
)

// Stack is a downward growing stack image in a byte region. The first byte of
// the region is at address base in the address space the image runs in.
type Stack struct {
	mem  []byte
	base hostarch.Addr

	// Bottom is the current stack pointer.
	Bottom hostarch.Addr
}

// NewStack returns an empty Stack over mem, which is mapped at base.
func NewStack(mem []byte, base hostarch.Addr) *Stack {
	return &Stack{
		mem:    mem,
		base:   base,
		Bottom: base + hostarch.Addr(len(mem)),
	}
}

// touchPages calls touch on the first address of every page in the page
// aligned range ar, highest page first.
func touchPages(ar hostarch.AddrRange, touch func(hostarch.Addr)) {
	for addr := ar.End; addr > ar.Start; {
		addr -= hostarch.PageSize
		touch(addr)
	}
}

func (s *Stack) grow(n uint64) ([]byte, error) {
	if uint64(s.Bottom-s.base) < n {
		return nil, unix.E2BIG
	}
	s.Bottom -= hostarch.Addr(n)
	off := uint64(s.Bottom - s.base)
	return s.mem[off : off+n], nil
}

// Align moves Bottom down to a multiple of n, which must be a power of two.
func (s *Stack) Align(n uint64) error {
	_, err := s.grow(uint64(s.Bottom) & (n - 1))
	return err
}

// PushBytes copies b onto the stack and returns its address.
func (s *Stack) PushBytes(b []byte) (hostarch.Addr, error) {
	dst, err := s.grow(uint64(len(b)))
	if err != nil {
		return 0, err
	}
	copy(dst, b)
	return s.Bottom, nil
}

// PushString copies str and a NUL terminator onto the stack and returns its
// address.
func (s *Stack) PushString(str string) (hostarch.Addr, error) {
	dst, err := s.grow(uint64(len(str)) + 1)
	if err != nil {
		return 0, err
	}
	dst[copy(dst, str)] = 0
	return s.Bottom, nil
}

// pushStrings pushes strs in reverse so they end up in order in memory, and
// returns their addresses in the order of strs.
func (s *Stack) pushStrings(strs []string) ([]hostarch.Addr, error) {
	addrs := make([]hostarch.Addr, len(strs))
	for i := len(strs) - 1; i >= 0; i-- {
		a, err := s.PushString(strs[i])
		if err != nil {
			return nil, err
		}
		addrs[i] = a
	}
	return addrs, nil
}

// StackArgs is the content of the initial stack.
type StackArgs struct {
	Argv   []string
	Envv   []string
	Execfn string
	Random [16]byte
	Image  *Image
	Layout Layout
	Host   HostInfo
}

// StackLayout describes the location of the startup vectors on the stack.
type StackLayout struct {
	// SP is the initial stack pointer. It points at argc.
	SP hostarch.Addr

	ArgvStart hostarch.Addr
	ArgvEnd   hostarch.Addr
	EnvvStart hostarch.Addr
	EnvvEnd   hostarch.Addr

	Auxv Auxv
}

// BuildStack writes the startup contract of an image onto s. From the
// returned SP upward the stack holds argc, the argv pointers and a NULL, the
// envp pointers and a NULL, then the auxiliary vector. The strings and
// tables those point to sit above. SP is 16 byte aligned.
func BuildStack(s *Stack, args StackArgs) (StackLayout, error) {
	var (
		sl    StackLayout
		addrs StartupAddrs
		err   error
	)
	if addrs.Execfn, err = s.PushString(args.Execfn); err != nil {
		return sl, err
	}
	sl.EnvvEnd = s.Bottom
	envp, err := s.pushStrings(args.Envv)
	if err != nil {
		return sl, err
	}
	sl.EnvvStart = s.Bottom
	sl.ArgvEnd = s.Bottom
	argv, err := s.pushStrings(args.Argv)
	if err != nil {
		return sl, err
	}
	sl.ArgvStart = s.Bottom

	if addrs.Random, err = s.PushBytes(args.Random[:]); err != nil {
		return sl, err
	}
	if err := s.Align(8); err != nil {
		return sl, err
	}
	if addrs.Phdr, err = s.PushBytes(args.Image.EncodePhdrs()); err != nil {
		return sl, err
	}

	sl.Auxv = BuildAuxv(args.Image, args.Layout, addrs, args.Host)
	words := make([]uint64, 0, 3+len(argv)+len(envp)+AuxvWords)
	words = append(words, uint64(len(argv)))
	for _, a := range argv {
		words = append(words, uint64(a))
	}
	words = append(words, 0)
	for _, a := range envp {
		words = append(words, uint64(a))
	}
	words = append(words, 0)
	words = append(words, sl.Auxv.Words()...)

	// Place the vector so that it starts on a 16 byte boundary.
	if _, err := s.grow(8 * uint64(len(words))); err != nil {
		return sl, err
	}
	if err := s.Align(16); err != nil {
		return sl, err
	}
	off := uint64(s.Bottom - s.base)
	for i, w := range words {
		binary.NativeEndian.PutUint64(s.mem[off+8*uint64(i):], w)
	}
	sl.SP = s.Bottom
	return sl, nil
}
