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
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"apeloader.dev/ape/pkg/abi/linux"
	"apeloader.dev/ape/pkg/hostarch"
)

// stackReader reads back a stack image built in a byte slice.
type stackReader struct {
	t    *testing.T
	mem  []byte
	base hostarch.Addr
}

func (r *stackReader) off(addr uint64) int {
	off := int(addr - uint64(r.base))
	if off < 0 || off >= len(r.mem) {
		r.t.Fatalf("address %#x is outside the stack", addr)
	}
	return off
}

func (r *stackReader) word(addr uint64) uint64 {
	return binary.NativeEndian.Uint64(r.mem[r.off(addr):])
}

func (r *stackReader) str(addr uint64) string {
	b := r.mem[r.off(addr):]
	return string(b[:bytes.IndexByte(b, 0)])
}

func (r *stackReader) bytes(addr uint64, n int) []byte {
	off := r.off(addr)
	return r.mem[off : off+n]
}

func testStackArgs(t *testing.T) StackArgs {
	te := simpleExec(elf.ET_DYN)
	te.phdrs = append(te.phdrs, elf.Prog64{Type: uint32(elf.PT_TLS), Flags: uint32(elf.PF_R), Memsz: 8, Align: 8})
	b := te.bytes(t)
	img, err := TryImage(b, bytes.NewReader(b), "/bin/prog")
	if err != nil {
		t.Fatalf("TryImage: %v", err)
	}
	args := StackArgs{
		Argv:   []string{"/bin/prog", "arg1", ""},
		Envv:   []string{"HOME=/root", "_=/usr/bin/ape"},
		Execfn: "/usr/bin/ape",
		Image:  img,
		Layout: Layout{Base: 0x7000000, Entry: 0x7000000 + hostarch.Addr(img.Header.Entry)},
		Host:   HostInfo{UID: 1000, EUID: 1000, GID: 100, EGID: 100, HWCap: 0xfff, HWCap2: 0x2},
	}
	for i := range args.Random {
		args.Random[i] = byte(i + 1)
	}
	return args
}

func TestBuildStack(t *testing.T) {
	for _, skew := range []hostarch.Addr{0, 8} {
		mem := make([]byte, 4*page)
		base := hostarch.Addr(0x10000000) + skew
		args := testStackArgs(t)
		sl, err := BuildStack(NewStack(mem, base), args)
		if err != nil {
			t.Fatalf("BuildStack: %v", err)
		}
		if sl.SP%16 != 0 {
			t.Errorf("SP %v is not 16 byte aligned", sl.SP)
		}

		r := &stackReader{t: t, mem: mem, base: base}
		sp := uint64(sl.SP)
		argc := r.word(sp)
		var argv, envv []string
		p := sp + 8
		for ; r.word(p) != 0; p += 8 {
			argv = append(argv, r.str(r.word(p)))
		}
		if uint64(len(argv)) != argc {
			t.Errorf("argc = %d, but %d argv pointers precede NULL", argc, len(argv))
		}
		for p += 8; r.word(p) != 0; p += 8 {
			envv = append(envv, r.str(r.word(p)))
		}
		if diff := cmp.Diff(args.Argv, argv); diff != "" {
			t.Errorf("argv mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(args.Envv, envv); diff != "" {
			t.Errorf("envv mismatch (-want +got):\n%s", diff)
		}

		auxv := map[uint64]uint64{}
		var keys []uint64
		for p += 8; ; p += 16 {
			k := r.word(p)
			keys = append(keys, k)
			if k == linux.AT_NULL {
				break
			}
			auxv[k] = r.word(p + 8)
		}
		wantKeys := []uint64{
			linux.AT_PHDR, linux.AT_PHENT, linux.AT_PHNUM, linux.AT_ENTRY,
			linux.AT_PAGESZ, linux.AT_UID, linux.AT_EUID, linux.AT_GID,
			linux.AT_EGID, linux.AT_HWCAP, linux.AT_HWCAP2, linux.AT_SECURE,
			linux.AT_RANDOM, linux.AT_EXECFN, linux.AT_NULL,
		}
		if diff := cmp.Diff(wantKeys, keys); diff != "" {
			t.Errorf("auxv keys mismatch (-want +got):\n%s", diff)
		}
		if got := p + 8 - sp; got != 8*(1+4+3+AuxvWords) {
			t.Errorf("vector is %d bytes, want %d", got, 8*(1+4+3+AuxvWords))
		}

		if got, want := auxv[linux.AT_ENTRY], uint64(args.Layout.Entry); got != want {
			t.Errorf("AT_ENTRY = %#x, want %#x", got, want)
		}
		if got := auxv[linux.AT_PAGESZ]; got != page {
			t.Errorf("AT_PAGESZ = %#x, want %#x", got, page)
		}
		if got := auxv[linux.AT_PHNUM]; got != 2 {
			t.Errorf("AT_PHNUM = %d, want 2", got)
		}
		if got := auxv[linux.AT_PHENT]; got != 56 {
			t.Errorf("AT_PHENT = %d, want 56", got)
		}
		if got := auxv[linux.AT_PHDR]; got%8 != 0 {
			t.Errorf("AT_PHDR %#x is not 8 byte aligned", got)
		}
		if diff := cmp.Diff(args.Image.EncodePhdrs(), r.bytes(auxv[linux.AT_PHDR], 2*56)); diff != "" {
			t.Errorf("program headers mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(args.Random[:], r.bytes(auxv[linux.AT_RANDOM], 16)); diff != "" {
			t.Errorf("random bytes mismatch (-want +got):\n%s", diff)
		}
		if got := r.str(auxv[linux.AT_EXECFN]); got != args.Execfn {
			t.Errorf("AT_EXECFN = %q, want %q", got, args.Execfn)
		}
		for k, want := range map[uint64]uint64{
			linux.AT_UID:    1000,
			linux.AT_EUID:   1000,
			linux.AT_GID:    100,
			linux.AT_EGID:   100,
			linux.AT_HWCAP:  0xfff,
			linux.AT_HWCAP2: 0x2,
			linux.AT_SECURE: 0,
		} {
			if auxv[k] != want {
				t.Errorf("auxv[%d] = %#x, want %#x", k, auxv[k], want)
			}
		}

		if r.str(uint64(sl.ArgvStart)) != args.Argv[0] {
			t.Errorf("ArgvStart does not point at argv[0]")
		}
		if r.str(uint64(sl.EnvvStart)) != args.Envv[0] {
			t.Errorf("EnvvStart does not point at envv[0]")
		}
	}
}

func TestTouchPages(t *testing.T) {
	var got []hostarch.Addr
	touchPages(hostarch.AddrRange{Start: 4 * hostarch.PageSize, End: 7 * hostarch.PageSize}, func(addr hostarch.Addr) {
		got = append(got, addr)
	})
	want := []hostarch.Addr{6 * hostarch.PageSize, 5 * hostarch.PageSize, 4 * hostarch.PageSize}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("touched pages mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildStackEmptyArgv(t *testing.T) {
	mem := make([]byte, page)
	args := testStackArgs(t)
	args.Argv = nil
	sl, err := BuildStack(NewStack(mem, 0x20000000), args)
	if err != nil {
		t.Fatalf("BuildStack: %v", err)
	}
	r := &stackReader{t: t, mem: mem, base: 0x20000000}
	if argc := r.word(uint64(sl.SP)); argc != 0 {
		t.Errorf("argc = %d, want 0", argc)
	}
	if p := r.word(uint64(sl.SP) + 8); p != 0 {
		t.Errorf("argv[0] = %#x, want NULL", p)
	}
}

func TestBuildStackTooSmall(t *testing.T) {
	args := testStackArgs(t)
	_, err := BuildStack(NewStack(make([]byte, 256), 0x20000000), args)
	if !errors.Is(err, unix.E2BIG) {
		t.Errorf("BuildStack in 256 bytes = %v, want E2BIG", err)
	}
}

func TestAuxvWords(t *testing.T) {
	args := testStackArgs(t)
	aux := BuildAuxv(args.Image, args.Layout, StartupAddrs{}, HostInfo{Secure: true})
	if got := len(aux.Words()); got != AuxvWords {
		t.Errorf("len(Words()) = %d, want %d", got, AuxvWords)
	}
	if v, ok := aux.Lookup(linux.AT_SECURE); !ok || v != 1 {
		t.Errorf("AT_SECURE = %d, %t; want 1, true", v, ok)
	}
	if v, ok := aux.Lookup(linux.AT_HWCAP2); !ok || v != 0 {
		t.Errorf("AT_HWCAP2 = %d, %t; want 0, true", v, ok)
	}
}
