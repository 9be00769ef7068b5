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
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"apeloader.dev/ape/pkg/hostarch"
)

func otherMachine() elf.Machine {
	if hostarch.ELFMachine == elf.EM_AARCH64 {
		return elf.EM_X86_64
	}
	return elf.EM_AARCH64
}

func TestParseHeader(t *testing.T) {
	good := simpleExec(elf.ET_EXEC)
	for _, tc := range []struct {
		name   string
		mutate func(h *elf.Header64)
		reason string
	}{
		{
			name:   "bad magic",
			mutate: func(h *elf.Header64) { h.Ident[1] = 'X' },
			reason: "didn't embed ELF magic",
		},
		{
			name:   "32-bit",
			mutate: func(h *elf.Header64) { h.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32) },
			reason: "32-bit ELF isn't supported",
		},
		{
			name:   "big endian",
			mutate: func(h *elf.Header64) { h.Ident[elf.EI_DATA] = byte(elf.ELFDATA2MSB) },
			reason: "big-endian ELF isn't supported",
		},
		{
			name:   "relocatable",
			mutate: func(h *elf.Header64) { h.Type = uint16(elf.ET_REL) },
			reason: "ELF not ET_EXEC or ET_DYN",
		},
		{
			name:   "foreign machine",
			mutate: func(h *elf.Header64) { h.Machine = uint16(otherMachine()) },
			reason: "couldn't find ELF header with",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			hdr := good.header()
			tc.mutate(&hdr)
			_, err := ParseHeader(good.encode(t, hdr))
			if !errors.Is(err, ErrNotLoadable) {
				t.Fatalf("ParseHeader error = %v, want a rejection", err)
			}
			if !strings.HasPrefix(err.Error(), tc.reason) {
				t.Errorf("ParseHeader error = %q, want prefix %q", err, tc.reason)
			}
		})
	}

	t.Run("valid", func(t *testing.T) {
		for _, typ := range []elf.Type{elf.ET_EXEC, elf.ET_DYN} {
			te := simpleExec(typ)
			got, err := ParseHeader(te.bytes(t))
			if err != nil {
				t.Fatalf("ParseHeader(%v): %v", typ, err)
			}
			want := Header{
				Type:      typ,
				Machine:   hostarch.ELFMachine,
				Entry:     te.entry,
				Phoff:     64,
				Phentsize: 56,
				Phnum:     1,
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("ParseHeader(%v) mismatch (-want +got):\n%s", typ, diff)
			}
		}
	})

	t.Run("short", func(t *testing.T) {
		if _, err := ParseHeader([]byte("\x7fELF")); !errors.Is(err, ErrNotLoadable) {
			t.Errorf("ParseHeader of 4 bytes = %v, want a rejection", err)
		}
	})
}

func TestReadSegments(t *testing.T) {
	te := simpleExec(elf.ET_EXEC)
	for _, tc := range []struct {
		name   string
		mutate func(h *Header)
		file   func(b []byte) []byte
		reason string
	}{
		{
			name:   "phentsize",
			mutate: func(h *Header) { h.Phentsize = 64 },
			reason: "e_phentsize is wrong",
		},
		{
			name:   "too many",
			mutate: func(h *Header) { h.Phnum = 19 },
			reason: "too many ELF program headers",
		},
		{
			name:   "truncated",
			file:   func(b []byte) []byte { return b[:100] },
			reason: "truncated read of ELF program headers",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := te.bytes(t)
			hdr, err := ParseHeader(b)
			if err != nil {
				t.Fatalf("ParseHeader: %v", err)
			}
			if tc.mutate != nil {
				tc.mutate(&hdr)
			}
			if tc.file != nil {
				b = tc.file(b)
			}
			_, err = ReadSegments("prog", bytes.NewReader(b), hdr)
			var lerr *Error
			if !errors.As(err, &lerr) {
				t.Fatalf("ReadSegments error = %v, want *Error", err)
			}
			if lerr.Reason != tc.reason || lerr.Subject != "prog" {
				t.Errorf("ReadSegments error = %+v, want subject prog, reason %q", lerr, tc.reason)
			}
			if errors.Is(err, ErrNotLoadable) {
				t.Errorf("ReadSegments error %v is not fatal", err)
			}
		})
	}
}

func TestCheckSupported(t *testing.T) {
	for _, typ := range []elf.ProgType{elf.PT_INTERP, elf.PT_DYNAMIC} {
		phdrs := []elf.Prog64{{Type: uint32(typ)}}
		if err := CheckSupported(phdrs); !errors.Is(err, ErrNotLoadable) {
			t.Errorf("CheckSupported(%v) = %v, want a rejection", typ, err)
		}
	}
	phdrs := []elf.Prog64{{Type: uint32(elf.PT_LOAD)}, {Type: uint32(elf.PT_TLS)}, {Type: uint32(elf.PT_GNU_STACK)}}
	if err := CheckSupported(phdrs); err != nil {
		t.Errorf("CheckSupported of a static image = %v", err)
	}
}

func TestNormalize(t *testing.T) {
	const (
		rx = elf.PF_R | elf.PF_X
		r  = elf.PF_R
		rw = elf.PF_R | elf.PF_W
	)
	note := elf.Prog64{Type: uint32(elf.PT_NOTE), Flags: uint32(r), Off: 0x100, Vaddr: 0x100, Filesz: 0x20, Memsz: 0x20}

	for _, tc := range []struct {
		name string
		in   []elf.Prog64
		want []elf.Prog64
	}{
		{
			name: "drops empty",
			in: []elf.Prog64{
				load(rx, 0, 0, page, page),
				load(rw, 0, 8*page, 0, 0),
			},
			want: []elf.Prog64{
				load(rx, 0, 0, page, page),
			},
		},
		{
			name: "merges adjacent",
			in: []elf.Prog64{
				load(r, 0, 0, 0x80, 0x80),
				load(r, page+0x10, page+0x10, 0x40, 0x100),
			},
			want: []elf.Prog64{
				load(r, 0, 0, page+0x50, page+0x110),
			},
		},
		{
			name: "merges a run",
			in: []elf.Prog64{
				load(r, 0, 0, page, page),
				load(r, page, page, page, page),
				load(r, 2*page, 2*page, page, page),
			},
			want: []elf.Prog64{
				load(r, 0, 0, 3*page, 3*page),
			},
		},
		{
			name: "different flags",
			in: []elf.Prog64{
				load(rx, 0, 0, page, page),
				load(rw, page, page, page, page),
			},
			want: []elf.Prog64{
				load(rx, 0, 0, page, page),
				load(rw, page, page, page, page),
			},
		},
		{
			name: "memory gap",
			in: []elf.Prog64{
				load(r, 0, 0, page, page),
				load(r, page, 3*page, page, page),
			},
			want: []elf.Prog64{
				load(r, 0, 0, page, page),
				load(r, page, 3*page, page, page),
			},
		},
		{
			name: "file gap",
			in: []elf.Prog64{
				load(r, 0, 0, page, page),
				load(r, 4*page, page, page, page),
			},
			want: []elf.Prog64{
				load(r, 0, 0, page, page),
				load(r, 4*page, page, page, page),
			},
		},
		{
			name: "other entries are dropped",
			in: []elf.Prog64{
				load(r, 0, 0, page, page),
				note,
				load(r, page, page, page, page),
			},
			want: []elf.Prog64{
				load(r, 0, 0, 2*page, 2*page),
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			in := append([]elf.Prog64(nil), tc.in...)
			got := Normalize(in)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.in, in); diff != "" {
				t.Errorf("Normalize modified its input (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(got, Normalize(got)); diff != "" {
				t.Errorf("Normalize is not idempotent (-once +twice):\n%s", diff)
			}
		})
	}
}

func TestTryImage(t *testing.T) {
	te := simpleExec(elf.ET_DYN)
	te.phdrs = append(te.phdrs, elf.Prog64{Type: uint32(elf.PT_GNU_STACK), Flags: uint32(elf.PF_R | elf.PF_W)})
	b := te.bytes(t)

	img, err := TryImage(b, bytes.NewReader(b), "prog")
	if err != nil {
		t.Fatalf("TryImage: %v", err)
	}
	if got, want := len(img.Phdrs), 2; got != want {
		t.Errorf("len(Phdrs) = %d, want %d", got, want)
	}
	if diff := cmp.Diff(te.phdrs[:1], img.Segments); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}
	if got, want := len(img.EncodePhdrs()), 2*56; got != want {
		t.Errorf("len(EncodePhdrs()) = %d, want %d", got, want)
	}
	if !bytes.Equal(img.EncodePhdrs(), b[64:64+2*56]) {
		t.Errorf("EncodePhdrs does not round trip the file's table")
	}

	te.phdrs = append(te.phdrs, elf.Prog64{Type: uint32(elf.PT_INTERP)})
	b = te.bytes(t)
	if _, err := TryImage(b, bytes.NewReader(b), "prog"); !errors.Is(err, ErrNotLoadable) {
		t.Errorf("TryImage with PT_INTERP = %v, want a rejection", err)
	}
}
