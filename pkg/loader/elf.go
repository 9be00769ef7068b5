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
	"io"

	"apeloader.dev/ape/pkg/abi/linux"
	"apeloader.dev/ape/pkg/hostarch"
	"apeloader.dev/ape/pkg/log"
)

const (
	// MaxPhdrBytes is the largest program header table that is read. It
	// holds 18 program headers.
	MaxPhdrBytes = 1024
)

// byteOrder is the only supported ELF data encoding.
var byteOrder = binary.LittleEndian

// Header is the part of an ELF64 file header the loader uses. It is
// immutable once ParseHeader returns it.
type Header struct {
	Type      elf.Type
	Machine   elf.Machine
	Entry     uint64
	Phoff     uint64
	Phentsize uint16
	Phnum     uint16
}

// Image is an ELF image that may be mapped.
type Image struct {
	// Path is the file the image is read from.
	Path string

	// Header is the validated file header.
	Header Header

	// Phdrs is the program header table with PT_LOAD entries normalized.
	// Other entries such as PT_TLS and PT_GNU_STACK are kept for the image's
	// own runtime, which finds them through AT_PHDR.
	Phdrs []elf.Prog64

	// Segments are the normalized PT_LOAD segments in table order.
	Segments []elf.Prog64
}

func loadsOf(phdrs []elf.Prog64) []elf.Prog64 {
	loads := make([]elf.Prog64, 0, len(phdrs))
	for _, p := range phdrs {
		if elf.ProgType(p.Type) == elf.PT_LOAD {
			loads = append(loads, p)
		}
	}
	return loads
}

// EncodePhdrs returns the program header table in its file encoding.
func (img *Image) EncodePhdrs() []byte {
	var buf bytes.Buffer
	buf.Grow(len(img.Phdrs) * linux.ELF64ProgHeaderSize)
	for i := range img.Phdrs {
		// Writing fixed size values into a bytes.Buffer cannot fail.
		_ = binary.Write(&buf, byteOrder, &img.Phdrs[i])
	}
	return buf.Bytes()
}

// ParseHeader validates the ELF64 file header at the start of block.
//
// All errors returned match ErrNotLoadable: another candidate header may
// still be loadable.
func ParseHeader(block []byte) (Header, error) {
	if len(block) < linux.ELF64HeaderSize {
		return Header{}, reject("didn't embed ELF magic")
	}

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], block)
	if !bytes.Equal(ident[:len(elf.ELFMAG)], []byte(elf.ELFMAG)) {
		return Header{}, reject("didn't embed ELF magic")
	}
	if elf.Class(ident[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return Header{}, reject("32-bit ELF isn't supported")
	}
	if elf.Data(ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return Header{}, reject("big-endian ELF isn't supported")
	}

	var hdr elf.Header64
	if err := binary.Read(bytes.NewReader(block[:linux.ELF64HeaderSize]), byteOrder, &hdr); err != nil {
		return Header{}, reject("didn't embed ELF magic")
	}

	h := Header{
		Type:      elf.Type(hdr.Type),
		Machine:   elf.Machine(hdr.Machine),
		Entry:     hdr.Entry,
		Phoff:     hdr.Phoff,
		Phentsize: hdr.Phentsize,
		Phnum:     hdr.Phnum,
	}
	if h.Type != elf.ET_EXEC && h.Type != elf.ET_DYN {
		return Header{}, reject("ELF not ET_EXEC or ET_DYN")
	}
	if h.Machine != hostarch.ELFMachine {
		return Header{}, reject("couldn't find ELF header with %s machine type", hostarch.ELFMachine)
	}
	return h, nil
}

// ReadSegments reads the program header table named by hdr from r.
//
// Errors are fatal *Error values.
func ReadSegments(path string, r io.ReaderAt, hdr Header) ([]elf.Prog64, error) {
	if hdr.Phentsize != linux.ELF64ProgHeaderSize {
		return nil, fatal(path, "e_phentsize is wrong", nil)
	}
	size := int(hdr.Phnum) * linux.ELF64ProgHeaderSize
	if size > MaxPhdrBytes {
		return nil, fatal(path, "too many ELF program headers", nil)
	}

	buf := make([]byte, size)
	n, err := r.ReadAt(buf, int64(hdr.Phoff))
	if n != size {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fatal(path, "failed to read ELF program headers", err)
		}
		return nil, fatal(path, "truncated read of ELF program headers", nil)
	}

	phdrs := make([]elf.Prog64, hdr.Phnum)
	if err := binary.Read(bytes.NewReader(buf), byteOrder, phdrs); err != nil {
		return nil, fatal(path, "failed to read ELF program headers", err)
	}
	return phdrs, nil
}

// CheckSupported rejects images that need a dynamic linker.
func CheckSupported(phdrs []elf.Prog64) error {
	for _, p := range phdrs {
		switch elf.ProgType(p.Type) {
		case elf.PT_INTERP:
			return reject("ELF has PT_INTERP which isn't supported")
		case elf.PT_DYNAMIC:
			return reject("ELF has PT_DYNAMIC which isn't supported")
		}
	}
	return nil
}

func progFlagsAsPerms(f elf.ProgFlag) hostarch.AccessType {
	var p hostarch.AccessType
	if f&elf.PF_R == elf.PF_R {
		p = p.Union(hostarch.Read)
	}
	if f&elf.PF_W == elf.PF_W {
		p = p.Union(hostarch.Write)
	}
	if f&elf.PF_X == elf.PF_X {
		p = p.Union(hostarch.Execute)
	}
	return p
}

const rwx = elf.PF_R | elf.PF_W | elf.PF_X

// mergeable returns true if segment b may be folded into segment a. Both must
// have the same permissions, and neither the file extents nor the memory extents
// may be more than a page apart.
func mergeable(a, b *elf.Prog64) bool {
	if elf.ProgFlag(a.Flags)&rwx != elf.ProgFlag(b.Flags)&rwx {
		return false
	}
	// The differences are unsigned: a next segment that starts beyond the
	// page following a's end wraps around and is never merged.
	fileEnd, ok := hostarch.PageRoundUp(a.Off + a.Filesz)
	if !ok || fileEnd-hostarch.PageRoundDown(b.Off) > hostarch.PageSize {
		return false
	}
	memEnd, ok := hostarch.PageRoundUp(a.Vaddr + a.Memsz)
	if !ok || memEnd-hostarch.PageRoundDown(b.Vaddr) > hostarch.PageSize {
		return false
	}
	return true
}

// Normalize returns the loadable segments of phdrs. Empty segments are
// dropped and adjacent segments that share permissions and lie within a page
// of each other are coalesced.
//
// Normalize(Normalize(p)) is equal to Normalize(p).
func Normalize(phdrs []elf.Prog64) []elf.Prog64 {
	return loadsOf(normalizeTable(phdrs))
}

// normalizeTable is Normalize without the final filter. Entries other than
// PT_LOAD stay in place; merging looks past them.
func normalizeTable(phdrs []elf.Prog64) []elf.Prog64 {
	out := make([]elf.Prog64, 0, len(phdrs))
	for _, p := range phdrs {
		if elf.ProgType(p.Type) == elf.PT_LOAD && p.Memsz == 0 {
			continue
		}
		out = append(out, p)
	}

	i := nextLoad(out, 0)
	for i < len(out) {
		j := nextLoad(out, i+1)
		if j == len(out) {
			break
		}
		a, b := &out[i], &out[j]
		if !mergeable(a, b) {
			i = j
			continue
		}
		a.Memsz = b.Vaddr + b.Memsz - a.Vaddr
		a.Filesz = b.Off + b.Filesz - a.Off
		out = append(out[:j], out[j+1:]...)
	}
	return out
}

// nextLoad returns the index of the first PT_LOAD entry of phdrs at or after
// i, or len(phdrs).
func nextLoad(phdrs []elf.Prog64, i int) int {
	for i < len(phdrs) && elf.ProgType(phdrs[i].Type) != elf.PT_LOAD {
		i++
	}
	return i
}

// TryImage validates a candidate header block and reads the program headers
// it describes from f.
//
// An error matching ErrNotLoadable means this candidate should be skipped;
// any other error is a fatal *Error.
func TryImage(block []byte, f io.ReaderAt, path string) (*Image, error) {
	hdr, err := ParseHeader(block)
	if err != nil {
		return nil, err
	}
	phdrs, err := ReadSegments(path, f, hdr)
	if err != nil {
		return nil, err
	}
	if err := CheckSupported(phdrs); err != nil {
		return nil, err
	}
	table := normalizeTable(phdrs)
	img := &Image{
		Path:     path,
		Header:   hdr,
		Phdrs:    table,
		Segments: loadsOf(table),
	}
	log.Debugf("%s: %v image, entry %#x, %d program headers, %d segments", path, hdr.Type, hdr.Entry, len(phdrs), len(img.Segments))
	return img, nil
}
