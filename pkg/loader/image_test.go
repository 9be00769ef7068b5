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
	"testing"

	"apeloader.dev/ape/pkg/abi/linux"
	"apeloader.dev/ape/pkg/hostarch"
)

// page is the host page size as a uint64, for building segment tables.
const page = uint64(hostarch.PageSize)

// testELF describes an ELF file built for tests.
type testELF struct {
	typ     elf.Type
	machine elf.Machine
	entry   uint64
	phdrs   []elf.Prog64

	// size is the file size. The bytes after the headers are fill.
	size int
	fill byte
}

func load(flags elf.ProgFlag, off, vaddr, filesz, memsz uint64) elf.Prog64 {
	return elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(flags),
		Off:    off,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: filesz,
		Memsz:  memsz,
		Align:  page,
	}
}

func (te testELF) header() elf.Header64 {
	machine := te.machine
	if machine == 0 {
		machine = hostarch.ELFMachine
	}
	hdr := elf.Header64{
		Type:      uint16(te.typ),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     te.entry,
		Phoff:     linux.ELF64HeaderSize,
		Ehsize:    linux.ELF64HeaderSize,
		Phentsize: linux.ELF64ProgHeaderSize,
		Phnum:     uint16(len(te.phdrs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	return hdr
}

func (te testELF) bytes(t *testing.T) []byte {
	t.Helper()
	return te.encode(t, te.header())
}

func (te testELF) encode(t *testing.T, hdr elf.Header64) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("encoding header: %v", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, te.phdrs); err != nil {
		t.Fatalf("encoding program headers: %v", err)
	}
	b := buf.Bytes()
	for len(b) < te.size {
		b = append(b, te.fill)
	}
	return b
}

// simpleExec is a minimal valid executable: one text segment holding the
// headers and the entry point.
func simpleExec(typ elf.Type) testELF {
	return testELF{
		typ:   typ,
		entry: 0x400000 + 0x100,
		phdrs: []elf.Prog64{
			load(elf.PF_R|elf.PF_X, 0, 0x400000, 0x200, 0x200),
		},
		size: 0x200,
		fill: 0xcc,
	}
}
