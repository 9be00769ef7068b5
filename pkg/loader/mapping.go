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
	"debug/elf"
	"fmt"

	"github.com/google/btree"

	"apeloader.dev/ape/pkg/hostarch"
	"apeloader.dev/ape/pkg/log"
)

// Memory provides the host primitives used to build an address space. All
// lengths are in bytes and need not be page aligned.
type Memory interface {
	// Reserve maps length bytes of inaccessible memory. If fixed is set the
	// reservation is placed exactly at addr and must not replace an existing
	// mapping; otherwise the host chooses the address.
	Reserve(addr hostarch.Addr, length uint64, fixed bool) (hostarch.Addr, error)

	// MapFile maps length bytes of fd at offset over addr.
	MapFile(addr hostarch.Addr, length uint64, at hostarch.AccessType, fd int, offset uint64) error

	// MapAnon maps length bytes of zeroed memory over addr.
	MapAnon(addr hostarch.Addr, length uint64, at hostarch.AccessType) error

	// Protect changes the protection of [addr, addr+length).
	Protect(addr hostarch.Addr, length uint64, at hostarch.AccessType) error

	// Zero clears [addr, addr+length), which must be mapped writable.
	Zero(addr hostarch.Addr, length uint64) error
}

// Mapping describes one mapping of an address space layout.
type Mapping struct {
	// Addr is the page aligned start of the mapping.
	Addr hostarch.Addr

	// Length is the length in bytes. The host rounds it up to a page.
	Length uint64

	// Perms are the final permissions.
	Perms hostarch.AccessType

	// MapPerms are the permissions the mapping is created with. They
	// differ from Perms only when Wipe must be written to a read-only
	// segment.
	MapPerms hostarch.AccessType

	// File is set if the mapping is backed by the image at Offset;
	// otherwise it is anonymous.
	File   bool
	Offset uint64

	// Wipe is zeroed after mapping. It covers the file bytes past the end
	// of the segment's file content on its last file page.
	Wipe hostarch.AddrRange

	// Op names the operation in diagnostics.
	Op string
}

// String implements fmt.Stringer.String.
func (m Mapping) String() string {
	backing := "anon"
	if m.File {
		backing = fmt.Sprintf("file@%#x", m.Offset)
	}
	s := fmt.Sprintf("%v+%#x %v %s", m.Addr, m.Length, m.Perms, backing)
	if m.Wipe.Length() > 0 {
		s += fmt.Sprintf(" wipe %v", m.Wipe)
	}
	return s
}

// Layout is the address space layout of an image.
type Layout struct {
	// Base is added to every virtual address of the image. It is zero for
	// ET_EXEC images.
	Base hostarch.Addr

	// Entry is the relocated entry point.
	Entry hostarch.Addr

	// Reservation is the page rounded extent of all segments.
	Reservation hostarch.AddrRange

	// Mappings are applied in order.
	Mappings []Mapping
}

// Validate checks that the segments of img can be mapped on this host. Errors
// are fatal *Error values.
func Validate(img *Image) error {
	found := false
	var mapped rangeSet
	for i := range img.Segments {
		p := &img.Segments[i]
		flags := elf.ProgFlag(p.Flags)
		if p.Filesz > p.Memsz {
			return fatal(img.Path, "ELF p_filesz exceeds p_memsz", nil)
		}
		if flags&elf.PF_W != 0 && flags&elf.PF_X != 0 {
			return fatal(img.Path, "writable and executable segments aren't allowed", nil)
		}
		if p.Vaddr&hostarch.PageMask != p.Off&hostarch.PageMask {
			return fatal(img.Path, fmt.Sprintf("ELF p_vaddr incongruent w/ p_offset modulo %d", hostarch.PageSize), nil)
		}
		if _, ok := hostarch.PageRoundUp(p.Vaddr + p.Memsz); !ok || p.Vaddr+p.Memsz < p.Vaddr {
			return fatal(img.Path, "ELF p_vaddr + p_memsz overflow", nil)
		}
		if _, ok := hostarch.PageRoundUp(p.Off + p.Filesz); !ok || p.Off+p.Filesz < p.Off {
			return fatal(img.Path, "ELF p_offset + p_filesz overflow", nil)
		}
		if !mapped.insert(segmentRange(p)) {
			return fatal(img.Path, "ELF segments overlap each others virtual memory", nil)
		}
		if flags&elf.PF_X != 0 && p.Vaddr <= img.Header.Entry && img.Header.Entry < p.Vaddr+p.Memsz {
			found = true
		}
	}
	if !found {
		return fatal(img.Path, "ELF entrypoint not found in PT_LOAD with PF_X", nil)
	}
	return nil
}

// rangeSet is a set of disjoint address ranges ordered by start.
type rangeSet struct {
	tree *btree.BTreeG[hostarch.AddrRange]
}

// insert adds r to the set. It returns false, leaving the set unchanged, if r
// overlaps a range already in the set.
func (s *rangeSet) insert(r hostarch.AddrRange) bool {
	if !r.WellFormed() {
		return false
	}
	if r.Length() == 0 {
		return true
	}
	if s.tree == nil {
		s.tree = btree.NewG(2, func(a, b hostarch.AddrRange) bool { return a.Start < b.Start })
	}
	// Members are disjoint, so only the neighbors of r can overlap it.
	overlap := false
	check := func(m hostarch.AddrRange) bool {
		overlap = overlap || m.Overlaps(r)
		return false
	}
	s.tree.DescendLessOrEqual(r, check)
	s.tree.AscendGreaterOrEqual(r, check)
	if overlap {
		return false
	}
	s.tree.ReplaceOrInsert(r)
	return true
}

// segmentRange returns the page rounded virtual range of a segment that has
// passed the overflow checks in Validate.
func segmentRange(p *elf.Prog64) hostarch.AddrRange {
	ar, _ := hostarch.Addr(p.Vaddr).ToRange(p.Memsz)
	ar, _ = ar.RoundOut()
	return ar
}

// extent returns the page rounded range spanning all segments of img.
func extent(img *Image) hostarch.AddrRange {
	var ar hostarch.AddrRange
	for i := range img.Segments {
		r := segmentRange(&img.Segments[i])
		if i == 0 || r.Start < ar.Start {
			ar.Start = r.Start
		}
		if i == 0 || r.End > ar.End {
			ar.End = r.End
		}
	}
	return ar
}

// Plan computes the layout of img for base. img must have passed Validate.
func Plan(img *Image, base hostarch.Addr) (Layout, error) {
	ext := extent(img)
	start, ok := base.AddLength(uint64(ext.Start))
	if !ok {
		return Layout{}, fatal(img.Path, "ELF dynamic base overflow", nil)
	}
	if _, ok := start.AddLength(uint64(ext.Length())); !ok {
		return Layout{}, fatal(img.Path, "ELF dynamic base overflow", nil)
	}
	l := Layout{
		Base:        base,
		Entry:       base + hostarch.Addr(img.Header.Entry),
		Reservation: hostarch.AddrRange{Start: start, End: start + ext.Length()},
	}

	for i := range img.Segments {
		p := &img.Segments[i]
		perms := progFlagsAsPerms(elf.ProgFlag(p.Flags))
		addr := base + hostarch.Addr(hostarch.PageRoundDown(p.Vaddr))
		skew := p.Vaddr & hostarch.PageMask

		if p.Filesz == 0 {
			l.Mappings = append(l.Mappings, Mapping{
				Addr:     addr,
				Length:   skew + p.Memsz,
				Perms:    perms,
				MapPerms: perms,
				Op:       "bss mmap",
			})
			continue
		}

		fileEnd := p.Vaddr + p.Filesz
		pageEnd, _ := hostarch.PageRoundUp(fileEnd)
		memEnd := p.Vaddr + p.Memsz
		wipe := min(pageEnd, memEnd) - fileEnd

		m := Mapping{
			Addr:     addr,
			Length:   skew + p.Filesz,
			Perms:    perms,
			MapPerms: perms,
			File:     true,
			Offset:   hostarch.PageRoundDown(p.Off),
			Op:       "prog mmap",
		}
		if wipe > 0 {
			if !perms.Write {
				m.MapPerms = hostarch.ReadWrite
			}
			m.Wipe, _ = (base + hostarch.Addr(fileEnd)).ToRange(wipe)
		}
		l.Mappings = append(l.Mappings, m)

		if memEnd > pageEnd {
			l.Mappings = append(l.Mappings, Mapping{
				Addr:     base + hostarch.Addr(pageEnd),
				Length:   memEnd - pageEnd,
				Perms:    perms,
				MapPerms: perms,
				Op:       "extra bss mmap",
			})
		}
	}
	return l, nil
}

// Build reserves the extent of img in mem and maps its segments from fd.
// img must have passed Validate.
func Build(mem Memory, img *Image, fd int) (Layout, error) {
	ext := extent(img)
	var base hostarch.Addr
	switch img.Header.Type {
	case elf.ET_DYN:
		start, err := mem.Reserve(0, uint64(ext.Length()), false)
		if err != nil {
			return Layout{}, fatal(img.Path, "pie mmap", err)
		}
		if !start.IsPageAligned() {
			return Layout{}, fatal(img.Path, "OS mmap incongruent w/ AT_PAGESZ", nil)
		}
		base = start - ext.Start
	default:
		if _, err := mem.Reserve(ext.Start, uint64(ext.Length()), true); err != nil {
			return Layout{}, fatal(img.Path, "prog mmap", err)
		}
	}

	l, err := Plan(img, base)
	if err != nil {
		return Layout{}, err
	}
	for _, m := range l.Mappings {
		if err := apply(mem, m, fd); err != nil {
			return Layout{}, fatal(img.Path, err.op, err.err)
		}
	}
	log.Debugf("%s: mapped %d segments at base %v, entry %v", img.Path, len(img.Segments), l.Base, l.Entry)
	return l, nil
}

type applyError struct {
	op  string
	err error
}

func apply(mem Memory, m Mapping, fd int) *applyError {
	if m.File {
		if err := mem.MapFile(m.Addr, m.Length, m.MapPerms, fd, m.Offset); err != nil {
			return &applyError{m.Op, err}
		}
	} else if err := mem.MapAnon(m.Addr, m.Length, m.MapPerms); err != nil {
		return &applyError{m.Op, err}
	}
	if n := m.Wipe.Length(); n > 0 {
		if err := mem.Zero(m.Wipe.Start, uint64(n)); err != nil {
			return &applyError{m.Op, err}
		}
	}
	if m.MapPerms != m.Perms {
		if err := mem.Protect(m.Addr, m.Length, m.Perms); err != nil {
			return &applyError{"prog mprotect", err}
		}
	}
	return nil
}
