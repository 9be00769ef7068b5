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

package main

import (
	"debug/elf"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"apeloader.dev/ape/pkg/loader"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
	formatTOML = "toml"
)

func validFormat(format string) bool {
	switch format {
	case formatText, formatJSON, formatYAML, formatTOML:
		return true
	}
	return false
}

// candidate is one header a file offers the loader.
type candidate struct {
	// Offset is the file offset of the printf marker, or -1 for the leading
	// bytes of the file.
	Offset  int    `json:"offset" yaml:"offset" toml:"offset"`
	Length  int    `json:"length" yaml:"length" toml:"length"`
	Verdict string `json:"verdict" yaml:"verdict" toml:"verdict"`
}

type scanReport struct {
	Path       string      `json:"path" yaml:"path" toml:"path"`
	Polyglot   bool        `json:"polyglot" yaml:"polyglot" toml:"polyglot"`
	Candidates []candidate `json:"candidates" yaml:"candidates" toml:"candidates"`
}

// verdict describes the outcome of trying a header.
func verdict(err error) string {
	if err == nil {
		return "ok"
	}
	var rerr *loader.RejectError
	if errors.As(err, &rerr) {
		return "rejected: " + rerr.Reason
	}
	return "fatal: " + err.Error()
}

// scanFile lists every header candidate of path in the order the loader
// tries them.
func scanFile(path string) (*scanReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head, err := loader.ReadHead(path, f)
	if err != nil {
		return nil, err
	}

	r := &scanReport{Path: path, Polyglot: loader.HasPolyglotMagic(head)}
	if r.Polyglot {
		sc := loader.NewScanner(head)
		for block, ok := sc.Next(); ok; block, ok = sc.Next() {
			_, err := loader.TryImage(block, f, path)
			r.Candidates = append(r.Candidates, candidate{
				Offset:  sc.Offset(),
				Length:  len(block),
				Verdict: verdict(err),
			})
		}
	}
	_, err = loader.TryImage(head, f, path)
	r.Candidates = append(r.Candidates, candidate{Offset: -1, Length: len(head), Verdict: verdict(err)})
	return r, nil
}

type segment struct {
	Type   string `json:"type" yaml:"type" toml:"type"`
	Flags  string `json:"flags" yaml:"flags" toml:"flags"`
	Offset uint64 `json:"offset" yaml:"offset" toml:"offset"`
	Vaddr  uint64 `json:"vaddr" yaml:"vaddr" toml:"vaddr"`
	Filesz uint64 `json:"filesz" yaml:"filesz" toml:"filesz"`
	Memsz  uint64 `json:"memsz" yaml:"memsz" toml:"memsz"`
}

type headersReport struct {
	Path     string    `json:"path" yaml:"path" toml:"path"`
	Type     string    `json:"type" yaml:"type" toml:"type"`
	Machine  string    `json:"machine" yaml:"machine" toml:"machine"`
	Entry    uint64    `json:"entry" yaml:"entry" toml:"entry"`
	Phoff    uint64    `json:"phoff" yaml:"phoff" toml:"phoff"`
	Phnum    uint16    `json:"phnum" yaml:"phnum" toml:"phnum"`
	Segments []segment `json:"segments" yaml:"segments" toml:"segments"`
}

func openImage(path string) (*loader.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head, err := loader.ReadHead(path, f)
	if err != nil {
		return nil, err
	}
	return loader.SelectImage(path, head, f)
}

// headersFile reports the header the loader selects for path and its
// normalized program header table.
func headersFile(path string) (*headersReport, error) {
	img, err := openImage(path)
	if err != nil {
		return nil, err
	}
	r := &headersReport{
		Path:    path,
		Type:    img.Header.Type.String(),
		Machine: img.Header.Machine.String(),
		Entry:   img.Header.Entry,
		Phoff:   img.Header.Phoff,
		Phnum:   img.Header.Phnum,
	}
	for _, p := range img.Phdrs {
		r.Segments = append(r.Segments, segment{
			Type:   elf.ProgType(p.Type).String(),
			Flags:  elf.ProgFlag(p.Flags).String(),
			Offset: p.Off,
			Vaddr:  p.Vaddr,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
		})
	}
	return r, nil
}

type mapping struct {
	Op     string `json:"op" yaml:"op" toml:"op"`
	Addr   uint64 `json:"addr" yaml:"addr" toml:"addr"`
	Length uint64 `json:"length" yaml:"length" toml:"length"`
	Perms  string `json:"perms" yaml:"perms" toml:"perms"`
	File   bool   `json:"file" yaml:"file" toml:"file"`
	Offset uint64 `json:"offset,omitempty" yaml:"offset,omitempty" toml:"offset,omitempty"`
	Wipe   uint64 `json:"wipe,omitempty" yaml:"wipe,omitempty" toml:"wipe,omitempty"`
}

type layoutReport struct {
	Path string `json:"path" yaml:"path" toml:"path"`

	// Relative is set for position independent images. Addresses are then
	// offsets from the base the host picks.
	Relative    bool      `json:"relative" yaml:"relative" toml:"relative"`
	Entry       uint64    `json:"entry" yaml:"entry" toml:"entry"`
	Reservation [2]uint64 `json:"reservation" yaml:"reservation,flow" toml:"reservation"`
	Mappings    []mapping `json:"mappings" yaml:"mappings" toml:"mappings"`
}

// layoutFile validates the image selected for path and reports the mappings
// the loader would create, without mapping anything.
func layoutFile(path string) (*layoutReport, error) {
	img, err := openImage(path)
	if err != nil {
		return nil, err
	}
	if err := loader.Validate(img); err != nil {
		return nil, err
	}
	l, err := loader.Plan(img, 0)
	if err != nil {
		return nil, err
	}
	r := &layoutReport{
		Path:        path,
		Relative:    img.Header.Type == elf.ET_DYN,
		Entry:       uint64(l.Entry),
		Reservation: [2]uint64{uint64(l.Reservation.Start), uint64(l.Reservation.End)},
	}
	for _, m := range l.Mappings {
		r.Mappings = append(r.Mappings, mapping{
			Op:     m.Op,
			Addr:   uint64(m.Addr),
			Length: m.Length,
			Perms:  m.Perms.String(),
			File:   m.File,
			Offset: m.Offset,
			Wipe:   uint64(m.Wipe.Length()),
		})
	}
	return r, nil
}

// texter is implemented by reports that have a text rendering.
type texter interface {
	text(w io.Writer)
}

func (r *scanReport) text(w io.Writer) {
	kind := "plain"
	if r.Polyglot {
		kind = "polyglot"
	}
	fmt.Fprintf(w, "%s: %s, %d candidates\n", r.Path, kind, len(r.Candidates))
	for _, c := range r.Candidates {
		where := "leading bytes"
		if c.Offset >= 0 {
			where = fmt.Sprintf("printf at %#x", c.Offset)
		}
		fmt.Fprintf(w, "  %-20s %5d bytes  %s\n", where, c.Length, c.Verdict)
	}
}

func (r *headersReport) text(w io.Writer) {
	fmt.Fprintf(w, "%s: %s %s entry %#x phoff %#x phnum %d\n", r.Path, r.Type, r.Machine, r.Entry, r.Phoff, r.Phnum)
	for _, s := range r.Segments {
		fmt.Fprintf(w, "  %-14s %-18s off %#08x vaddr %#012x filesz %#08x memsz %#08x\n", s.Type, s.Flags, s.Offset, s.Vaddr, s.Filesz, s.Memsz)
	}
}

func (r *layoutReport) text(w io.Writer) {
	base := ""
	if r.Relative {
		base = "base+"
	}
	fmt.Fprintf(w, "%s: entry %s%#x reserve [%s%#x, %s%#x)\n", r.Path, base, r.Entry, base, r.Reservation[0], base, r.Reservation[1])
	for _, m := range r.Mappings {
		backing := "anon"
		if m.File {
			backing = fmt.Sprintf("file@%#x", m.Offset)
		}
		line := fmt.Sprintf("  %-14s %s%#x+%#x %s %s", m.Op, base, m.Addr, m.Length, m.Perms, backing)
		if m.Wipe > 0 {
			line += fmt.Sprintf(" wipe %d", m.Wipe)
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

// render writes reports to w in format.
func render[R texter](w io.Writer, format string, reports []R) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	case formatTOML:
		// TOML documents are tables, not arrays.
		doc := struct {
			Reports []R `toml:"report"`
		}{reports}
		return toml.NewEncoder(w).Encode(doc)
	case formatText:
		for _, r := range reports {
			r.text(w)
		}
		return nil
	}
	return fmt.Errorf("unknown format %q", format)
}
