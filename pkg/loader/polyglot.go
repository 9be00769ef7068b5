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

	"apeloader.dev/ape/pkg/abi/linux"
)

const (
	// MaxHeaderBlock is the number of leading file bytes searched for an
	// embedded header, and the largest decoded block.
	MaxHeaderBlock = 8192
)

// Shell script prologues of the polyglot formats. Each is the first line of
// a file that is at the same time a shell script and an executable.
var polyglotMagics = [][]byte{
	[]byte("MZqFpD='"),
	[]byte("jartsr='"),
	[]byte("APEDBG='"),
}

// printfMarker precedes an octal escaped ELF header in the shell script.
var printfMarker = []byte("printf '")

// HasPolyglotMagic returns true if b starts with a polyglot prologue.
func HasPolyglotMagic(b []byte) bool {
	for _, m := range polyglotMagics {
		if bytes.HasPrefix(b, m) {
			return true
		}
	}
	return false
}

func isOctal(c byte) bool {
	return '0' <= c && c <= '7'
}

// DecodeOctal decodes the body of a single quoted printf format string at the
// start of src. Escapes are a backslash followed by one to three octal
// digits; a backslash followed by anything else is kept literally. Decoding
// stops at the closing quote, at MaxHeaderBlock bytes of output, or when fewer
// than four bytes of src remain.
//
// n is the number of bytes of src consumed. ok is false if src ended before
// the closing quote.
func DecodeOctal(src []byte) (out []byte, n int, ok bool) {
	out = make([]byte, 0, 256)
	for n+3 < len(src) {
		c := src[n]
		n++
		if c == '\'' {
			return out, n, true
		}
		if c == '\\' && n < len(src) && isOctal(src[n]) {
			v := uint(src[n] - '0')
			n++
			for i := 0; i < 2 && n < len(src) && isOctal(src[n]); i++ {
				v = v*8 + uint(src[n]-'0')
				n++
			}
			c = byte(v)
		}
		out = append(out, c)
		if len(out) >= MaxHeaderBlock {
			return out, n, true
		}
	}
	return out, n, false
}

// Scanner finds the ELF headers embedded in a polyglot shell script prologue.
// The script prints them with printf so they may be extracted at install
// time; the loader decodes them directly.
type Scanner struct {
	buf  []byte
	pos  int
	last int
}

// NewScanner returns a Scanner over the leading bytes of a file. Bytes beyond
// MaxHeaderBlock are ignored.
func NewScanner(head []byte) *Scanner {
	if len(head) > MaxHeaderBlock {
		head = head[:MaxHeaderBlock]
	}
	return &Scanner{buf: head, last: -1}
}

// Next returns the next decoded block that is large enough to hold an ELF64
// header. ok is false when no more markers remain.
func (s *Scanner) Next() (block []byte, ok bool) {
	for {
		i := bytes.Index(s.buf[s.pos:], printfMarker)
		if i < 0 {
			s.pos = len(s.buf)
			return nil, false
		}
		start := s.pos + i
		s.pos = start + len(printfMarker)
		out, n, closed := DecodeOctal(s.buf[s.pos:])
		s.pos += n
		if !closed || len(out) < linux.ELF64HeaderSize {
			continue
		}
		s.last = start
		return out, true
	}
}

// Offset returns the file offset of the marker of the last block returned by
// Next, or -1.
func (s *Scanner) Offset() int {
	return s.last
}
