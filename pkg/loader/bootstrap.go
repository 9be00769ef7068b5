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
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"apeloader.dev/ape/pkg/abi/linux"
	"apeloader.dev/ape/pkg/log"
)

// ErrUsage is returned by ParseArgs when no program is named.
var ErrUsage = errors.New("no program named")

// Invocation is the program named on the loader's command line.
type Invocation struct {
	// Prog is the program name as given, before path resolution.
	Prog string

	// Argv is the argument vector of the program. It may be empty.
	Argv []string
}

// ParseArgs interprets the loader's command line. Two forms are accepted:
//
//	loader PROG [ARGV1 ...]
//	loader - PROG [ARGV0 ARGV1 ...]
//
// The first is how the shell runs the loader when it is registered as an
// interpreter; argv[0] is PROG itself. The second passes argv[0] explicitly.
func ParseArgs(args []string) (Invocation, error) {
	switch {
	case len(args) >= 3 && args[1] == "-":
		return Invocation{Prog: args[2], Argv: args[3:]}, nil
	case len(args) < 2:
		return Invocation{}, ErrUsage
	default:
		return Invocation{Prog: args[1], Argv: args[1:]}, nil
	}
}

// ResolveArgv0 replaces argv[0] with exe, the resolved path of the program,
// when argv[0] merely repeats the name the program was found by. The image
// then sees a path it can reopen.
func (inv *Invocation) ResolveArgv0(exe string) {
	if len(inv.Argv) == 0 {
		return
	}
	if (!path.IsAbs(inv.Prog) && path.IsAbs(exe) && inv.Prog == inv.Argv[0]) ||
		path.Base(inv.Prog) == inv.Argv[0] {
		inv.Argv[0] = exe
	}
}

// Execfn returns the name the loader itself was executed as. Shells export
// it as the last "_" variable, which takes precedence over argv[0].
func (s InitialState) Execfn() string {
	var execfn string
	if len(s.Args) > 0 {
		execfn = s.Args[0]
	}
	for _, kv := range s.Env {
		if v, ok := strings.CutPrefix(kv, "_="); ok {
			execfn = v
		}
	}
	return execfn
}

// ReadHead reads the leading bytes of an image file.
func ReadHead(exe string, f io.ReaderAt) ([]byte, error) {
	head := make([]byte, MaxHeaderBlock)
	n, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fatal(exe, "read", err)
	}
	if n < linux.ELF64HeaderSize {
		return nil, fatal(exe, "too small", nil)
	}
	return head[:n], nil
}

// rejectLogInterval bounds how often rejected candidates are logged.
const rejectLogInterval = 100 * time.Millisecond

// SelectImage finds the image to load given the leading bytes of exe. Headers
// embedded in a polyglot prologue are tried in order, then the leading bytes
// themselves. The first candidate that validates is returned. If none does the
// reason the leading bytes were rejected is returned as a fatal *Error.
func SelectImage(exe string, head []byte, f io.ReaderAt) (*Image, error) {
	if HasPolyglotMagic(head) {
		rl := log.BasicRateLimitedLogger(rejectLogInterval)
		sc := NewScanner(head)
		for block, ok := sc.Next(); ok; block, ok = sc.Next() {
			img, err := TryImage(block, f, exe)
			if err == nil {
				log.Debugf("%s: loading header printed at offset %d", exe, sc.Offset())
				return img, nil
			}
			if !errors.Is(err, ErrNotLoadable) {
				return nil, err
			}
			rl.Debugf("%s: skipping header printed at offset %d: %v", exe, sc.Offset(), err)
		}
	}

	img, err := TryImage(head, f, exe)
	if err != nil {
		var rerr *RejectError
		if errors.As(err, &rerr) {
			return nil, fatal(exe, rerr.Reason, nil)
		}
		return nil, err
	}
	return img, nil
}

// Open opens exe for mapping.
func Open(exe string) (*os.File, error) {
	f, err := os.Open(exe)
	if err != nil {
		return nil, fatal(exe, "open", err)
	}
	return f, nil
}
