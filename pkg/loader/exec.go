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
	"runtime"
	"runtime/debug"

	"apeloader.dev/ape/pkg/hostarch"
	"apeloader.dev/ape/pkg/log"
)

// transfer sets the stack pointer to sp, clears the other general purpose
// registers except the one holding table, and jumps to entry. It does not
// return.
//
//go:noescape
func transfer(sp, entry, table uintptr)

// Exec hands the calling thread over to the image. f is closed first; the
// image must not inherit it. Exec only returns on error.
func Exec(f *os.File, entry, sp hostarch.Addr, table uintptr) error {
	if err := f.Close(); err != nil {
		return fatal(f.Name(), "close", err)
	}
	log.Debugf("transferring to %v with stack %v and callback table %#x", entry, sp, table)

	// The thread leaves the Go runtime for good. Keep the scheduler from
	// moving the goroutine and the collector from waiting on it.
	runtime.LockOSThread()
	debug.SetGCPercent(-1)
	if err := blockSignals(); err != nil {
		return fatal("ape", "sigprocmask", err)
	}
	transfer(uintptr(sp), uintptr(entry), table)
	panic("unreachable")
}
