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

// Package syslib provides the callback table handed to a loaded image.
//
// Images are built to run on several operating systems and cannot assume a
// system call ABI on a host whose kernel does not load ELF. Instead the
// loader passes a table of C callable host primitives. The image reads it
// from x15 on arm64 and r15 on amd64 at its entry point.
//
// Every primitive that may fail returns a non-negative value on success and
// the negated errno on failure. A zero entry means the host has no shim for
// that primitive and the image must use its native system call.
package syslib

import (
	"sync"
	"unsafe"
)

const (
	// Magic identifies the table. It reads "slib" in memory.
	Magic = 's' | 'l'<<8 | 'i'<<16 | 'b'<<24

	// Version is the layout version of Table.
	Version = 1
)

// Table is the callback table. Its layout is ABI and must not change without
// bumping Version.
type Table struct {
	Magic   uint32
	Version uint32

	Fork         uintptr
	Pipe         uintptr
	ClockGettime uintptr
	Nanosleep    uintptr
	Mmap         uintptr

	JITWriteProtectSupported uintptr
	JITWriteProtect          uintptr
	ICacheInvalidate         uintptr

	ThreadCreate  uintptr
	ThreadExit    uintptr
	ThreadKill    uintptr
	ThreadSigmask uintptr
	ThreadSetName uintptr

	SemaphoreCreate uintptr
	SemaphoreSignal uintptr
	SemaphoreWait   uintptr
	WallTime        uintptr
}

var (
	tableOnce sync.Once

	// table is never freed: the image may keep using it for the rest of
	// the process's life.
	table Table
)

// New returns the process's callback table, filling it on first use.
func New() *Table {
	tableOnce.Do(func() {
		table = hostTable()
		table.Magic = Magic
		table.Version = Version
		wp := SelectWriteProtector(commPageAPRRSupport())
		table.JITWriteProtect = wp.Entry()
	})
	return &table
}

// Addr returns the address handed to the image.
func (t *Table) Addr() uintptr {
	return uintptr(unsafe.Pointer(t))
}

// Entry is a named table slot.
type Entry struct {
	Name string
	Addr uintptr
}

// Entries returns the function slots of t in layout order.
func (t *Table) Entries() []Entry {
	return []Entry{
		{"fork", t.Fork},
		{"pipe", t.Pipe},
		{"clock_gettime", t.ClockGettime},
		{"nanosleep", t.Nanosleep},
		{"mmap", t.Mmap},
		{"jit_write_protect_supported", t.JITWriteProtectSupported},
		{"jit_write_protect", t.JITWriteProtect},
		{"icache_invalidate", t.ICacheInvalidate},
		{"thread_create", t.ThreadCreate},
		{"thread_exit", t.ThreadExit},
		{"thread_kill", t.ThreadKill},
		{"thread_sigmask", t.ThreadSigmask},
		{"thread_setname", t.ThreadSetName},
		{"semaphore_create", t.SemaphoreCreate},
		{"semaphore_signal", t.SemaphoreSignal},
		{"semaphore_wait", t.SemaphoreWait},
		{"walltime", t.WallTime},
	}
}
