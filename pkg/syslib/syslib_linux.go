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

package syslib

// Trampoline addresses, filled in by assembly.
var (
	forkAddr            uintptr
	pipeAddr            uintptr
	clockGettimeAddr    uintptr
	nanosleepAddr       uintptr
	mmapAddr            uintptr
	jitSupportedAddr    uintptr
	jitWriteProtectAddr uintptr
	threadExitAddr      uintptr
	threadKillAddr      uintptr
	threadSigmaskAddr   uintptr
	threadSetNameAddr   uintptr
)

// hostTable wraps raw system calls. Linux loads ELF natively, so this table
// exists to run the same images the same way on development hosts. Threads,
// semaphores and the wall clock are left to the image's native system calls.
func hostTable() Table {
	return Table{
		Fork:                     forkAddr,
		Pipe:                     pipeAddr,
		ClockGettime:             clockGettimeAddr,
		Nanosleep:                nanosleepAddr,
		Mmap:                     mmapAddr,
		JITWriteProtectSupported: jitSupportedAddr,
		ThreadExit:               threadExitAddr,
		ThreadKill:               threadKillAddr,
		ThreadSigmask:            threadSigmaskAddr,
		ThreadSetName:            threadSetNameAddr,
	}
}

var hostWriteProtectors = writeProtectors{libc: jitWriteProtectAddr}

// commPageAPRRSupport reports no APRR support: Linux has no commpage.
func commPageAPRRSupport() byte {
	return 0
}
