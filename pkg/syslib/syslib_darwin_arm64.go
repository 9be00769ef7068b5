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

import (
	"unsafe"
)

// Trampoline addresses, filled in by assembly.
var (
	forkAddr            uintptr
	pipeAddr            uintptr
	clockGettimeAddr    uintptr
	nanosleepAddr       uintptr
	mmapAddr            uintptr
	jitSupportedAddr    uintptr
	jitWriteProtectAddr uintptr
	jitAPRR1Addr        uintptr
	jitAPRR3Addr        uintptr
	icacheAddr          uintptr
	threadCreateAddr    uintptr
	threadExitAddr      uintptr
	threadKillAddr      uintptr
	threadSigmaskAddr   uintptr
	threadSetNameAddr   uintptr
	semCreateAddr       uintptr
	semSignalAddr       uintptr
	semWaitAddr         uintptr
	walltimeAddr        uintptr
)

// hostTable points into libSystem. XNU has no stable system call ABI, so
// every primitive the image needs goes through the library.
func hostTable() Table {
	return Table{
		Fork:                     forkAddr,
		Pipe:                     pipeAddr,
		ClockGettime:             clockGettimeAddr,
		Nanosleep:                nanosleepAddr,
		Mmap:                     mmapAddr,
		JITWriteProtectSupported: jitSupportedAddr,
		ICacheInvalidate:         icacheAddr,
		ThreadCreate:             threadCreateAddr,
		ThreadExit:               threadExitAddr,
		ThreadKill:               threadKillAddr,
		ThreadSigmask:            threadSigmaskAddr,
		ThreadSetName:            threadSetNameAddr,
		SemaphoreCreate:          semCreateAddr,
		SemaphoreSignal:          semSignalAddr,
		SemaphoreWait:            semWaitAddr,
		WallTime:                 walltimeAddr,
	}
}

var hostWriteProtectors = writeProtectors{
	libc:  jitWriteProtectAddr,
	aprr1: jitAPRR1Addr,
	aprr3: jitAPRR3Addr,
}

// commPageAPRRSupport is the address of the commpage byte that reports how
// the APRR permission registers are exposed.
const commPageAPRRSupportAddr = 0x0000000FFFFFC000 + 0x10C

func commPageAPRRSupport() byte {
	return *(*byte)(unsafe.Pointer(uintptr(commPageAPRRSupportAddr)))
}

//go:cgo_import_dynamic libc_fork fork "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_pipe pipe "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_clock_gettime clock_gettime "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_nanosleep nanosleep "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_mmap mmap "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc___error __error "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_usleep usleep "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_write write "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc__exit _exit "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_pthread_jit_write_protect_supported_np pthread_jit_write_protect_supported_np "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_pthread_jit_write_protect_np pthread_jit_write_protect_np "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_sys_icache_invalidate sys_icache_invalidate "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_pthread_create pthread_create "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_pthread_exit pthread_exit "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_pthread_kill pthread_kill "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_pthread_sigmask pthread_sigmask "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_pthread_setname_np pthread_setname_np "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_dispatch_semaphore_create dispatch_semaphore_create "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_dispatch_semaphore_signal dispatch_semaphore_signal "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_dispatch_semaphore_wait dispatch_semaphore_wait "/usr/lib/libSystem.B.dylib"
//go:cgo_import_dynamic libc_dispatch_walltime dispatch_walltime "/usr/lib/libSystem.B.dylib"
