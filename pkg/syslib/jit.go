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

import "fmt"

// WriteProtector toggles write protection of JIT memory for the calling
// thread. The entry takes a single int: non-zero protects, zero unprotects.
type WriteProtector interface {
	// Name identifies the implementation.
	Name() string

	// Entry returns the address of the C callable toggle.
	Entry() uintptr
}

// libcWriteProtector uses the host's own primitive.
type libcWriteProtector struct {
	entry uintptr
}

func (w libcWriteProtector) Name() string   { return "libc" }
func (w libcWriteProtector) Entry() uintptr { return w.entry }

// aprrWriteProtector writes the APRR permission register directly. Some
// host releases toggle the register lazily and a thread that writes JIT
// memory right after unprotecting it faults; this implementation writes the
// register and polls until it reads back the requested value.
type aprrWriteProtector struct {
	variant byte
	entry   uintptr
}

func (w aprrWriteProtector) Name() string   { return fmt.Sprintf("aprr%d", w.variant) }
func (w aprrWriteProtector) Entry() uintptr { return w.entry }

// writeProtectors are the toggles a host provides. Zero means unavailable.
type writeProtectors struct {
	libc  uintptr
	aprr1 uintptr
	aprr3 uintptr
}

// selectWriteProtector picks the toggle for the commpage APRR support byte.
func selectWriteProtector(support byte, w writeProtectors) WriteProtector {
	switch {
	case support == 1 && w.aprr1 != 0:
		return aprrWriteProtector{variant: 1, entry: w.aprr1}
	case support == 3 && w.aprr3 != 0:
		return aprrWriteProtector{variant: 3, entry: w.aprr3}
	default:
		return libcWriteProtector{entry: w.libc}
	}
}

// SelectWriteProtector returns the WriteProtector for the commpage APRR
// support byte of this host. It does not read the commpage itself.
func SelectWriteProtector(support byte) WriteProtector {
	return selectWriteProtector(support, hostWriteProtectors)
}
