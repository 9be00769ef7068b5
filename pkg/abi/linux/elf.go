// Copyright 2018 The gVisor Authors.
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

package linux

// ELF64 record sizes.
const (
	// ELF64HeaderSize is the size of an Elf64_Ehdr.
	ELF64HeaderSize = 64

	// ELF64ProgHeaderSize is the size of an Elf64_Phdr.
	ELF64ProgHeaderSize = 56
)

// Auxiliary vector entry types placed on the initial stack by the loader.
// The values match the Linux ABI on every host.
const (
	// AT_NULL ends the vector. It has no value word.
	AT_NULL = 0

	// AT_PHDR is the address of the program header table in memory.
	AT_PHDR   = 3
	AT_PHENT  = 4
	AT_PHNUM  = 5
	AT_PAGESZ = 6

	// AT_ENTRY is the relocated entry point of the image.
	AT_ENTRY = 9

	AT_UID  = 11
	AT_EUID = 12
	AT_GID  = 13
	AT_EGID = 14

	// AT_HWCAP and AT_HWCAP2 are CPU capability bits.
	AT_HWCAP  = 16
	AT_HWCAP2 = 26

	// AT_SECURE is non-zero if the process runs with elevated privileges.
	AT_SECURE = 23

	// AT_RANDOM points to 16 random bytes.
	AT_RANDOM = 25

	// AT_EXECFN points to the name the program was executed as.
	AT_EXECFN = 31
)
