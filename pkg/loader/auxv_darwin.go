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

import "golang.org/x/sys/unix"

// Capability words of Apple Silicon in the Linux AArch64 encoding.
const (
	appleHWCap  = 0xffb3ffff
	appleHWCap2 = 0x181
)

func fillHostInfo(h *HostInfo, _ InitialState) {
	h.HWCap = appleHWCap
	h.HWCap2 = appleHWCap2
	// issetugid stays set after the ids are restored.
	h.Secure = h.Secure || unix.Issetugid()
}
