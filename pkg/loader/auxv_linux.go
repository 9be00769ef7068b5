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

import "apeloader.dev/ape/pkg/abi/linux"

// fillHostInfo passes the kernel's own capability words through.
func fillHostInfo(h *HostInfo, s InitialState) {
	h.HWCap, _ = s.auxval(linux.AT_HWCAP)
	h.HWCap2, _ = s.auxval(linux.AT_HWCAP2)
	if v, ok := s.auxval(linux.AT_SECURE); ok && v != 0 {
		h.Secure = true
	}
}
