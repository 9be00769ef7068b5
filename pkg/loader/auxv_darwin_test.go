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
	"testing"

	"golang.org/x/sys/unix"
)

func TestQueryHostInfoSecure(t *testing.T) {
	h := QueryHostInfo(CurrentState())
	want := unix.Issetugid() || h.UID != h.EUID || h.GID != h.EGID
	if h.Secure != want {
		t.Errorf("Secure = %t, want %t (issetugid %t)", h.Secure, want, unix.Issetugid())
	}
	if h.HWCap != appleHWCap || h.HWCap2 != appleHWCap2 {
		t.Errorf("HWCap = %#x/%#x, want %#x/%#x", h.HWCap, h.HWCap2, appleHWCap, appleHWCap2)
	}
}
