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

// blockSignals masks every signal on the calling thread. The runtime's
// handlers stay installed but can no longer run on the image's stack; the
// image unblocks what it handles.
func blockSignals() error {
	set := unix.Sigset_t{}
	for i := range set.Val {
		set.Val[i] = ^uint64(0)
	}
	return unix.PthreadSigmask(unix.SIG_SETMASK, &set, nil)
}
