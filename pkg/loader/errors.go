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
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrNotLoadable is matched by errors that reject a candidate image without
// being fatal. The next candidate, if any, may still load.
var ErrNotLoadable = errors.New("image not loadable")

// RejectError explains why a candidate header was rejected.
type RejectError struct {
	Reason string
}

// Error implements error.Error.
func (e *RejectError) Error() string { return e.Reason }

// Is makes RejectError match ErrNotLoadable.
func (e *RejectError) Is(target error) bool { return target == ErrNotLoadable }

func reject(format string, v ...any) error {
	return &RejectError{Reason: fmt.Sprintf(format, v...)}
}

// Error is a fatal loader error. Nothing can be retried once one is returned.
type Error struct {
	// Subject is the program or path the operation was applied to.
	Subject string

	// Reason names the failing operation or the broken invariant.
	Reason string

	// Errno is the host error, if the failure came from a host primitive.
	Errno unix.Errno
}

// Error implements error.Error. The format is the one line diagnostic printed
// before the loader exits.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("ape error: ")
	b.WriteString(e.Subject)
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Errno != 0 {
		fmt.Fprintf(&b, " failed w/ errno %d", int(e.Errno))
	}
	return b.String()
}

// Unwrap returns the host error, if any.
func (e *Error) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}

// NewError returns a fatal *Error for subject. If err carries a host errno it
// is recorded.
func NewError(subject, reason string, err error) *Error {
	return fatal(subject, reason, err)
}

// fatal returns an *Error for subject. If err carries a host errno it is
// recorded.
func fatal(subject, reason string, err error) *Error {
	return &Error{Subject: subject, Reason: reason, Errno: errnoOf(err)}
}

func errnoOf(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	// Only host errors carry an errno.
	return 0
}
