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

// Package pathsearch resolves program names the way a shell does before
// handing them to the loader.
package pathsearch

import (
	"errors"
	"strings"

	"golang.org/x/sys/unix"

	"apeloader.dev/ape/pkg/log"
)

const (
	// DefaultPath is searched when PATH is unset.
	DefaultPath = "/bin:/usr/local/bin:/usr/bin"

	// MaxPathLen is the longest candidate path that is tried.
	MaxPathLen = 1024
)

// ErrNotFound is returned when no executable file matches a name.
var ErrNotFound = errors.New("not found (maybe chmod +x)")

// suffixes are the extensions that are never appended to.
var suffixes = []string{".com", ".exe", ".com.dbg"}

// GetPath returns the value of PATH in env, or fallback if it is unset. A
// PATH that is set but empty names the current directory.
func GetPath(env []string, fallback string) string {
	const prefix = "PATH="
	path, found := fallback, false
	for _, e := range env {
		if v, ok := strings.CutPrefix(e, prefix); ok && !found {
			path, found = v, true
		}
	}
	return path
}

// executable returns true if the caller may execute name.
func executable(name string) bool {
	if len(name) >= MaxPathLen {
		return false
	}
	return unix.Access(name, unix.X_OK) == nil
}

// hasSuffix returns true if name ends in one of suffixes, ignoring case.
func hasSuffix(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// Resolve finds the executable file for name. Names containing a slash are
// used as is, or with ".com" appended. Other names are looked up in each element of the colon
// separated list path, where an empty element means the current directory.
// If the bare name is not found anywhere and has no executable suffix, the
// search is repeated with ".com" appended.
func Resolve(name, path string) (string, error) {
	if name == "" {
		return "", ErrNotFound
	}
	if strings.IndexByte(name, '/') >= 0 {
		if executable(name) {
			return name, nil
		}
		if !hasSuffix(name) && executable(name+".com") {
			return name + ".com", nil
		}
		return "", ErrNotFound
	}
	if exe, ok := search(name, path); ok {
		return exe, nil
	}
	if !hasSuffix(name) {
		if exe, ok := search(name+".com", path); ok {
			return exe, nil
		}
	}
	return "", ErrNotFound
}

func search(name, path string) (string, bool) {
	for _, dir := range strings.Split(path, ":") {
		candidate := name
		if dir != "" {
			candidate = strings.TrimSuffix(dir, "/") + "/" + name
		}
		if len(candidate) >= MaxPathLen {
			log.Debugf("Skipping overlong path %q", candidate)
			continue
		}
		if executable(candidate) {
			return candidate, true
		}
	}
	return "", false
}
