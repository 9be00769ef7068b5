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

package pathsearch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name string, mode os.FileMode) string {
	t.Helper()
	if err := os.WriteFile(name, []byte("#!/bin/sh\n"), mode); err != nil {
		t.Fatalf("WriteFile(%q): %v", name, err)
	}
	return name
}

func TestResolve(t *testing.T) {
	bin := t.TempDir()
	other := t.TempDir()
	tool := writeFile(t, filepath.Join(bin, "tool"), 0755)
	writeFile(t, filepath.Join(bin, "data"), 0644)
	hello := writeFile(t, filepath.Join(other, "hello.com"), 0755)
	writeFile(t, filepath.Join(other, "plain.exe.com"), 0755)

	for _, tc := range []struct {
		name    string
		prog    string
		path    string
		want    string
		wantErr error
	}{
		{
			name: "found in PATH",
			prog: "tool",
			path: other + ":" + bin,
			want: tool,
		},
		{
			name: "trailing slash in element",
			prog: "tool",
			path: bin + "/",
			want: tool,
		},
		{
			name:    "not executable",
			prog:    "data",
			path:    bin,
			wantErr: ErrNotFound,
		},
		{
			name: "com suffix fallback",
			prog: "hello",
			path: bin + ":" + other,
			want: hello,
		},
		{
			name:    "no fallback for exe suffix",
			prog:    "plain.exe",
			path:    other,
			wantErr: ErrNotFound,
		},
		{
			name: "slash checked directly",
			prog: tool,
			path: "",
			want: tool,
		},
		{
			name:    "slash not executable",
			prog:    filepath.Join(bin, "data"),
			path:    bin,
			wantErr: ErrNotFound,
		},
		{
			name: "slash com suffix fallback",
			prog: filepath.Join(other, "hello"),
			path: "/usr/bin",
			want: hello,
		},
		{
			name:    "slash no fallback for exe suffix",
			prog:    filepath.Join(other, "plain.exe"),
			path:    other,
			wantErr: ErrNotFound,
		},
		{
			name:    "empty name",
			prog:    "",
			path:    "/bin:" + bin,
			wantErr: ErrNotFound,
		},
		{
			name:    "missing",
			prog:    "nosuchprogram",
			path:    bin,
			wantErr: ErrNotFound,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.prog, tc.path)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Resolve(%q, %q) error = %v, want %v", tc.prog, tc.path, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tc.prog, tc.path, got, tc.want)
			}
		})
	}
}

func TestResolveEmptyElementIsCwd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "local"), 0755)
	t.Chdir(dir)

	got, err := Resolve("local", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local" {
		t.Errorf("Resolve = %q, want %q", got, "local")
	}
}

func TestResolveOverlongPath(t *testing.T) {
	long := "/" + strings.Repeat("d", MaxPathLen)
	if _, err := Resolve("sh", long); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve with overlong PATH element = %v, want %v", err, ErrNotFound)
	}
}

func TestGetPath(t *testing.T) {
	for name, tc := range map[string]struct {
		env  []string
		want string
	}{
		"unset": {
			env:  []string{"HOME=/root"},
			want: DefaultPath,
		},
		"set": {
			env:  []string{"PATH=/usr/bin:/bin"},
			want: "/usr/bin:/bin",
		},
		"empty": {
			env:  []string{"PATH="},
			want: "",
		},
		"first wins": {
			env:  []string{"PATH=/a", "PATH=/b"},
			want: "/a",
		},
	} {
		t.Run(name, func(t *testing.T) {
			if got := GetPath(tc.env, DefaultPath); got != tc.want {
				t.Errorf("GetPath(%q) = %q, want %q", tc.env, got, tc.want)
			}
		})
	}
}
