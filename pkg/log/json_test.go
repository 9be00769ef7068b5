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

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{in: `"warning"`, want: Warning},
		{in: `"info"`, want: Info},
		{in: `"debug"`, want: Debug},
		{in: `0`, want: Warning},
		{in: `1`, want: Info},
		{in: `2`, want: Debug},
	} {
		t.Run(tc.in, func(t *testing.T) {
			var lv Level
			if err := json.Unmarshal([]byte(tc.in), &lv); err != nil {
				t.Fatalf("json.Unmarshal(%s): %v", tc.in, err)
			}
			if lv != tc.want {
				t.Errorf("json.Unmarshal(%s) = %v, want %v", tc.in, lv, tc.want)
			}
			b, err := json.Marshal(lv)
			if err != nil {
				t.Fatalf("json.Marshal(%v): %v", lv, err)
			}
			if !strings.HasPrefix(tc.in, `"`) {
				return
			}
			if string(b) != tc.in {
				t.Errorf("json.Marshal(%v) = %s, want %s", lv, b, tc.in)
			}
		})
	}
}

func TestLevelJSONUnknown(t *testing.T) {
	var lv Level
	if err := json.Unmarshal([]byte(`"trace"`), &lv); err == nil {
		t.Errorf("json.Unmarshal(trace) = %v, want error", lv)
	}
	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("json.Marshal(Level(7)) succeeded")
	}
}

func TestJSONEmitterRecords(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{&Writer{Next: &buf}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)
	e.Emit(0, Debug, ts, "skipping header at offset %d", 12)
	e.Emit(0, Warning, ts, "ape error: %s", "prog: too small")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	var got []jsonLog
	for _, l := range lines {
		var j jsonLog
		if err := json.Unmarshal([]byte(l), &j); err != nil {
			t.Fatalf("json.Unmarshal(%q): %v", l, err)
		}
		if !strings.HasPrefix(j.Caller, "json_test.go:") {
			t.Errorf("Caller = %q, want json_test.go:LINE", j.Caller)
		}
		j.Caller, j.PID = "", 0
		got = append(got, j)
	}
	want := []jsonLog{
		{Msg: "skipping header at offset 12", Level: Debug, Time: ts},
		{Msg: "ape error: prog: too small", Level: Warning, Time: ts},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}
