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

// Package config provides basic infrastructure to set configuration settings
// for the loader. Since stderr and the command line belong to the loaded
// program, settings are read from the APE_LOADER_FLAGS environment variable,
// which holds flags in the same syntax as a command line.
package config

import (
	"fmt"

	"apeloader.dev/ape/pkg/log"
)

// Config holds configuration that is not part of the program invocation.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty. The
	// pattern may contain %PID% and %TIMESTAMP%.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug: text or json.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Path is the program search list used when PATH is unset.
	Path string `flag:"path"`

	// StackSize is the size of the program's stack in bytes. Zero means
	// the stack resource limit.
	StackSize uint64 `flag:"stack-size"`
}

func (c *Config) validate() error {
	switch c.DebugLogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.DebugLogFormat)
	}
	if c.StackSize != 0 && c.StackSize < 4096 {
		return fmt.Errorf("stack size %d is smaller than a page", c.StackSize)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("\t%s", f)
	}
	log.Debugf("\tstack-size=%d", c.StackSize)
}
