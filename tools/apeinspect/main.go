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

// Binary apeinspect shows how the loader sees actually portable executables
// without running them.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"apeloader.dev/ape/pkg/log"
)

var debug = flag.Bool("debug", false, "enable debug logging to stderr.")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(Scan), "")
	subcommands.Register(new(Headers), "")
	subcommands.Register(new(Layout), "")

	flag.Parse()
	if *debug {
		log.SetTarget(log.GoogleEmitter{&log.Writer{Next: os.Stderr}})
		log.SetLevel(log.Debug)
	}
	os.Exit(int(subcommands.Execute(context.Background())))
}
