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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"apeloader.dev/ape/pkg/log"
)

// collect runs fn over paths concurrently. Results are in the order of paths.
func collect[R any](ctx context.Context, paths []string, fn func(string) (R, error)) ([]R, error) {
	out := make([]R, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := fn(path)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// inspect is the part shared by all commands.
type inspect struct {
	format string
	out    io.Writer
}

func (i *inspect) setFlags(f *flag.FlagSet) {
	f.StringVar(&i.format, "format", formatText, "output format: text, json, yaml or toml.")
}

func (i *inspect) writer() io.Writer {
	if i.out == nil {
		return os.Stdout
	}
	return i.out
}

func execute[R texter](ctx context.Context, i *inspect, f *flag.FlagSet, fn func(string) (R, error)) subcommands.ExitStatus {
	if f.NArg() == 0 || !validFormat(i.format) {
		f.Usage()
		return subcommands.ExitUsageError
	}
	reports, err := collect(ctx, f.Args(), fn)
	if err != nil {
		log.Warningf("%v", err)
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := render(i.writer(), i.format, reports); err != nil {
		fmt.Fprintf(os.Stderr, "error writing output: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// Scan implements subcommands.Command for the "scan" command.
type Scan struct {
	inspect
}

// Name implements subcommands.Command.Name.
func (*Scan) Name() string {
	return "scan"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Scan) Synopsis() string {
	return "list the ELF headers embedded in files and whether they load"
}

// Usage implements subcommands.Command.Usage.
func (*Scan) Usage() string {
	return `scan [flags] <file>... - list the header candidates of each file in the order the loader tries them.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Scan) SetFlags(f *flag.FlagSet) {
	s.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (s *Scan) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	return execute(ctx, &s.inspect, f, scanFile)
}

// Headers implements subcommands.Command for the "headers" command.
type Headers struct {
	inspect
}

// Name implements subcommands.Command.Name.
func (*Headers) Name() string {
	return "headers"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Headers) Synopsis() string {
	return "print the ELF header the loader selects and its program headers"
}

// Usage implements subcommands.Command.Usage.
func (*Headers) Usage() string {
	return `headers [flags] <file>... - print the selected header and the normalized program header table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (h *Headers) SetFlags(f *flag.FlagSet) {
	h.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (h *Headers) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	return execute(ctx, &h.inspect, f, headersFile)
}

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	inspect
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the mappings the loader would create"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] <file>... - validate each image and print its mapping plan. Addresses of position independent images are relative to the load base.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	l.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	return execute(ctx, &l.inspect, f, layoutFile)
}
