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

// Package cli is the main entrypoint for the loader.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"apeloader.dev/ape/ape/config"
	"apeloader.dev/ape/pkg/loader"
	"apeloader.dev/ape/pkg/loader/pathsearch"
	"apeloader.dev/ape/pkg/log"
	"apeloader.dev/ape/pkg/rand"
	"apeloader.dev/ape/pkg/syslib"
)

const usage = `usage: ape   PROG [ARGV1,ARGV2,...]
       ape - PROG [ARGV0,ARGV1,...]
actually portable executable loader
`

const delimString = "**************** ape ****************"

// Exit statuses.
const (
	exitUsage = 1
	exitFatal = 127
)

// Main is the main entrypoint.
func Main() {
	state := loader.CurrentState()

	conf, err := config.NewFromEnv(state.Env)
	if err != nil {
		Fatal(loader.NewError("ape", err.Error(), nil))
	}
	if err := setupLogging(conf); err != nil {
		Fatal(loader.NewError("ape", err.Error(), nil))
	}

	inv, err := loader.ParseArgs(state.Args)
	if errors.Is(err, loader.ErrUsage) {
		io.WriteString(os.Stderr, usage)
		os.Exit(exitUsage)
	}

	if err := run(conf, state, inv); err != nil {
		Fatal(err)
	}
	panic("unreachable")
}

// Fatal prints err to stderr, logs it and terminates the process with the
// fatal exit status.
func Fatal(err error) {
	var lerr *loader.Error
	if !errors.As(err, &lerr) {
		lerr = loader.NewError("ape", err.Error(), err)
	}
	msg := lerr.Error()
	log.Warningf("%s", msg)
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(exitFatal)
}

// setupLogging configures the global log target from conf. Nothing is
// logged unless a debug log is configured or stderr is requested.
func setupLogging(conf *config.Config) error {
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var emitters log.MultiEmitter
	if conf.DebugLog != "" {
		opts := log.PatternOpts{PID: os.Getpid(), Timestamp: time.Now()}
		f, err := log.OpenFile(conf.DebugLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, opts)
		if err != nil {
			return fmt.Errorf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, f))
	}
	if conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, os.Stderr))
	}

	switch len(emitters) {
	case 0:
		return nil
	case 1:
		// Skip MultiEmitter when it's not needed.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	log.Infof(delimString)
	log.Infof("%s, %s, %s, PID %d, UID %d, GID %d", runtime.Version(), runtime.GOARCH, runtime.GOOS, os.Getpid(), os.Getuid(), os.Getgid())
	log.Debugf("Page size: 0x%x (%d bytes)", os.Getpagesize(), os.Getpagesize())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)
	return nil
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{&log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{&log.Writer{Next: logFile}}
	}
	panic(fmt.Sprintf("invalid log format %q, must be 'text' or 'json'", format))
}

// resolve finds the program named by inv and fixes up its argv[0].
func resolve(conf *config.Config, env []string, inv *loader.Invocation) (string, error) {
	exe, err := pathsearch.Resolve(inv.Prog, pathsearch.GetPath(env, conf.Path))
	if err != nil {
		return "", loader.NewError(inv.Prog, err.Error(), nil)
	}
	inv.ResolveArgv0(exe)
	log.Debugf("resolved %q to %q, argv %q", inv.Prog, exe, inv.Argv)
	return exe, nil
}

// run loads the program named by inv and transfers control to it. It only
// returns on error.
func run(conf *config.Config, state loader.InitialState, inv loader.Invocation) error {
	exe, err := resolve(conf, state.Env, &inv)
	if err != nil {
		return err
	}

	f, err := loader.Open(exe)
	if err != nil {
		return err
	}
	head, err := loader.ReadHead(exe, f)
	if err != nil {
		return err
	}
	img, err := loader.SelectImage(exe, head, f)
	if err != nil {
		return err
	}
	if err := loader.Validate(img); err != nil {
		return err
	}
	layout, err := loader.Build(loader.HostMemory{}, img, int(f.Fd()))
	if err != nil {
		return err
	}
	log.Debugf("%s: loaded at base %v, entry %v", exe, layout.Base, layout.Entry)

	args := loader.StackArgs{
		Argv:   inv.Argv,
		Envv:   state.Env,
		Execfn: state.Execfn(),
		Image:  img,
		Layout: layout,
		Host:   loader.QueryHostInfo(state),
	}
	if _, err := rand.Read(args.Random[:]); err != nil {
		return loader.NewError("ape", "getentropy", err)
	}

	ar, err := loader.HostMemory{}.MapStack(loader.StackSize(conf.StackSize))
	if err != nil {
		return loader.NewError("ape", "stack mmap", err)
	}
	sl, err := loader.BuildStack(loader.HostStack(ar), args)
	if err != nil {
		return loader.NewError(exe, "stack", err)
	}
	log.Debugf("stack %v, sp %v, argc %d", ar, sl.SP, len(args.Argv))

	table := syslib.New()
	return loader.Exec(f, layout.Entry, sl.SP, table.Addr())
}
