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

package config

import (
	"flag"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"apeloader.dev/ape/pkg/loader/pathsearch"
)

// EnvName is the environment variable that holds loader flags.
const EnvName = "APE_LOADER_FLAGS"

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "location for debug logs. The following variables are available: %PID%, %TIMESTAMP%.")
	flagSet.String("debug-log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr. The loaded program shares it.")

	// Flags that control program startup.
	flagSet.String("path", pathsearch.DefaultPath, "colon separated list of directories searched for programs when PATH is unset.")
	flagSet.Uint64("stack-size", 0, "size of the program's stack in bytes. 0 uses the stack resource limit.")
}

func get(fl *flag.Flag) any {
	return fl.Value.(flag.Getter).Get()
}

// NewFromFlags creates a new Config with values coming from flagSet.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		obj.Field(i).Set(reflect.ValueOf(get(fl)))
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// NewFromEnv creates a new Config from the flags in the EnvName variable of
// env. The last definition wins, as it does for the shell.
func NewFromEnv(env []string) (*Config, error) {
	var value string
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, EnvName+"="); ok {
			value = v
		}
	}

	flagSet := flag.NewFlagSet(EnvName, flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	RegisterFlags(flagSet)
	if err := flagSet.Parse(strings.Fields(value)); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", EnvName, err)
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("parsing %s: unexpected argument %q", EnvName, flagSet.Arg(0))
	}
	return NewFromFlags(flagSet)
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Flags with default values are omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Uint, reflect.Uint64:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic(fmt.Sprintf("unknown type %v", field.Kind()))
	}
}
