// Copyright 2026 The Reptyr-Go Authors.
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

// Command reptyr is a thin CLI over package reptyr's Attach/Steal. Flag
// parsing and validation is intentionally minimal: argv in, one call into
// the core, result printed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/google/subcommands"

	"github.com/talismancer/reptyr-go"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(&attachCmd{}, "")
	subcommands.Register(&stealCmd{}, "")
	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

type attachCmd struct {
	forceStdio bool
}

func (*attachCmd) Name() string     { return "attach" }
func (*attachCmd) Synopsis() string { return "redirect a process's controlling terminal to a pty slave" }
func (*attachCmd) Usage() string {
	return "attach [-force-stdio] <pid> <pty-slave-path>\n"
}

func (c *attachCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.forceStdio, "force-stdio", false, "skip tty discovery, rewire fds 0,1,2 unconditionally (reptyr's -T)")
}

func (c *attachCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	pid, err := strconv.Atoi(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad pid %q: %v\n", f.Arg(0), err)
		return subcommands.ExitUsageError
	}

	if err := reptyr.Attach(ctx, pid, f.Arg(1), reptyr.AttachOptions{ForceStdio: c.forceStdio}); err != nil {
		fmt.Fprintf(os.Stderr, "attach: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type stealCmd struct{}

func (*stealCmd) Name() string             { return "steal" }
func (*stealCmd) Synopsis() string         { return "extract a process's pty master fd from its terminal emulator" }
func (*stealCmd) Usage() string             { return "steal <pid>\n" }
func (*stealCmd) SetFlags(f *flag.FlagSet) {}

func (c *stealCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	pid, err := strconv.Atoi(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad pid %q: %v\n", f.Arg(0), err)
		return subcommands.ExitUsageError
	}

	masterFd, err := reptyr.Steal(ctx, pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "steal: %v\n", err)
		return subcommands.ExitFailure
	}
	// The stolen fd is open only in this process and is closed when it
	// exits; the printed path names it as seen from this process. No pump
	// relays the terminal here.
	fmt.Printf("/proc/self/fd/%d\n", masterFd)
	return subcommands.ExitSuccess
}
