// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cmd implements the security monitor console commands.
package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"text/tabwriter"

	"golang.org/x/term"
)

// CmdFn represents a command handler.
type CmdFn func(term *term.Terminal, arg []string) (res string, err error)

// Cmd represents a console command.
type Cmd struct {
	Name    string
	Args    int
	Pattern *regexp.Regexp
	Syntax  string
	Help    string
	Fn      CmdFn
}

var cmds = make(map[string]*Cmd)

// Add registers a console command.
func Add(cmd Cmd) {
	cmds[cmd.Name] = &cmd
}

// Help returns the list of available commands.
func Help(term *term.Terminal) string {
	var help bytes.Buffer
	var names []string

	t := tabwriter.NewWriter(&help, 16, 8, 0, '\t', tabwriter.TabIndent)

	for name := range cmds {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		_, _ = fmt.Fprintf(t, "%s\t%s\t # %s\n", cmds[name].Name, cmds[name].Syntax, cmds[name].Help)
	}

	_ = t.Flush()

	if term == nil {
		return help.String()
	}

	return string(term.Escape.Cyan) + help.String() + string(term.Escape.Reset)
}

func match(line string) (cmd *Cmd, arg []string) {
	for _, c := range cmds {
		if c.Pattern == nil {
			if c.Name == line {
				return c, nil
			}

			continue
		}

		if m := c.Pattern.FindStringSubmatch(line); len(m) > 0 && len(m)-1 == c.Args {
			return c, m[1:]
		}
	}

	return
}

// Handle executes a console command line, the command output is written to
// the terminal.
func Handle(term *term.Terminal, line string) (err error) {
	var res string

	cmd, arg := match(line)

	if cmd == nil {
		return errors.New("unknown command, type `help`")
	}

	if res, err = cmd.Fn(term, arg); err != nil {
		return
	}

	if term != nil && len(res) > 0 {
		fmt.Fprintln(term, res)
	}

	return
}
