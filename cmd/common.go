// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"runtime/debug"
	"runtime/pprof"
	"strconv"

	"golang.org/x/term"

	"github.com/usbarmory/vmpu/util"
)

func init() {
	Add(Cmd{
		Name: "help",
		Help: "this help",
		Fn:   helpCmd,
	})

	Add(Cmd{
		Name:    "exit, quit",
		Args:    1,
		Pattern: regexp.MustCompile(`^(exit|quit)$`),
		Help:    "close session",
		Fn:      exitCmd,
	})

	Add(Cmd{
		Name:    "stack",
		Args:    1,
		Pattern: regexp.MustCompile(`^stack ?(all)?$`),
		Syntax:  "(all)?",
		Help:    "Security Monitor goroutine stack trace(s)",
		Fn:      stackCmd,
	})

	Add(Cmd{
		Name:    "debug",
		Args:    1,
		Pattern: regexp.MustCompile(`^debug (on|off)$`),
		Syntax:  "<on|off>",
		Help:    "toggle vMPU configuration and fault logging",
		Fn:      debugCmd,
	})

	Add(Cmd{
		Name:    "sym",
		Args:    2,
		Pattern: regexp.MustCompile(`^sym (\d+) (\S+)$`),
		Syntax:  "<box> <symbol>",
		Help:    "look up a box symbol address",
		Fn:      symCmd,
	})

	Add(Cmd{
		Name:    "pc",
		Args:    2,
		Pattern: regexp.MustCompile(`^pc (\d+) ([[:xdigit:]]+)$`),
		Syntax:  "<box> <hex address>",
		Help:    "resolve a box program counter to its source line",
		Fn:      pcCmd,
	})
}

func helpCmd(term *term.Terminal, _ []string) (string, error) {
	return Help(term), nil
}

func exitCmd(_ *term.Terminal, _ []string) (string, error) {
	return "logout", io.EOF
}

func stackCmd(_ *term.Terminal, arg []string) (string, error) {
	if len(arg) == 0 || arg[0] != "all" {
		return string(debug.Stack()), nil
	}

	buf := new(bytes.Buffer)
	pprof.Lookup("goroutine").WriteTo(buf, 1)

	return buf.String(), nil
}

func debugCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if err = initialized(); err != nil {
		return
	}

	VMPU.Debug = arg[0] == "on"

	return fmt.Sprintf("vMPU debug:%v", VMPU.Debug), nil
}

func symCmd(_ *term.Terminal, arg []string) (res string, err error) {
	box, _ := strconv.Atoi(arg[0])
	sym, err := util.LookupSym(box, arg[1])

	if err != nil {
		return
	}

	return fmt.Sprintf("box %d %s %#.8x size:%d", box, sym.Name, sym.Value, sym.Size), nil
}

func pcCmd(_ *term.Terminal, arg []string) (res string, err error) {
	box, _ := strconv.Atoi(arg[0])
	pc, err := parseHex(arg[1], "address")

	if err != nil {
		return
	}

	return util.PCToLine(box, uint64(pc))
}
