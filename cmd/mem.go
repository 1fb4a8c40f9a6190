// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"

	"golang.org/x/term"
)

const maxBufferSize = 102400

func init() {
	Add(Cmd{
		Name:    "peek",
		Args:    2,
		Pattern: regexp.MustCompile(`^peek ([[:xdigit:]]+) (\d+)$`),
		Syntax:  "<hex offset> <size>",
		Help:    "memory display (use with caution)",
		Fn:      memReadCmd,
	})

	Add(Cmd{
		Name:    "poke",
		Args:    2,
		Pattern: regexp.MustCompile(`^poke ([[:xdigit:]]+) ([[:xdigit:]]+)$`),
		Syntax:  "<hex offset> <hex value>",
		Help:    "memory write   (use with caution)",
		Fn:      memWriteCmd,
	})
}

// memCopy reads size bytes from the vMPU bus with monitor privileges.
func memCopy(addr uint32, size int) (b []byte, err error) {
	b = make([]byte, size)

	for i := 0; i < size; i += 4 {
		val, err := VMPU.Bus.Read32(addr+uint32(i), false)

		if err != nil {
			return nil, fmt.Errorf("read error at %#.8x, %v", addr+uint32(i), err)
		}

		binary.LittleEndian.PutUint32(b[i:], val)
	}

	return
}

func memReadCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if err = initialized(); err != nil {
		return
	}

	addr, err := parseHex(arg[0], "address")

	if err != nil {
		return
	}

	size, err := strconv.ParseUint(arg[1], 10, 32)

	if err != nil {
		return "", fmt.Errorf("invalid size, %v", err)
	}

	if (addr%4) != 0 || (size%4) != 0 {
		return "", fmt.Errorf("only 32-bit aligned accesses are supported")
	}

	if size > maxBufferSize {
		return "", fmt.Errorf("size argument must be <= %d", maxBufferSize)
	}

	buf, err := memCopy(addr, int(size))

	if err != nil {
		return
	}

	return hex.Dump(buf), nil
}

func memWriteCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if err = initialized(); err != nil {
		return
	}

	addr, err := parseHex(arg[0], "address")

	if err != nil {
		return
	}

	val, err := parseHex(arg[1], "data")

	if err != nil {
		return
	}

	if (addr % 4) != 0 {
		return "", fmt.Errorf("only 32-bit aligned accesses are supported")
	}

	err = VMPU.Bus.Write32(addr, val, false)

	return
}
