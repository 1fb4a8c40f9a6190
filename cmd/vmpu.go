// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"golang.org/x/term"

	"github.com/usbarmory/vmpu/svc"
	"github.com/usbarmory/vmpu/vmpu"
)

// maximum namespace length shown in box listings
const namespaceLength = 64

var (
	// VMPU is the inspected vMPU instance.
	VMPU *vmpu.VMPU
	// Table is the custom SVC handler table.
	Table *svc.Table
)

func init() {
	Add(Cmd{
		Name: "boxes",
		Help: "show boxes",
		Fn:   boxesCmd,
	})

	Add(Cmd{
		Name: "acl",
		Help: "show global ACLs",
		Fn:   aclCmd,
	})

	Add(Cmd{
		Name:    "acl ",
		Args:    1,
		Pattern: regexp.MustCompile(`^acl (\d+)$`),
		Syntax:  "<box>",
		Help:    "show box ACLs",
		Fn:      aclCmd,
	})

	Add(Cmd{
		Name:    "addr",
		Args:    1,
		Pattern: regexp.MustCompile(`^addr ([[:xdigit:]]+)$`),
		Syntax:  "<hex address>",
		Help:    "classify address and find matching ACLs",
		Fn:      addrCmd,
	})

	Add(Cmd{
		Name:    "region",
		Args:    2,
		Pattern: regexp.MustCompile(`^region ([[:xdigit:]]+) ([[:xdigit:]]+)$`),
		Syntax:  "<hex address> <hex size>",
		Help:    "validate and round up MPU region",
		Fn:      regionCmd,
	})

	Add(Cmd{
		Name: "svc",
		Help: "show custom SVC handlers",
		Fn:   svcCmd,
	})
}

func initialized() error {
	if VMPU == nil {
		return errors.New("vMPU not initialized")
	}

	return nil
}

func parseHex(s string, what string) (uint32, error) {
	val, err := strconv.ParseUint(s, 16, 32)

	if err != nil {
		return 0, fmt.Errorf("invalid %s, %v", what, err)
	}

	return uint32(val), nil
}

// Status returns the box listing, or the initialization error.
func Status() string {
	res, err := boxesCmd(nil, nil)

	if err != nil {
		return err.Error()
	}

	return res
}

func boxesCmd(_ *term.Terminal, _ []string) (res string, err error) {
	var buf bytes.Buffer

	if err = initialized(); err != nil {
		return
	}

	fmt.Fprintf(&buf, "state:%s count:%d active:%d\n", VMPU.Boxes.State(), VMPU.Boxes.Count(), VMPU.Active())

	if !VMPU.Boxes.Counted() {
		return buf.String(), nil
	}

	for box := 0; box < int(VMPU.Boxes.Count()); box++ {
		name, _ := VMPU.Boxes.Namespace(box, namespaceLength)

		if name == "" {
			name = "-"
		}

		fmt.Fprintf(&buf, "%2d %-16s acls:%-3d", box, name, len(VMPU.ACLs(box)))

		if stack, ok := VMPU.StackOf(box); ok {
			fmt.Fprintf(&buf, " stack:%#.8x-%#.8x sp:%#.8x", stack.Base, stack.Base+stack.Size, stack.SP)
		}

		buf.WriteByte('\n')
	}

	return buf.String(), nil
}

func aclCmd(_ *term.Terminal, arg []string) (res string, err error) {
	var buf bytes.Buffer
	var acls []vmpu.ACL

	if err = initialized(); err != nil {
		return
	}

	if len(arg) == 0 {
		acls = VMPU.Globals()
	} else {
		box, err := strconv.Atoi(arg[0])

		if err != nil || !VMPU.Boxes.Valid(box) {
			return "", fmt.Errorf("%w (%s)", vmpu.ErrInvalidBox, arg[0])
		}

		acls = VMPU.ACLs(box)
	}

	for i, acl := range acls {
		fmt.Fprintf(&buf, "%3d %s\n", i, acl)
	}

	return buf.String(), nil
}

func addrCmd(_ *term.Terminal, arg []string) (res string, err error) {
	var buf bytes.Buffer

	if err = initialized(); err != nil {
		return
	}

	addr, err := parseHex(arg[0], "address")

	if err != nil {
		return
	}

	l := VMPU.Layout

	fmt.Fprintf(&buf, "%#.8x flash:%v public flash:%v sram:%v public sram:%v\n",
		addr, l.Flash(addr), l.PublicFlash(addr), l.SRAM(addr), l.PublicSRAM(addr))

	if phys, bit, ok := vmpu.ResolveAlias(addr); ok {
		fmt.Fprintf(&buf, "bit-band alias of %#.8x bit %d\n", phys, bit)
	}

	count := 1

	if VMPU.Boxes.Counted() {
		count = int(VMPU.Boxes.Count())
	}

	for box := 0; box < count; box++ {
		if acl, ok := VMPU.FindACL(box, addr, 1); ok {
			fmt.Fprintf(&buf, "box %d: %s\n", box, acl)
		}
	}

	return buf.String(), nil
}

func regionCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if err = initialized(); err != nil {
		return
	}

	addr, err := parseHex(arg[0], "address")

	if err != nil {
		return
	}

	size, err := parseHex(arg[1], "size")

	if err != nil {
		return
	}

	rounded, ok := VMPU.RoundUpRegion(addr, size)

	if !ok {
		return "", fmt.Errorf("%w, %#x at %#.8x cannot be rounded up", vmpu.ErrInvalidSize, size, addr)
	}

	return fmt.Sprintf("size:%#x valid:%v rounded:%#.8x-%#.8x", size, VMPU.IsRegionSizeValid(size), rounded, uint64(rounded)+uint64(size)), nil
}

func svcCmd(_ *term.Terminal, _ []string) (res string, err error) {
	var buf bytes.Buffer

	if Table == nil {
		return "", errors.New("SVC table not initialized")
	}

	for i, e := range Table.Entries() {
		fmt.Fprintf(&buf, "%2d svc #%#.2x %s\n", i, i, e.Name)
	}

	return buf.String(), nil
}
