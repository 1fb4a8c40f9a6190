// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package sandbox

import (
	"fmt"
	"log"

	"github.com/usbarmory/vmpu/svc"
	"github.com/usbarmory/vmpu/util"
)

// SVC represents the receiver for box supervisor calls over RPC, requests
// are staged as Thumb SVC traps on the box vMPU stack and decoded by the
// vMPU dispatcher with the box privileges.
type SVC struct {
	Box int
}

// Call performs a supervisor call and returns the caller r0.
func (s *SVC) Call(req util.SVCRequest, res *uint32) (err error) {
	if active := VMPU.Active(); active != s.Box {
		return fmt.Errorf("box %d is not active (%d)", s.Box, active)
	}

	stack, _ := VMPU.StackOf(s.Box)
	pc := stack.BSS

	if err = VMPU.Bus.Write16(pc, 0xdf00|uint16(req.Imm), false); err != nil {
		return
	}

	sp, err := stage(s.Box, [8]uint32{req.Args[0], req.Args[1], req.Args[2], req.Args[3], 0, 0, pc + 2, xPSR_T})

	if err != nil {
		return
	}

	trap := &svc.Trap{
		ExcReturn: svc.ExcReturnThreadPSP,
		PSP:       sp,
	}

	c, err := Dispatcher.Dispatch(trap)

	if err != nil {
		return
	}

	if c.Ignored {
		log.Printf("SM box %d invalid SVC %#.2x ignored", s.Box, req.Imm)
	}

	*res, err = VMPU.Bus.Read32(sp+frameR0, false)

	return
}
