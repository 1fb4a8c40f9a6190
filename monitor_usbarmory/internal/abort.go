// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package sandbox

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/GoTEE/monitor"

	"github.com/usbarmory/vmpu/vmpu"
)

// CPSR Thumb execution state
const CPSR_T = 5

// exception frame staged on the box vMPU stack
const (
	frameR0   = 0x00
	frameSize = 0x20

	// xPSR Thumb state
	xPSR_T = 0x01000000
)

// defined in abort_arm.s
func read_dfar() uint32

// stage writes a Cortex-M exception frame on the box vMPU stack, just below
// its bss, and returns the frame address.
func stage(box int, regs [8]uint32) (sp uint32, err error) {
	stack, ok := VMPU.StackOf(box)

	if !ok {
		return 0, fmt.Errorf("box %d has no stack", box)
	}

	sp = stack.BSS - frameSize

	for i, val := range regs {
		if err = VMPU.Bus.Write32(sp+uint32(i)*4, val, false); err != nil {
			return
		}
	}

	return
}

// recoverFault emulates the aborted Thumb load/store on behalf of the box.
func recoverFault(ctx *monitor.ExecCtx, box int) (f *vmpu.Fault, err error) {
	f = &vmpu.Fault{
		// PC must be adjusted when returning from data aborts
		// (Table 11-3, ARM® Cortex™ -A Series Programmer’s Guide).
		PC:     ctx.R15 - 8,
		Addr:   read_dfar(),
		Status: vmpu.StatusPrecise,
	}

	if bits.Get(&ctx.SPSR, CPSR_T, 1) == 0 {
		return f, fmt.Errorf("%w, ARM state", vmpu.ErrFaultNotHandled)
	}

	regs := [8]uint32{ctx.R0, ctx.R1, ctx.R2, ctx.R3, ctx.R12, ctx.R14, f.PC, ctx.SPSR | xPSR_T}

	if f.SP, err = stage(box, regs); err != nil {
		return
	}

	if err = VMPU.RecoverBusFault(f); err != nil {
		return
	}

	if ctx.R0, err = VMPU.Bus.Read32(f.SP+frameR0, false); err != nil {
		return
	}

	ctx.R15 = f.Resume

	return
}
