// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package svc

import (
	"fmt"
	"log"

	"github.com/usbarmory/vmpu/unvic"
	"github.com/usbarmory/vmpu/vmpu"
)

// GatewayMagic identifies a secure gateway, laid out in code as:
//
//	svc  #SwitchIn
//	b.n  skip
//	.word GatewayMagic
//	.word box
//	.word function
//	skip:
const GatewayMagic = 0x42475753

// gateway offsets from the SVC instruction
const (
	gatewayMagic = 0x04
	gatewayBox   = 0x08
	gatewayFn    = 0x0c
)

// MaxDepth is the maximum nesting of box calls.
const MaxDepth = 16

type context struct {
	box       int
	sp        uint32
	regs      [8]uint32
	excReturn uint32
	isr       bool
}

// Contexts implements box context switching, the state of suspended boxes
// is kept in a monitor private stack.
type Contexts struct {
	VMPU *vmpu.VMPU
	// Interrupts is used to resolve the target of interrupt switches.
	Interrupts *unvic.Controller

	// ExitThunk is the return address of box functions entered through a
	// secure gateway, it must issue a SwitchOut supervisor call.
	ExitThunk uint32
	// ISRExitThunk is the return address of box interrupt service
	// routines, it must issue an IsrSwitchOut supervisor call.
	ISRExitThunk uint32

	Debug bool

	stack []context
}

// Depth returns the number of suspended contexts.
func (c *Contexts) Depth() int {
	return len(c.stack)
}

func (c *Contexts) suspended(box int) bool {
	for _, ctx := range c.stack {
		if ctx.box == box {
			return true
		}
	}

	return false
}

// enter prepares a box for execution, a frame is staged on its stack and
// the callee-saved registers are cleared so that no caller state leaks.
func (c *Contexts) enter(t *Trap, dst int, sp uint32, args [4]uint32, fn uint32, lr uint32, isr bool) (err error) {
	bus := c.VMPU.Bus
	src := c.VMPU.Active()

	if len(c.stack) >= MaxDepth {
		return fmt.Errorf("%w, maximum depth reached", ErrContext)
	}

	frame := map[uint32]uint32{
		frameR0:   args[0],
		frameR1:   args[1],
		frameR2:   args[2],
		frameR3:   args[3],
		frameR12:  0,
		frameLR:   lr,
		framePC:   fn &^ 1,
		frameXPSR: xPSR_T,
	}

	for off, val := range frame {
		if err = bus.Write32(sp+off, val, false); err != nil {
			return fmt.Errorf("frame write error, %v", err)
		}
	}

	if err = c.VMPU.Switch(src, dst); err != nil {
		return
	}

	c.stack = append(c.stack, context{
		box:       src,
		sp:        t.PSP,
		regs:      t.Regs,
		excReturn: t.ExcReturn,
		isr:       isr,
	})

	t.PSP = sp
	t.Regs = [8]uint32{}
	t.ExcReturn = ExcReturnThreadPSP

	if c.Debug {
		log.Printf("SM svc box %d -> %d fn:%#.8x sp:%#.8x depth:%d", src, dst, fn, sp, len(c.stack))
	}

	return
}

// leave restores the last suspended context.
func (c *Contexts) leave(t *Trap, isr bool) (ctx context, err error) {
	if len(c.stack) == 0 {
		return ctx, fmt.Errorf("%w, no suspended context", ErrContext)
	}

	ctx = c.stack[len(c.stack)-1]

	if ctx.isr != isr {
		return ctx, fmt.Errorf("%w, mismatched return", ErrContext)
	}

	src := c.VMPU.Active()

	if err = c.VMPU.Switch(src, ctx.box); err != nil {
		return
	}

	c.stack = c.stack[:len(c.stack)-1]

	t.PSP = ctx.sp
	t.Regs = ctx.regs
	t.ExcReturn = ctx.excReturn

	if c.Debug {
		log.Printf("SM svc box %d <- %d depth:%d", ctx.box, src, len(c.stack))
	}

	return
}

// entry returns the stack pointer of the exception frame for a box entry.
func (c *Contexts) entry(t *Trap, dst int) (sp uint32, err error) {
	if dst == c.VMPU.Active() {
		return t.PSP - frameSize, nil
	}

	if c.suspended(dst) {
		return 0, fmt.Errorf("%w, box %d is suspended", ErrContext, dst)
	}

	stack, ok := c.VMPU.StackOf(dst)

	if !ok {
		return 0, fmt.Errorf("%w, box %d has no stack", ErrContext, dst)
	}

	return stack.SP - frameSize, nil
}

// SwitchIn enters the box function referenced by the secure gateway
// following the SVC instruction, forwarding the caller r0-r3.
func (c *Contexts) SwitchIn(t *Trap, sp uint32, pc uint32, imm uint8) (err error) {
	var gw [3]uint32
	var args [4]uint32

	bus := c.VMPU.Bus
	end := pc + gatewayFn

	if !c.VMPU.Layout.Flash(pc) || !c.VMPU.Layout.Flash(end) {
		return fmt.Errorf("%w, %#.8x outside flash", ErrGateway, pc)
	}

	for i, off := range []uint32{gatewayMagic, gatewayBox, gatewayFn} {
		if gw[i], err = bus.Read32(pc+off, true); err != nil {
			return fmt.Errorf("%w, %v", ErrGateway, err)
		}
	}

	magic, box, fn := gw[0], int(gw[1]), gw[2]

	switch {
	case magic != GatewayMagic:
		return fmt.Errorf("%w, bad magic %#.8x at %#.8x", ErrGateway, magic, pc)
	case !c.VMPU.Boxes.Valid(box):
		return fmt.Errorf("%w, %v", ErrGateway, vmpu.ErrInvalidBox)
	case box == c.VMPU.Active():
		return fmt.Errorf("%w, box %d calling itself", ErrContext, box)
	case !c.VMPU.Layout.Flash(fn &^ 1):
		return fmt.Errorf("%w, function %#.8x outside flash", ErrGateway, fn)
	}

	for i := range args {
		if args[i], err = bus.Read32(sp+uint32(i)*4, true); err != nil {
			return fmt.Errorf("argument read error, %v", err)
		}
	}

	dstSP, err := c.entry(t, box)

	if err != nil {
		return
	}

	return c.enter(t, box, dstSP, args, fn, c.ExitThunk, false)
}

// SwitchOut returns from a box function to its caller, the callee r0 is
// the only value written back to the caller.
func (c *Contexts) SwitchOut(t *Trap, sp uint32, pc uint32, imm uint8) (err error) {
	res, err := c.VMPU.Bus.Read32(sp+frameR0, true)

	if err != nil {
		return fmt.Errorf("result read error, %v", err)
	}

	ctx, err := c.leave(t, false)

	if err != nil {
		return
	}

	return c.VMPU.Bus.Write32(ctx.sp+frameR0, res, false)
}

// IsrSwitchIn forwards the interrupt, held in the privileged caller r0, to
// the service routine registered by its owner box.
func (c *Contexts) IsrSwitchIn(t *Trap, sp uint32, pc uint32, imm uint8) (err error) {
	if c.Interrupts == nil {
		return fmt.Errorf("%w, no interrupt controller", ErrContext)
	}

	irq, err := c.VMPU.Bus.Read32(sp+frameR0, false)

	if err != nil {
		return
	}

	box, handler, ok := c.Interrupts.Deliver(irq)

	if !ok {
		return fmt.Errorf("%w, interrupt %d not enabled", ErrContext, irq)
	}

	dstSP, err := c.entry(t, box)

	if err != nil {
		return
	}

	return c.enter(t, box, dstSP, [4]uint32{irq}, handler, c.ISRExitThunk, true)
}

// IsrSwitchOut returns from a box interrupt service routine to the
// interrupted context.
func (c *Contexts) IsrSwitchOut(t *Trap, sp uint32, pc uint32, imm uint8) (err error) {
	_, err = c.leave(t, true)
	return
}
