// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package svc implements the supervisor call dispatcher, multiplexing SVC
// immediates to custom handlers or to box context switches.
//
// The 8-bit SVC immediate is split in a 2-bit class and a 6-bit index:
//
//	class  unprivileged     privileged
//	00     custom[index]    custom[index]
//	01     IsrSwitchOut     IsrSwitchIn
//	10     SwitchIn         -
//	11     SwitchOut        -
package svc

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/vmpu/vmpu"
)

// EXC_RETURN values and bits
const (
	ExcReturnHandlerMSP = 0xfffffff1
	ExcReturnThreadMSP  = 0xfffffff9
	ExcReturnThreadPSP  = 0xfffffffd

	EXC_RETURN_SPSEL = 2
)

// stacked exception frame
const (
	frameR0   = 0x00
	frameR1   = 0x04
	frameR2   = 0x08
	frameR3   = 0x0c
	frameR12  = 0x10
	frameLR   = 0x14
	framePC   = 0x18
	frameXPSR = 0x1c

	frameSize = 0x20

	// xPSR Thumb state
	xPSR_T = 0x01000000
)

var (
	ErrInvalidClass = errors.New("invalid SVC class")
	ErrTableSize    = errors.New("SVC table too large")
	ErrGateway      = errors.New("invalid secure gateway")
	ErrContext      = errors.New("invalid context switch")
)

// Target represents an SVC dispatch target.
type Target int

const (
	Custom Target = iota
	IsrSwitchOut
	SwitchIn
	SwitchOut
	IsrSwitchIn
)

func (t Target) String() string {
	switch t {
	case Custom:
		return "custom"
	case IsrSwitchOut:
		return "isr_switch_out"
	case SwitchIn:
		return "switch_in"
	case SwitchOut:
		return "switch_out"
	case IsrSwitchIn:
		return "isr_switch_in"
	default:
		return "?"
	}
}

// Trap represents the processor state at SVC exception entry.
type Trap struct {
	// EXC_RETURN (lr on exception entry)
	ExcReturn uint32
	// Process and Main stack pointers
	PSP uint32
	MSP uint32
	// Callee-saved registers (r4-r11), not part of the exception frame.
	Regs [8]uint32
}

// Unprivileged returns whether the trap has been taken from unprivileged
// (process stack) code.
func (t *Trap) Unprivileged() bool {
	return bits.Get(&t.ExcReturn, EXC_RETURN_SPSEL, 1) == 1
}

// SP returns the stack pointer holding the exception frame.
func (t *Trap) SP() uint32 {
	if t.Unprivileged() {
		return t.PSP
	}

	return t.MSP
}

// Call represents a decoded supervisor call.
type Call struct {
	Target Target
	// SVC immediate and custom table index
	Imm   uint8
	Index uint8
	// SVC instruction address
	PC uint32
	// Exception frame address
	SP uint32

	Unprivileged bool

	// Custom call arguments and result
	Args   [4]uint32
	Result uint32
	// Ignored is set for custom calls beyond the table bounds.
	Ignored bool
}

func (c *Call) String() string {
	return fmt.Sprintf("%s imm:%#.2x pc:%#.8x sp:%#.8x", c.Target, c.Imm, c.PC, c.SP)
}

// Switcher represents the context switch targets, each receiving the frame
// address, SVC instruction address and SVC immediate.
type Switcher interface {
	SwitchIn(t *Trap, sp uint32, pc uint32, imm uint8) error
	SwitchOut(t *Trap, sp uint32, pc uint32, imm uint8) error
	IsrSwitchIn(t *Trap, sp uint32, pc uint32, imm uint8) error
	IsrSwitchOut(t *Trap, sp uint32, pc uint32, imm uint8) error
}

// Dispatcher represents the SVC trap handler.
type Dispatcher struct {
	// Table holds the custom handlers.
	Table *Table
	// Bus is used to access the caller stack and code, with the caller
	// privilege.
	Bus vmpu.Bus
	// Switcher handles context switch classes.
	Switcher Switcher

	Debug bool
}

func target(class uint32, unprivileged bool) (Target, error) {
	switch {
	case class == 0:
		return Custom, nil
	case class == 1 && unprivileged:
		return IsrSwitchOut, nil
	case class == 1:
		return IsrSwitchIn, nil
	case class == 2 && unprivileged:
		return SwitchIn, nil
	case class == 3 && unprivileged:
		return SwitchOut, nil
	}

	return 0, fmt.Errorf("%w (%d)", ErrInvalidClass, class)
}

// Dispatch decodes and executes the supervisor call of a trap.
func (d *Dispatcher) Dispatch(t *Trap) (c *Call, err error) {
	c = &Call{
		SP:           t.SP(),
		Unprivileged: t.Unprivileged(),
	}

	pc, err := d.Bus.Read32(c.SP+framePC, c.Unprivileged)

	if err != nil {
		return nil, fmt.Errorf("stacked pc read error, %v", err)
	}

	c.PC = pc - 2

	if c.Imm, err = d.Bus.Read8(c.PC, c.Unprivileged); err != nil {
		return nil, fmt.Errorf("SVC immediate read error, %v", err)
	}

	imm := uint32(c.Imm)
	c.Index = uint8(bits.Get(&imm, 0, 0x3f))

	if c.Target, err = target(bits.Get(&imm, 6, 0b11), c.Unprivileged); err != nil {
		return
	}

	if d.Debug {
		log.Printf("SM svc %s", c)
	}

	if c.Target == Custom {
		return c, d.custom(t, c)
	}

	if d.Switcher == nil {
		return c, fmt.Errorf("%w, %s unsupported", ErrContext, c.Target)
	}

	switch c.Target {
	case SwitchIn:
		err = d.Switcher.SwitchIn(t, c.SP, c.PC, c.Imm)
	case SwitchOut:
		err = d.Switcher.SwitchOut(t, c.SP, c.PC, c.Imm)
	case IsrSwitchIn:
		err = d.Switcher.IsrSwitchIn(t, c.SP, c.PC, c.Imm)
	case IsrSwitchOut:
		err = d.Switcher.IsrSwitchOut(t, c.SP, c.PC, c.Imm)
	}

	return
}

// custom invokes a table handler, calls beyond the table are ignored and
// return to the caller without side effects.
func (d *Dispatcher) custom(t *Trap, c *Call) (err error) {
	if d.Table == nil || int(c.Index) > d.Table.Len()-1 {
		c.Ignored = true

		if d.Debug {
			log.Printf("SM svc ignored index %d", c.Index)
		}

		return
	}

	for i := range c.Args {
		if c.Args[i], err = d.Bus.Read32(c.SP+uint32(i)*4, c.Unprivileged); err != nil {
			return fmt.Errorf("argument read error, %v", err)
		}
	}

	c.Result = d.Table.call(c.Index, c.Args)

	// the handler might have changed the stack pointer
	return d.Bus.Write32(t.SP()+frameR0, c.Result, c.Unprivileged)
}
