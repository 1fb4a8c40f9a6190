// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package unvic implements an unprivileged virtual interrupt controller,
// boxes register and enable interrupt service routines through supervisor
// calls and can only act on interrupts they have been granted.
package unvic

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/vmpu/vmpu"
)

// NumIRQ is the number of virtualized interrupt lines.
const NumIRQ = 128

// Denied is returned to boxes for rejected requests.
const Denied = 0xffffffff

var (
	ErrInvalidIRQ = errors.New("invalid interrupt")
	ErrNotOwner   = errors.New("interrupt not owned by active box")
	ErrUnset      = errors.New("interrupt service routine not set")
)

type vector struct {
	box     int
	handler uint32
	enabled bool
}

// Controller represents the virtual interrupt controller.
type Controller struct {
	VMPU  *vmpu.VMPU
	Debug bool

	vectors [NumIRQ]vector
}

// NewController returns a controller with the initial handlers of all
// interrupt ACLs registered.
func NewController(v *vmpu.VMPU) *Controller {
	c := &Controller{
		VMPU: v,
	}

	for irq := range c.vectors {
		c.vectors[irq].box = -1

		if box, acl, ok := v.FindIRQ(uint32(irq)); ok {
			c.vectors[irq] = vector{box: box, handler: acl.Handler}
		}
	}

	return c
}

// check returns whether the active box can act on an interrupt, box 0 can
// claim interrupts not granted to any box.
func (c *Controller) check(irq uint32) (err error) {
	if irq >= NumIRQ {
		return fmt.Errorf("%w (%d)", ErrInvalidIRQ, irq)
	}

	active := c.VMPU.Active()
	owner, _, granted := c.VMPU.FindIRQ(irq)

	switch {
	case granted && owner == active:
	case !granted && active == 0:
	default:
		err = fmt.Errorf("%w (%d, box %d)", ErrNotOwner, irq, active)
	}

	if err != nil && c.Debug {
		log.Printf("SM unvic %v", err)
	}

	return
}

// SetISR registers an interrupt service routine.
func (c *Controller) SetISR(irq uint32, handler uint32) (err error) {
	if err = c.check(irq); err != nil {
		return
	}

	c.vectors[irq].box = c.VMPU.Active()
	c.vectors[irq].handler = handler

	return
}

// GetISR returns the registered interrupt service routine.
func (c *Controller) GetISR(irq uint32) (handler uint32, err error) {
	if err = c.check(irq); err != nil {
		return
	}

	return c.vectors[irq].handler, nil
}

// LetISR releases an interrupt service routine, the interrupt is disabled.
func (c *Controller) LetISR(irq uint32) (err error) {
	if err = c.check(irq); err != nil {
		return
	}

	c.vectors[irq] = vector{box: -1}

	return
}

// EnableIRQ enables an interrupt with a registered service routine.
func (c *Controller) EnableIRQ(irq uint32) (err error) {
	if err = c.check(irq); err != nil {
		return
	}

	if c.vectors[irq].handler == 0 {
		return fmt.Errorf("%w (%d)", ErrUnset, irq)
	}

	c.vectors[irq].enabled = true

	return
}

// DisableIRQ disables an interrupt.
func (c *Controller) DisableIRQ(irq uint32) (err error) {
	if err = c.check(irq); err != nil {
		return
	}

	c.vectors[irq].enabled = false

	return
}

// SetEnableISR registers an interrupt service routine and enables it.
func (c *Controller) SetEnableISR(irq uint32, handler uint32) (err error) {
	if err = c.SetISR(irq, handler); err != nil {
		return
	}

	return c.EnableIRQ(irq)
}

// DisableLetISR disables an interrupt and releases its service routine.
func (c *Controller) DisableLetISR(irq uint32) (err error) {
	if err = c.DisableIRQ(irq); err != nil {
		return
	}

	return c.LetISR(irq)
}

// Deliver returns the box and handler an asserted interrupt must be
// forwarded to, ok is false when the interrupt is disabled.
func (c *Controller) Deliver(irq uint32) (box int, handler uint32, ok bool) {
	if irq >= NumIRQ || !c.vectors[irq].enabled {
		return -1, 0, false
	}

	return c.vectors[irq].box, c.vectors[irq].handler, true
}
