// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package svc

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/vmpu/unvic"
	"github.com/usbarmory/vmpu/vmpu"
)

// MaxHandlers is the size of the 6-bit custom handler index space.
const MaxHandlers = 64

// Denied is returned to boxes for rejected custom calls.
const Denied = unvic.Denied

// DefaultTable handler indices
const (
	SVC_BITBAND = iota
	SVC_SET_ISR
	SVC_GET_ISR
	SVC_LET_ISR
	SVC_ENA_IRQ
	SVC_DIS_IRQ
	SVC_SET_ENA_ISR
	SVC_DIS_LET_ISR
	SVC_PUTC
)

// Handler represents a custom SVC handler, taking up to four arguments and
// returning a single word to the caller.
type Handler func(a0 uint32, a1 uint32, a2 uint32, a3 uint32) uint32

// Entry represents a custom SVC table entry.
type Entry struct {
	Name string
	Fn   Handler
}

// Table represents the custom SVC handler table, it is immutable once
// created.
type Table struct {
	entries []Entry
}

// NewTable returns a custom SVC handler table.
func NewTable(entries []Entry) (*Table, error) {
	if len(entries) > MaxHandlers {
		return nil, fmt.Errorf("%w (%d > %d)", ErrTableSize, len(entries), MaxHandlers)
	}

	for i, e := range entries {
		if e.Fn == nil {
			return nil, fmt.Errorf("missing handler for SVC %d (%s)", i, e.Name)
		}
	}

	return &Table{
		entries: append([]Entry(nil), entries...),
	}, nil
}

// Len returns the number of handlers.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the table entries.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

func (t *Table) call(index uint8, args [4]uint32) uint32 {
	return t.entries[index].Fn(args[0], args[1], args[2], args[3])
}

func result(err error) uint32 {
	if err != nil {
		return Denied
	}

	return 0
}

// Bitband returns a handler performing privileged writes on behalf of the
// active box, the target address (or aliased bit) must be writable
// according to the box ACLs.
func Bitband(v *vmpu.VMPU) Handler {
	return func(addr uint32, val uint32, _ uint32, _ uint32) uint32 {
		var err error

		if _, ok := v.CheckAccess(addr, 4, true); !ok {
			err = errors.New("no ACL")
		} else if _, _, alias := vmpu.ResolveAlias(addr); alias {
			err = v.WriteBit(addr, val)
		} else {
			err = v.Bus.Write32(addr, val, false)
		}

		if err != nil {
			log.Printf("SM svc box %d denied bitband access to %#.8x, %v", v.Active(), addr, err)
		}

		return result(err)
	}
}

// DefaultTable returns the custom handler table exposing bit-band writes,
// the virtual interrupt controller and character output.
func DefaultTable(v *vmpu.VMPU, u *unvic.Controller, putc func(box int, c byte)) (*Table, error) {
	return NewTable([]Entry{
		{"bitband", Bitband(v)},
		{"set_isr", func(irq, handler, _, _ uint32) uint32 {
			return result(u.SetISR(irq, handler))
		}},
		{"get_isr", func(irq, _, _, _ uint32) uint32 {
			handler, err := u.GetISR(irq)

			if err != nil {
				return Denied
			}

			return handler
		}},
		{"let_isr", func(irq, _, _, _ uint32) uint32 {
			return result(u.LetISR(irq))
		}},
		{"ena_irq", func(irq, _, _, _ uint32) uint32 {
			return result(u.EnableIRQ(irq))
		}},
		{"dis_irq", func(irq, _, _, _ uint32) uint32 {
			return result(u.DisableIRQ(irq))
		}},
		{"set_ena_isr", func(irq, handler, _, _ uint32) uint32 {
			return result(u.SetEnableISR(irq, handler))
		}},
		{"dis_let_isr", func(irq, _, _, _ uint32) uint32 {
			return result(u.DisableLetISR(irq))
		}},
		{"putc", func(c, _, _, _ uint32) uint32 {
			if putc != nil {
				putc(v.Active(), byte(c))
			}

			return 0
		}},
	})
}
