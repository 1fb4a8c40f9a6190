// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"fmt"
)

// Layout holds the physical memory bounds used for address classification,
// all End values are exclusive.
type Layout struct {
	// Physical flash
	FlashStart uint32
	FlashEnd   uint32

	// Start of the private box configuration table, public flash
	// includes physical flash up to this address.
	SecureStart uint32

	// Physical SRAM
	SRAMStart uint32
	SRAMEnd   uint32

	// Public SRAM, where box memories and the page heap are
	PublicSRAMStart uint32
	PublicSRAMEnd   uint32

	// Box stacks and bss
	BoxMemStart uint32
	BoxMemEnd   uint32
}

// within returns whether addr lies in [start, end - 4], unaligned accesses
// at a physical memory boundary have undefined behaviour and the last word
// is therefore the upper limit.
func within(addr uint32, start uint32, end uint32) bool {
	if end < 4 {
		return false
	}

	return addr >= start && addr <= end-4
}

// PublicFlash returns whether addr is in physical flash, before the private
// box configuration table.
func (l *Layout) PublicFlash(addr uint32) bool {
	return within(addr, l.FlashStart, l.SecureStart)
}

// Flash returns whether addr is in physical flash.
func (l *Layout) Flash(addr uint32) bool {
	return within(addr, l.FlashStart, l.FlashEnd)
}

// PublicSRAM returns whether addr is in public SRAM.
func (l *Layout) PublicSRAM(addr uint32) bool {
	return within(addr, l.PublicSRAMStart, l.PublicSRAMEnd)
}

// SRAM returns whether addr is in physical SRAM.
func (l *Layout) SRAM(addr uint32) bool {
	return within(addr, l.SRAMStart, l.SRAMEnd)
}

// Validate checks the layout for inverted or inconsistent ranges.
func (l *Layout) Validate() error {
	switch {
	case l.FlashStart >= l.FlashEnd:
		return fmt.Errorf("%w, flash %#.8x-%#.8x", ErrInvalidLayout, l.FlashStart, l.FlashEnd)
	case l.SecureStart < l.FlashStart || l.SecureStart > l.FlashEnd:
		return fmt.Errorf("%w, secure start %#.8x outside flash", ErrInvalidLayout, l.SecureStart)
	case l.SRAMStart >= l.SRAMEnd:
		return fmt.Errorf("%w, SRAM %#.8x-%#.8x", ErrInvalidLayout, l.SRAMStart, l.SRAMEnd)
	case l.PublicSRAMStart >= l.PublicSRAMEnd:
		return fmt.Errorf("%w, public SRAM %#.8x-%#.8x", ErrInvalidLayout, l.PublicSRAMStart, l.PublicSRAMEnd)
	case l.PublicSRAMStart < l.SRAMStart || l.PublicSRAMEnd > l.SRAMEnd:
		return fmt.Errorf("%w, public SRAM outside SRAM", ErrInvalidLayout)
	case l.BoxMemStart > l.BoxMemEnd:
		return fmt.Errorf("%w, box memory %#.8x-%#.8x", ErrInvalidLayout, l.BoxMemStart, l.BoxMemEnd)
	case l.BoxMemEnd != l.BoxMemStart && (l.BoxMemStart < l.PublicSRAMStart || l.BoxMemEnd > l.PublicSRAMEnd):
		return fmt.Errorf("%w, box memory outside public SRAM", ErrInvalidLayout)
	}

	return nil
}

// RegionSize returns the size of the [start, end) interval, or zero when
// the interval is empty or inverted.
func RegionSize(start uint32, end uint32) uint32 {
	if start >= end {
		return 0
	}

	return end - start
}
