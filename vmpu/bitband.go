// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"
)

// PhysicalAddress is an address within a bit-band window.
type PhysicalAddress uint32

// AliasAddress is a word address within a bit-band alias region, each alias
// word maps to a single bit of a physical word.
type AliasAddress uint32

// BitIndex is the bit position (0-31) within a physical word.
type BitIndex uint8

// BitBand describes a bit-band window and its alias region.
type BitBand struct {
	// Start is the first physical address of the window.
	Start PhysicalAddress
	// AliasStart is the first alias address.
	AliasStart AliasAddress
	// AliasEnd is the last alias address (inclusive).
	AliasEnd AliasAddress
}

// ARMv7-M bit-banding regions.
var (
	SRAMBitBand = BitBand{
		Start:      0x20000000,
		AliasStart: 0x22000000,
		AliasEnd:   0x23ffffff,
	}

	PeriphBitBand = BitBand{
		Start:      0x40000000,
		AliasStart: 0x42000000,
		AliasEnd:   0x43ffffff,
	}
)

// Alias converts a physical word address and bit index to its alias.
func (b BitBand) Alias(addr PhysicalAddress, bit BitIndex) AliasAddress {
	return AliasAddress(uint32(b.AliasStart) + 32*uint32(addr-b.Start) + 4*uint32(bit))
}

// Address converts an alias to the physical word address it refers to.
func (b BitBand) Address(alias AliasAddress) PhysicalAddress {
	return PhysicalAddress((uint32(alias-b.AliasStart)>>5)&^0x3) + b.Start
}

// Bit converts an alias to the bit index it refers to.
func (b BitBand) Bit(alias AliasAddress) BitIndex {
	offset := uint32(alias - b.AliasStart)
	return BitIndex((offset - (uint32(b.Address(alias)-b.Start) << 5)) >> 2)
}

// IsAlias returns whether addr falls within the alias region.
func (b BitBand) IsAlias(addr uint32) bool {
	return addr >= uint32(b.AliasStart) && addr <= uint32(b.AliasEnd)
}

// Contains returns whether addr falls within the bit-band window.
func (b BitBand) Contains(addr uint32) bool {
	size := (uint32(b.AliasEnd-b.AliasStart) + 1) / 32
	return addr >= uint32(b.Start) && addr-uint32(b.Start) < size
}

// ResolveAlias translates a bit-band alias of either window to its physical
// word address and bit, ok is false when addr is not an alias.
func ResolveAlias(addr uint32) (phys PhysicalAddress, bit BitIndex, ok bool) {
	for _, b := range []BitBand{PeriphBitBand, SRAMBitBand} {
		if b.IsAlias(addr) {
			alias := AliasAddress(addr)
			return b.Address(alias), b.Bit(alias), true
		}
	}

	return
}

// ReadBit performs a privileged bit-band alias read, returning the aliased
// bit value.
func (v *VMPU) ReadBit(alias uint32) (val uint32, err error) {
	addr, bit, ok := ResolveAlias(alias)

	if !ok {
		return 0, fmt.Errorf("%w, %#.8x is not a bit-band alias", ErrInvalidRegion, alias)
	}

	word, err := v.Bus.Read32(uint32(addr), false)

	if err != nil {
		return
	}

	return bits.Get(&word, int(bit), 1), nil
}

// WriteBit performs a privileged bit-band alias write, the aliased bit is
// set to the least significant bit of val.
func (v *VMPU) WriteBit(alias uint32, val uint32) (err error) {
	addr, bit, ok := ResolveAlias(alias)

	if !ok {
		return fmt.Errorf("%w, %#.8x is not a bit-band alias", ErrInvalidRegion, alias)
	}

	word, err := v.Bus.Read32(uint32(addr), false)

	if err != nil {
		return
	}

	if val&1 != 0 {
		bits.Set(&word, int(bit))
	} else {
		bits.Clear(&word, int(bit))
	}

	return v.Bus.Write32(uint32(addr), word, false)
}
