// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"fmt"
)

// Kind represents the type of resource an ACL grants.
type Kind int

const (
	Memory Kind = iota
	Register
	Device
	Bit
	IRQ
)

func (k Kind) String() string {
	switch k {
	case Memory:
		return "mem"
	case Register:
		return "reg"
	case Device:
		return "dev"
	case Bit:
		return "bit"
	case IRQ:
		return "irq"
	default:
		return "?"
	}
}

// Permission flags
type Permission uint32

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermExecute
	PermPeripheral
	PermShared
	PermStack
	// PermSizeRoundUp requests the region size to be rounded up to the
	// next valid size instead of being rejected.
	PermSizeRoundUp
)

const PermReadWrite = PermRead | PermWrite

func (p Permission) String() string {
	s := []byte("-------")

	for i, c := range "rwxpSsu" {
		if p&(1<<i) != 0 {
			s[i] = byte(c)
		}
	}

	return string(s)
}

// ACL represents an access control list entry.
type ACL struct {
	Kind Kind
	Base uint32
	Size uint32
	Perm Permission

	// Device
	DeviceID uint16

	// Register masks
	ReadMask  uint32
	WriteMask uint32

	// Bit index within the word at Base
	Bit BitIndex

	// Interrupt number and handler
	IRQ     uint32
	Handler uint32
}

func (acl *ACL) ranged() bool {
	switch acl.Kind {
	case Memory, Register, Bit:
		return true
	}

	return false
}

// Contains returns whether [addr, addr+size) is within the ACL range.
func (acl *ACL) Contains(addr uint32, size uint32) bool {
	if !acl.ranged() || size == 0 {
		return false
	}

	end := uint64(addr) + uint64(size)

	return addr >= acl.Base && end <= uint64(acl.Base)+uint64(acl.Size)
}

// Overlaps returns whether two ACLs conflict, only entries of the same kind
// can conflict.
func (acl *ACL) Overlaps(other *ACL) bool {
	if acl.Kind != other.Kind {
		return false
	}

	switch acl.Kind {
	case Device:
		return acl.DeviceID == other.DeviceID
	case IRQ:
		return acl.IRQ == other.IRQ
	case Bit:
		return acl.Base == other.Base && acl.Bit == other.Bit
	}

	return uint64(acl.Base) < uint64(other.Base)+uint64(other.Size) &&
		uint64(other.Base) < uint64(acl.Base)+uint64(acl.Size)
}

// CheckDevice returns whether the ACL grants access to a device.
func (acl *ACL) CheckDevice(id uint16) bool {
	return acl.Kind == Device && acl.DeviceID == id
}

// CheckMemory returns whether the ACL range fully contains [addr, addr+size).
func (acl *ACL) CheckMemory(addr uint32, size uint32) bool {
	return acl.Kind == Memory && acl.Contains(addr, size)
}

// CheckRegister returns whether the accessed register bits are a subset of
// the granted masks.
func (acl *ACL) CheckRegister(addr uint32, rmask uint32, wmask uint32) bool {
	if acl.Kind != Register || addr != acl.Base {
		return false
	}

	return rmask&^acl.ReadMask == 0 && wmask&^acl.WriteMask == 0
}

// CheckBit returns whether the ACL grants access to the bit referenced by a
// bit-band alias.
func (acl *ACL) CheckBit(alias uint32) bool {
	addr, bit, ok := ResolveAlias(alias)

	if !ok {
		return false
	}

	switch acl.Kind {
	case Bit:
		return acl.Base == uint32(addr) && acl.Bit == bit
	case Register:
		return acl.Base == uint32(addr) && (acl.ReadMask|acl.WriteMask)&(1<<bit) != 0
	case Memory:
		return acl.Contains(uint32(addr), 4)
	}

	return false
}

// CheckIRQ returns whether the ACL grants ownership of an interrupt.
func (acl *ACL) CheckIRQ(irq uint32) bool {
	return acl.Kind == IRQ && acl.IRQ == irq
}

func (acl ACL) String() string {
	switch acl.Kind {
	case Device:
		return fmt.Sprintf("%s %s id:%d", acl.Kind, acl.Perm, acl.DeviceID)
	case IRQ:
		return fmt.Sprintf("%s %s irq:%d handler:%#.8x", acl.Kind, acl.Perm, acl.IRQ, acl.Handler)
	case Register:
		return fmt.Sprintf("%s %s %#.8x r:%#.8x w:%#.8x", acl.Kind, acl.Perm, acl.Base, acl.ReadMask, acl.WriteMask)
	case Bit:
		return fmt.Sprintf("%s %s %#.8x bit:%d", acl.Kind, acl.Perm, acl.Base, acl.Bit)
	}

	return fmt.Sprintf("%s %s %#.8x-%#.8x", acl.Kind, acl.Perm, acl.Base, uint64(acl.Base)+uint64(acl.Size))
}

func (v *VMPU) checkAdd(box int, acl *ACL) (err error) {
	if !v.Boxes.Valid(box) {
		return fmt.Errorf("%w (%d)", ErrInvalidBox, box)
	}

	for i := range v.acls[box] {
		if v.acls[box][i].Overlaps(acl) {
			return fmt.Errorf("%w, %s conflicts with %s", ErrOverlap, acl, v.acls[box][i])
		}
	}

	return
}

func (v *VMPU) insert(box int, acl ACL) (err error) {
	if v.Boxes.Counted() {
		return ErrFinalized
	}

	if err = v.checkAdd(box, &acl); err != nil {
		return
	}

	v.acls[box] = append(v.acls[box], acl)

	if v.Debug {
		v.logf("box %d ACL %s", box, acl)
	}

	return
}

// regionSize validates, or rounds up when requested, a memory ACL size.
func (v *VMPU) regionSize(size uint32, perm Permission) (uint32, error) {
	if perm&PermSizeRoundUp != 0 {
		if rounded, ok := v.roundUpSize(size); ok {
			return rounded, nil
		}
	} else if v.IsRegionSizeValid(size) {
		return size, nil
	}

	return 0, fmt.Errorf("%w (%#x)", ErrInvalidSize, size)
}

// Add grants a box access to the memory range [base, base+size), the entry
// is rejected without side effects when it conflicts with an existing one.
func (v *VMPU) Add(box int, base uint32, size uint32, perm Permission) (err error) {
	if size, err = v.regionSize(size, perm); err != nil {
		return
	}

	if err = v.checkRegion(base, size); err != nil {
		return
	}

	return v.insert(box, ACL{
		Kind: Memory,
		Base: base,
		Size: size,
		Perm: perm,
	})
}

// AddGlobal grants every box access to the memory range [base, base+size).
// Ranges of a valid region size follow the region alignment rule, smaller
// word granular ranges (such as single registers) are only reachable
// through fault recovery.
func (v *VMPU) AddGlobal(base uint32, size uint32, perm Permission) (err error) {
	if v.Boxes.Counted() {
		return ErrFinalized
	}

	switch {
	case size == 0:
		err = fmt.Errorf("%w, empty range at %#.8x", ErrInvalidRegion, base)
	case v.IsRegionSizeValid(size):
		err = v.checkRegion(base, size)
	case size < RegionSizeMin:
		if base&3 != 0 || size&3 != 0 || uint64(base)+uint64(size) > 1<<32 {
			err = fmt.Errorf("%w, %#.8x+%#x", ErrInvalidRegion, base, size)
		}
	default:
		err = fmt.Errorf("%w (%#x)", ErrInvalidSize, size)
	}

	if err != nil {
		return
	}

	acl := ACL{
		Kind: Memory,
		Base: base,
		Size: size,
		Perm: perm,
	}

	for i := range v.global {
		if v.global[i].Overlaps(&acl) {
			return fmt.Errorf("%w, %s conflicts with %s", ErrOverlap, acl, v.global[i])
		}
	}

	v.global = append(v.global, acl)

	return
}

// GrantRegister grants a box masked access to a single 32-bit register.
func (v *VMPU) GrantRegister(box int, addr uint32, rmask uint32, wmask uint32) error {
	if addr&0x3 != 0 {
		return fmt.Errorf("%w, unaligned register %#.8x", ErrInvalidRegion, addr)
	}

	var perm Permission

	if rmask != 0 {
		perm |= PermRead
	}

	if wmask != 0 {
		perm |= PermWrite
	}

	return v.insert(box, ACL{
		Kind:      Register,
		Base:      addr,
		Size:      4,
		Perm:      perm | PermPeripheral,
		ReadMask:  rmask,
		WriteMask: wmask,
	})
}

// GrantBit grants a box access to a single bit of a bit-band window word
// through its alias.
func (v *VMPU) GrantBit(box int, addr uint32, bit BitIndex) error {
	if addr&0x3 != 0 || bit > 31 {
		return fmt.Errorf("%w, bit %d of %#.8x", ErrInvalidRegion, bit, addr)
	}

	if !SRAMBitBand.Contains(addr) && !PeriphBitBand.Contains(addr) {
		return fmt.Errorf("%w, %#.8x outside bit-band windows", ErrInvalidRegion, addr)
	}

	return v.insert(box, ACL{
		Kind: Bit,
		Base: addr,
		Size: 4,
		Perm: PermReadWrite,
		Bit:  bit,
	})
}

// GrantDevice grants a box access to a peripheral by its device id.
func (v *VMPU) GrantDevice(box int, id uint16) error {
	return v.insert(box, ACL{
		Kind:     Device,
		Perm:     PermReadWrite | PermPeripheral,
		DeviceID: id,
	})
}

// GrantInterrupt grants a box ownership of an interrupt and registers its
// initial handler.
func (v *VMPU) GrantInterrupt(box int, handler uint32, irq uint32) error {
	return v.insert(box, ACL{
		Kind:    IRQ,
		Perm:    PermExecute,
		IRQ:     irq,
		Handler: handler,
	})
}

// ACLs returns a copy of a box ACL list.
func (v *VMPU) ACLs(box int) []ACL {
	if box < 0 || box >= MaxBoxes {
		return nil
	}

	return append([]ACL(nil), v.acls[box]...)
}

// Globals returns a copy of the process-global ACL list.
func (v *VMPU) Globals() []ACL {
	return append([]ACL(nil), v.global...)
}

// FindACL returns the ACL, among the box and global ones, fully containing
// [addr, addr+size), the smallest range wins and ties are resolved in
// insertion order.
func (v *VMPU) FindACL(box int, addr uint32, size uint32) (acl *ACL, found bool) {
	if !v.Boxes.Valid(box) {
		return
	}

	match := func(list []ACL) {
		for i := range list {
			if !list[i].Contains(addr, size) {
				continue
			}

			if acl == nil || list[i].Size < acl.Size {
				acl = &list[i]
			}
		}
	}

	match(v.acls[box])
	match(v.global)

	if acl == nil {
		return
	}

	res := *acl

	return &res, true
}

// FindIRQ returns the box owning an interrupt, if any.
func (v *VMPU) FindIRQ(irq uint32) (box int, acl *ACL, found bool) {
	for box = range v.acls {
		for i := range v.acls[box] {
			if v.acls[box][i].CheckIRQ(irq) {
				res := v.acls[box][i]
				return box, &res, true
			}
		}
	}

	return -1, nil, false
}
