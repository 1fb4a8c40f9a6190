// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"
)

// NopCount is the number of instructions an imprecise bus fault can be
// reported after the faulting access, unprivileged accessors pad each
// load/store with this many nops.
const NopCount = 5

// Bus Fault Status Register bits
const (
	BFSR_IBUSERR     = 0
	BFSR_PRECISERR   = 1
	BFSR_IMPRECISERR = 2
	BFSR_UNSTKERR    = 3
	BFSR_STKERR      = 4
	BFSR_BFARVALID   = 7
)

// Recoverable fault status patterns
const (
	StatusPrecise   = 1<<BFSR_BFARVALID | 1<<BFSR_PRECISERR
	StatusImprecise = 1 << BFSR_IMPRECISERR
)

// stacked exception frame offsets
const (
	frameR0 = 0x00
	frameR1 = 0x04
	framePC = 0x18
)

// FaultState represents the progress of a fault through recovery.
type FaultState int

const (
	FaultDecode FaultState = iota
	FaultMatchACL
	FaultRecover
	FaultEscalate
)

func (s FaultState) String() string {
	switch s {
	case FaultDecode:
		return "decode"
	case FaultMatchACL:
		return "match"
	case FaultRecover:
		return "recovered"
	default:
		return "escalated"
	}
}

// Fault represents a bus fault event.
type Fault struct {
	// Stacked program counter
	PC uint32
	// Exception stack pointer
	SP uint32
	// Fault address (BFAR)
	Addr uint32
	// Bus Fault Status Register
	Status uint32

	// State is updated as the fault is processed.
	State FaultState
	// Decoded access
	Kind  AccessKind
	Width uint32
	// Instruction address of the faulting access
	Instr uint32
	// Matched ACL
	ACL *ACL
	// Program counter the box resumes from when recovered
	Resume uint32
}

func (f *Fault) String() string {
	return fmt.Sprintf("pc:%#.8x sp:%#.8x addr:%#.8x status:%#.2x state:%s", f.PC, f.SP, f.Addr, f.Status, f.State)
}

func (v *VMPU) escalate(f *Fault, format string, args ...interface{}) error {
	f.State = FaultEscalate
	err := fmt.Errorf("%w, "+format, append([]interface{}{ErrFaultNotHandled}, args...)...)

	if v.Debug {
		v.logf("fault %s, %v", f, err)
	}

	return err
}

// FindFaultACL returns the active box ACL covering a faulting access,
// bit-band aliases are matched against their physical word.
func (v *VMPU) FindFaultACL(addr uint32, size uint32) (*ACL, bool) {
	if phys, _, ok := ResolveAlias(addr); ok {
		addr = uint32(phys)
		size = 4
	}

	return v.FindACL(v.active, addr, size)
}

// allowed returns whether an ACL permits the access.
func allowed(acl *ACL, addr uint32, width uint32, write bool) bool {
	switch acl.Kind {
	case Memory:
		if write {
			return acl.Perm&PermWrite != 0
		}

		return acl.Perm&PermRead != 0
	case Register:
		mask := uint32(0xffffffff)

		if width < 4 {
			mask = (1<<(8*width) - 1) << (8 * (addr & 3))
		}

		if write {
			return acl.CheckRegister(acl.Base, 0, mask)
		}

		return acl.CheckRegister(acl.Base, mask, 0)
	}

	return false
}

// allowedBit returns whether an ACL permits access to the bit referenced
// by a bit-band alias.
func allowedBit(acl *ACL, alias uint32, write bool) bool {
	if !acl.CheckBit(alias) {
		return false
	}

	switch acl.Kind {
	case Register:
		_, bit, _ := ResolveAlias(alias)
		mask := uint32(1) << bit

		if write {
			return acl.WriteMask&mask != 0
		}

		return acl.ReadMask&mask != 0
	case Bit, Memory:
		if write {
			return acl.Perm&PermWrite != 0
		}

		return acl.Perm&PermRead != 0
	}

	return false
}

func (v *VMPU) matchBit(alias uint32, write bool) (*ACL, bool) {
	for _, list := range [][]ACL{v.acls[v.active], v.global} {
		for i := range list {
			if allowedBit(&list[i], alias, write) {
				acl := list[i]
				return &acl, true
			}
		}
	}

	return nil, false
}

// CheckAccess returns the active box ACL permitting an access, bit-band
// aliases are only permitted when the ACL covers the aliased bit.
func (v *VMPU) CheckAccess(addr uint32, width uint32, write bool) (*ACL, bool) {
	if _, _, ok := ResolveAlias(addr); ok {
		return v.matchBit(addr, write)
	}

	acl, ok := v.FindACL(v.active, addr, width)

	if !ok || !allowed(acl, addr, width, write) {
		return nil, false
	}

	return acl, true
}

// scanWindow returns how many instructions before the stacked pc may hold
// the faulting access, only a precise fault with a valid address or a lone
// imprecise fault can be recovered.
func scanWindow(status uint32) (cntMax uint32, ok bool) {
	// stacking and instruction fetch errors are never recovered
	if status&^(StatusPrecise|StatusImprecise) != 0 {
		return
	}

	precise := bits.Get(&status, BFSR_PRECISERR, 1) == 1
	imprecise := bits.Get(&status, BFSR_IMPRECISERR, 1) == 1
	valid := bits.Get(&status, BFSR_BFARVALID, 1) == 1

	switch {
	case precise && valid && !imprecise:
		return 0, true
	case imprecise && !precise && !valid:
		return NopCount, true
	}

	return
}

// decode locates the faulting load/store instruction.
func (v *VMPU) decode(f *Fault) (cnt uint32, err error) {
	if !v.Layout.Flash(f.PC) {
		return 0, v.escalate(f, "pc outside flash")
	}

	if !v.Layout.SRAM(f.SP) {
		return 0, v.escalate(f, "sp outside SRAM")
	}

	cntMax, ok := scanWindow(f.Status)

	if !ok {
		return 0, v.escalate(f, "unsupported status")
	}

	for cnt = 0; cnt <= cntMax; cnt++ {
		instr := f.PC - cnt<<1

		if !v.Layout.Flash(instr) {
			break
		}

		op, err := v.Bus.Read16(instr, true)

		if err != nil {
			return 0, v.escalate(f, "opcode read error, %v", err)
		}

		if f.Kind, f.Width = DecodeAccess(op); f.Kind != Unknown {
			f.Instr = instr
			return cnt, nil
		}
	}

	return 0, v.escalate(f, "no load/store found")
}

// complete performs the faulting access on behalf of the box.
func (v *VMPU) complete(f *Fault, addr uint32) (err error) {
	var val uint32
	write := f.Kind == Store

	if write {
		if val, err = v.Bus.Read32(f.SP+frameR1, false); err != nil {
			return
		}
	}

	if _, _, ok := ResolveAlias(addr); ok {
		if write {
			return v.WriteBit(addr, val)
		}

		if val, err = v.ReadBit(addr); err != nil {
			return
		}

		return v.Bus.Write32(f.SP+frameR0, val, false)
	}

	switch {
	case write && f.Width == 4:
		return v.Bus.Write32(addr, val, false)
	case write && f.Width == 2:
		return v.Bus.Write16(addr, uint16(val), false)
	case write:
		return v.Bus.Write8(addr, uint8(val), false)
	}

	switch f.Width {
	case 4:
		val, err = v.Bus.Read32(addr, false)
	case 2:
		var r uint16
		r, err = v.Bus.Read16(addr, false)
		val = uint32(r)
	default:
		var r uint8
		r, err = v.Bus.Read8(addr, false)
		val = uint32(r)
	}

	if err != nil {
		return
	}

	return v.Bus.Write32(f.SP+frameR0, val, false)
}

// RecoverBusFault attempts to complete a faulting load/store of the active
// box, a nil return value means that the access has been performed and the
// stacked program counter moved past it. Any other outcome wraps
// ErrFaultNotHandled and leaves the box state untouched.
func (v *VMPU) RecoverBusFault(f *Fault) (err error) {
	f.State = FaultDecode

	cnt, err := v.decode(f)

	if err != nil {
		return
	}

	f.State = FaultMatchACL

	addr, err := v.Bus.Read32(f.SP+frameR0, false)

	if err != nil {
		return v.escalate(f, "stack read error, %v", err)
	}

	if f.Status == StatusPrecise && addr != f.Addr {
		return v.escalate(f, "address mismatch r0:%#.8x", addr)
	}

	acl, ok := v.CheckAccess(addr, f.Width, f.Kind == Store)

	if !ok {
		return v.escalate(f, "no %s ACL for %#.8x", f.Kind, addr)
	}

	f.ACL = acl

	if err = v.complete(f, addr); err != nil {
		return v.escalate(f, "access error, %v", err)
	}

	f.Resume = f.PC + (NopCount+2-cnt)<<1

	if err = v.Bus.Write32(f.SP+framePC, f.Resume, false); err != nil {
		return v.escalate(f, "stack write error, %v", err)
	}

	f.State = FaultRecover

	if v.Debug {
		v.logf("recovered %s %#.8x width:%d pc:%#.8x -> %#.8x", f.Kind, addr, f.Width, f.PC, f.Resume)
	}

	return
}
