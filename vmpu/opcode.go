// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"github.com/usbarmory/tamago/bits"
)

// AccessKind classifies a faulting instruction.
type AccessKind int

const (
	Unknown AccessKind = iota
	Load
	Store
)

func (k AccessKind) String() string {
	switch k {
	case Load:
		return "load"
	case Store:
		return "store"
	default:
		return "unknown"
	}
}

// 16-bit Thumb immediate offset load/store encodings, only the [r0, #0]
// forms are recognized. Stores use Rt=r1, loads Rt=r0.
const (
	opStoreRegs = 0x01
	opLoadRegs  = 0x00

	opSTR  = 0x60
	opSTRH = 0x80
	opSTRB = 0x70
	opLDR  = 0x68
	opLDRH = 0x88
	opLDRB = 0x78
)

// DecodeAccess classifies a 16-bit Thumb opcode as a load or store and
// returns its access width in bytes.
func DecodeAccess(opcode uint16) (kind AccessKind, width uint32) {
	op := uint32(opcode)

	regs := bits.Get(&op, 0, 0xff)
	code := bits.Get(&op, 8, 0xff)

	switch {
	case regs == opStoreRegs && code == opSTR:
		return Store, 4
	case regs == opStoreRegs && code == opSTRH:
		return Store, 2
	case regs == opStoreRegs && code == opSTRB:
		return Store, 1
	case regs == opLoadRegs && code == opLDR:
		return Load, 4
	case regs == opLoadRegs && code == opLDRH:
		return Load, 2
	case regs == opLoadRegs && code == opLDRB:
		return Load, 1
	}

	return Unknown, 0
}
