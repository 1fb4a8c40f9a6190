// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package mem

import (
	"github.com/usbarmory/tamago/dma"
)

// USB armory Mk II memory map, boxes execute as GoTEE user mode contexts
// within their own image slot, the vMPU stacks are used to stage exception
// frames.
const (
	// Security Monitor
	RAMStart = 0x90000000
	RAMSize  = 0x05f00000 // 95MB

	// Security Monitor DMA (relocated to avoid conflicts with boxes)
	DMAStart = 0x95f00000
	DMASize  = 0x00100000 // 1MB

	// Box images (treated as flash by the vMPU), each box executes within
	// its own slot.
	BoxImageStart = 0x96000000
	BoxImageSize  = 0x01000000 // 16MB
	BoxSlotSize   = 0x00800000 // 8MB

	// Box stacks and bss (treated as SRAM by the vMPU)
	BoxStackStart = 0x97000000
	BoxStackSize  = 0x01000000 // 16MB
)

// BoxSlots is the number of available box image slots.
const BoxSlots = BoxImageSize / BoxSlotSize

// BoxSlot returns the start of a box image slot, box 0 is the Security
// Monitor itself and has no slot.
func BoxSlot(box int) uint32 {
	return BoxImageStart + uint32(box-1)*BoxSlotSize
}

// BoxRegion returns the memory region of a box image slot.
func BoxRegion(box int) (*dma.Region, error) {
	return dma.NewRegion(uint(BoxSlot(box)), BoxSlotSize, false)
}

// Init moves the Security Monitor DMA region away from box memory.
func Init() {
	dma.Init(DMAStart, DMASize)
}
