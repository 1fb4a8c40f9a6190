// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package sandbox

import (
	"fmt"

	"github.com/usbarmory/tamago/arm"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/vmpu/vmpu"
)

// first level translation table section size
const sectionSize = 1 << 20

// NumSlots is the number of region slots emulated over the MMU.
const NumSlots = 8

type slot struct {
	base uint32
	size uint32
}

// MMU implements vmpu.MPU over the ARM first level translation table, each
// region slot maps its sections with user mode permissions derived from the
// ACL, disabled slots are restored to privileged only access.
//
// Regions are widened to section granularity, finer grained ACLs are
// enforced by fault recovery.
type MMU struct {
	// Start and End bound the memory reserved to boxes.
	Start uint32
	End   uint32

	slots [NumSlots]slot
}

func sections(base uint32, size uint32) (start uint32, end uint32) {
	start = base &^ (sectionSize - 1)
	end = uint32((uint64(base) + uint64(size) + sectionSize - 1) &^ (sectionSize - 1))

	return
}

func configureSections(base uint32, size uint32, ap uint32) {
	start, end := sections(base, size)
	imx6ul.ARM.ConfigureMMU(start, end, start, arm.MemoryRegion|ap<<10)
}

func accessPermission(perm vmpu.Permission) uint32 {
	switch {
	case perm&vmpu.PermWrite != 0:
		return arm.TTE_AP_011
	case perm&(vmpu.PermRead|vmpu.PermExecute) != 0:
		return arm.TTE_AP_010
	default:
		return arm.TTE_AP_001
	}
}

// Init restricts box memory to privileged accesses.
func (m *MMU) Init() error {
	if m.End <= m.Start {
		return fmt.Errorf("invalid box memory %#.8x-%#.8x", m.Start, m.End)
	}

	configureSections(m.Start, m.End-m.Start, arm.TTE_AP_001)

	return nil
}

// Regions returns the number of region slots.
func (m *MMU) Regions() int {
	return NumSlots
}

// ConfigureRegion maps a region slot.
func (m *MMU) ConfigureRegion(index int, base uint32, size uint32, perm vmpu.Permission) error {
	if index < 0 || index >= NumSlots {
		return fmt.Errorf("invalid region slot %d", index)
	}

	if prev := m.slots[index]; prev.size != 0 {
		configureSections(prev.base, prev.size, arm.TTE_AP_001)
	}

	m.slots[index] = slot{base, size}

	if size != 0 {
		configureSections(base, size, accessPermission(perm))
	}

	return nil
}
