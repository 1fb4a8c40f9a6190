// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package vmpu implements a virtual memory protection unit, partitioning a
// flat physical address space among mutually distrusting boxes.
//
// Boxes are enumerated at boot, each receiving an ACL list, a stack and bss
// footprint and a namespace. Once enumeration is finalized the ACLs are
// immutable and the only mutable state is the active box, which selects the
// ACLs programmed in the hardware MPU and matched against bus faults.
package vmpu

import (
	"fmt"
	"log"
)

// MPU represents the hardware memory protection unit.
type MPU interface {
	// Init initializes the hardware.
	Init() error
	// Regions returns the number of available region slots.
	Regions() int
	// ConfigureRegion programs a region slot, a zero size disables it.
	ConfigureRegion(index int, base uint32, size uint32, perm Permission) error
}

// Bus represents memory accessed on behalf of a box, unprivileged accesses
// must honor the access permissions of the active box.
type Bus interface {
	Read8(addr uint32, unprivileged bool) (uint8, error)
	Read16(addr uint32, unprivileged bool) (uint16, error)
	Read32(addr uint32, unprivileged bool) (uint32, error)
	Write8(addr uint32, val uint8, unprivileged bool) error
	Write16(addr uint32, val uint16, unprivileged bool) error
	Write32(addr uint32, val uint32, unprivileged bool) error
}

// VMPU represents the virtual memory protection unit state.
type VMPU struct {
	// Layout holds the physical memory map.
	Layout Layout
	// Geometry holds the hardware region size rule.
	Geometry Geometry
	// MPU is the hardware protection unit.
	MPU MPU
	// Bus is used to read faulting instructions and stacked registers
	// and to complete recovered accesses.
	Bus Bus

	// Boxes holds box count and enumeration state.
	Boxes Registry

	// Debug enables logging of configuration and fault events.
	Debug bool

	acls   [MaxBoxes][]ACL
	global []ACL
	stacks [MaxBoxes]Stack

	// number of MPU slots reserved to static regions
	static int
	// static slot bound to the active box stack, plus one
	stackSlot int
	// box memory allocation cursor
	cursor uint32

	active int
}

// New returns a vMPU instance for the given memory layout and hardware.
func New(layout Layout, geometry Geometry, mpu MPU, bus Bus) (v *VMPU, err error) {
	if err = layout.Validate(); err != nil {
		return
	}

	if geometry == nil || mpu == nil || bus == nil {
		return nil, fmt.Errorf("%w, missing geometry, MPU or bus", ErrInvalidLayout)
	}

	v = &VMPU{
		Layout:   layout,
		Geometry: geometry,
		MPU:      mpu,
		Bus:      bus,
		cursor:   layout.BoxMemStart,
	}

	return
}

func (v *VMPU) logf(format string, args ...interface{}) {
	log.Printf("SM vMPU "+format, args...)
}

// Init initializes the hardware MPU.
func (v *VMPU) Init() (err error) {
	if err = v.MPU.Init(); err != nil {
		return fmt.Errorf("MPU initialization error, %v", err)
	}

	if v.Debug {
		v.logf("initialized %d regions", v.MPU.Regions())
	}

	return
}

// Finalize loads box 0 and ends box enumeration, enumeration can continue
// when either step fails.
func (v *VMPU) Finalize(count uint32) (err error) {
	if err = v.Boxes.check(count); err != nil {
		return
	}

	if err = v.Load(0); err != nil {
		return
	}

	if err = v.Boxes.Finalize(count); err != nil {
		return
	}

	if v.Debug {
		v.logf("%d boxes", count)
	}

	return
}

// InstallStaticRegion programs a reserved MPU slot, not affected by box
// switches, and returns the resolved region size.
func (v *VMPU) InstallStaticRegion(slot int, base uint32, size uint32, perm Permission) (resolved uint32, err error) {
	if slot < 0 || slot >= v.MPU.Regions() {
		return 0, fmt.Errorf("%w, slot %d", ErrInvalidRegion, slot)
	}

	if resolved, err = v.regionSize(size, perm); err != nil {
		return
	}

	if err = v.checkRegion(base, resolved); err != nil {
		return 0, err
	}

	if err = v.MPU.ConfigureRegion(slot, base, resolved, perm&^PermSizeRoundUp); err != nil {
		return 0, err
	}

	if slot >= v.static {
		v.static = slot + 1
	}

	if v.Debug {
		v.logf("static region %d %#.8x-%#.8x", slot, base, uint64(base)+uint64(resolved))
	}

	return
}

// BindStackSlot reserves a static MPU slot for the stack and bss of the
// active box, reprogrammed on each box switch. Without it box stacks are
// loaded with the other box ACLs.
func (v *VMPU) BindStackSlot(slot int) (err error) {
	if v.Boxes.Counted() {
		return ErrFinalized
	}

	if slot < 0 || slot >= v.MPU.Regions() {
		return fmt.Errorf("%w, slot %d", ErrInvalidRegion, slot)
	}

	if err = v.MPU.ConfigureRegion(slot, 0, 0, 0); err != nil {
		return
	}

	v.stackSlot = slot + 1

	if slot >= v.static {
		v.static = slot + 1
	}

	return
}

// loadStack programs the static stack slot, if any, with the stack of a box.
func (v *VMPU) loadStack(box int) (err error) {
	if v.stackSlot == 0 {
		return
	}

	slot := v.stackSlot - 1

	if stack, ok := v.StackOf(box); ok {
		_, err = v.InstallStaticRegion(slot, stack.Base, stack.Size, PermReadWrite|PermStack)
		return
	}

	return v.MPU.ConfigureRegion(slot, 0, 0, 0)
}

// Active returns the active box.
func (v *VMPU) Active() int {
	return v.active
}

// Load programs the MPU dynamic slots with the memory ACLs of a box and
// makes it the active box. ACLs exceeding the available slots are only
// reachable through fault recovery.
func (v *VMPU) Load(box int) (err error) {
	if !v.Boxes.Valid(box) {
		return fmt.Errorf("%w (%d)", ErrInvalidBox, box)
	}

	if err = v.loadStack(box); err != nil {
		return
	}

	slot := v.static

	for _, acl := range v.acls[box] {
		if acl.Kind != Memory || slot >= v.MPU.Regions() {
			continue
		}

		if v.stackSlot != 0 && acl.Perm&PermStack != 0 {
			continue
		}

		if err = v.MPU.ConfigureRegion(slot, acl.Base, acl.Size, acl.Perm&^PermSizeRoundUp); err != nil {
			return
		}

		slot++
	}

	for ; slot < v.MPU.Regions(); slot++ {
		if err = v.MPU.ConfigureRegion(slot, 0, 0, 0); err != nil {
			return
		}
	}

	v.active = box

	return
}

// Switch changes the active box from src to dst.
func (v *VMPU) Switch(src int, dst int) (err error) {
	if !v.Boxes.Valid(src) {
		return fmt.Errorf("%w (%d)", ErrInvalidBox, src)
	}

	if err = v.Load(dst); err != nil {
		return
	}

	if v.Debug {
		v.logf("switch box %d -> %d", src, dst)
	}

	return
}
