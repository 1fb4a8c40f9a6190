// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"fmt"
)

// StackSizeMin is the minimum box stack size.
const StackSizeMin = 1024

// Stack represents a box stack and bss footprint, the stack grows down from
// SP towards Base while bss sits at the top of the region.
type Stack struct {
	Base uint32
	Size uint32
	SP   uint32
	BSS  uint32
}

// ACLStack allocates a single region for the stack and bss of a box from
// box memory, the footprint is rounded up to a valid region size and its
// base aligned to it.
func (v *VMPU) ACLStack(box int, bssSize uint32, stackSize uint32) (err error) {
	if v.Boxes.Counted() {
		return ErrFinalized
	}

	if !v.Boxes.Valid(box) {
		return fmt.Errorf("%w (%d)", ErrInvalidBox, box)
	}

	if v.stacks[box].Size != 0 {
		return fmt.Errorf("%w, box %d stack already allocated", ErrOverlap, box)
	}

	if stackSize < StackSizeMin {
		stackSize = StackSizeMin
	}

	// align bss to words
	bssSize = (bssSize + 3) &^ 3

	footprint := uint64(stackSize) + uint64(bssSize)

	if footprint > RegionSizeMax {
		return fmt.Errorf("%w (%#x)", ErrInvalidSize, footprint)
	}

	size, ok := v.roundUpSize(uint32(footprint))

	if !ok {
		return fmt.Errorf("%w (%#x)", ErrInvalidSize, footprint)
	}

	base, ok := v.RoundUpRegion(v.cursor, size)

	if !ok || uint64(base)+uint64(size) > uint64(v.Layout.BoxMemEnd) {
		return fmt.Errorf("%w, box %d needs %#x bytes", ErrOutOfMemory, box, size)
	}

	if err = v.insert(box, ACL{
		Kind: Memory,
		Base: base,
		Size: size,
		Perm: PermReadWrite | PermStack,
	}); err != nil {
		return
	}

	v.cursor = base + size

	v.stacks[box] = Stack{
		Base: base,
		Size: size,
		SP:   base + stackSize,
		BSS:  base + size - bssSize,
	}

	if v.Debug {
		v.logf("box %d stack %#.8x-%#.8x sp:%#.8x", box, base, base+size, v.stacks[box].SP)
	}

	return
}

// StackOf returns the stack footprint of a box.
func (v *VMPU) StackOf(box int) (s Stack, ok bool) {
	if !v.Boxes.Valid(box) || v.stacks[box].Size == 0 {
		return
	}

	return v.stacks[box], true
}
