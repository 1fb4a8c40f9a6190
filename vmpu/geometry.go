// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"fmt"
	"math/bits"
)

// MPU region size limits, regions larger than RegionSizeMax are permitted by
// the architecture but never allowed.
const (
	RegionSizeMin = 32
	RegionSizeMax = 512 * 1024 * 1024
)

// Geometry represents the region size granularity rule of a memory
// protection unit.
type Geometry interface {
	// ValidRegionSize returns whether size is a native region size.
	ValidRegionSize(size uint32) bool
	// RoundUpSize returns the smallest native region size not below
	// size, ok is false when no such size exists.
	RoundUpSize(size uint32) (rounded uint32, ok bool)
	// ValidRegionBase returns whether a region of the given size can
	// start at base.
	ValidRegionBase(base uint32, size uint32) bool
}

// ARMv7M implements the ARMv7-M MPU rule: power of two region sizes.
type ARMv7M struct{}

func (ARMv7M) ValidRegionSize(size uint32) bool {
	return size >= RegionSizeMin && size&(size-1) == 0
}

func (ARMv7M) RoundUpSize(size uint32) (uint32, bool) {
	if size <= RegionSizeMin {
		return RegionSizeMin, true
	}

	if size > 1<<31 {
		return 0, false
	}

	return 1 << (32 - bits.LeadingZeros32(size-1)), true
}

// ValidRegionBase requires base to be aligned to the region size, as the
// MPU ignores the base address bits below it.
func (ARMv7M) ValidRegionBase(base uint32, size uint32) bool {
	return size != 0 && base&(size-1) == 0
}

// K64F implements the Kinetis K64F SysMPU rule: 32 byte granules.
type K64F struct{}

func (K64F) ValidRegionSize(size uint32) bool {
	return size >= RegionSizeMin && size%RegionSizeMin == 0
}

func (K64F) RoundUpSize(size uint32) (uint32, bool) {
	if size <= RegionSizeMin {
		return RegionSizeMin, true
	}

	rounded := (uint64(size) + RegionSizeMin - 1) &^ (RegionSizeMin - 1)

	if rounded > 0xffffffff {
		return 0, false
	}

	return uint32(rounded), true
}

func (K64F) ValidRegionBase(base uint32, size uint32) bool {
	return base%RegionSizeMin == 0
}

// IsRegionSizeValid returns whether size is a valid region size for the
// configured geometry and does not exceed RegionSizeMax.
func (v *VMPU) IsRegionSizeValid(size uint32) bool {
	if size > RegionSizeMax {
		return false
	}

	return v.Geometry.ValidRegionSize(size)
}

// RoundUpRegion returns addr rounded up to the next multiple of size, ok is
// false when size is not a valid region size or the result does not fit
// the 32-bit address space.
func (v *VMPU) RoundUpRegion(addr uint32, size uint32) (rounded uint32, ok bool) {
	if !v.IsRegionSizeValid(size) {
		return
	}

	r := (uint64(addr) + uint64(size) - 1) / uint64(size) * uint64(size)

	if r > 0xffffffff {
		return
	}

	return uint32(r), true
}

// checkRegion validates a memory range already resolved to a valid region
// size.
func (v *VMPU) checkRegion(base uint32, size uint32) error {
	if uint64(base)+uint64(size) > 1<<32 {
		return fmt.Errorf("%w, %#.8x+%#x wraps", ErrInvalidRegion, base, size)
	}

	if !v.Geometry.ValidRegionBase(base, size) {
		return fmt.Errorf("%w, base %#.8x not aligned for size %#x", ErrInvalidRegion, base, size)
	}

	return nil
}

// roundUpSize rounds size to a valid region size within RegionSizeMax.
func (v *VMPU) roundUpSize(size uint32) (uint32, bool) {
	rounded, ok := v.Geometry.RoundUpSize(size)

	if !ok || rounded > RegionSizeMax {
		return 0, false
	}

	return rounded, true
}
