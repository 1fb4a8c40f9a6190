// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"testing"
)

func TestIsRegionSizeValid(t *testing.T) {
	tests := []struct {
		size  uint32
		armv7 bool
		k64f  bool
	}{
		{0, false, false},
		{31, false, false},
		{32, true, true},
		{48, false, false},
		{64, true, true},
		{96, false, true},
		{0x1000, true, true},
		{512 * 1024 * 1024, true, true},
		{512*1024*1024 + 32, false, false},
		{1024 * 1024 * 1024, false, false},
		{1 << 31, false, false},
	}

	for _, tt := range tests {
		for _, g := range []struct {
			v    *VMPU
			want bool
		}{
			{&VMPU{Geometry: ARMv7M{}}, tt.armv7},
			{&VMPU{Geometry: K64F{}}, tt.k64f},
		} {
			if got := g.v.IsRegionSizeValid(tt.size); got != g.want {
				t.Errorf("%T IsRegionSizeValid(%#x) = %v, want %v", g.v.Geometry, tt.size, got, g.want)
			}
		}
	}
}

func TestRoundUpRegion(t *testing.T) {
	v := &VMPU{Geometry: ARMv7M{}}

	tests := []struct {
		addr uint32
		size uint32
		want uint32
		ok   bool
	}{
		{0, 32, 0, true},
		{1, 32, 32, true},
		{32, 32, 32, true},
		{0x1fff8001, 0x1000, 0x1fff9000, true},
		{0x1fff8000, 0x8000, 0x1fff8000, true},
		{0x1fff8001, 0x8000, 0x20000000, true},
		{0xffffffe0, 32, 0xffffffe0, true},
		{0xffffffe1, 32, 0, false},
		{0xe0000001, 512 * 1024 * 1024, 0, false},
		{0x1000, 48, 0, false},
		{0x1000, 0, 0, false},
	}

	for _, tt := range tests {
		got, ok := v.RoundUpRegion(tt.addr, tt.size)

		if got != tt.want || ok != tt.ok {
			t.Errorf("RoundUpRegion(%#.8x, %#x) = %#.8x, %v, want %#.8x, %v", tt.addr, tt.size, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRoundUpRegionSmallest(t *testing.T) {
	v := &VMPU{Geometry: K64F{}}

	for _, size := range []uint32{32, 96, 0x1000, 0x3000} {
		for _, addr := range []uint32{0, 1, 95, 0x1234, 0x1fff8004, 0x7fffffff} {
			got, ok := v.RoundUpRegion(addr, size)

			if !ok {
				t.Fatalf("RoundUpRegion(%#.8x, %#x) failed", addr, size)
			}

			if got < addr || got%size != 0 || (got >= size && got-size >= addr) {
				t.Errorf("RoundUpRegion(%#.8x, %#x) = %#.8x is not the smallest aligned value", addr, size, got)
			}
		}
	}
}

func TestRoundUpSize(t *testing.T) {
	tests := []struct {
		g    Geometry
		size uint32
		want uint32
		ok   bool
	}{
		{ARMv7M{}, 0, 32, true},
		{ARMv7M{}, 33, 64, true},
		{ARMv7M{}, 0x1400, 0x2000, true},
		{ARMv7M{}, 1 << 31, 1 << 31, true},
		{ARMv7M{}, 1<<31 + 1, 0, false},
		{K64F{}, 33, 64, true},
		{K64F{}, 0x1401, 0x1420, true},
		{K64F{}, 0xffffffff, 0, false},
	}

	for _, tt := range tests {
		got, ok := tt.g.RoundUpSize(tt.size)

		if got != tt.want || ok != tt.ok {
			t.Errorf("%T RoundUpSize(%#x) = %#x, %v, want %#x, %v", tt.g, tt.size, got, ok, tt.want, tt.ok)
		}
	}
}

func TestValidRegionBase(t *testing.T) {
	tests := []struct {
		base  uint32
		size  uint32
		armv7 bool
		k64f  bool
	}{
		{0x00000000, 0x00100000, true, true},
		{0x1fff8000, 0x8000, true, true},
		{0x1fff8000, 0x10000, false, true},
		{0x1fff8020, 0x100, false, true},
		{0x1fff8010, 0x100, false, false},
		{0x1fff8010, 0, false, false},
	}

	for _, tt := range tests {
		if got := (ARMv7M{}).ValidRegionBase(tt.base, tt.size); got != tt.armv7 {
			t.Errorf("ARMv7M ValidRegionBase(%#.8x, %#x) = %v, want %v", tt.base, tt.size, got, tt.armv7)
		}

		if got := (K64F{}).ValidRegionBase(tt.base, tt.size); got != tt.k64f {
			t.Errorf("K64F ValidRegionBase(%#.8x, %#x) = %v, want %v", tt.base, tt.size, got, tt.k64f)
		}
	}
}
