// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"testing"
)

func TestDecodeAccess(t *testing.T) {
	tests := []struct {
		op    uint16
		kind  AccessKind
		width uint32
	}{
		{0x6001, Store, 4}, // str  r1, [r0, #0]
		{0x8001, Store, 2}, // strh r1, [r0, #0]
		{0x7001, Store, 1}, // strb r1, [r0, #0]
		{0x6800, Load, 4},  // ldr  r0, [r0, #0]
		{0x8800, Load, 2},  // ldrh r0, [r0, #0]
		{0x7800, Load, 1},  // ldrb r0, [r0, #0]
		{0x6000, Unknown, 0},
		{0x6801, Unknown, 0},
		{0x6002, Unknown, 0},
		{0xbf00, Unknown, 0}, // nop
		{0x0000, Unknown, 0},
	}

	for _, tt := range tests {
		kind, width := DecodeAccess(tt.op)

		if kind != tt.kind || width != tt.width {
			t.Errorf("DecodeAccess(%#.4x) = %s/%d, want %s/%d", tt.op, kind, width, tt.kind, tt.width)
		}
	}
}
