// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

// This reference memory map follows a Kinetis K64F class microcontroller,
// the vMPU is agnostic to it and receives bounds through vmpu.Layout.
const (
	// Physical flash
	FlashStart = 0x00000000
	FlashSize  = 0x00100000 // 1MB

	// Private boxes configuration table (end of public flash)
	SecureStart = 0x000f8000
	SecureSize  = 0x00008000 // 32KB

	// Physical SRAM (SRAM_L + SRAM_U)
	SRAMStart = 0x1fff0000
	SRAMSize  = 0x00040000 // 256KB

	// Security Monitor private SRAM
	MonitorStart = 0x1fff0000
	MonitorSize  = 0x00008000 // 32KB

	// Public SRAM (box memories and page heap)
	PublicSRAMStart = MonitorStart + MonitorSize
	PublicSRAMSize  = SRAMSize - MonitorSize

	// Box stacks and bss, carved at boot by the vMPU
	BoxMemStart = PublicSRAMStart
	BoxMemSize  = 0x00010000 // 64KB

	// System Control Register, a word sized global ACL on this map
	SCBSCR = 0xe000ed10
)
