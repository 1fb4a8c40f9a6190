// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	_ "unsafe"

	"github.com/usbarmory/vmpu/mem"
)

// the client box executes in the first box image slot

//go:linkname ramStart runtime/goos.RamStart
var ramStart uint32 = mem.BoxImageStart

//go:linkname ramSize runtime/goos.RamSize
var ramSize uint32 = mem.BoxSlotSize

//go:linkname ramStackOffset runtime/goos.RamStackOffset
var ramStackOffset uint32 = 0x100
