// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"log"
	"os"
	"runtime"
	"runtime/goos"
	"unsafe"

	"github.com/usbarmory/GoTEE/applet"
	"github.com/usbarmory/GoTEE/syscall"

	"github.com/usbarmory/vmpu/mem"
	"github.com/usbarmory/vmpu/svc"
	"github.com/usbarmory/vmpu/util"
)

// virtual interrupt lines, only the first one is owned by this box
const (
	ownIRQ   = 10
	otherIRQ = 11
)

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	// yield to monitor (w/ err != nil) on runtime panic
	goos.Exit = applet.Crash
}

func call(index uint8, args ...uint32) (res uint32) {
	req := util.SVCRequest{
		Imm: index,
	}

	copy(req.Args[:], args)

	if err := syscall.Call("SVC.Call", req, &res); err != nil {
		log.Printf("box SVC %d error: %v", index, err)
	}

	return
}

func puts(s string) {
	for _, c := range []byte(s) {
		call(svc.SVC_PUTC, uint32(c))
	}
}

func testInterrupts() {
	handler := uint32(mem.BoxImageStart + 0x1001)

	if res := call(svc.SVC_SET_ENA_ISR, ownIRQ, handler); res != 0 {
		log.Printf("box could not register own interrupt (%#x)", res)
	}

	if res := call(svc.SVC_GET_ISR, ownIRQ); res != handler {
		log.Printf("box read unexpected handler %#.8x", res)
	}

	if res := call(svc.SVC_SET_ISR, otherIRQ, handler); res == svc.Denied {
		log.Printf("box denied access to interrupt %d", otherIRQ)
	}

	call(svc.SVC_DIS_LET_ISR, ownIRQ)
}

// testAccess reads Security Monitor memory, which raises a data abort
// escalated by the vMPU.
func testAccess() {
	log.Printf("box is about to read Security Monitor memory at %#.8x", mem.RAMStart)

	ptr := (*uint32)(unsafe.Pointer(uintptr(mem.RAMStart)))
	log.Printf("box read %#.8x", *ptr)
}

func main() {
	log.Printf("%s/%s (%s) • vMPU client box", runtime.GOOS, runtime.GOARCH, runtime.Version())

	// box output through the putc custom handler
	puts("box says hello through SVC\n")

	// virtual interrupt ownership
	testInterrupts()

	// test memory protection
	testAccess()

	// this should be unreachable
	applet.Exit()
}
