// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package sandbox

import (
	"fmt"
	"log"

	"github.com/usbarmory/tamago/arm"

	"github.com/usbarmory/GoTEE/monitor"
	"github.com/usbarmory/GoTEE/syscall"
)

// handler returns the exception handler of a box context.
func handler(box int) func(ctx *monitor.ExecCtx) error {
	return func(ctx *monitor.ExecCtx) (err error) {
		switch ctx.ExceptionVector {
		case arm.DATA_ABORT:
			return dataAbort(ctx, box)
		case arm.SUPERVISOR:
		default:
			return fmt.Errorf("exception %x", ctx.ExceptionVector)
		}

		switch ctx.A0() {
		case syscall.SYS_WRITE:
			// Override write syscall to avoid interleaved logs and to log
			// simultaneously to remote terminal and serial console.
			putc(box, byte(ctx.A1()))
		case syscall.SYS_EXIT:
			ctx.Stop()
		default:
			// RPC requests reach the SVC receiver
			return monitor.SecureHandler(ctx)
		}

		return
	}
}

// dataAbort attempts recovery of a box data abort through the vMPU, boxes
// are stopped on escalated faults.
func dataAbort(ctx *monitor.ExecCtx, box int) (err error) {
	f, err := recoverFault(ctx, box)

	if err != nil {
		log.Printf("SM box %d data abort pc:%#.8x addr:%#.8x, %v", box, f.PC, f.Addr, err)
		log.Print(ctx)

		ctx.Stop()

		return nil
	}

	if VMPU.Debug {
		log.Printf("SM box %d %s", box, f)
	}

	return
}
