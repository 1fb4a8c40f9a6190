// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package sandbox

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/tamago/arm"

	"github.com/usbarmory/GoTEE/monitor"

	"github.com/usbarmory/armory-boot/exec"

	"github.com/usbarmory/vmpu/mem"
	"github.com/usbarmory/vmpu/svc"
	"github.com/usbarmory/vmpu/unvic"
	"github.com/usbarmory/vmpu/util"
	"github.com/usbarmory/vmpu/vmpu"
)

// vMPU stack footprint, a whole section per box so that the MMU can keep
// box stacks apart.
const (
	bssSize   = 0x20
	stackSize = sectionSize - bssSize
	stackSlot = 0
)

// IRQ represents a virtual interrupt granted to a box.
type IRQ struct {
	Number  uint32
	Handler uint32
}

// Box represents a box definition.
type Box struct {
	// Name is the box namespace.
	Name string
	// ELF is the box TamaGo unikernel image.
	ELF []byte
	// IRQs lists the virtual interrupts owned by the box.
	IRQs []IRQ
	// Memory lists additional memory ranges granted to the box.
	Memory []vmpu.ACL
}

var (
	VMPU       *vmpu.VMPU
	Interrupts *unvic.Controller
	Dispatcher *svc.Dispatcher
	Console    *util.Console

	boxes []Box
)

var layout = vmpu.Layout{
	FlashStart:      mem.BoxImageStart,
	FlashEnd:        mem.BoxImageStart + mem.BoxImageSize,
	SecureStart:     mem.BoxImageStart + mem.BoxImageSize,
	SRAMStart:       mem.BoxStackStart,
	SRAMEnd:         mem.BoxStackStart + mem.BoxStackSize,
	PublicSRAMStart: mem.BoxStackStart,
	PublicSRAMEnd:   mem.BoxStackStart + mem.BoxStackSize,
	BoxMemStart:     mem.BoxStackStart,
	BoxMemEnd:       mem.BoxStackStart + mem.BoxStackSize,
}

func putc(box int, c byte) {
	if Console != nil {
		Console.Putc(box, c)
	} else {
		util.BufferedStdoutLog(c, box)
	}
}

func enumerate(v *vmpu.VMPU, id int, b Box) (err error) {
	if err = v.Boxes.SetNamespace(id, b.Name); err != nil {
		return
	}

	if err = v.Add(id, mem.BoxSlot(id), mem.BoxSlotSize, vmpu.PermRead|vmpu.PermWrite|vmpu.PermExecute); err != nil {
		return
	}

	if err = v.ACLStack(id, bssSize, stackSize); err != nil {
		return
	}

	for _, irq := range b.IRQs {
		if err = v.GrantInterrupt(id, irq.Handler, irq.Number); err != nil {
			return
		}
	}

	for _, acl := range b.Memory {
		if err = v.Add(id, acl.Base, acl.Size, acl.Perm); err != nil {
			return
		}
	}

	return
}

// Init enumerates the boxes and finalizes the vMPU configuration, box 0
// is the Security Monitor.
func Init(defs []Box, debug bool) (err error) {
	if len(defs) > mem.BoxSlots {
		return fmt.Errorf("%w, %d boxes for %d slots", vmpu.ErrTooManyBoxes, len(defs), mem.BoxSlots)
	}

	mmu := &MMU{
		Start: mem.BoxImageStart,
		End:   mem.BoxStackStart + mem.BoxStackSize,
	}

	bus := &mem.Physical{}

	v, err := vmpu.New(layout, vmpu.ARMv7M{}, mmu, bus)

	if err != nil {
		return
	}

	bus.Allowed = func(addr uint32, size uint32, write bool) bool {
		_, ok := v.CheckAccess(addr, size, write)
		return ok
	}

	v.Debug = debug

	if err = v.Init(); err != nil {
		return
	}

	// the active box stack is mapped in its own slot
	if err = v.BindStackSlot(stackSlot); err != nil {
		return
	}

	if err = v.Boxes.SetNamespace(0, "monitor"); err != nil {
		return
	}

	for i, b := range defs {
		if err = enumerate(v, i+1, b); err != nil {
			return fmt.Errorf("box %d (%s) configuration error, %v", i+1, b.Name, err)
		}
	}

	if err = v.Finalize(uint32(len(defs) + 1)); err != nil {
		return
	}

	Interrupts = unvic.NewController(v)
	Interrupts.Debug = debug

	table, err := svc.DefaultTable(v, Interrupts, putc)

	if err != nil {
		return
	}

	Dispatcher = &svc.Dispatcher{
		Table: table,
		Bus:   bus,
		Debug: debug,
	}

	VMPU = v
	boxes = defs

	log.Printf("SM vMPU configured %d boxes", len(defs))

	return
}

// load loads a box TamaGo unikernel as user mode context.
func load(id int) (ctx *monitor.ExecCtx, err error) {
	b := boxes[id-1]

	region, err := mem.BoxRegion(id)

	if err != nil {
		return
	}

	image := &exec.ELFImage{
		Region: region,
		ELF:    b.ELF,
	}

	if err = image.Load(); err != nil {
		return
	}

	if ctx, err = monitor.Load(image.Entry(), image.Region, true); err != nil {
		return nil, fmt.Errorf("SM could not load box %d, %v", id, err)
	}

	log.Printf("SM loaded box %d (%s) addr:%#x entry:%#x size:%d", id, b.Name, ctx.Memory.Start(), ctx.R15, len(b.ELF))

	util.SetDebugTarget(id, b.ELF)

	// box supervisor calls are forwarded over RPC
	ctx.Server.Register(&SVC{Box: id})

	// set stack pointer to the end of the box slot
	ctx.R13 = uint32(ctx.Memory.End())

	ctx.Handler = handler(id)

	return
}

func run(id int, ctx *monitor.ExecCtx) (err error) {
	mode := arm.ModeName(int(ctx.SPSR) & 0x1f)

	if err = VMPU.Switch(0, id); err != nil {
		return
	}

	log.Printf("SM starting box %d mode:%s sp:%#.8x pc:%#.8x", id, mode, ctx.R13, ctx.R15)

	runErr := ctx.Run()

	log.Printf("SM stopped box %d mode:%s sp:%#.8x lr:%#.8x pc:%#.8x err:%v", id, mode, ctx.R13, ctx.R14, ctx.R15, runErr)

	if runErr != nil {
		pcLine, _ := util.PCToLine(id, uint64(ctx.R15))
		lrLine, _ := util.PCToLine(id, uint64(ctx.R14))

		if pcLine != "" || lrLine != "" {
			log.Printf("stack trace:\n  %s\n  %s", pcLine, lrLine)
		}
	}

	return VMPU.Switch(id, 0)
}

// Run executes all boxes in turn.
func Run() (err error) {
	var ctx *monitor.ExecCtx

	if VMPU == nil {
		return errors.New("vMPU not initialized")
	}

	for id := 1; id <= len(boxes); id++ {
		if ctx, err = load(id); err != nil {
			return
		}

		if err = run(id, ctx); err != nil {
			return
		}
	}

	return
}
