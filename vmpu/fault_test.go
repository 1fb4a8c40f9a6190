// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"errors"
	"testing"

	"github.com/usbarmory/vmpu/mem"
)

const (
	testSP    = 0x1fffaf00
	testReg   = 0x4004800c
	testAlias = 0x42900194 // testReg bit 5
)

// newFaultVMPU returns a vMPU with box 1 active and granted bit 5 of
// testReg, read access to 0x1fff9000-0x1fffa000 and a masked register.
func newFaultVMPU(t *testing.T) (*VMPU, *mem.Sparse) {
	t.Helper()

	v, _, bus := newTestVMPU(t, ARMv7M{})
	bus.Grant(mem.FlashStart, mem.SecureStart)

	if err := v.GrantBit(1, testReg, 5); err != nil {
		t.Fatal(err)
	}

	if err := v.Add(1, 0x1fff9000, 0x1000, PermRead); err != nil {
		t.Fatal(err)
	}

	if err := v.GrantRegister(1, 0x40049000, 0xff, 0x0f); err != nil {
		t.Fatal(err)
	}

	if err := v.Finalize(2); err != nil {
		t.Fatal(err)
	}

	if err := v.Switch(0, 1); err != nil {
		t.Fatal(err)
	}

	return v, bus
}

// stage writes an exception frame and the instructions at pc.
func stage(t *testing.T, bus *mem.Sparse, pc uint32, ops []uint16, r0 uint32, r1 uint32) {
	t.Helper()

	for i, op := range ops {
		if err := bus.Write16(pc+uint32(i)*2, op, false); err != nil {
			t.Fatal(err)
		}
	}

	for off, val := range map[uint32]uint32{frameR0: r0, frameR1: r1, framePC: pc} {
		if err := bus.Write32(testSP+off, val, false); err != nil {
			t.Fatal(err)
		}
	}
}

func stacked(t *testing.T, bus *mem.Sparse, off uint32) uint32 {
	t.Helper()

	val, err := bus.Read32(testSP+off, false)

	if err != nil {
		t.Fatal(err)
	}

	return val
}

func TestRecoverBitBandStore(t *testing.T) {
	v, bus := newFaultVMPU(t)

	if err := bus.Write32(testReg, 0x00000001, false); err != nil {
		t.Fatal(err)
	}

	stage(t, bus, 0x1000, []uint16{0x6001}, testAlias, 1)

	f := &Fault{PC: 0x1000, SP: testSP, Addr: testAlias, Status: StatusPrecise}

	if err := v.RecoverBusFault(f); err != nil {
		t.Fatalf("RecoverBusFault() error: %v", err)
	}

	if word, _ := bus.Read32(testReg, false); word != 0x00000021 {
		t.Errorf("register %#.8x, want 0x00000021", word)
	}

	want := uint32(0x1000 + (NopCount+2)<<1)

	if pc := stacked(t, bus, framePC); pc != want || f.Resume != want {
		t.Errorf("stacked pc %#.8x resume %#.8x, want %#.8x", pc, f.Resume, want)
	}

	if f.State != FaultRecover || f.Kind != Store || f.Width != 4 || f.ACL == nil || f.ACL.Kind != Bit {
		t.Errorf("fault %s kind %s width %d acl %v", f, f.Kind, f.Width, f.ACL)
	}

	// clear the bit again
	stage(t, bus, 0x1000, []uint16{0x6001}, testAlias, 0)

	if err := v.RecoverBusFault(f); err != nil {
		t.Fatal(err)
	}

	if word, _ := bus.Read32(testReg, false); word != 0x00000001 {
		t.Errorf("register %#.8x, want 0x00000001", word)
	}
}

func TestRecoverBitBandDenied(t *testing.T) {
	v, bus := newFaultVMPU(t)

	alias := uint32(testAlias + 4) // bit 6

	stage(t, bus, 0x1000, []uint16{0x6001}, alias, 1)

	f := &Fault{PC: 0x1000, SP: testSP, Addr: alias, Status: StatusPrecise}

	if err := v.RecoverBusFault(f); !errors.Is(err, ErrFaultNotHandled) {
		t.Fatalf("RecoverBusFault() = %v, want %v", err, ErrFaultNotHandled)
	}

	if word, _ := bus.Read32(testReg, false); word != 0 {
		t.Errorf("register modified %#.8x", word)
	}

	if pc := stacked(t, bus, framePC); pc != 0x1000 {
		t.Errorf("stacked pc modified %#.8x", pc)
	}

	if f.State != FaultEscalate {
		t.Errorf("fault state %s", f.State)
	}
}

func TestRecoverImprecise(t *testing.T) {
	v, bus := newFaultVMPU(t)

	// str r1, [r0, #0] followed by nops, fault reported 3 instructions later
	stage(t, bus, 0x2000, []uint16{0x6001, 0xbf00, 0xbf00, 0xbf00, 0xbf00, 0xbf00}, testAlias, 1)

	f := &Fault{PC: 0x2006, SP: testSP, Status: StatusImprecise}

	if err := v.RecoverBusFault(f); err != nil {
		t.Fatalf("RecoverBusFault() error: %v", err)
	}

	if f.Instr != 0x2000 {
		t.Errorf("faulting instruction %#.8x, want 0x00002000", f.Instr)
	}

	if pc := stacked(t, bus, framePC); pc != 0x2006+(NopCount+2-3)<<1 {
		t.Errorf("stacked pc %#.8x", pc)
	}

	if word, _ := bus.Read32(testReg, false); word != 0x00000020 {
		t.Errorf("register %#.8x, want 0x00000020", word)
	}
}

func TestRecoverLoad(t *testing.T) {
	v, bus := newFaultVMPU(t)

	tests := []struct {
		op   uint16
		addr uint32
		want uint32
	}{
		{0x6800, 0x1fff9010, 0xcafebabe},
		{0x8800, 0x1fff9012, 0xcafe},
		{0x7800, 0x1fff9013, 0xca},
		{0x7800, 0x40049000, 0x5a},
	}

	if err := bus.Write32(0x1fff9010, 0xcafebabe, false); err != nil {
		t.Fatal(err)
	}

	if err := bus.Write32(0x40049000, 0x1234565a, false); err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		stage(t, bus, 0x3000, []uint16{tt.op}, tt.addr, 0)

		f := &Fault{PC: 0x3000, SP: testSP, Addr: tt.addr, Status: StatusPrecise}

		if err := v.RecoverBusFault(f); err != nil {
			t.Errorf("RecoverBusFault(%#.4x at %#.8x) error: %v", tt.op, tt.addr, err)
			continue
		}

		if r0 := stacked(t, bus, frameR0); r0 != tt.want {
			t.Errorf("load %#.4x at %#.8x = %#x, want %#x", tt.op, tt.addr, r0, tt.want)
		}
	}

	// bit-band loads return the aliased bit
	if err := bus.Write32(testReg, 0x00000020, false); err != nil {
		t.Fatal(err)
	}

	stage(t, bus, 0x3000, []uint16{0x6800}, testAlias, 0)

	if err := v.RecoverBusFault(&Fault{PC: 0x3000, SP: testSP, Addr: testAlias, Status: StatusPrecise}); err != nil {
		t.Fatal(err)
	}

	if r0 := stacked(t, bus, frameR0); r0 != 1 {
		t.Errorf("bit-band load = %d, want 1", r0)
	}
}

func TestRecoverEscalate(t *testing.T) {
	v, bus := newFaultVMPU(t)

	if err := bus.Write16(0x4000, 0x6001, false); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		f    Fault
		op   uint16
		r0   uint32
	}{
		{"store outside ACLs", Fault{PC: 0x4000, SP: testSP, Addr: 0x40050000, Status: StatusPrecise}, 0x6001, 0x40050000},
		{"store to read-only memory", Fault{PC: 0x4000, SP: testSP, Addr: 0x1fff9010, Status: StatusPrecise}, 0x6001, 0x1fff9010},
		{"store outside register mask", Fault{PC: 0x4000, SP: testSP, Addr: 0x40049000, Status: StatusPrecise}, 0x7001, 0x40049000},
		{"pc outside flash", Fault{PC: 0x1fff8000, SP: testSP, Addr: testAlias, Status: StatusPrecise}, 0x6001, testAlias},
		{"sp outside SRAM", Fault{PC: 0x4000, SP: 0x4000, Addr: testAlias, Status: StatusPrecise}, 0x6001, testAlias},
		{"unsupported status", Fault{PC: 0x4000, SP: testSP, Addr: testAlias, Status: 1 << BFSR_STKERR}, 0x6001, testAlias},
		{"address mismatch", Fault{PC: 0x4000, SP: testSP, Addr: 0x40048000, Status: StatusPrecise}, 0x6001, testAlias},
		{"unknown opcode", Fault{PC: 0x4000, SP: testSP, Addr: testAlias, Status: StatusPrecise}, 0xbf00, testAlias},
	}

	for _, tt := range tests {
		stage(t, bus, 0x4000, []uint16{tt.op}, tt.r0, 0xff)
		f := tt.f

		if err := v.RecoverBusFault(&f); !errors.Is(err, ErrFaultNotHandled) {
			t.Errorf("%s: got %v, want %v", tt.name, err, ErrFaultNotHandled)
		}

		if pc := stacked(t, bus, framePC); pc != 0x4000 {
			t.Errorf("%s: stacked pc modified %#.8x", tt.name, pc)
		}
	}

	if word, _ := bus.Read32(0x40050000, false); word != 0 {
		t.Errorf("memory outside ACLs modified")
	}
}

func TestRecoverOtherBox(t *testing.T) {
	v, bus := newFaultVMPU(t)

	if err := v.Switch(1, 0); err != nil {
		t.Fatal(err)
	}

	stage(t, bus, 0x1000, []uint16{0x6001}, testAlias, 1)

	if err := v.RecoverBusFault(&Fault{PC: 0x1000, SP: testSP, Addr: testAlias, Status: StatusPrecise}); !errors.Is(err, ErrFaultNotHandled) {
		t.Errorf("box 0 used box 1 ACL, got %v", err)
	}
}

func TestFindFaultACL(t *testing.T) {
	v, _ := newFaultVMPU(t)

	acl, ok := v.FindFaultACL(testAlias, 4)

	if !ok || acl.Kind != Bit || acl.Base != testReg {
		t.Errorf("FindFaultACL(alias) = %v, %v", acl, ok)
	}

	if acl, ok = v.FindFaultACL(0x1fff9ffc, 4); !ok || acl.Kind != Memory {
		t.Errorf("FindFaultACL(memory) = %v, %v", acl, ok)
	}

	if _, ok = v.FindFaultACL(0x1fff9ffe, 4); ok {
		t.Errorf("FindFaultACL() matched access crossing the ACL end")
	}
}

func TestScanWindow(t *testing.T) {
	tests := []struct {
		status uint32
		cntMax uint32
		ok     bool
	}{
		{StatusPrecise, 0, true},
		{StatusImprecise, NopCount, true},
		{1 << BFSR_PRECISERR, 0, false},
		{1 << BFSR_BFARVALID, 0, false},
		{StatusPrecise | StatusImprecise, 0, false},
		{StatusPrecise | 1<<BFSR_STKERR, 0, false},
		{StatusImprecise | 1<<BFSR_UNSTKERR, 0, false},
		{1 << BFSR_IBUSERR, 0, false},
		{StatusPrecise | 1<<8, 0, false},
		{0, 0, false},
	}

	for _, tt := range tests {
		cntMax, ok := scanWindow(tt.status)

		if cntMax != tt.cntMax || ok != tt.ok {
			t.Errorf("scanWindow(%#x) = %d, %v, want %d, %v", tt.status, cntMax, ok, tt.cntMax, tt.ok)
		}
	}
}
