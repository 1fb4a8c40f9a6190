// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/vmpu/mem"
)

type region struct {
	Base uint32
	Size uint32
	Perm Permission
}

type testMPU struct {
	initialized bool
	regions     []region

	// err is returned by ConfigureRegion when set
	err error
}

func (m *testMPU) Init() error {
	m.initialized = true
	return nil
}

func (m *testMPU) Regions() int {
	return len(m.regions)
}

func (m *testMPU) ConfigureRegion(index int, base uint32, size uint32, perm Permission) error {
	if m.err != nil {
		return m.err
	}

	m.regions[index] = region{base, size, perm}
	return nil
}

var testLayout = Layout{
	FlashStart:      mem.FlashStart,
	FlashEnd:        mem.FlashStart + mem.FlashSize,
	SecureStart:     mem.SecureStart,
	SRAMStart:       mem.SRAMStart,
	SRAMEnd:         mem.SRAMStart + mem.SRAMSize,
	PublicSRAMStart: mem.PublicSRAMStart,
	PublicSRAMEnd:   mem.PublicSRAMStart + mem.PublicSRAMSize,
	BoxMemStart:     mem.BoxMemStart,
	BoxMemEnd:       mem.BoxMemStart + mem.BoxMemSize,
}

func newTestVMPU(t *testing.T, g Geometry) (*VMPU, *testMPU, *mem.Sparse) {
	t.Helper()

	mpu := &testMPU{regions: make([]region, 8)}
	bus := mem.NewSparse()

	v, err := New(testLayout, g, mpu, bus)

	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err = v.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	return v, mpu, bus
}

func TestNew(t *testing.T) {
	l := testLayout
	l.SRAMEnd = l.SRAMStart

	if _, err := New(l, ARMv7M{}, &testMPU{}, mem.NewSparse()); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("New() with invalid layout, got %v", err)
	}

	if _, err := New(testLayout, nil, &testMPU{}, mem.NewSparse()); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("New() without geometry, got %v", err)
	}

	_, mpu, _ := newTestVMPU(t, ARMv7M{})

	if !mpu.initialized {
		t.Errorf("MPU not initialized")
	}
}

func TestSwitch(t *testing.T) {
	v, mpu, _ := newTestVMPU(t, ARMv7M{})

	if _, err := v.InstallStaticRegion(0, 0x00000000, 0x00100000, PermRead|PermExecute); err != nil {
		t.Fatal(err)
	}

	if err := v.Add(1, 0x40048000, 0x1000, PermReadWrite|PermPeripheral); err != nil {
		t.Fatal(err)
	}

	if err := v.Add(1, 0x40049000, 0x100, PermRead|PermPeripheral); err != nil {
		t.Fatal(err)
	}

	if err := v.GrantDevice(1, 7); err != nil {
		t.Fatal(err)
	}

	if err := v.Finalize(2); err != nil {
		t.Fatal(err)
	}

	if v.Active() != 0 {
		t.Errorf("active box %d after Finalize, want 0", v.Active())
	}

	if err := v.Switch(0, 1); err != nil {
		t.Fatal(err)
	}

	want := []region{
		{0x00000000, 0x00100000, PermRead | PermExecute},
		{0x40048000, 0x1000, PermReadWrite | PermPeripheral},
		{0x40049000, 0x100, PermRead | PermPeripheral},
		{}, {}, {}, {}, {},
	}

	if diff := cmp.Diff(want, mpu.regions); diff != "" {
		t.Errorf("MPU regions (-want +got):\n%s", diff)
	}

	if v.Active() != 1 {
		t.Errorf("active box %d, want 1", v.Active())
	}

	if err := v.Switch(1, 2); !errors.Is(err, ErrInvalidBox) {
		t.Errorf("Switch() to box 2, got %v", err)
	}

	if v.Active() != 1 {
		t.Errorf("active box changed by failed switch")
	}

	if err := v.Switch(1, 0); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(region{}, mpu.regions[1]); diff != "" {
		t.Errorf("box 1 region left after switch (-want +got):\n%s", diff)
	}
}

func TestInstallStaticRegion(t *testing.T) {
	v, mpu, _ := newTestVMPU(t, ARMv7M{})

	size, err := v.InstallStaticRegion(2, 0x1fff0000, 0x6000, PermReadWrite|PermSizeRoundUp)

	if err != nil {
		t.Fatal(err)
	}

	if size != 0x8000 {
		t.Errorf("resolved size %#x, want 0x8000", size)
	}

	if diff := cmp.Diff(region{0x1fff0000, 0x8000, PermReadWrite}, mpu.regions[2]); diff != "" {
		t.Errorf("static region (-want +got):\n%s", diff)
	}

	if _, err = v.InstallStaticRegion(2, 0x1fff0000, 0x6000, PermReadWrite); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("invalid size, got %v", err)
	}

	if _, err = v.InstallStaticRegion(8, 0x1fff0000, 0x8000, PermReadWrite); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("invalid slot, got %v", err)
	}

	if _, err = v.InstallStaticRegion(3, 0x1fff0004, 0x8000, PermReadWrite); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("unaligned base, got %v", err)
	}
}

func TestFinalizeFailure(t *testing.T) {
	v, mpu, _ := newTestVMPU(t, ARMv7M{})

	if err := v.Finalize(0); !errors.Is(err, ErrInvalidBox) {
		t.Errorf("Finalize(0), got %v", err)
	}

	mpu.err = errors.New("bus error")

	if err := v.Finalize(2); !errors.Is(err, mpu.err) {
		t.Errorf("Finalize() with failing MPU, got %v", err)
	}

	if v.Boxes.Counted() {
		t.Fatalf("registry finalized by failed Finalize()")
	}

	mpu.err = nil

	// enumeration continues after a failed finalization
	if err := v.Add(1, 0x1fff8000, 0x1000, PermRead); err != nil {
		t.Fatal(err)
	}

	if err := v.Finalize(2); err != nil {
		t.Fatalf("Finalize() retry, got %v", err)
	}

	if v.Boxes.Count() != 2 || v.Active() != 0 {
		t.Errorf("count %d active %d after Finalize()", v.Boxes.Count(), v.Active())
	}
}

func TestRegionAlignment(t *testing.T) {
	v, mpu, _ := newTestVMPU(t, ARMv7M{})

	tests := []struct {
		name string
		fn   func() error
		err  error
	}{
		{"box region", func() error { return v.Add(1, 0x1fff8010, 0x100, PermRead) }, ErrInvalidRegion},
		{"rounded box region", func() error { return v.Add(1, 0x1fff8400, 0x500, PermRead|PermSizeRoundUp) }, ErrInvalidRegion},
		{"static region", func() error {
			_, err := v.InstallStaticRegion(0, 0x1fff8020, 0x100, PermRead)
			return err
		}, ErrInvalidRegion},
		{"global region", func() error { return v.AddGlobal(0x40048800, 0x1000, PermRead) }, ErrInvalidRegion},
		{"global register", func() error { return v.AddGlobal(mem.SCBSCR+2, 4, PermRead) }, ErrInvalidRegion},
		{"global size", func() error { return v.AddGlobal(0x40048000, 0x3000, PermRead) }, ErrInvalidSize},
	}

	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, tt.err) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.err)
		}
	}

	if len(v.ACLs(1)) != 0 || len(v.Globals()) != 0 {
		t.Fatalf("rejected regions were recorded")
	}

	if err := v.Add(1, 0x1fff8100, 0x100, PermRead); err != nil {
		t.Fatal(err)
	}

	if err := v.AddGlobal(mem.SCBSCR, 4, PermReadWrite); err != nil {
		t.Errorf("word sized global, got %v", err)
	}

	if err := v.Finalize(2); err != nil {
		t.Fatal(err)
	}

	if err := v.Switch(0, 1); err != nil {
		t.Fatal(err)
	}

	for i, r := range mpu.regions {
		if r.Size != 0 && !v.Geometry.ValidRegionBase(r.Base, r.Size) {
			t.Errorf("slot %d programmed with base %#.8x not aligned to size %#x", i, r.Base, r.Size)
		}
	}

	// the K64F SysMPU only requires 32 byte granules
	k, _, _ := newTestVMPU(t, K64F{})

	if err := k.Add(1, 0x1fff8020, 0x100, PermRead); err != nil {
		t.Errorf("K64F granule aligned region, got %v", err)
	}

	if err := k.Add(1, 0x1fff9010, 0x100, PermRead); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("K64F unaligned region, got %v", err)
	}
}

func TestStackSlot(t *testing.T) {
	v, mpu, _ := newTestVMPU(t, ARMv7M{})

	if err := v.BindStackSlot(8); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("BindStackSlot(8), got %v", err)
	}

	if err := v.BindStackSlot(0); err != nil {
		t.Fatal(err)
	}

	if err := v.ACLStack(1, 0x20, 1024); err != nil {
		t.Fatal(err)
	}

	if err := v.Add(1, 0x1fff9000, 0x1000, PermRead); err != nil {
		t.Fatal(err)
	}

	if err := v.Finalize(2); err != nil {
		t.Fatal(err)
	}

	if err := v.BindStackSlot(1); !errors.Is(err, ErrFinalized) {
		t.Errorf("BindStackSlot() after Finalize, got %v", err)
	}

	if err := v.Switch(0, 1); err != nil {
		t.Fatal(err)
	}

	want := []region{
		{0x1fff8000, 0x800, PermReadWrite | PermStack},
		{0x1fff9000, 0x1000, PermRead},
		{}, {}, {}, {}, {}, {},
	}

	if diff := cmp.Diff(want, mpu.regions); diff != "" {
		t.Errorf("MPU regions (-want +got):\n%s", diff)
	}

	if err := v.Switch(1, 0); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(make([]region, 8), mpu.regions); diff != "" {
		t.Errorf("box 1 regions left after switch (-want +got):\n%s", diff)
	}
}
