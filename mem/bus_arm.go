// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package mem

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Physical accesses memory directly from the Security Monitor, unprivileged
// accesses are first checked against the Allowed function which is expected
// to match the active box ACLs (software equivalent of ldrt/strt).
type Physical struct {
	Allowed func(addr uint32, size uint32, write bool) bool
}

func (p *Physical) check(addr uint32, size uint32, write bool, unprivileged bool) error {
	if !unprivileged {
		return nil
	}

	if p.Allowed == nil || !p.Allowed(addr, size, write) {
		return fmt.Errorf("%w at %#.8x", ErrAccess, addr)
	}

	return nil
}

func (p *Physical) Read8(addr uint32, unprivileged bool) (uint8, error) {
	if err := p.check(addr, 1, false, unprivileged); err != nil {
		return 0, err
	}

	return *(*uint8)(unsafe.Pointer(uintptr(addr))), nil
}

func (p *Physical) Read16(addr uint32, unprivileged bool) (uint16, error) {
	if err := p.check(addr, 2, false, unprivileged); err != nil {
		return 0, err
	}

	return *(*uint16)(unsafe.Pointer(uintptr(addr))), nil
}

func (p *Physical) Read32(addr uint32, unprivileged bool) (uint32, error) {
	if err := p.check(addr, 4, false, unprivileged); err != nil {
		return 0, err
	}

	return atomic.LoadUint32((*uint32)(unsafe.Pointer(uintptr(addr)))), nil
}

func (p *Physical) Write8(addr uint32, val uint8, unprivileged bool) error {
	if err := p.check(addr, 1, true, unprivileged); err != nil {
		return err
	}

	*(*uint8)(unsafe.Pointer(uintptr(addr))) = val

	return nil
}

func (p *Physical) Write16(addr uint32, val uint16, unprivileged bool) error {
	if err := p.check(addr, 2, true, unprivileged); err != nil {
		return err
	}

	*(*uint16)(unsafe.Pointer(uintptr(addr))) = val

	return nil
}

func (p *Physical) Write32(addr uint32, val uint32, unprivileged bool) error {
	if err := p.check(addr, 4, true, unprivileged); err != nil {
		return err
	}

	atomic.StoreUint32((*uint32)(unsafe.Pointer(uintptr(addr))), val)

	return nil
}
