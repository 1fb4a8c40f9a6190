// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrAccess is returned when an unprivileged access targets memory which
// has not been granted to unprivileged code.
var ErrAccess = errors.New("unprivileged access denied")

// Range represents the memory interval [Start, Start+Size).
type Range struct {
	Start uint32
	Size  uint32
}

func (r Range) contains(addr uint32, n uint32) bool {
	if n == 0 || uint64(addr)+uint64(n) < uint64(addr) {
		return false
	}

	return uint64(addr) >= uint64(r.Start) && uint64(addr)+uint64(n) <= uint64(r.Start)+uint64(r.Size)
}

// Sparse is a byte addressable little-endian memory backed by a map, it is
// used to stage exception frames and box memory when the vMPU runs without
// direct physical memory access (e.g. under test or emulation).
//
// Privileged accesses always succeed, unprivileged accesses succeed only
// within ranges previously passed to Grant, mimicking ldrt/strt semantics.
type Sparse struct {
	mem  map[uint32]byte
	user []Range
}

// NewSparse returns an empty sparse memory.
func NewSparse() *Sparse {
	return &Sparse{
		mem: make(map[uint32]byte),
	}
}

// Grant allows unprivileged accesses to the [start, start+size) interval.
func (s *Sparse) Grant(start uint32, size uint32) {
	s.user = append(s.user, Range{Start: start, Size: size})
}

func (s *Sparse) check(addr uint32, n uint32, unprivileged bool) error {
	if !unprivileged {
		return nil
	}

	for _, r := range s.user {
		if r.contains(addr, n) {
			return nil
		}
	}

	return fmt.Errorf("%w at %#.8x", ErrAccess, addr)
}

func (s *Sparse) read(addr uint32, buf []byte, unprivileged bool) (err error) {
	if err = s.check(addr, uint32(len(buf)), unprivileged); err != nil {
		return
	}

	for i := range buf {
		buf[i] = s.mem[addr+uint32(i)]
	}

	return
}

func (s *Sparse) write(addr uint32, buf []byte, unprivileged bool) (err error) {
	if err = s.check(addr, uint32(len(buf)), unprivileged); err != nil {
		return
	}

	for i, b := range buf {
		s.mem[addr+uint32(i)] = b
	}

	return
}

// Read8 reads one byte.
func (s *Sparse) Read8(addr uint32, unprivileged bool) (uint8, error) {
	buf := make([]byte, 1)
	err := s.read(addr, buf, unprivileged)
	return buf[0], err
}

// Read16 reads one little-endian halfword.
func (s *Sparse) Read16(addr uint32, unprivileged bool) (uint16, error) {
	buf := make([]byte, 2)
	err := s.read(addr, buf, unprivileged)
	return binary.LittleEndian.Uint16(buf), err
}

// Read32 reads one little-endian word.
func (s *Sparse) Read32(addr uint32, unprivileged bool) (uint32, error) {
	buf := make([]byte, 4)
	err := s.read(addr, buf, unprivileged)
	return binary.LittleEndian.Uint32(buf), err
}

// Write8 writes one byte.
func (s *Sparse) Write8(addr uint32, val uint8, unprivileged bool) error {
	return s.write(addr, []byte{val}, unprivileged)
}

// Write16 writes one little-endian halfword.
func (s *Sparse) Write16(addr uint32, val uint16, unprivileged bool) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, val)
	return s.write(addr, buf, unprivileged)
}

// Write32 writes one little-endian word.
func (s *Sparse) Write32(addr uint32, val uint32, unprivileged bool) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, val)
	return s.write(addr, buf, unprivileged)
}

// Bytes returns a copy of n bytes starting at addr, unwritten locations read
// as zero.
func (s *Sparse) Bytes(addr uint32, n int) (buf []byte) {
	buf = make([]byte, n)
	_ = s.read(addr, buf, false)
	return
}

// Len returns the number of bytes ever written.
func (s *Sparse) Len() int {
	return len(s.mem)
}
