// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"fmt"
)

// MaxBoxes is the maximum number of boxes, including box 0.
const MaxBoxes = 24

// State represents the box enumeration lifecycle.
type State int

const (
	// Enumerating is the boot phase where boxes are being added and the
	// total is not yet known.
	Enumerating State = iota
	// Finalized is the terminal phase, box ids are fixed.
	Finalized
)

func (s State) String() string {
	if s == Finalized {
		return "finalized"
	}

	return "enumerating"
}

// Registry tracks box count and enumeration state.
type Registry struct {
	state State
	count uint32
	names [MaxBoxes]string
}

// Valid returns whether id is a valid box id, during enumeration any id
// below MaxBoxes is valid while afterwards only enumerated ids are.
func (r *Registry) Valid(id int) bool {
	if id < 0 {
		return false
	}

	if r.state == Finalized {
		return uint32(id) < r.count
	}

	return id < MaxBoxes
}

// check validates a box count without ending enumeration, box 0 is always
// counted.
func (r *Registry) check(count uint32) error {
	switch {
	case r.state == Finalized:
		return ErrFinalized
	case count == 0:
		return fmt.Errorf("%w, box 0 must be counted", ErrInvalidBox)
	case count >= MaxBoxes:
		return fmt.Errorf("%w, %d >= %d", ErrTooManyBoxes, count, MaxBoxes)
	}

	return nil
}

// Finalize ends box enumeration, on error the registry is left unchanged.
func (r *Registry) Finalize(count uint32) (err error) {
	if err = r.check(count); err != nil {
		return
	}

	r.count = count
	r.state = Finalized

	return nil
}

// State returns the enumeration state.
func (r *Registry) State() State {
	return r.state
}

// Count returns the number of boxes, valid only once Finalized.
func (r *Registry) Count() uint32 {
	return r.count
}

// Counted returns whether enumeration is complete.
func (r *Registry) Counted() bool {
	return r.state == Finalized
}

// SetNamespace assigns the namespace of a box during enumeration.
func (r *Registry) SetNamespace(id int, name string) error {
	if r.state == Finalized {
		return ErrFinalized
	}

	if !r.Valid(id) {
		return fmt.Errorf("%w (%d)", ErrInvalidBox, id)
	}

	r.names[id] = name

	return nil
}

// Namespace returns the namespace of a box, it fails when the name does not
// fit a caller buffer of the given length including the string terminator.
func (r *Registry) Namespace(id int, length int) (string, error) {
	if !r.Valid(id) {
		return "", fmt.Errorf("%w (%d)", ErrInvalidBox, id)
	}

	name := r.names[id]

	if len(name) >= length {
		return "", fmt.Errorf("%w, %d bytes required", ErrNamespace, len(name)+1)
	}

	return name, nil
}
