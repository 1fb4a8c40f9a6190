// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vmpu

import (
	"errors"
)

// Configuration errors, detected while boxes are enumerated, must prevent
// the monitor from running untrusted code.
var (
	ErrInvalidBox    = errors.New("invalid box id")
	ErrInvalidSize   = errors.New("invalid region size")
	ErrInvalidRegion = errors.New("invalid region")
	ErrInvalidLayout = errors.New("invalid memory layout")
	ErrOverlap       = errors.New("overlapping ACL")
	ErrFinalized     = errors.New("box enumeration already complete")
	ErrTooManyBoxes  = errors.New("box count exceeds maximum")
	ErrNamespace     = errors.New("namespace does not fit buffer")
	ErrOutOfMemory   = errors.New("box memory exhausted")
)

// ErrFaultNotHandled is wrapped by every fault escalation, the caller
// decides the fate of the faulting box.
var ErrFaultNotHandled = errors.New("fault not handled")
