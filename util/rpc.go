// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

// SVCRequest represents a supervisor call forwarded by a box over RPC, for
// boxes which cannot issue Thumb SVC instructions directly.
type SVCRequest struct {
	// Imm is the SVC immediate (class and index)
	Imm uint8
	// Args holds r0-r3
	Args [4]uint32
}
