// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	_ "embed"

	"golang.org/x/term"

	"github.com/usbarmory/vmpu/cmd"
	"github.com/usbarmory/vmpu/monitor_usbarmory/internal"
)

// This example embeds the box ELF binaries within the Security Monitor
// executable, using Go embed package.

//go:embed assets/box_client.elf
var clientELF []byte

// virtual interrupt line owned by the client box
const clientIRQ = 10

var boxes = []sandbox.Box{
	{
		Name: "client",
		ELF:  clientELF,
		IRQs: []sandbox.IRQ{
			{Number: clientIRQ},
		},
	},
}

func init() {
	cmd.Add(cmd.Cmd{
		Name: "run",
		Help: "run all boxes",
		Fn:   runCmd,
	})
}

func runCmd(_ *term.Terminal, _ []string) (string, error) {
	return "", sandbox.Run()
}
