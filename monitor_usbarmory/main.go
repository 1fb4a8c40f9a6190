// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"time"
	_ "unsafe"

	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/imx-usbnet"

	"github.com/usbarmory/vmpu/cmd"
	"github.com/usbarmory/vmpu/mem"
	"github.com/usbarmory/vmpu/monitor_usbarmory/internal"
	"github.com/usbarmory/vmpu/util"
)

const (
	sshPort = 22
	IP      = "10.0.0.1"
	MAC     = "1a:55:89:a2:69:41"
	hostMAC = "1a:55:89:a2:69:42"
)

//go:linkname ramStart runtime.ramStart
var ramStart uint32 = mem.RAMStart

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = mem.RAMSize

var banner = fmt.Sprintf("%s/%s (%s) • vMPU security monitor", runtime.GOOS, runtime.GOARCH, runtime.Version())

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	// Move DMA region to prevent box access.
	mem.Init()

	if imx6ul.Native {
		imx6ul.SetARMFreq(900)

		debugConsole, _ := usbarmory.DetectDebugAccessory(250 * time.Millisecond)
		<-debugConsole
	}

	log.Print(banner)

	if err := sandbox.Init(boxes, !imx6ul.Native); err != nil {
		log.Fatalf("SM could not initialize vMPU, %v", err)
	}

	cmd.VMPU = sandbox.VMPU
	cmd.Table = sandbox.Dispatcher.Table
}

func main() {
	defer log.Printf("SM says goodbye")

	if !imx6ul.Native {
		if err := sandbox.Run(); err != nil {
			log.Fatal(err)
		}

		return
	}

	iface, err := usbnet.Init(IP, MAC, hostMAC, 1)

	if err != nil {
		log.Fatalf("SM could not initialize USB networking, %v", err)
	}

	iface.EnableICMP()

	listener, err := iface.ListenerTCP4(sshPort)

	if err != nil {
		log.Fatalf("SM could not initialize SSH listener, %v", err)
	}

	sandbox.Console = &util.Console{
		Banner:   banner,
		Status:   cmd.Status,
		Help:     cmd.Help,
		Handler:  cmd.Handle,
		Listener: listener,
	}

	if err = sandbox.Console.Start(); err != nil {
		log.Fatalf("SM could not initialize SSH server, %v", err)
	}

	usbarmory.USB1.Init()
	usbarmory.USB1.DeviceMode()
	usbarmory.USB1.Reset()

	// never returns
	usbarmory.USB1.Start(iface.NIC.Device)
}
