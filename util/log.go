// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/usbarmory/vmpu/vmpu"
)

var boxOutput [vmpu.MaxBoxes]bytes.Buffer

const outputLimit = 1024
const flushChr = 0x0a // \n

// stdout is the serial console sink.
var stdout io.Writer = os.Stdout

func boxBuffer(box int) *bytes.Buffer {
	if box < 0 || box >= vmpu.MaxBoxes {
		box = 0
	}

	return &boxOutput[box]
}

// boxColor returns the terminal color for box output, the security monitor
// (box 0) is always green.
func boxColor(box int, t *term.Terminal) []byte {
	colors := [][]byte{
		t.Escape.Red,
		t.Escape.Yellow,
		t.Escape.Blue,
		t.Escape.Magenta,
		t.Escape.Cyan,
	}

	if box <= 0 {
		return t.Escape.Green
	}

	return colors[(box-1)%len(colors)]
}

func flush(buf *bytes.Buffer, c byte) bool {
	buf.WriteByte(c)
	return c == flushChr || buf.Len() > outputLimit
}

// BufferedStdoutLog buffers box character output, flushing it to the serial
// console on newlines so that boxes and monitor logs do not interleave.
func BufferedStdoutLog(c byte, box int) {
	buf := boxBuffer(box)

	if flush(buf, c) {
		stdout.Write(buf.Bytes())
		buf.Reset()
	}
}

// BufferedTermLog is the BufferedStdoutLog equivalent for remote terminals,
// each box output is shown in its own color.
func BufferedTermLog(c byte, box int, t *term.Terminal) {
	buf := boxBuffer(box)

	if flush(buf, c) {
		t.Write(boxColor(box, t))
		t.Write(buf.Bytes())
		t.Write(t.Escape.Reset)

		buf.Reset()
	}
}
