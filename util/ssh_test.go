// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/term"
)

func newTestTerminal(input string) (*term.Terminal, *bytes.Buffer) {
	out := new(bytes.Buffer)

	conn := struct {
		io.Reader
		io.Writer
	}{
		Reader: strings.NewReader(input),
		Writer: out,
	}

	return term.NewTerminal(conn, ""), out
}

func TestPtySize(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		w, h    int
		ok      bool
	}{
		{
			name:    "xterm",
			payload: []byte{0, 0, 0, 5, 'x', 't', 'e', 'r', 'm', 0, 0, 0, 80, 0, 0, 0, 24, 0, 0, 0, 0},
			w:       80,
			h:       24,
			ok:      true,
		},
		{
			name:    "empty term",
			payload: []byte{0, 0, 0, 0, 0, 0, 0, 132, 0, 0, 0, 43},
			w:       132,
			h:       43,
			ok:      true,
		},
		{"short", []byte{0, 0, 0}, 0, 0, false},
		{"term overflow", []byte{0, 0, 0, 9, 'x', 't', 'e', 'r', 'm', 0, 0, 0, 80}, 0, 0, false},
		{"huge term", []byte{0xff, 0xff, 0xff, 0xf0, 0, 0, 0, 80, 0, 0, 0, 24}, 0, 0, false},
	}

	for _, tt := range tests {
		w, h, ok := ptySize(tt.payload)

		if w != tt.w || h != tt.h || ok != tt.ok {
			t.Errorf("%s: ptySize() = %d, %d, %v, want %d, %d, %v", tt.name, w, h, ok, tt.w, tt.h, tt.ok)
		}
	}

	if _, _, ok := windowSize([]byte{0, 0, 0, 80}); ok {
		t.Errorf("short window-change accepted")
	}
}

func TestConsolePutc(t *testing.T) {
	out := captureStdout(t)
	c := &Console{}

	for _, ch := range []byte("ok\n") {
		c.Putc(3, ch)
	}

	if got := out.String(); got != "ok\n" {
		t.Errorf("serial output %q, want %q", got, "ok\n")
	}

	tm, session := newTestTerminal("")
	c.attach(tm)

	for _, ch := range []byte("hi\n") {
		c.Putc(3, ch)
	}

	want := string(tm.Escape.Blue) + "hi\r\n" + string(tm.Escape.Reset)

	if diff := cmp.Diff(want, session.String()); diff != "" {
		t.Errorf("session output (-want +got):\n%s", diff)
	}

	// a stale session does not take output from the current one
	other, _ := newTestTerminal("")
	c.detach(other)
	c.detach(tm)

	for _, ch := range []byte("bye\n") {
		c.Putc(3, ch)
	}

	if got := out.String(); got != "ok\nbye\n" {
		t.Errorf("serial output after detach %q", got)
	}
}

func TestConsoleServe(t *testing.T) {
	var lines []string

	c := &Console{
		Banner: "vMPU console",
		Status: func() string { return "state:finalized count:2 active:0" },
		Handler: func(_ *term.Terminal, line string) error {
			lines = append(lines, line)

			switch line {
			case "exit":
				return io.EOF
			case "bogus":
				return errors.New("unknown command")
			}

			return nil
		},
	}

	tm, out := newTestTerminal("boxes\rbogus\rexit\rnever\r")
	c.serve(tm)

	if diff := cmp.Diff([]string{"boxes", "bogus", "exit"}, lines); diff != "" {
		t.Errorf("handled lines (-want +got):\n%s", diff)
	}

	for _, want := range []string{"vMPU console", "state:finalized count:2", "error: unknown command"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("session output does not contain %q\n%q", want, out.String())
		}
	}
}
