// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Console represents the Security Monitor SSH console, a single session at
// a time inspects the vMPU and receives box output in place of the serial
// console.
type Console struct {
	// Banner is the login welcome banner
	Banner string
	// Status returns the vMPU state shown at login
	Status func() string
	// Help returns the `help` command output
	Help func(*term.Terminal) string
	// Handler is the terminal command handler
	Handler func(*term.Terminal, string) error
	// Listener is the network listener
	Listener net.Listener

	mu      sync.Mutex
	session *term.Terminal
}

// Putc buffers a box output character towards the attached session, or
// towards the serial console when no session is attached.
func (c *Console) Putc(box int, ch byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		BufferedTermLog(ch, box, c.session)
	} else {
		BufferedStdoutLog(ch, box)
	}
}

// attach makes t the box output session, a previous session stops
// receiving box output.
func (c *Console) attach(t *term.Terminal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = t
}

func (c *Console) detach(t *term.Terminal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == t {
		c.session = nil
	}
}

// serve runs the command loop of a session until it is closed.
func (c *Console) serve(t *term.Terminal) {
	t.SetPrompt(string(t.Escape.Red) + "> " + string(t.Escape.Reset))

	fmt.Fprintf(t, "%s\n", c.Banner)

	if c.Status != nil {
		fmt.Fprintf(t, "%s\n", c.Status())
	}

	if c.Help != nil {
		fmt.Fprintf(t, "%s\n", c.Help(t))
	}

	for {
		line, err := t.ReadLine()

		if err == io.EOF {
			return
		}

		if err != nil {
			log.Printf("readline error: %v", err)
			continue
		}

		if err = c.Handler(t, line); err == io.EOF {
			return
		}

		if err != nil {
			fmt.Fprintf(t, "error: %v\n", err)
		}
	}
}

// ptySize parses the terminal dimensions of a pty-req payload
// (p10, 6.2. Requesting a Pseudo-Terminal, RFC4254).
func ptySize(payload []byte) (w int, h int, ok bool) {
	if len(payload) < 4 {
		return
	}

	off := 4 + int(binary.BigEndian.Uint32(payload))

	if off < 4 || len(payload) < off+8 {
		return
	}

	return windowSize(payload[off:])
}

// windowSize parses the terminal dimensions of a window-change payload
// (p10, 6.7. Window Dimension Change Message, RFC4254).
func windowSize(payload []byte) (w int, h int, ok bool) {
	if len(payload) < 8 {
		return
	}

	w = int(binary.BigEndian.Uint32(payload))
	h = int(binary.BigEndian.Uint32(payload[4:]))

	return w, h, true
}

func (c *Console) handleRequests(t *term.Terminal, requests <-chan *ssh.Request) {
	for req := range requests {
		var w, h int
		var ok bool

		switch req.Type {
		case "shell":
			// do not accept payload commands
			if len(req.Payload) == 0 {
				_ = req.Reply(true, nil)
			}
			continue
		case "pty-req":
			w, h, ok = ptySize(req.Payload)
		case "window-change":
			w, h, ok = windowSize(req.Payload)
		default:
			continue
		}

		if !ok {
			log.Printf("malformed %s request", req.Type)
			continue
		}

		_ = t.SetSize(w, h)

		if req.WantReply {
			_ = req.Reply(true, nil)
		}
	}
}

func (c *Console) handleChannel(newChannel ssh.NewChannel) {
	if t := newChannel.ChannelType(); t != "session" {
		_ = newChannel.Reject(ssh.UnknownChannelType, fmt.Sprintf("unknown channel type: %s", t))
		return
	}

	conn, requests, err := newChannel.Accept()

	if err != nil {
		log.Printf("error accepting channel, %v", err)
		return
	}

	t := term.NewTerminal(conn, "")

	go c.handleRequests(t, requests)

	go func() {
		defer conn.Close()

		c.attach(t)
		defer c.detach(t)

		c.serve(t)

		log.Printf("SM closing ssh session")
	}()
}

func (c *Console) listen(srv *ssh.ServerConfig) {
	for {
		conn, err := c.Listener.Accept()

		if err != nil {
			log.Printf("error accepting connection, %v", err)
			continue
		}

		sshConn, chans, reqs, err := ssh.NewServerConn(conn, srv)

		if err != nil {
			log.Printf("error accepting handshake, %v", err)
			continue
		}

		log.Printf("SM new ssh connection from %s (%s)", sshConn.RemoteAddr(), sshConn.ClientVersion())

		go ssh.DiscardRequests(reqs)

		go func() {
			for newChannel := range chans {
				c.handleChannel(newChannel)
			}
		}()
	}
}

// Start instantiates an SSH console on the console listener, with an
// ephemeral host key.
func (c *Console) Start() (err error) {
	if c.Listener == nil || c.Handler == nil {
		return errors.New("missing listener or handler")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	if err != nil {
		return fmt.Errorf("private key generation error, %v", err)
	}

	signer, err := ssh.NewSignerFromKey(key)

	if err != nil {
		return fmt.Errorf("key conversion error, %v", err)
	}

	srv := &ssh.ServerConfig{
		NoClientAuth: true,
	}

	srv.AddHostKey(signer)

	log.Printf("SM starting ssh server (%s)", ssh.FingerprintSHA256(signer.PublicKey()))

	go c.listen(srv)

	return
}
