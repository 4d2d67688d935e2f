// Package busconn is the client-side counterpart to internal/linebus: the
// thin Unix-domain-socket connection every daemon other than linebusd itself
// dials to join the line bus, send request/control lines, and receive
// broadcast lines.
//
// It follows the same mutex-guarded-send-plus-background-reader shape as
// comm.RemoteDevice's Send/Recv pair, adapted from a serial port to a single
// persistent socket connection that is expected to live for the process's
// whole lifetime (no per-call reconnect; a dropped bus connection is fatal,
// per spec §7's "serial port lost / precious client lost" failure table).
package busconn

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
)

// Conn is one client connection to a linebusd Unix domain socket.
type Conn struct {
	conn net.Conn

	sendMu sync.Mutex

	lines chan string
	done  chan struct{}
	err   error
	errMu sync.Mutex
}

// Dial connects to the line bus listening on sockPath and starts the
// background reader. The returned Conn's Lines channel is closed when the
// connection drops; callers should treat that as fatal (see package doc).
func Dial(sockPath string) (*Conn, error) {
	nc, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("dial line bus %s: %w", sockPath, err)
	}
	c := &Conn{
		conn:  nc,
		lines: make(chan string, 1024),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.lines)
	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 1024), 64*1024)
	for sc.Scan() {
		c.lines <- sc.Text()
	}
	c.errMu.Lock()
	c.err = sc.Err()
	c.errMu.Unlock()
	close(c.done)
}

// Err returns the reason the read loop stopped, once Lines has been closed;
// nil means a clean EOF (peer closed the socket).
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Lines returns the channel of broadcast lines received from the bus, in
// arrival order. The channel is closed when the connection is lost.
func (c *Conn) Lines() <-chan string { return c.lines }

// Send writes line to the bus, appending a trailing newline if absent. It
// satisfies eposclient.Sink so a Conn can be used directly as a Bus's
// outbound sink.
func (c *Conn) Send(line string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := c.conn.Write([]byte(line))
	return err
}

// Name sets this connection's diagnostic name via "$name <id>".
func (c *Conn) Name(id string) error { return c.Send("$name " + id) }

// Subscribe adds a prefix filter via "$subscribe <prefix>".
func (c *Conn) Subscribe(prefix string) error { return c.Send("$subscribe " + prefix) }

// XOff stops delivery of broadcasts to this connection.
func (c *Conn) XOff() error { return c.Send("$xoff") }

// XOn resumes delivery of broadcasts to this connection.
func (c *Conn) XOn() error { return c.Send("$xon") }

// Precious marks this connection as precious: if it disconnects, or
// accumulates too many dropped messages, the whole bus process exits.
func (c *Conn) Precious() error { return c.Send("$precious") }

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.conn.Close() }
