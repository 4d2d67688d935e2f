// Package linebus implements the line-bus daemon's core: an N-to-N text-line
// fan-out over Unix domain socket connections, with prefix-filtered
// subscriptions, xoff/xon backpressure, precious-client death propagation,
// and round-robin delivery fairness.
//
// It is a goroutine/channel rendering of io2/linebusd_main.c's single
// pselect-driven main loop: each client connection gets its own reader and
// writer goroutine instead of being polled by hand, and a single dispatcher
// goroutine serializes all broadcast decisions so line ordering within one
// publisher is still exactly preserved, matching the original's sequential,
// single-threaded dispatch.
package linebus

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/avalonsail/actuatorcore/internal/ratelog"
)

// outboxSize bounds how many undelivered lines a client's writer goroutine
// will buffer before the dispatcher considers a send "overflowed" and drops
// the message, incrementing that client's drop counter.
const outboxSize = 256

// preciousDropLimit is the drop count at which a precious client is
// treated as hung and the client (and therefore the whole bus) is torn down.
const preciousDropLimit = 100

// dropLogInterval logs one warning every this many drops for a given client,
// per the "log every 10 drops" requirement.
const dropLogInterval = 10

// Filter is a refcounted prefix subscription, shared by every client that
// has subscribed to the same prefix string. The refcounting scheme mirrors
// linebusd_main.c's new_filter/free_filters: the first subscriber leaves the
// refcount at zero, each additional subscriber increments it, and each
// unsubscribe (client disconnect) decrements it; a filter is reaped once its
// refcount goes negative.
type Filter struct {
	Prefix   string
	RefCount int
}

// Client is one peer connected to the bus.
type Client struct {
	id   uint64
	conn net.Conn

	bus *Bus

	mu       sync.Mutex
	name     string
	xoff     bool
	precious bool
	dropped  int
	filters  []*Filter // may contain the same *Filter more than once

	out    chan string
	closed chan struct{}
	once   sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Client) displayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name == "" {
		return "<anon>"
	}
	return c.name
}

// ClientSnapshot is a point-in-time, read-only view of one client's state,
// used for the `$stats` bus command and the diagnostic HTTP surface.
type ClientSnapshot struct {
	ID       uint64
	Name     string
	XOff     bool
	Precious bool
	Dropped  int
	Filters  []string
}

// Bus is the line-bus daemon's in-process state: the client set, the shared
// filter table, and the dispatcher that serializes broadcast decisions.
type Bus struct {
	log *ratelog.Logger

	cmdChar byte

	mu      sync.Mutex
	clients map[uint64]*Client
	order   []uint64 // client ids in round-robin order; rotated on each dispatch
	filters map[string]*Filter
	nextID  uint64

	incoming chan inboundMsg

	fatal    chan error
	fatalErr error
	fatalMu  sync.Mutex

	ln net.Listener
}

type inboundMsg struct {
	from *Client
	line string
}

// New constructs a Bus that will dispatch control lines beginning with
// cmdChar (default '$' if zero) as bus commands.
func New(logger *ratelog.Logger, cmdChar byte) *Bus {
	if cmdChar == 0 {
		cmdChar = '$'
	}
	return &Bus{
		log:      logger,
		cmdChar:  cmdChar,
		clients:  make(map[uint64]*Client),
		filters:  make(map[string]*Filter),
		incoming: make(chan inboundMsg, 4096),
		fatal:    make(chan error, 1),
	}
}

// Serve listens on the given Unix domain socket path and runs the dispatcher
// until a precious client is lost (Close alone does not make it return
// unless one of the clients it closes is precious), at which point it
// returns the fatal error (the caller, typically cmd/linebusd's main, should
// treat a non-nil return as cause to exit non-zero so the supervisor
// restarts the whole bus and its clients).
func (b *Bus) Serve(sockPath string) error {
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", sockPath, err)
	}
	b.ln = ln

	go b.acceptLoop()
	go b.dispatchLoop()

	return <-b.fatal
}

// Close stops accepting new connections and closes all clients.
func (b *Bus) Close() error {
	if b.ln != nil {
		b.ln.Close()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		c.close()
	}
	return nil
}

func (b *Bus) acceptLoop() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.addClient(conn)
	}
}

func (b *Bus) addClient(conn net.Conn) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	c := &Client{
		id:     id,
		conn:   conn,
		bus:    b,
		out:    make(chan string, outboxSize),
		closed: make(chan struct{}),
	}
	b.clients[id] = c
	b.order = append(b.order, id)
	b.mu.Unlock()

	b.log.Infof("new client %d", id)

	go b.readLoop(c)
	go writeLoop(c)
}

func writeLoop(c *Client) {
	for {
		select {
		case line, ok := <-c.out:
			if !ok {
				return
			}
			if _, err := c.conn.Write([]byte(line)); err != nil {
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (b *Bus) readLoop(c *Client) {
	defer b.removeClient(c)
	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 1024), 1024)
	for sc.Scan() {
		b.incoming <- inboundMsg{from: c, line: sc.Text()}
	}
}

func (b *Bus) removeClient(c *Client) {
	c.close()

	b.mu.Lock()
	delete(b.clients, c.id)
	for i, id := range b.order {
		if id == c.id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	c.mu.Lock()
	wasPrecious := c.precious
	name := c.name
	for _, f := range c.filters {
		f.RefCount--
	}
	b.reapFiltersLocked()
	c.mu.Unlock()
	b.mu.Unlock()

	if wasPrecious {
		b.log.Warningf("lost precious client %q, shutting down bus", name)
		b.failFatal(fmt.Errorf("precious client %q disconnected", name))
	} else {
		b.log.Noticef("closed client %d (%q)", c.id, name)
	}
}

// reapFiltersLocked removes filters with a negative refcount. Callers must
// hold b.mu.
func (b *Bus) reapFiltersLocked() {
	for prefix, f := range b.filters {
		if f.RefCount < 0 {
			delete(b.filters, prefix)
		}
	}
}

func (b *Bus) failFatal(err error) {
	b.fatalMu.Lock()
	defer b.fatalMu.Unlock()
	if b.fatalErr != nil {
		return
	}
	b.fatalErr = err
	select {
	case b.fatal <- err:
	default:
	}
}

func (b *Bus) dispatchLoop() {
	for msg := range b.incoming {
		b.dispatch(msg.from, msg.line)
	}
}

func (b *Bus) dispatch(from *Client, line string) {
	if line == "" {
		return
	}
	if line[0] == b.cmdChar {
		b.handleCmd(from, line[1:])
		return
	}
	b.broadcast(from, line)
}

func (b *Bus) handleCmd(from *Client, cmd string) {
	switch {
	case strings.HasPrefix(cmd, "name "):
		from.mu.Lock()
		from.name = strings.TrimSpace(cmd[5:])
		from.mu.Unlock()
	case strings.HasPrefix(cmd, "kill "):
		target := strings.TrimSpace(cmd[5:])
		b.mu.Lock()
		for _, c := range b.clients {
			c.mu.Lock()
			match := c.name == target
			c.mu.Unlock()
			if match {
				c.close()
			}
		}
		b.mu.Unlock()
	case cmd == "xoff":
		from.mu.Lock()
		from.xoff = true
		from.mu.Unlock()
	case cmd == "xon":
		from.mu.Lock()
		from.xoff = false
		from.mu.Unlock()
	case cmd == "precious":
		from.mu.Lock()
		from.precious = true
		from.mu.Unlock()
	case cmd == "stats":
		for _, snap := range b.Snapshot() {
			from.trySend(fmt.Sprintf("%d %s dropped: %d\n", snap.ID, displayOf(snap.Name), snap.Dropped))
		}
	case strings.HasPrefix(cmd, "subscribe "):
		prefix := strings.TrimSpace(cmd[10:])
		b.mu.Lock()
		f, ok := b.filters[prefix]
		if !ok {
			f = &Filter{Prefix: prefix}
			b.filters[prefix] = f
		} else {
			f.RefCount++
		}
		b.mu.Unlock()
		from.mu.Lock()
		from.filters = append(from.filters, f)
		from.mu.Unlock()
	}
}

func displayOf(name string) string {
	if name == "" {
		return "<anon>"
	}
	return name
}

// trySend attempts a non-blocking delivery to this client, returning false
// (and leaving the drop bookkeeping to the caller) if the outbox is full.
func (c *Client) trySend(line string) bool {
	select {
	case c.out <- line:
		return true
	default:
		return false
	}
}

func filterHit(filters []*Filter, line string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if strings.HasPrefix(line, f.Prefix) {
			return true
		}
	}
	return false
}

// broadcast delivers line to every client but from, skipping xoff'd clients
// and those whose filters don't match, then rotates from to the tail of the
// round-robin order: the Go analogue of moving the just-serviced client to
// the end of linebusd_main.c's client list so a chatty client cannot starve
// its neighbors.
func (b *Bus) broadcast(from *Client, line string) {
	withNL := line + "\n"

	b.mu.Lock()
	recipients := make([]*Client, 0, len(b.clients))
	for _, id := range b.order {
		if id == from.id {
			continue
		}
		recipients = append(recipients, b.clients[id])
	}
	b.mu.Unlock()

	for _, c := range recipients {
		c.mu.Lock()
		xoff := c.xoff
		filters := append([]*Filter(nil), c.filters...)
		c.mu.Unlock()

		if xoff {
			continue
		}
		if !filterHit(filters, line) {
			continue
		}

		if c.trySend(withNL) {
			c.mu.Lock()
			c.dropped >>= 1
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		c.dropped++
		dropped := c.dropped
		precious := c.precious
		name := c.name
		c.mu.Unlock()

		if dropped%dropLogInterval == 0 {
			b.log.Warningf("client %s (%d) dropped %d messages", displayOf(name), c.id, dropped)
		}
		if precious && dropped > preciousDropLimit {
			b.log.Warningf("assuming precious client %s (%d) is hung", displayOf(name), c.id)
			c.close()
		}
	}

	b.rotateToTail(from.id)
}

func (b *Bus) rotateToTail(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cid := range b.order {
		if cid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			b.order = append(b.order, id)
			return
		}
	}
}

// Snapshot returns a stable, read-only copy of every connected client's
// state, for $stats and for internal/diag's /clients endpoint.
func (b *Bus) Snapshot() []ClientSnapshot {
	b.mu.Lock()
	ids := append([]uint64(nil), b.order...)
	clients := make([]*Client, 0, len(ids))
	for _, id := range ids {
		clients = append(clients, b.clients[id])
	}
	b.mu.Unlock()

	out := make([]ClientSnapshot, 0, len(clients))
	for _, c := range clients {
		c.mu.Lock()
		snap := ClientSnapshot{
			ID:       c.id,
			Name:     c.name,
			XOff:     c.xoff,
			Precious: c.precious,
			Dropped:  c.dropped,
		}
		for _, f := range c.filters {
			snap.Filters = append(snap.Filters, f.Prefix)
		}
		c.mu.Unlock()
		out = append(out, snap)
	}
	return out
}

// ClientCount reports how many clients are currently connected.
func (b *Bus) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish injects a line onto the bus as if it had been sent by an internal,
// unfiltered pseudo-client (id ^uint64(0), never delivered to itself); used by
// in-process publishers such as the diagnostic surface or test harnesses
// that want to inject traffic without opening a real socket.
func (b *Bus) Publish(line string) {
	internal := &Client{id: ^uint64(0)}
	b.broadcastNoRotate(internal, line)
}

func (b *Bus) broadcastNoRotate(from *Client, line string) {
	withNL := line + "\n"
	b.mu.Lock()
	recipients := make([]*Client, 0, len(b.clients))
	for _, id := range b.order {
		recipients = append(recipients, b.clients[id])
	}
	b.mu.Unlock()
	for _, c := range recipients {
		if c.id == from.id {
			continue
		}
		c.mu.Lock()
		xoff := c.xoff
		filters := append([]*Filter(nil), c.filters...)
		c.mu.Unlock()
		if xoff || !filterHit(filters, line) {
			continue
		}
		c.trySend(withNL)
	}
}
