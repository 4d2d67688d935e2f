// Package eposclient implements the register cache client used by every
// axis controller and monitor to talk to devices over the line bus: GET/SET
// operations that return synchronously whether a value is "ready now" or
// "not yet", backed by a PENDING/VALID/INVALID cache per (device, register).
//
// It is a Go translation of io/rudderd2/eposclient.c's Bus/Device/Register
// linked-list model into an owner holding maps, with the bus back-reference
// replaced by a plain field instead of a cyclic pointer.
package eposclient

import (
	"sync"
	"time"

	"github.com/avalonsail/actuatorcore/internal/ebus"
)

// State is a register cache entry's lifecycle state.
type State int

const (
	Invalid State = iota
	Pending
	Valid
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "INVALID"
	case Pending:
		return "PENDING"
	case Valid:
		return "VALID"
	default:
		return "UNKNOWN"
	}
}

// DefaultPendingTTL is how long a Pending entry may sit unanswered before
// expire() demotes it to Invalid, per the 1000ms invariant in §3.
const DefaultPendingTTL = 1000 * time.Millisecond

// DefaultValidTTL is how long a Valid entry remains trustworthy before
// expire() discards it, per the 5000ms invariant in §3. It is exposed as a
// per-Bus field (not a package constant) so an operator can tune brake
// reinforcement cadence on the sail controller without touching axis
// parameters.
const DefaultValidTTL = 5000 * time.Millisecond

type registerEntry struct {
	state    State
	value    uint32
	issuedAt time.Time
}

// Sink is the outbound line transport a Bus writes GET/SET requests to
// (typically a line-bus client connection's write side).
type Sink interface {
	Send(line string) error
}

// ReceiveOutcome classifies what a response line meant to the receiving
// Bus, replacing the original bus_receive's undocumented "1us latency"
// sentinel for "a reply belonging to some other client" with an explicit
// three-way result.
type ReceiveOutcome int

const (
	// ReceiveUnknown means the line didn't parse as a response, or named a
	// device/register this Bus has never opened.
	ReceiveUnknown ReceiveOutcome = iota
	// ReceiveMine means the line resolved a Pending entry this Bus itself
	// issued; the accompanying Duration is the measured round trip.
	ReceiveMine
	// ReceiveOther means the line was a well-formed response for a device
	// and register this Bus knows about, but no Pending request of ours
	// was outstanding for it (most likely another client's GET/SET).
	ReceiveOther
)

// Device owns the register cache for one device serial number.
type Device struct {
	Serial uint32

	bus *Bus

	mu        sync.Mutex
	registers map[uint32]*registerEntry
}

func (d *Device) entry(reg uint32) *registerEntry {
	e, ok := d.registers[reg]
	if !ok {
		e = &registerEntry{state: Invalid}
		d.registers[reg] = e
	}
	return e
}

// Get returns the cached value if Valid. If Invalid, it emits a GET request
// and transitions to Pending. If Pending, it returns false without
// transmitting anything (request already outstanding).
func (d *Device) Get(reg uint32) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entry(reg)

	switch e.state {
	case Valid:
		return e.value, true
	case Invalid:
		index, sub := ebus.SplitRegisterID(reg)
		line := ebus.FormatGet(d.Serial, index, sub, uint64(d.bus.now().UnixMicro()), d.bus.withTimestamp)
		if d.bus.sink.Send(line) == nil {
			e.state = Pending
			e.issuedAt = d.bus.now()
		}
		return 0, false
	default: // Pending
		return 0, false
	}
}

// Set requests reg be written to val. It returns true only if the cache
// already holds val as Valid (no bus traffic needed). A duplicate Set while
// Pending, whether or not it repeats the same value, is a deliberate no-op
// that avoids request storms.
func (d *Device) Set(reg uint32, val uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entry(reg)

	if e.state == Pending {
		return false
	}
	if e.state == Valid && e.value == val {
		return true
	}

	index, sub := ebus.SplitRegisterID(reg)
	line := ebus.FormatSet(d.Serial, index, sub, int32(val), uint64(d.bus.now().UnixMicro()), d.bus.withTimestamp)
	if d.bus.sink.Send(line) == nil {
		e.value = val
		e.state = Pending
		e.issuedAt = d.bus.now()
	} else {
		e.state = Invalid
	}
	return false
}

// Invalidate forces reg to Invalid so the next Get/Set always goes to the
// bus. Required before reissuing any control-word write.
func (d *Device) Invalidate(reg uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.registers[reg]; ok {
		e.state = Invalid
	}
}

// InvalidateAll forces every known register on this device to Invalid.
func (d *Device) InvalidateAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.registers {
		e.state = Invalid
	}
}

// Bus owns the set of Devices opened against one outbound sink.
type Bus struct {
	sink          Sink
	withTimestamp bool

	// ValidTTL is how long a Valid entry is trusted before Expire discards
	// it. Defaults to DefaultValidTTL; operators may lower it to change
	// how aggressively idempotent writes (like the sail brake-off output)
	// get reinforced.
	ValidTTL time.Duration
	// PendingTTL is how long a Pending entry may go unanswered before
	// Expire demotes it to Invalid.
	PendingTTL time.Duration

	// Now, if set, overrides time.Now for testing.
	Now func() time.Time

	mu      sync.Mutex
	devices map[uint32]*Device
}

// NewBus constructs a Bus that writes outbound request lines to sink,
// optionally stamping them with a timestamp.
func NewBus(sink Sink, withTimestamp bool) *Bus {
	return &Bus{
		sink:          sink,
		withTimestamp: withTimestamp,
		ValidTTL:      DefaultValidTTL,
		PendingTTL:    DefaultPendingTTL,
		devices:       make(map[uint32]*Device),
	}
}

func (b *Bus) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// OpenDevice returns the Device for serial, creating it on first use.
// Repeated opens for the same serial are idempotent.
func (b *Bus) OpenDevice(serial uint32) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.devices[serial]; ok {
		return d
	}
	d := &Device{Serial: serial, bus: b, registers: make(map[uint32]*registerEntry)}
	b.devices[serial] = d
	return d
}

// Receive parses a response line and, if it names a device this Bus has
// opened, updates that device's cache entry. When the line carries a T:<us>
// field, eposcom echoes the request's own issue timestamp on it, so a
// ReceiveMine latency is measured against that device-echoed timestamp
// rather than this Bus's local issuedAt bookkeeping, matching the original's
// preference for the wire timestamp when one is present.
func (b *Bus) Receive(line string) (ReceiveOutcome, time.Duration) {
	l, ok := ebus.ParseResponse(line)
	if !ok {
		return ReceiveUnknown, 0
	}

	b.mu.Lock()
	dev, ok := b.devices[l.Serial]
	b.mu.Unlock()
	if !ok {
		return ReceiveUnknown, 0
	}

	reg := ebus.RegisterID(l.Index, l.Subindex)

	dev.mu.Lock()
	defer dev.mu.Unlock()
	e, ok := dev.registers[reg]
	if !ok {
		return ReceiveUnknown, 0
	}

	wasPending := e.state == Pending
	issuedAt := e.issuedAt

	switch l.Op {
	case ebus.OpAck:
		e.value = uint32(l.Value)
		e.state = Valid
		e.issuedAt = b.now() // restart the Valid-staleness clock from arrival
	case ebus.OpErr:
		e.state = Invalid
	default:
		return ReceiveUnknown, 0
	}

	if wasPending {
		if l.HasUs {
			return ReceiveMine, b.now().Sub(time.UnixMicro(int64(l.Us)))
		}
		return ReceiveMine, b.now().Sub(issuedAt)
	}
	return ReceiveOther, 0
}

// Expire scans every device's registers, demoting Pending entries older
// than PendingTTL to Invalid (counted in the return value) and Valid
// entries older than ValidTTL to Invalid (not counted), matching
// bus_clocktick's guard against stale caches masking a desync.
func (b *Bus) Expire() int {
	now := b.now()
	count := 0

	b.mu.Lock()
	devices := make([]*Device, 0, len(b.devices))
	for _, d := range b.devices {
		devices = append(devices, d)
	}
	b.mu.Unlock()

	for _, d := range devices {
		d.mu.Lock()
		for _, e := range d.registers {
			switch e.state {
			case Pending:
				if now.Before(e.issuedAt) || now.Sub(e.issuedAt) > b.PendingTTL {
					e.state = Invalid
					count++
				}
			case Valid:
				if now.Sub(e.issuedAt) > b.ValidTTL {
					e.state = Invalid
				}
			}
		}
		d.mu.Unlock()
	}
	return count
}
