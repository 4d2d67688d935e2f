// Package eposcom implements the serial command multiplexer's line-side
// logic: probing the attached devices for their node-ids at startup, and
// translating each inbound GET/SET line into a frame.Transport transaction
// and back into an ACK/ERR line.
//
// It is a Go translation of io2/eposcom_main.c's main(): the startup probe
// loop over node-ids 1..9 issuing a 0x1018[4] (serial number) read, and the
// per-line dispatch loop that picks raw single-shot transport calls or the
// sequencer/wait_object pair depending on the -r flag, ticking a per-node
// timer around every transaction.
package eposcom

import (
	"context"
	"fmt"
	"time"

	"github.com/avalonsail/actuatorcore/internal/ebus"
	"github.com/avalonsail/actuatorcore/internal/epos/frame"
	"github.com/avalonsail/actuatorcore/internal/epos/sequence"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
	"github.com/avalonsail/actuatorcore/internal/timer"
)

// MaxNodeID bounds the startup probe to node-ids 1..9, matching
// eposcom_main.c's nodeidmap[10] ("we don't probe beyond number 9").
const MaxNodeID = 9

// serialNumberIndex/serialNumberSubindex is the object-dictionary address eposcom reads from every
// candidate node-id during startup probing.
const (
	serialNumberIndex    = 0x1018
	serialNumberSubindex = 4
)

// slowTransactionWarnUs is the per-transaction duration above which eposcom
// logs a warning, matching eposcom_main.c's hardcoded 100ms check.
const slowTransactionWarnUs = 100 * 1000

// Sink is the outbound line transport Mux writes $subscribe control lines
// and ACK/ERR reply lines to.
type Sink interface {
	Send(line string) error
}

// Prober performs the single read transaction the startup probe needs.
type Prober interface {
	ReadObject(nodeID byte, index uint16, subindex byte) (uint32, error)
}

// Probe reads the serial-number register (0x1018[4]) from every node-id in
// 1..MaxNodeID, returning the serial->nodeid map for every node that
// answered and announcing each discovered serial with "$subscribe
// 0x<serial>" on sink. It mirrors eposcom_main.c's probe loop, including the
// "crash if nothing answers" contract (the caller, typically cmd/eposcom's
// main, should treat an empty map as fatal).
func Probe(p Prober, sink Sink, log *ratelog.Logger) map[uint32]byte {
	found := make(map[uint32]byte)
	for nodeID := byte(1); nodeID <= MaxNodeID; nodeID++ {
		serial, err := p.ReadObject(nodeID, serialNumberIndex, serialNumberSubindex)
		if err != nil {
			continue
		}
		found[serial] = nodeID
		log.Infof("nodeid %d serial 0x%x", nodeID, serial)
		sink.Send(fmt.Sprintf("$subscribe 0x%x", serial))
	}
	return found
}

// Mux dispatches GET/SET lines addressed to any of the probed devices
// against a frame.Transport, in either raw (single-shot read_object/
// write_object) or default (wait_object/sequencer) mode.
type Mux struct {
	transport *frame.Transport
	nodeOf    map[uint32]byte

	Raw           bool
	WithTimestamp bool
	TimeoutMs     int

	log *ratelog.Logger

	timers map[byte]*timer.Timer
}

// New returns a Mux serving the devices in nodeOf (serial -> nodeid, as
// returned by Probe) over t.
func New(t *frame.Transport, nodeOf map[uint32]byte, log *ratelog.Logger) *Mux {
	timers := make(map[byte]*timer.Timer, len(nodeOf))
	for _, nodeID := range nodeOf {
		timers[nodeID] = &timer.Timer{}
	}
	return &Mux{
		transport: t,
		nodeOf:    nodeOf,
		TimeoutMs: 1000,
		log:       log,
		timers:    timers,
	}
}

// HandleLine processes one inbound request line. It returns the rendered
// ACK/ERR reply line and true if the line named a device this Mux serves;
// it returns false (and no line) for anything else, including lines this
// Mux simply doesn't own (another device's serial) or can't parse.
func (m *Mux) HandleLine(line string) (string, bool) {
	l, ok := ebus.ParseRequest(line)
	if !ok {
		m.log.Debugf("unparseable line %q", line)
		return "", false
	}

	nodeID, ok := m.nodeOf[l.Serial]
	if !ok {
		return "", false
	}

	tm := m.timers[nodeID]
	tm.TickNow(true)

	var value uint32
	var err error
	switch l.Op {
	case ebus.OpSet:
		value = uint32(l.Value)
		err = m.doSet(nodeID, l.Index, l.Subindex, value)
	case ebus.OpGet:
		value, err = m.doGet(nodeID, l.Index, l.Subindex)
	default:
		return "", false
	}

	if d := tm.TickNow(false); d.Microseconds() > int64(slowTransactionWarnUs) {
		m.log.Warningf("slow epos response on serial:0x%x (%v)", l.Serial, d)
	}

	us := uint64(0)
	if l.HasUs {
		us = l.Us
	}

	if err != nil {
		code := wireCode(err)
		return ebus.FormatErr(l.Serial, l.Index, l.Subindex, int32(code), us, m.WithTimestamp), true
	}
	return ebus.FormatAck(l.Serial, l.Index, l.Subindex, int32(value), us, m.WithTimestamp), true
}

func (m *Mux) doSet(nodeID byte, index uint16, subindex byte, value uint32) error {
	if m.Raw {
		return m.transport.WriteObject(nodeID, index, subindex, value)
	}
	return sequence.Run(context.Background(), m.transport, nodeID, []sequence.Cmd{
		{Index: index, Subindex: subindex, Value: value},
	})
}

func (m *Mux) doGet(nodeID byte, index uint16, subindex byte) (uint32, error) {
	if m.Raw {
		return m.transport.ReadObject(nodeID, index, subindex)
	}
	timeoutMs := m.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 1000
	}
	v, err := sequence.WaitObject(context.Background(), m.transport, nodeID, index, subindex, 0, 0, time.Duration(timeoutMs)*time.Millisecond)
	return v, err
}

func wireCode(err error) uint32 {
	if te, ok := err.(*frame.TransportError); ok {
		return te.WireCode()
	}
	return 0x08100010 // generic bad-response fallback for an un-typed error
}

// PrintStats logs per-node timer statistics, the SIGUSR1 handler's
// equivalent of timer_stats' syslog dump.
func (m *Mux) PrintStats() {
	for serial, nodeID := range m.nodeOf {
		tm := m.timers[nodeID]
		s, ok := tm.Stats()
		if !ok {
			m.log.Infof("serial 0x%x count:%d", serial, s.Count)
			continue
		}
		m.log.Infof("serial 0x%x count:%d f(Hz):%.3f dc:%.1f%% period(ms):%.3f/%.3f/%.3f run(ms):%.3f/%.3f/%.3f",
			serial, s.Count, s.FrequencyHz, s.DutyCycle*100,
			msOf(s.PeriodMin), msOf(s.PeriodAvg), msOf(s.PeriodMax),
			msOf(s.RunMin), msOf(s.RunAvg), msOf(s.RunMax))
	}
}

func msOf(d interface{ Microseconds() int64 }) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// NodeStat is a point-in-time snapshot of one node-id's transaction timing,
// the JSON-friendly counterpart of PrintStats' log line, for the diagnostic
// HTTP surface.
type NodeStat struct {
	Serial      uint32  `json:"serial"`
	NodeID      byte    `json:"node_id"`
	Count       int64   `json:"count"`
	Running     bool    `json:"running"`
	FrequencyHz float64 `json:"frequency_hz,omitempty"`
	DutyCycle   float64 `json:"duty_cycle,omitempty"`
	PeriodAvgMs float64 `json:"period_avg_ms,omitempty"`
	RunAvgMs    float64 `json:"run_avg_ms,omitempty"`
}

// Stats returns a snapshot of every probed node's transaction timer, for
// mounting on the read-only diagnostic HTTP surface.
func (m *Mux) Stats() []NodeStat {
	out := make([]NodeStat, 0, len(m.nodeOf))
	for serial, nodeID := range m.nodeOf {
		tm := m.timers[nodeID]
		s, ok := tm.Stats()
		stat := NodeStat{Serial: serial, NodeID: nodeID, Count: s.Count, Running: tm.Running()}
		if ok {
			stat.FrequencyHz = s.FrequencyHz
			stat.DutyCycle = s.DutyCycle
			stat.PeriodAvgMs = msOf(s.PeriodAvg)
			stat.RunAvgMs = msOf(s.RunAvg)
		}
		out = append(out, stat)
	}
	return out
}
