// Package skew implements the skew computer: it interleaves sail motor
// CURRPOS samples around a BMMH absolute-angle sample to estimate the
// mechanical slip between the sail winch's own encoder and the boom's true
// heading, and emits "skew:" lines for the sail controller to compensate
// with.
//
// It is a Go translation of io/skewmon_main.c's main loop: a 2-slot ring of
// the last two Sail CURRPOS samples bracketing the most recent BMMH sample,
// linear interpolation between them at the BMMH sample's timestamp, and a
// proactive re-measurement burst once the last report goes stale.
package skew

import (
	"math"
	"time"

	"github.com/avalonsail/actuatorcore/internal/axis"
	"github.com/avalonsail/actuatorcore/internal/ebus"
	"github.com/avalonsail/actuatorcore/internal/rudderproto"
)

// BmmhBiasDeg is the BMMH sensor's reported angle when the boom is truly at
// zero, per skewmon_main.c's BMMH_BIAS_DEG.
const BmmhBiasDeg = 3.25

// ReportTimeout forces a new measurement if the last report is this old,
// per skewmon_main.c's REPORT_TIMEOUT_US.
const ReportTimeout = 8 * time.Second

// MotorMaxInterval bounds how far apart the two bracketing Sail samples may
// be for interpolation to be trusted, per MOTOR_MAX_INTERVAL_US.
const MotorMaxInterval = 250 * time.Millisecond

// Sink is the outbound line transport the computer writes GET requests and
// skew: lines to.
type Sink interface {
	Send(line string) error
}

// Computer tracks the last two Sail CURRPOS samples and the last BMMH
// sample, producing an interpolated skew measurement when a BMMH sample
// lands between them, at most once per ReportTimeout/4.
type Computer struct {
	Sink          Sink
	WithTimestamp bool

	// Now, if set, overrides time.Now for testing.
	Now func() time.Time

	mc             int64
	motorQC        [2]int32
	motorAt        [2]time.Time
	bmmhQC         int32
	bmmhAt         time.Time
	last           rudderproto.Skew
	lastReportedAt time.Time // zero value stands in for the original's timestamp_ms==0
}

// New returns a Computer with no samples yet.
func New(sink Sink) *Computer {
	return &Computer{Sink: sink, last: rudderproto.Skew{AngleDeg: math.NaN()}}
}

func (c *Computer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// HandleResponse feeds one ebus ACK response line in. It returns a rendered
// "skew:" line and true whenever a fresh interpolated measurement is
// produced.
func (c *Computer) HandleResponse(line string) (string, bool) {
	l, ok := ebus.ParseResponse(line)
	if !ok || l.Op != ebus.OpAck {
		return "", false
	}

	now := c.now()
	reg := ebus.RegisterID(l.Index, l.Subindex)
	sail := axis.Table[axis.Sail]
	bmmh := axis.Table[axis.Bmmh]

	switch {
	case l.Serial == sail.Serial && reg == axis.RegCurrPos:
		slot := c.mc & 1
		c.motorQC[slot] = l.Value
		c.motorAt[slot] = now
		c.mc++
	case l.Serial == bmmh.Serial && reg == axis.RegBmmhPos:
		v := uint32(l.Value)
		if v > 1<<29 {
			v -= 1 << 30
		}
		v &= 4095
		c.bmmhQC = int32(v)
		c.bmmhAt = now
	default:
		return "", false
	}

	return c.tryReport(now)
}

func (c *Computer) tryReport(now time.Time) (string, bool) {
	if now.Sub(c.lastReportedAt) < ReportTimeout/4 {
		return "", false
	}

	alpha := -1.0
	var motorQC int32

	t0, t1 := c.motorAt[0], c.motorAt[1]
	switch {
	case t0.Before(c.bmmhAt) && c.bmmhAt.Before(t1) && t1.Sub(t0) < MotorMaxInterval && !t0.IsZero():
		span := t1.Sub(t0).Seconds()
		alpha = c.bmmhAt.Sub(t0).Seconds() / span
		motorQC = int32((1.0-alpha)*float64(c.motorQC[0]) + alpha*float64(c.motorQC[1]))
	case t1.Before(c.bmmhAt) && c.bmmhAt.Before(t0) && t0.Sub(t1) < MotorMaxInterval && !t1.IsZero():
		span := t0.Sub(t1).Seconds()
		alpha = c.bmmhAt.Sub(t1).Seconds() / span
		motorQC = int32((1.0-alpha)*float64(c.motorQC[1]) + alpha*float64(c.motorQC[0]))
	}

	sail := axis.Table[axis.Sail]
	bmmh := axis.Table[axis.Bmmh]

	var out string
	emitted := false
	if alpha >= 0.0 {
		angle := axis.QCToAngle(bmmh, c.bmmhQC) - axis.QCToAngle(sail, motorQC) - BmmhBiasDeg
		angle = normalizeDeg(angle)
		c.last = rudderproto.Skew{TimestampMs: c.bmmhAt.UnixMilli(), AngleDeg: angle}
		out = rudderproto.FormatSkew(c.last)
		emitted = true
		c.lastReportedAt = now
	}

	if now.Sub(c.lastReportedAt) > ReportTimeout {
		// Pretend the last report was only half the timeout old, so the
		// forced re-probe below doesn't retrigger every tick once stale.
		c.lastReportedAt = now.Add(-ReportTimeout / 2)
		c.burstProbe(now)
	}

	return out, emitted
}

func (c *Computer) burstProbe(now time.Time) {
	sail := axis.Table[axis.Sail]
	bmmh := axis.Table[axis.Bmmh]
	us := uint64(now.UnixMicro())

	get := func(serial uint32, reg uint32) {
		index, sub := ebus.SplitRegisterID(reg)
		c.Sink.Send(ebus.FormatGet(serial, index, sub, us, c.WithTimestamp))
	}
	get(sail.Serial, axis.RegCurrPos)
	get(bmmh.Serial, axis.RegBmmhPos)
	get(sail.Serial, axis.RegCurrPos)
}

// normalizeDeg folds deg into (-180, 180], matching internal/axis's
// QCToAngle wrap convention so a boundary value of exactly -180 normalizes
// the same way everywhere (to +180, not left as -180).
func normalizeDeg(deg float64) float64 {
	for deg <= -180.0 {
		deg += 360.0
	}
	for deg > 180.0 {
		deg -= 360.0
	}
	return deg
}
