// Package ruddersts implements the status aggregator: it watches STATUS and
// CURRPOS responses for the rudder and sail/BMMH devices on the line bus and
// emits rate-limited "ruddersts:" lines summarizing the best known angle for
// each axis.
//
// It is a Go translation of io/ruddersts_main.c's main loop: a homed[]
// latch per rudder gated by STATUS_HOMEREF, immediate emission on any axis
// moving by more than 0.1 degrees, and a min/max cadence window so a
// quiescent boat still gets a heartbeat at most once a second and a noisy
// one is throttled to at most 4 reports/second.
package ruddersts

import (
	"time"

	"github.com/avalonsail/actuatorcore/internal/axis"
	"github.com/avalonsail/actuatorcore/internal/ebus"
	"github.com/avalonsail/actuatorcore/internal/rudderproto"
)

// DefaultMinInterval and DefaultMaxInterval are the -n/-x cadence defaults:
// 250ms minimum, 1s maximum between reports.
const (
	DefaultMinInterval = 250 * time.Millisecond
	DefaultMaxInterval = 1000 * time.Millisecond
)

// changeThreshold is ruddersts_main.c's upd()'s r*r > .01 guard, i.e. a
// change is significant once it exceeds 0.1 degrees.
const changeThreshold = 0.1

// Aggregator tracks homing state and last-reported angle per axis and
// decides when a new ruddersts: line is due.
type Aggregator struct {
	MinInterval time.Duration
	MaxInterval time.Duration

	// Now, if set, overrides time.Now for testing.
	Now func() time.Time

	homedLeft  bool
	homedRight bool

	sts     rudderproto.Sts
	lastAt  time.Time
	started bool
}

// New returns an Aggregator with the default min/max cadence, reporting NaN
// for every axis until homing/position data arrives.
func New() *Aggregator {
	return &Aggregator{
		MinInterval: DefaultMinInterval,
		MaxInterval: DefaultMaxInterval,
		sts: rudderproto.Sts{
			RudderLDeg: nan(),
			RudderRDeg: nan(),
			SailDeg:    nan(),
		},
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func upd(x *float64, y float64) bool {
	d := y - *x
	*x = y
	return d*d > changeThreshold*changeThreshold
}

// HandleResponse feeds one ebus response line in. It returns the rendered
// "ruddersts:" line and true if a report is due, or false if nothing should
// be emitted yet.
func (a *Aggregator) HandleResponse(line string) (string, bool) {
	l, ok := ebus.ParseResponse(line)
	if !ok || l.Op != ebus.OpAck {
		return "", false
	}

	now := a.now()
	reg := ebus.RegisterID(l.Index, l.Subindex)
	changed := false

	switch {
	case l.Serial == axis.Table[axis.Bmmh].Serial && reg == axis.RegBmmhPos:
		v := uint32(l.Value)
		if v >= 1<<29 {
			v -= 1 << 30
		}
		v &= 4095
		deg := axis.QCToAngle(axis.Table[axis.Bmmh], int32(v))
		changed = upd(&a.sts.SailDeg, deg)

	case l.Serial == axis.Table[axis.Left].Serial && reg == axis.RegStatus:
		homed := axis.StatusWord(l.Value).Referenced()
		a.homedLeft = homed
		if !homed {
			changed = !isNaN(a.sts.RudderLDeg)
			if changed {
				a.sts.RudderLDeg = nan()
			}
		}

	case l.Serial == axis.Table[axis.Right].Serial && reg == axis.RegStatus:
		homed := axis.StatusWord(l.Value).Referenced()
		a.homedRight = homed
		if !homed {
			changed = !isNaN(a.sts.RudderRDeg)
			if changed {
				a.sts.RudderRDeg = nan()
			}
		}

	case l.Serial == axis.Table[axis.Left].Serial && reg == axis.RegCurrPos && a.homedLeft:
		changed = upd(&a.sts.RudderLDeg, axis.QCToAngle(axis.Table[axis.Left], l.Value))

	case l.Serial == axis.Table[axis.Right].Serial && reg == axis.RegCurrPos && a.homedRight:
		changed = upd(&a.sts.RudderRDeg, axis.QCToAngle(axis.Table[axis.Right], l.Value))

	default:
		return "", false
	}

	return a.maybeEmit(now, changed)
}

func isNaN(f float64) bool { return f != f }

func (a *Aggregator) maybeEmit(now time.Time, changed bool) (string, bool) {
	if !a.started {
		a.lastAt = now
		a.started = true
	}

	if !changed && now.Sub(a.lastAt) < a.MaxInterval {
		return "", false
	}

	a.sts.TimestampMs = now.UnixMilli()

	if now.Sub(a.lastAt) < a.MinInterval {
		return "", false
	}

	a.lastAt = now
	return rudderproto.FormatSts(a.sts), true
}
