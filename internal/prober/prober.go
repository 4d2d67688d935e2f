// Package prober emits a fixed-rate round of status/position GET requests
// for all four axes onto the line bus, standing in for a line-bus client
// that would otherwise sit idle waiting on its own targets.
//
// It is a Go translation of io/rudderd2/eposprobe_main.c's drift-correcting
// main loop: rather than sleeping a fixed delta every cycle (which would let
// scheduling jitter accumulate), it tracks the wall-clock deadline for the
// next round and only sleeps the remainder, so the long-run average rate
// holds even under load.
package prober

import (
	"context"
	"time"

	"github.com/avalonsail/actuatorcore/internal/axis"
	"github.com/avalonsail/actuatorcore/internal/ebus"
)

// DefaultHz is eposprobe_main.c's default probing frequency.
const DefaultHz = 8

// Sink is the outbound line transport the prober writes GET requests to.
type Sink interface {
	Send(line string) error
}

// Prober periodically emits GET requests for Left/Right/Sail status and
// current position, plus the Bmmh absolute position.
type Prober struct {
	Sink          Sink
	Hz            int
	WithTimestamp bool

	// Now, if set, overrides time.Now for testing.
	Now func() time.Time
	// Sleep, if set, overrides time.Sleep for testing.
	Sleep func(time.Duration)
}

// New returns a Prober emitting rounds through sink at hz (DefaultHz if 0).
func New(sink Sink, hz int) *Prober {
	if hz <= 0 {
		hz = DefaultHz
	}
	return &Prober{Sink: sink, Hz: hz}
}

func (p *Prober) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Prober) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Run issues probe rounds at Hz until ctx is cancelled. It never returns nil;
// ctx.Err() is returned on cancellation.
func (p *Prober) Run(ctx context.Context) error {
	delta := time.Second / time.Duration(p.Hz)
	var lastAt time.Time

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := p.now()
		if !lastAt.IsZero() {
			deadline := lastAt.Add(delta)
			if now.Before(deadline) {
				p.sleep(deadline.Sub(now))
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.round(); err != nil {
			return err
		}
		if lastAt.IsZero() {
			lastAt = p.now()
		} else {
			lastAt = lastAt.Add(delta)
		}
	}
}

func (p *Prober) round() error {
	now := uint64(p.now().UnixMicro())
	get := func(serial uint32, reg uint32) error {
		index, sub := ebus.SplitRegisterID(reg)
		return p.Sink.Send(ebus.FormatGet(serial, index, sub, now, p.WithTimestamp))
	}

	for _, a := range []axis.MotorAxis{axis.Left, axis.Right} {
		params := axis.Table[a]
		if err := get(params.Serial, axis.RegStatus); err != nil {
			return err
		}
		if err := get(params.Serial, axis.RegCurrPos); err != nil {
			return err
		}
	}

	sail := axis.Table[axis.Sail]
	if err := get(sail.Serial, axis.RegStatus); err != nil {
		return err
	}
	if err := get(sail.Serial, axis.RegCurrPos); err != nil {
		return err
	}

	bmmh := axis.Table[axis.Bmmh]
	return get(bmmh.Serial, axis.RegBmmhPos)
}
