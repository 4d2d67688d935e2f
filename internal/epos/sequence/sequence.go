// Package sequence drives ordered batches of register writes and polled
// register reads against an epos/frame transport, retrying transient
// failures with a bounded exponential backoff.
//
// It is the Go rendering of branches/onboard/io/seq.h's epos_sequence and
// epos_waitobject: a command table is walked in order, each write retried
// up to 3 times with a growing backoff, and the whole batch aborted once 10
// total failures have accumulated across the sequence.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	// maxRetriesPerCommand bounds how many times a single command is
	// retried before the sequence gives up on it.
	maxRetriesPerCommand = 3
	// maxTotalFailures bounds the cumulative retry count across an entire
	// sequence, so a run of marginal commands can't retry forever.
	maxTotalFailures = 10
)

// Writer performs a single indexed register write, the shape ReadObject's
// sibling WriteObject exposes on a frame.Transport.
type Writer interface {
	WriteObject(nodeID byte, index uint16, subindex byte, value uint32) error
}

// Reader performs a single indexed register read.
type Reader interface {
	ReadObject(nodeID byte, index uint16, subindex byte) (uint32, error)
}

// Cmd is one entry in a write sequence: set (index, subindex) to value.
type Cmd struct {
	Index    uint16
	Subindex byte
	Value    uint32
}

// FailedCmd reports which command in a sequence was being attempted when the
// sequence gave up, mirroring epos_sequence leaving *cmd pointing at the
// offending entry.
type FailedCmd struct {
	Pos int
	Cmd Cmd
	Err error
}

func (e *FailedCmd) Error() string {
	return fmt.Sprintf("command %d (index 0x%04x:%d) failed: %v", e.Pos, e.Cmd.Index, e.Cmd.Subindex, e.Err)
}

func (e *FailedCmd) Unwrap() error { return e.Err }

func newBackoff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      0, // bounded by retry count, not elapsed time
		Clock:               backoff.SystemClock,
	}
}

// Run writes each Cmd in order to nodeID via w, retrying a failing command up
// to maxRetriesPerCommand times with exponential backoff before giving up on
// the whole sequence. It stops at the first command it cannot complete, or
// once the cumulative retry count across the sequence reaches
// maxTotalFailures.
func Run(ctx context.Context, w Writer, nodeID byte, cmds []Cmd) error {
	totalFailures := 0
	for i, cmd := range cmds {
		attempt := 0
		op := func() error {
			err := w.WriteObject(nodeID, cmd.Index, cmd.Subindex, cmd.Value)
			if err != nil {
				attempt++
				totalFailures++
				if totalFailures >= maxTotalFailures {
					return backoff.Permanent(err)
				}
				if attempt > maxRetriesPerCommand {
					return backoff.Permanent(err)
				}
			}
			return err
		}
		b := backoff.WithContext(newBackoff(), ctx)
		if err := backoff.Retry(op, b); err != nil {
			return &FailedCmd{Pos: i, Cmd: cmd, Err: err}
		}
	}
	return nil
}

// WaitObject polls (index, subindex) on nodeID until the read value masked
// with mask equals want, or timeout elapses, mirroring epos_waitobject.
// It returns the last read value (whatever it was when the function
// returned) and the last read error, if any.
func WaitObject(ctx context.Context, r Reader, nodeID byte, index uint16, subindex byte, mask, want uint32, timeout time.Duration) (uint32, error) {
	deadline := time.Now().Add(timeout)
	var lastVal uint32
	var lastErr error
	for {
		lastVal, lastErr = r.ReadObject(nodeID, index, subindex)
		if lastErr == nil && lastVal&mask == want {
			return lastVal, nil
		}
		if time.Now().After(deadline) {
			return lastVal, lastErr
		}
		select {
		case <-ctx.Done():
			return lastVal, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
