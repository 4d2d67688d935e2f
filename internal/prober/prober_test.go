package prober_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/avalonsail/actuatorcore/internal/prober"
)

type collectSink struct {
	lines []string
}

func (s *collectSink) Send(line string) error {
	s.lines = append(s.lines, line)
	return nil
}

func TestRoundEmitsSevenRequests(t *testing.T) {
	sink := &collectSink{}
	p := prober.New(sink, 8)

	fakeNow := time.Unix(1000, 0)
	p.Now = func() time.Time { return fakeNow }

	ctx, cancel := context.WithCancel(context.Background())
	p.Sleep = func(time.Duration) { cancel() }

	_ = p.Run(ctx)

	if len(sink.lines) != 7 {
		t.Fatalf("got %d probe lines in one round, want 7", len(sink.lines))
	}
	for _, l := range sink.lines {
		if strings.Contains(l, "=") {
			t.Fatalf("line %q does not look like a GET request", l)
		}
	}
}

func TestDefaultHzAppliedWhenZero(t *testing.T) {
	p := prober.New(&collectSink{}, 0)
	if p.Hz != prober.DefaultHz {
		t.Fatalf("Hz = %d, want default %d", p.Hz, prober.DefaultHz)
	}
}
