package ratelog_test

import (
	"testing"

	"github.com/avalonsail/actuatorcore/internal/ratelog"
	"golang.org/x/time/rate"
)

func TestLoggerDoesNotPanicUnderBurst(t *testing.T) {
	l := ratelog.New("test", rate.Limit(1), 1)
	for i := 0; i < 50; i++ {
		l.Warningf("iteration %d", i)
	}
}

func TestPrioritiesAreIndependentlyLimited(t *testing.T) {
	l := ratelog.New("test", rate.Limit(1), 1)
	l.Infof("first info, consumes the only token")
	l.Warningf("first warning, separate bucket, should still log")
}
