package checker

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/tcsd/internal/gateway"
	"github.com/fyrsmithlabs/tcsd/internal/telemetry"
)

func TestChecker_TickSpan(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	tel.Install(t)

	s := DefaultSettings()
	s.Acc = 1
	s.HighLimit = 100
	c, _ := newTestChecker(t, s, gateway.NewStatic(frameOf("TICA-101", 10, 20)))
	c.Tick(context.Background())

	tel.AssertSpanExists(t, "checker.tick")
	tel.AssertSpanAttribute(t, "checker.tick", "checker", "test")
	tel.AssertSpanAttribute(t, "checker.tick", "result", "in")
}
