package regime

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestOnBarReturnsFalseBeforeWarmup(t *testing.T) {
	d := NewDetector(14, 3.0, zaptest.NewLogger(t))
	for i := 0; i < 10; i++ {
		if d.OnBar(101, 99, 100) {
			t.Fatalf("expected no crisis signal before the ATR window fills")
		}
	}
}

func TestOnBarDetectsVolatilityExpansion(t *testing.T) {
	d := NewDetector(5, 2.0, zaptest.NewLogger(t))
	for i := 0; i < 30; i++ {
		d.OnBar(101, 99, 100)
	}

	detected := false
	for i := 0; i < 10; i++ {
		if d.OnBar(140, 60, 100) {
			detected = true
		}
	}
	if !detected {
		t.Fatalf("expected a sustained volatility expansion to trip the crisis signal")
	}
}

func TestOnBarTrimsRollingWindowToMaxBars(t *testing.T) {
	d := NewDetector(14, 3.0, zaptest.NewLogger(t))
	for i := 0; i < maxBars+50; i++ {
		d.OnBar(101, 99, 100)
	}
	if len(d.closes) != maxBars {
		t.Fatalf("expected rolling window capped at %d bars, got %d", maxBars, len(d.closes))
	}
}
