package breaker

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap/zaptest"

	"github.com/abdoElHodaky/riskcore/internal/risk/metrics"
	"github.com/abdoElHodaky/riskcore/internal/riskcfg"
)

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	_ = g.Write(&m)
	return m.GetGauge().GetValue()
}

func newTestBreaker(t *testing.T) *Breaker {
	cfg := riskcfg.DefaultCircuitBreakerConfig()
	return New(cfg, nil, zaptest.NewLogger(t), nil)
}

func TestInitialStateIsClosedAndTradingAllowed(t *testing.T) {
	b := newTestBreaker(t)
	if b.State() != Closed {
		t.Fatalf("expected Closed, got %s", b.State())
	}
	if !b.IsTradingAllowed() {
		t.Fatalf("expected trading allowed in Closed state")
	}
}

func TestPriceMoveTripsBreaker(t *testing.T) {
	cfg := riskcfg.DefaultCircuitBreakerConfig()
	cfg.PriceMove1MinPct = 0.5
	b := New(cfg, nil, zaptest.NewLogger(t), nil)

	t0 := time.Now().UnixNano()
	b.OnPrice(100.0, t0)
	b.OnPrice(105.0, t0+500_000_000)

	if b.State() != Open {
		t.Fatalf("expected Open after 5%% move with 0.5%% threshold, got %s", b.State())
	}
	if b.IsTradingAllowed() {
		t.Fatalf("trading must not be allowed while Open")
	}
}

func TestManualResetReturnsToClosed(t *testing.T) {
	cfg := riskcfg.DefaultCircuitBreakerConfig()
	cfg.MaxLatencyUs = 1000
	b := New(cfg, nil, zaptest.NewLogger(t), nil)

	b.OnLatency(50_000)
	if b.State() != Open {
		t.Fatalf("expected Open after latency trip")
	}
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("expected Closed after manual reset")
	}
	if !b.IsTradingAllowed() {
		t.Fatalf("trading must be allowed after reset")
	}
}

func TestTripIgnoredFromOpenForNonManualTrigger(t *testing.T) {
	cfg := riskcfg.DefaultCircuitBreakerConfig()
	cfg.MaxLatencyUs = 1000
	b := New(cfg, nil, zaptest.NewLogger(t), nil)
	b.OnLatency(50_000)
	if b.State() != Open {
		t.Fatalf("expected Open")
	}
	b.OnLatency(50_000)
	if b.State() != Open {
		t.Fatalf("expected to remain Open, non-manual re-trip from Open is a no-op")
	}
}

func TestTransitionCallbackInvokedOutsideLocksAndRecoversPanic(t *testing.T) {
	cfg := riskcfg.DefaultCircuitBreakerConfig()
	cfg.MaxLatencyUs = 1000
	b := New(cfg, nil, zaptest.NewLogger(t), nil)

	called := make(chan Trigger, 1)
	b.OnTransition(func(old, new State, trigger Trigger) {
		// Re-entering the breaker would deadlock if the callback ran while
		// statusMu or callbackMu were still held.
		_ = b.GetStatus()
		b.OnTransition(nil)
		called <- trigger
		panic("subscriber exploded")
	})

	b.OnLatency(50_000)

	select {
	case trig := <-called:
		if trig != TriggerLatencyDegraded {
			t.Fatalf("expected LatencyDegradation trigger, got %s", trig)
		}
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
	// The panic above must not have crashed the test process; reaching here
	// proves the breaker's recover() worked.
}

func TestTripRecordsMetrics(t *testing.T) {
	cfg := riskcfg.DefaultCircuitBreakerConfig()
	cfg.MaxLatencyUs = 1000
	met := metrics.New(prometheus.NewRegistry())
	b := New(cfg, met, zaptest.NewLogger(t), nil)

	b.OnLatency(50_000)

	if got := gaugeValue(met.BreakerState); got != 1 {
		t.Fatalf("expected BreakerState == 1 (Open), got %v", got)
	}
	if got := counterValue(met.BreakerTrips.WithLabelValues(string(TriggerLatencyDegraded))); got != 1 {
		t.Fatalf("expected BreakerTrips[latency_degradation] == 1, got %v", got)
	}
}

func TestSpreadBaselineWarmupThenTrip(t *testing.T) {
	cfg := riskcfg.DefaultCircuitBreakerConfig()
	cfg.SpreadWidenMultiplier = 3
	b := New(cfg, nil, zaptest.NewLogger(t), nil)

	for i := 0; i < 20; i++ {
		b.OnSpread(1.0, 0)
	}
	if b.State() != Closed {
		t.Fatalf("warmup alone should not trip the breaker")
	}
	b.OnSpread(10.0, 0)
	if b.State() != Open {
		t.Fatalf("expected spread widening trip once baseline is initialized")
	}
}
