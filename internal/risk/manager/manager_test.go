package manager

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap/zaptest"

	"github.com/abdoElHodaky/riskcore/internal/risk/breaker"
	"github.com/abdoElHodaky/riskcore/internal/risk/metrics"
	"github.com/abdoElHodaky/riskcore/internal/riskcfg"
)

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}

func newTestManager(t *testing.T) *Manager {
	limits := riskcfg.DefaultRiskLimits()
	return New(limits, nil, nil, zaptest.NewLogger(t), nil)
}

func TestOrderRejectedAfterPositionCap(t *testing.T) {
	limits := riskcfg.DefaultRiskLimits()
	limits.MaxPositionSize = 2.0
	m := New(limits, nil, nil, zaptest.NewLogger(t), nil)

	m.OnFill(Buy, 100, 2.0, "X")

	if got := m.CheckOrder(Buy, 100, 1.0, "X"); got != RejectedPositionLimit {
		t.Fatalf("expected RejectedPositionLimit, got %s", got)
	}
}

func TestAutoHaltOnDrawdown(t *testing.T) {
	limits := riskcfg.DefaultRiskLimits()
	limits.MaxDrawdownPct = 5
	m := New(limits, nil, nil, zaptest.NewLogger(t), nil)

	m.OnPnLUpdate(1000)
	m.OnPnLUpdate(900)

	if !m.IsHalted() {
		t.Fatalf("expected halted after a 10%% drawdown with a 5%% limit")
	}
	if got := m.CheckOrder(Buy, 100, 1.0, "X"); got != RejectedHalted {
		t.Fatalf("expected RejectedHalted, got %s", got)
	}
}

func TestAutoHaltOnDailyLoss(t *testing.T) {
	limits := riskcfg.DefaultRiskLimits()
	limits.DailyLossLimit = 100
	m := New(limits, nil, nil, zaptest.NewLogger(t), nil)

	m.OnPnLUpdate(-150)

	if !m.IsHalted() {
		t.Fatalf("expected halted after daily loss of 150 with a 100 limit")
	}
}

func TestRateLimitBoundary(t *testing.T) {
	limits := riskcfg.DefaultRiskLimits()
	limits.MaxOrdersPerSecond = 3
	limits.MaxOrderSize = 1000
	limits.MaxOrderValue = 1e9
	limits.MaxPositionSize = 1e9
	limits.MaxDailyVolume = 1e9
	limits.MaxNotionalExposure = 1e12
	limits.MaxNetExposure = 1e12
	limits.MaxGrossExposure = 1e12
	m := New(limits, nil, nil, zaptest.NewLogger(t), nil)

	for i := 0; i < 3; i++ {
		if got := m.CheckOrder(Buy, 1, 1, "X"); got != Approved {
			t.Fatalf("order %d expected Approved, got %s", i+1, got)
		}
	}
	if got := m.CheckOrder(Buy, 1, 1, "X"); got != RejectedRateLimit {
		t.Fatalf("4th order within the second should be RejectedRateLimit, got %s", got)
	}
}

func TestDrawdownMonotonicityAcrossPnLUpdates(t *testing.T) {
	m := newTestManager(t)
	sequence := []float64{10, 20, 15, 30, 5, 40}
	for _, pnl := range sequence {
		m.OnPnLUpdate(pnl)
		peak := loadFloat(&m.st.peakPnL)
		total := loadFloat(&m.st.totalPnL)
		if peak < total {
			t.Fatalf("invariant violated: peak_pnl (%v) < total_pnl (%v)", peak, total)
		}
	}
}

func TestRejectionOrderingHaltedBeforeEverythingElse(t *testing.T) {
	limits := riskcfg.DefaultRiskLimits()
	limits.MaxOrderSize = 0 // would also fail order-size check
	m := New(limits, nil, nil, zaptest.NewLogger(t), nil)
	m.Halt("manual test halt")

	if got := m.CheckOrder(Buy, 100, 1.0, "X"); got != RejectedHalted {
		t.Fatalf("expected RejectedHalted to take priority, got %s", got)
	}
}

func TestCircuitBreakerGateTakesPriorityOverHalted(t *testing.T) {
	log := zaptest.NewLogger(t)
	brk := breaker.New(riskcfg.DefaultCircuitBreakerConfig(), nil, log, nil)
	limits := riskcfg.DefaultRiskLimits()
	m := New(limits, brk, nil, log, nil)
	m.Halt("manual test halt")
	brk.Trip("forced for test")

	if got := m.CheckOrder(Buy, 100, 1.0, "X"); got != RejectedCircuitBreaker {
		t.Fatalf("expected RejectedCircuitBreaker to take priority over an independently-set halted flag, got %s", got)
	}
}

func TestCheckOrderRecordsMetrics(t *testing.T) {
	met := metrics.New(prometheus.NewRegistry())
	limits := riskcfg.DefaultRiskLimits()
	limits.MaxPositionSize = 2.0
	m := New(limits, nil, met, zaptest.NewLogger(t), nil)

	m.CheckOrder(Buy, 100, 1.0, "X")
	if got := counterValue(met.OrdersChecked.WithLabelValues("X")); got != 1 {
		t.Fatalf("expected OrdersChecked[X] == 1, got %v", got)
	}

	m.OnFill(Buy, 100, 2.0, "X")
	if got := m.CheckOrder(Buy, 100, 1.0, "X"); got != RejectedPositionLimit {
		t.Fatalf("expected RejectedPositionLimit, got %s", got)
	}
	if got := counterValue(met.OrdersRejected.WithLabelValues(string(RejectedPositionLimit))); got != 1 {
		t.Fatalf("expected OrdersRejected[rejected_position_limit] == 1, got %v", got)
	}
	if got := counterValue(met.OrdersChecked.WithLabelValues("X")); got != 2 {
		t.Fatalf("expected OrdersChecked[X] == 2 after the second check, got %v", got)
	}
}

func TestResumeClearsHaltedState(t *testing.T) {
	m := newTestManager(t)
	m.Halt("test")
	if !m.IsHalted() {
		t.Fatal("expected halted")
	}
	m.Resume()
	if m.IsHalted() {
		t.Fatal("expected resumed")
	}
	if m.HaltReason() != "" {
		t.Fatalf("expected empty halt reason after resume, got %q", m.HaltReason())
	}
}
