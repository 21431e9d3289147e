package varengine

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap/zaptest"

	"github.com/abdoElHodaky/riskcore/internal/risk/metrics"
	"github.com/abdoElHodaky/riskcore/internal/riskcfg"
)

func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	_ = g.Write(&m)
	return m.GetGauge().GetValue()
}

func newTestEngine(t *testing.T) *Engine {
	cfg := riskcfg.DefaultVaRConfig()
	cfg.SimulationCount = 2000
	return New(cfg, nil, zaptest.NewLogger(t))
}

func TestComputeWithInsufficientSamplesReturnsZero(t *testing.T) {
	e := newTestEngine(t)
	res := e.compute([]float64{0.01})
	if res != (Result{CalculatedAt: res.CalculatedAt, SampleCount: 1}) {
		t.Fatalf("expected all-zero figures for sample_count < 2, got %+v", res)
	}
}

func TestComputeZeroStdDevReturnsZero(t *testing.T) {
	e := newTestEngine(t)
	samples := []float64{0.01, 0.01, 0.01, 0.01}
	res := e.compute(samples)
	if res.Historical95 != 0 || res.Parametric95 != 0 || res.MonteCarlo95 != 0 {
		t.Fatalf("expected zero figures when stddev <= 0, got %+v", res)
	}
}

func TestHistoricalVaRIsNonNegativeLoss(t *testing.T) {
	e := newTestEngine(t)
	sorted := []float64{-0.05, -0.03, -0.01, 0.0, 0.02, 0.04, 0.06}
	res := e.compute(sorted)
	if res.Historical95 < 0 {
		t.Fatalf("historical VaR should be reported as a non-negative loss, got %v", res.Historical95)
	}
}

func TestLatestReturnsFullyInitializedSnapshot(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 300; i++ {
		e.AddReturn(0.001 * float64(i%7-3))
	}
	e.refresh()
	res := e.Latest()
	if res.SampleCount == 0 {
		t.Fatalf("expected a populated sample count after refresh")
	}
	if math.IsNaN(res.Historical95) || math.IsNaN(res.Parametric95) || math.IsNaN(res.MonteCarlo95) {
		t.Fatalf("latest result contains NaN figures: %+v", res)
	}
}

func TestWindowTrimsToConfiguredSize(t *testing.T) {
	cfg := riskcfg.DefaultVaRConfig()
	cfg.WindowSize = 5
	e := New(cfg, nil, zaptest.NewLogger(t))
	for i := 0; i < 20; i++ {
		e.AddReturn(float64(i))
	}
	e.mu.Lock()
	got := len(e.window)
	e.mu.Unlock()
	if got != 5 {
		t.Fatalf("expected window trimmed to 5, got %d", got)
	}
}

func TestInvNormalCDFMatchesKnownQuantiles(t *testing.T) {
	if z := invNormalCDF(0.05); z >= 0 {
		t.Fatalf("expected a negative left-tail quantile for p=0.05, got %v", z)
	} else if math.Abs(z-(-1.645)) > 0.001 {
		t.Fatalf("expected invNormalCDF(0.05) ~= -1.645, got %v", z)
	}
	if z := invNormalCDF(0.95); z <= 0 {
		t.Fatalf("expected a positive right-tail quantile for p=0.95, got %v", z)
	} else if math.Abs(z-1.645) > 0.001 {
		t.Fatalf("expected invNormalCDF(0.95) ~= 1.645, got %v", z)
	}
}

func TestParametricVaRIsPositiveLossForNearZeroMeanReturns(t *testing.T) {
	e := newTestEngine(t)
	samples := make([]float64, 200)
	for i := range samples {
		samples[i] = 0.001 * float64(i%9-4)
	}
	res := e.compute(samples)
	if res.Parametric95 <= 0 {
		t.Fatalf("expected a positive parametric VaR for near-zero-mean returns, got %v", res.Parametric95)
	}
	if res.Parametric99 <= res.Parametric95 {
		t.Fatalf("expected Parametric99 (%v) > Parametric95 (%v)", res.Parametric99, res.Parametric95)
	}
	if res.ComponentVaR != res.Parametric95 {
		t.Fatalf("expected ComponentVaR to equal Parametric95, got %v vs %v", res.ComponentVaR, res.Parametric95)
	}
}

func TestRefreshRecordsHistoricalVaRGauges(t *testing.T) {
	cfg := riskcfg.DefaultVaRConfig()
	cfg.SimulationCount = 2000
	met := metrics.New(prometheus.NewRegistry())
	e := New(cfg, met, zaptest.NewLogger(t))
	for i := 0; i < 300; i++ {
		e.AddReturn(0.001 * float64(i%7-3))
	}
	e.refresh()

	want := e.Latest().Historical95
	if got := gaugeValue(met.VaRHistorical95); got != want {
		t.Fatalf("expected VaRHistorical95 gauge == %v, got %v", want, got)
	}
}

func TestIsBreachedComparesScaledFigures(t *testing.T) {
	e := newTestEngine(t)
	e.slots[0] = Result{Historical95: 0.05}
	e.activeIdx.Store(0)
	e.cfg.VarLimitPct = 2.0
	if !e.IsBreached(1000) {
		t.Fatalf("expected breach: 0.05*1000=50 >= (2/100)*1000=20")
	}
	e.slots[0] = Result{Historical95: 0.001}
	if e.IsBreached(1000) {
		t.Fatalf("expected no breach: 0.001*1000=1 < 20")
	}
}
