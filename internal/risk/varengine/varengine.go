// Package varengine implements the rolling-window Value-at-Risk engine: a
// background worker recomputes historical, parametric and Monte-Carlo VaR,
// Expected Shortfall and component VaR, and publishes them through a
// lock-free double buffer for hot-path readers.
package varengine

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/abdoElHodaky/riskcore/internal/risk/metrics"
	"github.com/abdoElHodaky/riskcore/internal/riskcfg"
)

// Result is a single computed snapshot of risk figures. A result read from
// Engine.Latest is always fully initialized — readers never observe a
// mixed-generation struct, since the writer only ever mutates the inactive
// slot before the atomic flip.
type Result struct {
	Historical95 float64
	Historical99 float64
	Parametric95 float64
	Parametric99 float64
	MonteCarlo95 float64
	MonteCarlo99 float64
	ExpectedShortfall95 float64
	ExpectedShortfall99 float64
	ComponentVaR float64
	CalculatedAt time.Time
	SampleCount  int
}

// Engine maintains a rolling window of return samples and republishes
// Result snapshots on a timer.
type Engine struct {
	cfg riskcfg.VaRConfig
	log *zap.Logger
	met *metrics.Set

	mu      sync.Mutex
	window  []float64// ring-trimmed, oldest first

	slots     [2]Result
	activeIdx atomic.Int32
	running   atomic.Bool
	done      chan struct{}

	rng *rand.Rand
	rngMu sync.Mutex
}

// New constructs an Engine. It does not start the background worker; call
// Start for that. met may be nil to disable metrics.
func New(cfg riskcfg.VaRConfig, met *metrics.Set, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:  cfg,
		log:  log.Named("varengine"),
		met:  met,
		done: make(chan struct{}),
		rng:  rand.New(rand.NewSource(1)),
	}
}

// AddReturn appends a return sample, trimming the oldest entry once the
// window exceeds WindowSize.
func (e *Engine) AddReturn(r float64) {
	e.mu.Lock()
	e.window = append(e.window, r)
	if over := len(e.window) - e.cfg.WindowSize; over > 0 {
		e.window = e.window[over:]
	}
	e.mu.Unlock()
}

// Start launches the background refresh worker. Safe to call once; a second
// call is a no-op.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	go e.loop()
}

// Stop requests the worker to exit and blocks until it has, which happens
// within one 100ms sleep slice.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	<-e.done
}

func (e *Engine) loop() {
	defer close(e.done)
	interval := time.Duration(e.cfg.UpdateIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}
	elapsed := time.Duration(0)
	const slice = 100 * time.Millisecond
	for e.running.Load() {
		if elapsed < interval {
			time.Sleep(slice)
			elapsed += slice
			continue
		}
		elapsed = 0
		e.refresh()
	}
}

func (e *Engine) refresh() {
	e.mu.Lock()
	snapshot := make([]float64, len(e.window))
	copy(snapshot, e.window)
	e.mu.Unlock()

	sort.Float64s(snapshot)
	result := e.compute(snapshot)

	inactive := 1 - e.activeIdx.Load()
	e.slots[inactive] = result
	e.activeIdx.Store(inactive)
	if e.met != nil {
		e.met.VaRHistorical95.Set(result.Historical95)
		e.met.VaRHistorical99.Set(result.Historical99)
	}
	e.log.Debug("var refreshed",
		zap.Int("sample_count", result.SampleCount),
		zap.Float64("historical_var_95", result.Historical95))
}

// compute derives all risk figures from an ascending-sorted snapshot.
func (e *Engine) compute(sorted []float64) Result {
	n := len(sorted)
	res := Result{CalculatedAt: time.Now(), SampleCount: n}
	if n < 2 {
		return res
	}

	mean := stat.Mean(sorted, nil)
	sd := stat.StdDev(sorted, nil)
	if sd <= 0 {
		return res
	}

	res.Historical95 = historicalVaR(sorted, e.cfg.ConfidenceLevel95)
	res.Historical99 = historicalVaR(sorted, e.cfg.ConfidenceLevel99)

	h := e.cfg.Horizon
	if h <= 0 {
		h = 1
	}
	scaledMean := mean * h
	scaledSD := sd * math.Sqrt(h)

	res.Parametric95 = parametricVaR(scaledMean, scaledSD, e.cfg.ConfidenceLevel95)
	res.Parametric99 = parametricVaR(scaledMean, scaledSD, e.cfg.ConfidenceLevel99)
	res.ComponentVaR = res.Parametric95

	res.MonteCarlo95 = e.monteCarloVaR(scaledMean, scaledSD, e.cfg.ConfidenceLevel95)
	res.MonteCarlo99 = e.monteCarloVaR(scaledMean, scaledSD, e.cfg.ConfidenceLevel99)

	res.ExpectedShortfall95 = expectedShortfall(sorted, e.cfg.ConfidenceLevel95)
	res.ExpectedShortfall99 = expectedShortfall(sorted, e.cfg.ConfidenceLevel99)

	return res
}

func percentileIndex(n int, confidence float64) int {
	i := int(math.Floor((1 - confidence) * float64(n)))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func historicalVaR(sorted []float64, confidence float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	return -sorted[percentileIndex(n, confidence)]
}

// invNormalCDF returns Φ⁻¹(p) via the Abramowitz-Stegun 26.2.23 rational
// approximation, the same one the original VaR engine uses for its z-score.
func invNormalCDF(p float64) float64 {
	if p <= 0 {
		p = 1e-10
	}
	if p >= 1 {
		p = 1 - 1e-10
	}
	sign := -1.0
	if p > 0.5 {
		p = 1 - p
		sign = 1.0
	}
	t := math.Sqrt(-2 * math.Log(p))
	const (
		c0 = 2.515517
		c1 = 0.802853
		c2 = 0.010328
		d1 = 1.432788
		d2 = 0.189269
		d3 = 0.001308
	)
	numerator := c0 + c1*t + c2*t*t
	denominator := 1 + d1*t + d2*t*t + d3*t*t*t
	z := t - numerator/denominator
	return sign * z
}

func parametricVaR(mean, sd, confidence float64) float64 {
	z := invNormalCDF(1 - confidence)
	return -(mean + z*sd)
}

func (e *Engine) monteCarloVaR(mean, sd, confidence float64) float64 {
	count := e.cfg.SimulationCount
	if count <= 0 {
		count = 10_000
	}
	e.rngMu.Lock()
	src := rand.NewSource(e.rng.Int63())
	e.rngMu.Unlock()

	dist := distuv.Normal{Mu: mean, Sigma: sd, Src: src}
	samples := make([]float64, count)
	for i := range samples {
		samples[i] = dist.Rand()
	}
	sort.Float64s(samples)
	return historicalVaR(samples, confidence)
}

func expectedShortfall(sorted []float64, confidence float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	k := int(math.Floor((1 - confidence) * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	var sum float64
	for i := 0; i < k; i++ {
		sum += sorted[i]
	}
	return -(sum / float64(k))
}

// Latest performs a lock-free acquire-load of the active slot index and
// returns that slot by value.
func (e *Engine) Latest() Result {
	idx := e.activeIdx.Load()
	return e.slots[idx]
}

// IsBreached compares historicalVaR95 * portfolioValue against the
// configured VaR limit.
func (e *Engine) IsBreached(portfolioValue float64) bool {
	r := e.Latest()
	loss := r.Historical95 * portfolioValue
	limit := (e.cfg.VarLimitPct / 100) * portfolioValue
	return loss >= limit
}
