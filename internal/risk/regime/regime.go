// Package regime detects crisis market regimes from rolling OHLC data,
// feeding the circuit breaker's MarketCrisis trigger. This supplements the
// distilled spec with a producer for a trigger it names but never wires,
// recovered from the original core's MarketRegimeDetector in spirit: a
// volatility expansion relative to its own trailing average signals a
// crisis regime.
package regime

import (
	"sync"

	talib "github.com/markcheno/go-talib"
	"go.uber.org/zap"
)

// Detector classifies the current regime from a rolling window of OHLC bars
// using the Average True Range.
type Detector struct {
	log *zap.Logger

	period       int
	crisisRatio  float64 // ATR / trailing-ATR-average threshold that signals crisis

	mu     sync.Mutex
	highs  []float64
	lows   []float64
	closes []float64
	atrAvg float64
	primed bool
}

// NewDetector builds a Detector. period is the ATR lookback (14 is
// go-talib's and most charting tools' conventional default); crisisRatio is
// how many multiples of the trailing ATR average constitute a crisis (a
// ratio of 2.5-3 is a reasonable volatility-expansion threshold).
func NewDetector(period int, crisisRatio float64, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	if period <= 0 {
		period = 14
	}
	if crisisRatio <= 0 {
		crisisRatio = 3.0
	}
	return &Detector{log: log.Named("regime"), period: period, crisisRatio: crisisRatio}
}

const maxBars = 500

// OnBar feeds a new OHLC bar and returns true if the updated ATR reading
// classifies the current regime as a crisis.
func (d *Detector) OnBar(high, low, close float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.highs = append(d.highs, high)
	d.lows = append(d.lows, low)
	d.closes = append(d.closes, close)
	if len(d.closes) > maxBars {
		over := len(d.closes) - maxBars
		d.highs = d.highs[over:]
		d.lows = d.lows[over:]
		d.closes = d.closes[over:]
	}

	if len(d.closes) < d.period+1 {
		return false
	}

	atrSeries := talib.Atr(d.highs, d.lows, d.closes, d.period)
	current := atrSeries[len(atrSeries)-1]
	if current <= 0 {
		return false
	}

	if !d.primed {
		d.atrAvg = current
		d.primed = true
		return false
	}

	isCrisis := d.atrAvg > 0 && current/d.atrAvg >= d.crisisRatio
	d.atrAvg = 0.05*current + 0.95*d.atrAvg
	if isCrisis {
		d.log.Warn("crisis regime detected", zap.Float64("atr", current), zap.Float64("atr_avg", d.atrAvg))
	}
	return isCrisis
}
