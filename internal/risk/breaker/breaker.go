// Package breaker implements the three-state circuit breaker automaton
// that halts trading when price, spread, volume, latency, regime or
// connectivity signals turn dangerous.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/riskcore/internal/audit"
	"github.com/abdoElHodaky/riskcore/internal/risk/metrics"
	"github.com/abdoElHodaky/riskcore/internal/riskcfg"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Trigger names the signal that caused (or would have caused) a trip.
type Trigger string

const (
	TriggerNone              Trigger = "none"
	TriggerPriceMove1Min     Trigger = "rapid_price_move_1min"
	TriggerPriceMove5Min     Trigger = "rapid_price_move_5min"
	TriggerSpreadWidening    Trigger = "spread_widening"
	TriggerVolumeSpike       Trigger = "volume_spike"
	TriggerMarketCrisis      Trigger = "market_crisis"
	TriggerLatencyDegraded   Trigger = "latency_degradation"
	TriggerConnectivityLoss  Trigger = "connectivity_loss"
	TriggerManual            Trigger = "manual"
)

const ringCapacity = 512

type priceSample struct {
	price float64
	tsNs  int64
}

// Status is a point-in-time snapshot of the breaker's observable state.
type Status struct {
	State          State
	LastTrigger    Trigger
	StateChangedAt time.Time
	CooldownEndsAt time.Time
	TripCount      uint64
	PriceMove1Min  float64
	PriceMove5Min  float64
	SpreadRatio    float64
	VolumeRatio    float64
}

// TransitionFunc is invoked after a state transition, outside all internal
// locks; panics are recovered and logged.
type TransitionFunc func(old, new State, trigger Trigger)

// Breaker is the circuit breaker state machine. Zero value is not usable;
// construct with New.
type Breaker struct {
	cfg riskcfg.CircuitBreakerConfig
	log *zap.Logger
	aud *audit.Logger
	met *metrics.Set

	state atomic.Value // State

	statusMu    sync.Mutex
	status      Status

	ring     [ringCapacity]priceSample
	head     atomic.Uint64
	count    atomic.Uint64

	baselineMu        sync.Mutex
	spreadBaseline    float64
	spreadInitialized bool
	spreadSamples     int
	volumeBaseline    float64
	volumeInitialized bool

	callbackMu sync.Mutex
	callback   TransitionFunc

	halfOpenTimer *time.Timer
}

// New constructs a Breaker in the Closed state. met may be nil to disable
// metrics.
func New(cfg riskcfg.CircuitBreakerConfig, met *metrics.Set, log *zap.Logger, aud *audit.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Breaker{cfg: cfg, log: log.Named("breaker"), aud: aud, met: met}
	b.state.Store(Closed)
	b.status.State = Closed
	b.status.LastTrigger = TriggerNone
	b.status.StateChangedAt = time.Now()
	return b
}

// OnTransition registers the single transition callback, replacing any
// previous one.
func (b *Breaker) OnTransition(fn TransitionFunc) {
	b.callbackMu.Lock()
	b.callback = fn
	b.callbackMu.Unlock()
}

// IsTradingAllowed is the hot-path read: a single acquire load.
func (b *Breaker) IsTradingAllowed() bool {
	return b.state.Load().(State) == Closed
}

func (b *Breaker) State() State {
	return b.state.Load().(State)
}

func (b *Breaker) GetStatus() Status {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	return b.status
}

// transitionTo performs the actual state change: update the status
// snapshot, release-store the atomic state, record metrics, log, audit,
// then invoke the callback outside every internal lock.
func (b *Breaker) transitionTo(newState State, trigger Trigger) {
	old := b.state.Load().(State)
	now := time.Now()

	b.statusMu.Lock()
	b.status.State = newState
	b.status.LastTrigger = trigger
	b.status.StateChangedAt = now
	switch newState {
	case Open:
		b.status.CooldownEndsAt = now.Add(time.Duration(b.cfg.CooldownPeriodMs) * time.Millisecond)
		b.status.TripCount++
	case HalfOpen:
		b.status.CooldownEndsAt = now.Add(time.Duration(b.cfg.HalfOpenTestDurationMs) * time.Millisecond)
	case Closed:
		b.status.CooldownEndsAt = time.Time{}
	}
	b.statusMu.Unlock()

	b.state.Store(newState)

	if b.met != nil {
		b.met.BreakerState.Set(stateGaugeValue(newState))
		if newState == Open {
			b.met.BreakerTrips.WithLabelValues(string(trigger)).Inc()
		}
	}

	b.log.Info("breaker transition",
		zap.String("from", string(old)), zap.String("to", string(newState)),
		zap.String("trigger", string(trigger)))
	if b.aud != nil {
		b.aud.LogEvent(audit.Event{
			Type:        audit.SystemStart,
			Description: "circuit breaker transition " + string(old) + "->" + string(newState),
			Success:     true,
			AdditionalData: string(trigger),
		})
	}

	b.callbackMu.Lock()
	cb := b.callback
	b.callbackMu.Unlock()
	if cb != nil {
		b.invokeCallback(cb, old, newState, trigger)
	}
}

func (b *Breaker) invokeCallback(cb TransitionFunc, old, new State, trigger Trigger) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("breaker transition callback panicked", zap.Any("recover", r))
		}
	}()
	cb(old, new, trigger)
}

// trip moves Closed or HalfOpen into Open for the given trigger. Called
// from Closed (first trip) and from HalfOpen (re-trip); a no-op from Open.
func (b *Breaker) trip(trigger Trigger) {
	switch b.State() {
	case Closed, HalfOpen:
		b.transitionTo(Open, trigger)
	}
}

// Manual trip/reset, per §6's operator layer.
func (b *Breaker) Trip(reason string) {
	b.trip(TriggerManual)
}

func (b *Breaker) Reset() {
	if b.halfOpenTimer != nil {
		b.halfOpenTimer.Stop()
	}
	b.transitionTo(Closed, TriggerNone)
}

// OnPrice feeds a price sample into the ring buffer and evaluates the
// price-move and cooldown-expiry triggers.
func (b *Breaker) OnPrice(price float64, tsNs int64) {
	idx := b.head.Add(1) - 1
	b.ring[idx%ringCapacity] = priceSample{price: price, tsNs: tsNs}
	if c := b.count.Load(); c < ringCapacity {
		b.count.Add(1)
	}

	b.checkCooldownExpiry()

	if b.State() != Closed {
		return
	}

	move1 := b.priceMove(tsNs, 60_000)
	move5 := b.priceMove(tsNs, 5*60_000)
	b.statusMu.Lock()
	b.status.PriceMove1Min = move1
	b.status.PriceMove5Min = move5
	b.statusMu.Unlock()

	if move1 >= b.cfg.PriceMove1MinPct {
		b.trip(TriggerPriceMove1Min)
		return
	}
	if move5 >= b.cfg.PriceMove5MinPct {
		b.trip(TriggerPriceMove5Min)
	}
}

// priceMove walks backwards from the newest entry looking for the oldest
// sample within windowMs of tsNs, and returns the percentage move between
// that sample and the newest one.
func (b *Breaker) priceMove(tsNs int64, windowMs int64) float64 {
	count := b.count.Load()
	limit := uint64(b.cfg.PriceHistorySize)
	if limit > 0 && limit < count {
		count = limit
	}
	if count < 2 {
		return 0
	}
	head := b.head.Load()
	windowNs := windowMs * 1_000_000

	newest := b.ring[(head-1)%ringCapacity]
	var oldest priceSample
	found := false
	for i := uint64(1); i <= count; i++ {
		s := b.ring[(head-i)%ringCapacity]
		if tsNs-s.tsNs <= windowNs {
			oldest = s
			found = true
		} else {
			break
		}
	}
	if !found || oldest.price == 0 {
		return 0
	}
	return absPct(newest.price, oldest.price)
}

func absPct(newest, oldest float64) float64 {
	diff := newest - oldest
	if diff < 0 {
		diff = -diff
	}
	return diff / oldest * 100
}

// OnSpread feeds a spread sample, maintaining the slow-EMA baseline and
// tripping on ratio breaches per §4.3.
func (b *Breaker) OnSpread(spread float64, tsNs int64) {
	b.baselineMu.Lock()
	if !b.spreadInitialized {
		if b.spreadSamples == 0 {
			b.spreadBaseline = spread
		} else {
			b.spreadBaseline = 0.1*spread + 0.9*b.spreadBaseline
		}
		b.spreadSamples++
		if b.spreadSamples >= 20 {
			b.spreadInitialized = true
		}
		baseline := b.spreadBaseline
		b.baselineMu.Unlock()
		b.statusMu.Lock()
		if baseline > 0 {
			b.status.SpreadRatio = spread / baseline
		}
		b.statusMu.Unlock()
		return
	}
	baseline := b.spreadBaseline
	ratio := 0.0
	if baseline > 0 {
		ratio = spread / baseline
	}
	b.spreadBaseline = 0.001*spread + 0.999*baseline
	b.baselineMu.Unlock()

	b.statusMu.Lock()
	b.status.SpreadRatio = ratio
	b.statusMu.Unlock()

	if baseline > 0 && ratio >= b.cfg.SpreadWidenMultiplier && b.State() == Closed {
		b.trip(TriggerSpreadWidening)
	}
}

// OnVolume feeds a volume sample with a single-sample-primed slow EMA.
func (b *Breaker) OnVolume(volume float64, tsNs int64) {
	b.baselineMu.Lock()
	if !b.volumeInitialized {
		b.volumeBaseline = volume
		b.volumeInitialized = true
		b.baselineMu.Unlock()
		return
	}
	baseline := b.volumeBaseline
	ratio := 0.0
	if baseline > 0 {
		ratio = volume / baseline
	}
	b.volumeBaseline = 0.005*volume + 0.995*baseline
	b.baselineMu.Unlock()

	b.statusMu.Lock()
	b.status.VolumeRatio = ratio
	b.statusMu.Unlock()

	if baseline > 0 && ratio >= b.cfg.VolumeSpikeMultiplier && b.State() == Closed {
		b.trip(TriggerVolumeSpike)
	}
}

// OnLatency feeds a latency sample in microseconds.
func (b *Breaker) OnLatency(latencyUs int64) {
	if latencyUs > b.cfg.MaxLatencyUs && b.State() == Closed {
		b.trip(TriggerLatencyDegraded)
	}
}

// OnRegimeChange is invoked by the regime detector when it classifies a
// crisis regime.
func (b *Breaker) OnRegimeChange(isCrisis bool) {
	if isCrisis && b.State() == Closed {
		b.trip(TriggerMarketCrisis)
	}
}

// OnConnectivityLoss trips the breaker; OnConnectivityRestored arms the
// half-open window if the breaker is Open on a connectivity trigger.
func (b *Breaker) OnConnectivityLoss() {
	b.trip(TriggerConnectivityLoss)
}

func (b *Breaker) OnConnectivityRestored() {
	st := b.GetStatus()
	if b.State() == Open && st.LastTrigger == TriggerConnectivityLoss {
		b.armHalfOpen()
	}
}

func (b *Breaker) checkCooldownExpiry() {
	if b.State() != Open {
		return
	}
	st := b.GetStatus()
	if !st.CooldownEndsAt.IsZero() && time.Now().After(st.CooldownEndsAt) {
		b.armHalfOpen()
	}
}

func (b *Breaker) armHalfOpen() {
	b.transitionTo(HalfOpen, b.GetStatus().LastTrigger)
	d := time.Duration(b.cfg.HalfOpenTestDurationMs) * time.Millisecond
	b.halfOpenTimer = time.AfterFunc(d, func() {
		if b.State() == HalfOpen {
			b.transitionTo(Closed, TriggerNone)
		}
	})
}

// stateGaugeValue maps a State onto the riskcore_breaker_state encoding
// (0=Closed, 1=Open, 2=HalfOpen).
func stateGaugeValue(s State) float64 {
	switch s {
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return 0
	}
}
