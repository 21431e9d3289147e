// Package manager implements the pre-trade risk manager: the
// latency-critical hot path that gates every candidate order, tracks
// position and PnL, auto-halts on drawdown or daily-loss breaches, and
// runs the optional auto-hedge worker.
package manager

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/riskcore/internal/audit"
	"github.com/abdoElHodaky/riskcore/internal/risk/breaker"
	"github.com/abdoElHodaky/riskcore/internal/risk/metrics"
	"github.com/abdoElHodaky/riskcore/internal/riskcfg"
)

func float64bits(v float64) uint64   { return math.Float64bits(v) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }

// Side is an order side.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// CheckResult is the outcome of a pre-trade check. It is a value, never an
// error: policy rejections are expected, routine outcomes.
type CheckResult string

const (
	Approved                  CheckResult = "approved"
	RejectedHalted            CheckResult = "rejected_halted"
	RejectedRateLimit         CheckResult = "rejected_rate_limit"
	RejectedOrderSizeLimit    CheckResult = "rejected_order_size_limit"
	RejectedPositionLimit     CheckResult = "rejected_position_limit"
	RejectedVolumeLimit       CheckResult = "rejected_volume_limit"
	RejectedDailyLossLimit    CheckResult = "rejected_daily_loss_limit"
	RejectedDrawdownLimit     CheckResult = "rejected_drawdown_limit"
	RejectedExposureLimit     CheckResult = "rejected_exposure_limit"
	RejectedCircuitBreaker    CheckResult = "rejected_circuit_breaker"
)

// HedgeFunc is invoked by the auto-hedge worker with the opposite side and
// the absolute position size to hedge.
type HedgeFunc func(side Side, quantity float64)

// state is the atomics-only scalar state read on the hot path. Grouped into
// one struct so callers can reason about it as a unit, even though each
// field is still loaded independently.
type state struct {
	position       atomic.Uint64 // bits of float64, signed via math.Float64bits semantics below
	totalPnL       atomic.Uint64
	peakPnL        atomic.Uint64
	dailyPnL       atomic.Uint64
	dailyVolume    atomic.Uint64
	netExposure    atomic.Uint64
	grossExposure  atomic.Uint64
	halted         atomic.Bool
	currentSecond  atomic.Int64
	ordersThisSec  atomic.Uint64
	lastUpdate     atomic.Int64
	dailyResetTime atomic.Int64
}

// Manager is the pre-trade risk manager.
type Manager struct {
	limits atomic.Pointer[riskcfg.RiskLimits]
	st     state
	log    *zap.Logger
	aud    *audit.Logger
	brk    *breaker.Breaker
	met    *metrics.Set

	haltReasonMu sync.RWMutex
	haltReason   string

	exposureMu sync.Mutex // pairs gross/net updates so their sum is always consistent

	posCache *cache.Cache

	hedgeFn   HedgeFunc
	hedgeMu   sync.RWMutex
	running   atomic.Bool
	hedgeDone chan struct{}
}

// New constructs a Manager with the given limits. brk may be nil if no
// circuit breaker integration is desired; met may be nil to disable metrics;
// aud may be nil to disable audit emission.
func New(limits riskcfg.RiskLimits, brk *breaker.Breaker, met *metrics.Set, log *zap.Logger, aud *audit.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		log:       log.Named("riskmanager"),
		aud:       aud,
		brk:       brk,
		met:       met,
		posCache:  cache.New(time.Second, 2*time.Second),
		hedgeDone: make(chan struct{}),
	}
	m.limits.Store(&limits)
	m.st.dailyResetTime.Store(time.Now().UnixMilli())
	return m
}

func (m *Manager) Limits() riskcfg.RiskLimits {
	return *m.limits.Load()
}

func (m *Manager) SetLimits(l riskcfg.RiskLimits) {
	m.limits.Store(&l)
}

func loadFloat(a *atomic.Uint64) float64 { return float64frombits(a.Load()) }
func storeFloat(a *atomic.Uint64, v float64) { a.Store(float64bits(v)) }

// CheckOrder is the latency-critical hot path. It runs a breaker gate ahead
// of the eight ordered limit checks, then returns on first failure. Every
// scalar read is a relaxed atomic load; no mutex is ever acquired here.
//
// The breaker gate is this package's addition: RiskManager.cpp defines
// REJECTED_CIRCUIT_BREAKER but its checkOrder never produces it, leaving the
// breaker wired to nothing in the original. Checking it first, so a tripped
// breaker always wins over a stale halted flag or limit state, makes the
// result type fully live.
func (m *Manager) CheckOrder(side Side, price, quantity float64, symbol string) (result CheckResult) {
	if m.met != nil {
		m.met.OrdersChecked.WithLabelValues(symbol).Inc()
		defer func() {
			if result != Approved {
				m.met.OrdersRejected.WithLabelValues(string(result)).Inc()
			}
		}()
	}

	if m.brk != nil && !m.brk.IsTradingAllowed() {
		return RejectedCircuitBreaker
	}
	if m.st.halted.Load() {
		return RejectedHalted
	}

	now := time.Now().Unix()
	cur := m.st.currentSecond.Load()
	if cur != now {
		m.st.currentSecond.CompareAndSwap(cur, now)
		m.st.ordersThisSec.Store(0)
	}
	limits := m.Limits()
	prior := m.st.ordersThisSec.Add(1) - 1
	if prior >= limits.MaxOrdersPerSecond {
		return RejectedRateLimit
	}

	if quantity > limits.MaxOrderSize || price*quantity > limits.MaxOrderValue {
		return RejectedOrderSizeLimit
	}

	position := loadFloat(&m.st.position)
	projected := position
	if side == Buy {
		projected += quantity
	} else {
		projected -= quantity
	}
	if absf(projected) > limits.MaxPositionSize {
		return RejectedPositionLimit
	}

	dailyVolume := loadFloat(&m.st.dailyVolume)
	if dailyVolume+quantity > limits.MaxDailyVolume {
		return RejectedVolumeLimit
	}

	dailyPnL := loadFloat(&m.st.dailyPnL)
	if dailyPnL < 0 && absf(dailyPnL) >= limits.DailyLossLimit {
		return RejectedDailyLossLimit
	}

	peak := loadFloat(&m.st.peakPnL)
	total := loadFloat(&m.st.totalPnL)
	if peak > 0 {
		drawdownPct := (peak - total) / peak * 100
		if drawdownPct >= limits.MaxDrawdownPct {
			return RejectedDrawdownLimit
		}
	}

	notional := price * quantity
	gross := loadFloat(&m.st.grossExposure)
	net := loadFloat(&m.st.netExposure)
	projectedGross := gross + notional
	projectedNet := net
	if side == Buy {
		projectedNet += notional
	} else {
		projectedNet -= notional
	}
	if projectedGross > limits.MaxGrossExposure || absf(projectedNet) > limits.MaxNetExposure || notional > limits.MaxNotionalExposure {
		return RejectedExposureLimit
	}

	return Approved
}

// OnFill updates position and daily volume, then exposure under a dedicated
// mutex so the gross/net pair stays consistent, and checks the daily reset
// boundary.
func (m *Manager) OnFill(side Side, price, quantity float64, symbol string) {
	position := loadFloat(&m.st.position)
	if side == Buy {
		position += quantity
	} else {
		position -= quantity
	}
	storeFloat(&m.st.position, position)
	storeFloat(&m.st.dailyVolume, loadFloat(&m.st.dailyVolume)+quantity)
	m.st.lastUpdate.Store(time.Now().UnixNano())

	notional := price * quantity
	m.exposureMu.Lock()
	gross := loadFloat(&m.st.grossExposure) + notional
	net := loadFloat(&m.st.netExposure)
	if side == Buy {
		net += notional
	} else {
		net -= notional
	}
	storeFloat(&m.st.grossExposure, gross)
	storeFloat(&m.st.netExposure, net)
	m.exposureMu.Unlock()

	m.posCache.Set(symbol, position, cache.DefaultExpiration)
	m.checkDailyReset()
}

// GetPositionSnapshot returns a recent, possibly slightly stale, cached
// position for dashboards, avoiding any lock on the hot path.
func (m *Manager) GetPositionSnapshot(symbol string) (float64, bool) {
	v, ok := m.posCache.Get(symbol)
	if !ok {
		return 0, false
	}
	return v.(float64), true
}

// OnPnLUpdate stores total PnL, advances the peak via a CAS loop, and
// auto-halts on drawdown or daily-loss breach.
func (m *Manager) OnPnLUpdate(pnl float64) {
	storeFloat(&m.st.totalPnL, pnl)
	storeFloat(&m.st.dailyPnL, pnl)

	for {
		current := loadFloat(&m.st.peakPnL)
		if pnl <= current {
			break
		}
		if m.st.peakPnL.CompareAndSwap(float64bits(current), float64bits(pnl)) {
			break
		}
	}

	limits := m.Limits()
	peak := loadFloat(&m.st.peakPnL)
	if peak > 0 {
		drawdownPct := (peak - pnl) / peak * 100
		if m.met != nil {
			m.met.Drawdown.Set(drawdownPct)
		}
		if drawdownPct >= limits.MaxDrawdownPct && !m.st.halted.Load() {
			m.Halt("max drawdown breached")
			return
		}
	}
	if pnl < 0 && absf(pnl) >= limits.DailyLossLimit && !m.st.halted.Load() {
		m.Halt("daily loss limit breached")
	}
}

func (m *Manager) Halt(reason string) {
	m.st.halted.Store(true)
	m.haltReasonMu.Lock()
	m.haltReason = reason
	m.haltReasonMu.Unlock()
	m.log.Warn("risk manager halted", zap.String("reason", reason))
	if m.aud != nil {
		m.aud.LogEvent(audit.Event{Type: audit.ErrorCondition, Description: "risk manager halted: " + reason, Success: false})
	}
}

func (m *Manager) Resume() {
	m.st.halted.Store(false)
	m.haltReasonMu.Lock()
	m.haltReason = ""
	m.haltReasonMu.Unlock()
	m.log.Info("risk manager resumed")
}

func (m *Manager) IsHalted() bool { return m.st.halted.Load() }

func (m *Manager) HaltReason() string {
	m.haltReasonMu.RLock()
	defer m.haltReasonMu.RUnlock()
	return m.haltReason
}

// checkDailyReset zeroes daily counters once the stored reset time falls
// before today's local midnight.
func (m *Manager) checkDailyReset() {
	lastMs := m.st.dailyResetTime.Load()
	last := time.UnixMilli(lastMs)
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if last.Before(midnight) {
		storeFloat(&m.st.dailyPnL, 0)
		storeFloat(&m.st.dailyVolume, 0)
		m.st.ordersThisSec.Store(0)
		m.st.dailyResetTime.Store(now.UnixMilli())
	}
}

// StartAutoHedge launches the hedge worker if AutoHedgeEnabled. fn is
// invoked with the opposite side and the absolute position size whenever
// the position crosses HedgeThresholdPct of MaxPositionSize.
func (m *Manager) StartAutoHedge(fn HedgeFunc) {
	limits := m.Limits()
	if !limits.AutoHedgeEnabled {
		return
	}
	m.hedgeMu.Lock()
	m.hedgeFn = fn
	m.hedgeMu.Unlock()
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	go m.hedgeLoop()
}

func (m *Manager) StopAutoHedge() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	<-m.hedgeDone
}

func (m *Manager) hedgeLoop() {
	defer close(m.hedgeDone)
	for m.running.Load() {
		limits := m.Limits()
		interval := time.Duration(limits.HedgeIntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = 5 * time.Second
		}
		slept := time.Duration(0)
		const slice = 100 * time.Millisecond
		for slept < interval {
			if !m.running.Load() {
				return
			}
			time.Sleep(slice)
			slept += slice
		}
		m.evaluateHedge()
	}
}

func (m *Manager) evaluateHedge() {
	limits := m.Limits()
	position := loadFloat(&m.st.position)
	if limits.MaxPositionSize <= 0 {
		return
	}
	pctOfCap := absf(position) / limits.MaxPositionSize * 100
	if pctOfCap < limits.HedgeThresholdPct {
		return
	}
	m.hedgeMu.RLock()
	fn := m.hedgeFn
	m.hedgeMu.RUnlock()
	if fn == nil {
		return
	}
	side := Sell
	if position < 0 {
		side = Buy
	}
	fn(side, absf(position))
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
