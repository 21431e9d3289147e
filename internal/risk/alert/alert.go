// Package alert implements the deduplicated, throttled, severity-tagged
// alert bus: raise/throttle/dispatch/query semantics for the risk plane.
package alert

import (
	"sync"
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/riskcore/internal/audit"
	"github.com/abdoElHodaky/riskcore/internal/risk/metrics"
)

// Severity tags an alert's urgency.
type Severity string

const (
	Info      Severity = "info"
	Warning   Severity = "warning"
	Critical  Severity = "critical"
	Emergency Severity = "emergency"
)

// Type enumerates the sixteen categorical alert tags from §3.
type Type string

const (
	PositionWarning     Type = "position_warning"
	PositionBreach      Type = "position_breach"
	DrawdownWarning     Type = "drawdown_warning"
	DrawdownBreach      Type = "drawdown_breach"
	DailyLossWarning    Type = "daily_loss_warning"
	DailyLossBreach     Type = "daily_loss_breach"
	VaRBreach           Type = "var_breach"
	BreakerOpened       Type = "breaker_opened"
	BreakerHalfOpen     Type = "breaker_half_open"
	BreakerClosed       Type = "breaker_closed"
	SpreadAnomaly       Type = "spread_anomaly"
	VolumeAnomaly       Type = "volume_anomaly"
	LatencyAnomaly      Type = "latency_anomaly"
	ConnectivityIssue   Type = "connectivity_issue"
	RegimeChange        Type = "regime_change"
	SystemErrorAlert    Type = "system_error"
)

// Record is a single persisted alert.
type Record struct {
	ID             uint64
	Type           Type
	Severity       Severity
	Message        string
	Source         string
	Metadata       map[string]any
	TimestampMs    int64
	Acknowledged   bool
	AcknowledgedAt int64
}

// Callback receives every persisted alert. A faulty callback's panic is
// recovered and logged; it cannot destabilize other subscribers.
type Callback func(Record)

// Manager is the alert bus.
type Manager struct {
	log *zap.Logger
	aud *audit.Logger
	met *metrics.Set

	nextID atomic.Uint64

	mu              sync.Mutex
	history         []Record
	maxHistory      int
	minIntervalMs   int64
	throttle        *cache.Cache

	callbackMu sync.Mutex
	callbacks  []Callback

	pool *ants.Pool
}

// New constructs a Manager. minAlertIntervalMs and maxAlertHistory come
// from riskcfg.AlertConfig. met may be nil to disable metrics.
func New(minAlertIntervalMs int64, maxAlertHistory int, met *metrics.Set, log *zap.Logger, aud *audit.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	pool, _ := ants.NewPool(16, ants.WithNonblocking(false))
	return &Manager{
		log:           log.Named("alertmanager"),
		aud:           aud,
		met:           met,
		maxHistory:    maxAlertHistory,
		minIntervalMs: minAlertIntervalMs,
		throttle:      cache.New(time.Duration(minAlertIntervalMs)*time.Millisecond, time.Minute),
		pool:          pool,
	}
}

func (m *Manager) OnAlert(cb Callback) {
	m.callbackMu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.callbackMu.Unlock()
}

// Raise assigns a monotonic id and persists the alert unless it is
// currently throttled for its type, in which case it returns id 0.
func (m *Manager) Raise(typ Type, severity Severity, message, source string, metadata map[string]any) uint64 {
	id := m.nextID.Add(1)
	rec := Record{
		ID:          id,
		Type:        typ,
		Severity:    severity,
		Message:     message,
		Source:      source,
		Metadata:    metadata,
		TimestampMs: time.Now().UnixMilli(),
	}

	m.mu.Lock()
	if _, throttled := m.throttle.Get(string(typ)); throttled {
		m.mu.Unlock()
		if m.met != nil {
			m.met.AlertsThrottled.Inc()
		}
		return 0
	}
	m.throttle.Set(string(typ), rec.TimestampMs, cache.DefaultExpiration)
	m.history = append(m.history, rec)
	if over := len(m.history) - m.maxHistory; over > 0 {
		m.history = m.history[over:]
	}
	m.mu.Unlock()

	if m.met != nil {
		m.met.AlertsRaised.WithLabelValues(string(severity)).Inc()
	}

	m.logAndAudit(rec)
	m.dispatch(rec)
	return id
}

func (m *Manager) logAndAudit(rec Record) {
	switch rec.Severity {
	case Critical, Emergency:
		m.log.Error("alert raised", zap.String("type", string(rec.Type)), zap.String("message", rec.Message))
		if m.aud != nil {
			m.aud.LogEvent(audit.Event{
				Type:        audit.SuspiciousActivity,
				Description: rec.Message,
				Success:     false,
				Source:      rec.Source,
				AdditionalData: string(rec.Severity),
			})
		}
	case Warning:
		m.log.Warn("alert raised", zap.String("type", string(rec.Type)), zap.String("message", rec.Message))
	default:
		m.log.Info("alert raised", zap.String("type", string(rec.Type)), zap.String("message", rec.Message))
	}
}

// dispatch fans the alert out to every subscriber concurrently via the
// ants pool so a slow subscriber does not delay Raise's caller or other
// subscribers while the pool has an idle worker. The pool has 16 workers
// and blocking submission: once all 16 are busy, Submit (and so Raise)
// waits for one to free up.
func (m *Manager) dispatch(rec Record) {
	m.callbackMu.Lock()
	cbs := make([]Callback, len(m.callbacks))
	copy(cbs, m.callbacks)
	m.callbackMu.Unlock()

	for _, cb := range cbs {
		cb := cb
		err := m.pool.Submit(func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("alert callback panicked", zap.Any("recover", r))
				}
			}()
			cb(rec)
		})
		if err != nil {
			m.log.Warn("alert dispatch pool rejected task", zap.Error(err))
		}
	}
}

func (m *Manager) GetRecentAlerts(n int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return reverseTail(m.history, n, func(Record) bool { return true })
}

func (m *Manager) GetUnacknowledgedAlerts() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return reverseTail(m.history, len(m.history), func(r Record) bool { return !r.Acknowledged })
}

func (m *Manager) GetAlertsByType(t Type, n int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return reverseTail(m.history, n, func(r Record) bool { return r.Type == t })
}

func (m *Manager) GetAlertsBySeverity(s Severity, n int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return reverseTail(m.history, n, func(r Record) bool { return r.Severity == s })
}

// reverseTail walks history newest-first, collecting matches up to cap n.
func reverseTail(history []Record, n int, pred func(Record) bool) []Record {
	var out []Record
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if pred(history[i]) {
			out = append(out, history[i])
		}
	}
	return out
}

// AcknowledgeAlert flips the ack flag for id, returning false if unknown or
// already acknowledged.
func (m *Manager) AcknowledgeAlert(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.history {
		if m.history[i].ID == id {
			if m.history[i].Acknowledged {
				return false
			}
			m.history[i].Acknowledged = true
			m.history[i].AcknowledgedAt = time.Now().UnixMilli()
			return true
		}
	}
	return false
}

// Summary is the ToJSON-equivalent payload: total count, unacknowledged
// count, and the last 50 alerts.
type Summary struct {
	TotalAlerts         int      `json:"total_alerts"`
	UnacknowledgedCount int      `json:"unacknowledged_count"`
	RecentAlerts        []Record `json:"recent_alerts"`
}

func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	unack := 0
	for _, r := range m.history {
		if !r.Acknowledged {
			unack++
		}
	}
	recent := reverseTail(m.history, 50, func(Record) bool { return true })
	return Summary{TotalAlerts: len(m.history), UnacknowledgedCount: unack, RecentAlerts: recent}
}

// Close releases the dispatch worker pool.
func (m *Manager) Close() {
	m.pool.Release()
}
