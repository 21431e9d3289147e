package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Probe checks upstream market-data connectivity; a non-nil error counts
// as a failed call for gobreaker's trip accounting.
type Probe func(context.Context) error

// ConnectivityMonitor wraps a heartbeat probe in a gobreaker circuit
// breaker and forwards its Open/Closed transitions into the trading
// breaker's ConnectivityLoss/Restored triggers. This tracks the health of
// the upstream feed connection, a different concern from the trading
// breaker's own state, grounded on the same gobreaker wrapping style as
// internal/architecture/fx/resilience/circuit_breaker.go.
type ConnectivityMonitor struct {
	cb       *gobreaker.CircuitBreaker
	target   *Breaker
	probe    Probe
	log      *zap.Logger
	done     chan struct{}
	interval time.Duration
}

// NewConnectivityMonitor builds a monitor that polls probe on the given
// interval and reports into target.
func NewConnectivityMonitor(target *Breaker, probe Probe, interval time.Duration, log *zap.Logger) *ConnectivityMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	m := &ConnectivityMonitor{target: target, probe: probe, log: log.Named("connectivity"), done: make(chan struct{})}
	settings := gobreaker.Settings{
		Name:        "market-data-connectivity",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.log.Info("connectivity breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
			switch to {
			case gobreaker.StateOpen:
				m.target.OnConnectivityLoss()
			case gobreaker.StateClosed:
				m.target.OnConnectivityRestored()
			}
		},
	}
	m.cb = gobreaker.NewCircuitBreaker(settings)
	m.interval = interval
	return m
}

func (m *ConnectivityMonitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = m.cb.Execute(func() (interface{}, error) {
					return nil, m.probe(ctx)
				})
			}
		}
	}()
}

func (m *ConnectivityMonitor) Wait() {
	<-m.done
}
