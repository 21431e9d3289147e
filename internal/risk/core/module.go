// Package core wires the risk-plane components together behind an fx
// lifecycle, the composition-root pattern used throughout the rest of the
// teacher codebase's internal/risk/module.go.
package core

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/riskcore/internal/audit"
	"github.com/abdoElHodaky/riskcore/internal/risk/alert"
	"github.com/abdoElHodaky/riskcore/internal/risk/breaker"
	"github.com/abdoElHodaky/riskcore/internal/risk/dr"
	"github.com/abdoElHodaky/riskcore/internal/risk/manager"
	"github.com/abdoElHodaky/riskcore/internal/risk/metrics"
	"github.com/abdoElHodaky/riskcore/internal/risk/varengine"
	"github.com/abdoElHodaky/riskcore/internal/riskcfg"
)

// Module provides every risk-plane component as an fx dependency, mirroring
// RiskManagementModule's fx.Options(fx.Provide(...)) shape.
var Module = fx.Options(
	fx.Provide(
		NewMetrics,
		NewAuditLogger,
		NewVaREngine,
		NewBreaker,
		NewManager,
		NewAlertManager,
		NewRecovery,
	),
)

func NewMetrics() *metrics.Set {
	return metrics.New(prometheus.NewRegistry())
}

func NewAuditLogger(log *zap.Logger) *audit.Logger {
	return audit.NewLogger(log)
}

func NewVaREngine(lc fx.Lifecycle, cfg riskcfg.RiskConfig, met *metrics.Set, log *zap.Logger) *varengine.Engine {
	e := varengine.New(cfg.VaR, met, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { e.Start(); return nil },
		OnStop:  func(context.Context) error { e.Stop(); return nil },
	})
	return e
}

func NewBreaker(cfg riskcfg.RiskConfig, met *metrics.Set, log *zap.Logger, aud *audit.Logger) *breaker.Breaker {
	return breaker.New(cfg.CircuitBreaker, met, log, aud)
}

func NewManager(cfg riskcfg.RiskConfig, brk *breaker.Breaker, met *metrics.Set, log *zap.Logger, aud *audit.Logger) *manager.Manager {
	return manager.New(cfg.Limits, brk, met, log, aud)
}

func NewAlertManager(lc fx.Lifecycle, cfg riskcfg.RiskConfig, met *metrics.Set, log *zap.Logger, aud *audit.Logger) *alert.Manager {
	m := alert.New(cfg.Alerts.MinAlertIntervalMs, cfg.Alerts.MaxAlertHistory, met, log, aud)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { m.Close(); return nil },
	})
	return m
}

func NewRecovery(appCfg riskcfg.AppConfig, log *zap.Logger, aud *audit.Logger) (*dr.Recovery, error) {
	return dr.New(appCfg.BackupDirectory, log, aud)
}
