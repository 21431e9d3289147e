// Package riskcfg defines the typed configuration schema for the risk and
// control plane and its JSON mapping.
package riskcfg

import "encoding/json"

// RiskLimits bounds position, exposure, drawdown and order flow.
type RiskLimits struct {
	MaxPositionSize     float64 `json:"max_position_size"`
	MaxNotionalExposure float64 `json:"max_notional_exposure"`
	MaxNetExposure      float64 `json:"max_net_exposure"`
	MaxGrossExposure    float64 `json:"max_gross_exposure"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	DailyLossLimit      float64 `json:"daily_loss_limit"`
	MaxOrderSize        float64 `json:"max_order_size"`
	MaxOrderValue       float64 `json:"max_order_value"`
	MaxDailyVolume      float64 `json:"max_daily_volume"`
	AutoHedgeEnabled    bool    `json:"auto_hedge_enabled"`
	HedgeThresholdPct   float64 `json:"hedge_threshold_pct"`
	HedgeIntervalMs     int64   `json:"hedge_interval_ms"`
	MaxOrdersPerSecond  uint64  `json:"max_orders_per_second"`
}

// DefaultRiskLimits mirrors the original core's RiskConfig defaults.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:     10,
		MaxNotionalExposure: 1_000_000,
		MaxNetExposure:      500_000,
		MaxGrossExposure:    2_000_000,
		MaxDrawdownPct:      5,
		DailyLossLimit:      10_000,
		MaxOrderSize:        1,
		MaxOrderValue:       50_000,
		MaxDailyVolume:      100,
		AutoHedgeEnabled:    false,
		HedgeThresholdPct:   50,
		HedgeIntervalMs:     5000,
		MaxOrdersPerSecond:  100,
	}
}

// CircuitBreakerConfig tunes the trip thresholds and timing of the breaker.
type CircuitBreakerConfig struct {
	PriceMove1MinPct       float64 `json:"price_move_1min_pct"`
	PriceMove5MinPct       float64 `json:"price_move_5min_pct"`
	SpreadWidenMultiplier  float64 `json:"spread_widen_multiplier"`
	VolumeSpikeMultiplier  float64 `json:"volume_spike_multiplier"`
	CooldownPeriodMs       int64   `json:"cooldown_period_ms"`
	HalfOpenTestDurationMs int64   `json:"half_open_test_duration_ms"`
	MaxLatencyUs           int64   `json:"max_latency_us"`
	PriceHistorySize       int     `json:"price_history_size"`
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		PriceMove1MinPct:       2,
		PriceMove5MinPct:       5,
		SpreadWidenMultiplier:  3,
		VolumeSpikeMultiplier:  5,
		CooldownPeriodMs:       30_000,
		HalfOpenTestDurationMs: 10_000,
		MaxLatencyUs:           10_000,
		PriceHistorySize:       300,
	}
}

// VaRConfig tunes the rolling-window VaR engine.
type VaRConfig struct {
	WindowSize        int     `json:"window_size"`
	SimulationCount   int     `json:"simulation_count"`
	Horizon           float64 `json:"horizon"`
	UpdateIntervalMs  int64   `json:"update_interval_ms"`
	ConfidenceLevel95 float64 `json:"confidence_level_95"`
	ConfidenceLevel99 float64 `json:"confidence_level_99"`
	VarLimitPct       float64 `json:"var_limit_pct"`
}

func DefaultVaRConfig() VaRConfig {
	return VaRConfig{
		WindowSize:        252,
		SimulationCount:   10_000,
		Horizon:           1.0,
		UpdateIntervalMs:  60_000,
		ConfidenceLevel95: 0.95,
		ConfidenceLevel99: 0.99,
		VarLimitPct:       2.0,
	}
}

// AlertConfig tunes alert throttling and history retention.
type AlertConfig struct {
	MinAlertIntervalMs  int64   `json:"min_alert_interval_ms"`
	MaxAlertHistory     int     `json:"max_alert_history"`
	WarningThresholdPct float64 `json:"warning_threshold_pct"`
	CriticalThresholdPct float64 `json:"critical_threshold_pct"`
}

func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		MinAlertIntervalMs:   5000,
		MaxAlertHistory:      1000,
		WarningThresholdPct:  80,
		CriticalThresholdPct: 100,
	}
}

// RiskConfig is the composite schema for the whole risk and control plane.
type RiskConfig struct {
	Limits         RiskLimits
	CircuitBreaker CircuitBreakerConfig
	VaR            VaRConfig
	Alerts         AlertConfig
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		Limits:         DefaultRiskLimits(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		VaR:            DefaultVaRConfig(),
		Alerts:         DefaultAlertConfig(),
	}
}

// limitsWire folds RiskLimits' hedge fields into the "auto_hedge" sub-object,
// matching the original core's on-disk layout.
type limitsWire struct {
	MaxPositionSize     float64 `json:"max_position_size"`
	MaxNotionalExposure float64 `json:"max_notional_exposure"`
	MaxNetExposure      float64 `json:"max_net_exposure"`
	MaxGrossExposure    float64 `json:"max_gross_exposure"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	DailyLossLimit      float64 `json:"daily_loss_limit"`
	MaxOrderSize        float64 `json:"max_order_size"`
	MaxOrderValue       float64 `json:"max_order_value"`
	MaxDailyVolume      float64 `json:"max_daily_volume"`
	MaxOrdersPerSecond  uint64  `json:"max_orders_per_second"`
}

type autoHedgeWire struct {
	Enabled       bool    `json:"auto_hedge_enabled"`
	ThresholdPct  float64 `json:"hedge_threshold_pct"`
	IntervalMs    int64   `json:"hedge_interval_ms"`
}

type configWire struct {
	RiskManagement struct {
		Limits         limitsWire           `json:"limits"`
		AutoHedge      autoHedgeWire        `json:"auto_hedge"`
		CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
		VaR            VaRConfig            `json:"var"`
		Alerts         AlertConfig          `json:"alerts"`
	} `json:"risk_management"`
}

// toWire maps a fully-populated RiskConfig onto its on-disk shape.
func toWire(c RiskConfig) configWire {
	var w configWire
	w.RiskManagement.Limits = limitsWire{
		MaxPositionSize:     c.Limits.MaxPositionSize,
		MaxNotionalExposure: c.Limits.MaxNotionalExposure,
		MaxNetExposure:      c.Limits.MaxNetExposure,
		MaxGrossExposure:    c.Limits.MaxGrossExposure,
		MaxDrawdownPct:      c.Limits.MaxDrawdownPct,
		DailyLossLimit:      c.Limits.DailyLossLimit,
		MaxOrderSize:        c.Limits.MaxOrderSize,
		MaxOrderValue:       c.Limits.MaxOrderValue,
		MaxDailyVolume:      c.Limits.MaxDailyVolume,
		MaxOrdersPerSecond:  c.Limits.MaxOrdersPerSecond,
	}
	w.RiskManagement.AutoHedge = autoHedgeWire{
		Enabled:      c.Limits.AutoHedgeEnabled,
		ThresholdPct: c.Limits.HedgeThresholdPct,
		IntervalMs:   c.Limits.HedgeIntervalMs,
	}
	w.RiskManagement.CircuitBreaker = c.CircuitBreaker
	w.RiskManagement.VaR = c.VaR
	w.RiskManagement.Alerts = c.Alerts
	return w
}

// ToJSON renders the config rooted at "risk_management", per §4.1.
func (c RiskConfig) ToJSON() ([]byte, error) {
	return json.Marshal(toWire(c))
}

// FromJSON parses a config rooted at "risk_management". Mirroring the
// original core's j.value(key, default) semantics, the scratch struct is
// seeded from DefaultRiskConfig before unmarshaling so that any key absent
// from data falls back to its default rather than the zero value.
func FromJSON(data []byte) (RiskConfig, error) {
	w := toWire(DefaultRiskConfig())
	if err := json.Unmarshal(data, &w); err != nil {
		return RiskConfig{}, err
	}
	c := RiskConfig{
		Limits: RiskLimits{
			MaxPositionSize:     w.RiskManagement.Limits.MaxPositionSize,
			MaxNotionalExposure: w.RiskManagement.Limits.MaxNotionalExposure,
			MaxNetExposure:      w.RiskManagement.Limits.MaxNetExposure,
			MaxGrossExposure:    w.RiskManagement.Limits.MaxGrossExposure,
			MaxDrawdownPct:      w.RiskManagement.Limits.MaxDrawdownPct,
			DailyLossLimit:      w.RiskManagement.Limits.DailyLossLimit,
			MaxOrderSize:        w.RiskManagement.Limits.MaxOrderSize,
			MaxOrderValue:       w.RiskManagement.Limits.MaxOrderValue,
			MaxDailyVolume:      w.RiskManagement.Limits.MaxDailyVolume,
			MaxOrdersPerSecond:  w.RiskManagement.Limits.MaxOrdersPerSecond,
			AutoHedgeEnabled:    w.RiskManagement.AutoHedge.Enabled,
			HedgeThresholdPct:   w.RiskManagement.AutoHedge.ThresholdPct,
			HedgeIntervalMs:     w.RiskManagement.AutoHedge.IntervalMs,
		},
		CircuitBreaker: w.RiskManagement.CircuitBreaker,
		VaR:            w.RiskManagement.VaR,
		Alerts:         w.RiskManagement.Alerts,
	}
	return c, nil
}
