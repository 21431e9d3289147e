// Command riskd is the composition-root binary for the risk and control
// plane: it loads configuration, wires C1-C6 via fx, and exposes the
// read-only admin surface and Prometheus metrics endpoint.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/riskcore/internal/risk/alert"
	"github.com/abdoElHodaky/riskcore/internal/risk/breaker"
	riskcore "github.com/abdoElHodaky/riskcore/internal/risk/core"
	"github.com/abdoElHodaky/riskcore/internal/risk/dr"
	"github.com/abdoElHodaky/riskcore/internal/risk/manager"
	"github.com/abdoElHodaky/riskcore/internal/risk/metrics"
	"github.com/abdoElHodaky/riskcore/internal/risk/varengine"
	"github.com/abdoElHodaky/riskcore/internal/riskcfg"
)

func loadRiskConfig(path string) riskcfg.RiskConfig {
	cfg := riskcfg.DefaultRiskConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	loaded, err := riskcfg.FromJSON(data)
	if err != nil {
		return cfg
	}
	return loaded
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	appCfg, err := riskcfg.LoadAppConfig(os.Getenv("RISKCORE_CONFIG"))
	if err != nil {
		logger.Fatal("failed to load app config", zap.Error(err))
	}
	riskCfg := loadRiskConfig(appCfg.ConfigPath)

	app := fx.New(
		fx.Supply(logger, appCfg, riskCfg),
		riskcore.Module,
		// fx only constructs providers something depends on; requesting the
		// VaR engine here registers its Start/Stop lifecycle hooks.
		fx.Invoke(func(*varengine.Engine) {}),
		fx.Invoke(runAdminSurface),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	<-app.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("failed to stop application cleanly", zap.Error(err))
	}
}

func runAdminSurface(
	lc fx.Lifecycle,
	appCfg riskcfg.AppConfig,
	mgr *manager.Manager,
	brk *breaker.Breaker,
	alerts *alert.Manager,
	rec *dr.Recovery,
	m *metrics.Set,
	log *zap.Logger,
) {
	admin := riskcore.NewAdminServer(mgr, brk, alerts, rec)
	adminSrv := &http.Server{Addr: appCfg.AdminAddr, Handler: admin.Handler()}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: appCfg.MetricsAddr, Handler: metricsMux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("admin server stopped", zap.Error(err))
				}
			}()
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()
			log.Info("riskd started",
				zap.String("admin_addr", appCfg.AdminAddr),
				zap.String("metrics_addr", appCfg.MetricsAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = adminSrv.Shutdown(ctx)
			_ = metricsSrv.Shutdown(ctx)
			return nil
		},
	})
}
