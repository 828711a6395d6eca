// Package host assembles the control plane with fx: configuration and logger
// are supplied by the caller, everything else is constructed here and the
// listener pool is bound to the fx lifecycle.
package host

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webgate/webgate/internal/config"
	"github.com/webgate/webgate/internal/facade"
	"github.com/webgate/webgate/internal/gateway"
	"github.com/webgate/webgate/internal/health"
	"github.com/webgate/webgate/internal/metrics"
	"github.com/webgate/webgate/internal/server"
)

// MetricsNamespace 是 Prometheus 指标前缀。
const MetricsNamespace = "webgate"

// Module 提供监听池、健康检查注册表、网关与调用边界。
var Module = fx.Module("webgate",
	fx.Provide(
		provideMetrics,
		providePool,
		provideRegistry,
		provideGateway,
		provideFacade,
		facade.NewClient,
	),
	fx.Invoke(installProbes, installRoutes, registerLifecycle),
)

// New 创建 fx 应用；extra 供嵌入方追加 fx.Invoke 等选项（例如通过 *facade.Client 注册路由）。
func New(cfg *config.Config, logger *logrus.Logger, extra ...fx.Option) *fx.App {
	return fx.New(Options(cfg, logger, extra...))
}

// Options 汇总构建应用所需的全部 fx 选项。
func Options(cfg *config.Config, logger *logrus.Logger, extra ...fx.Option) fx.Option {
	opts := []fx.Option{
		fx.Supply(cfg, logger),
		fx.WithLogger(func() fxevent.Logger { return NewFxLogger(logger) }),
		Module,
	}
	if timeout := cfg.Global.ShutdownTimeout.DurationValue(); timeout > 0 {
		opts = append(opts, fx.StopTimeout(timeout))
	}
	opts = append(opts, extra...)
	return fx.Options(opts...)
}

type metricsOut struct {
	fx.Out
	Recorder   metrics.Recorder
	Prometheus *metrics.Prometheus
}

// provideMetrics 关闭指标时记录器为 Nop，Prometheus 注册表仍然存在但不会对外暴露。
func provideMetrics(cfg *config.Config) metricsOut {
	prom := metrics.NewPrometheus(MetricsNamespace)
	if !cfg.Global.Metrics {
		return metricsOut{Recorder: metrics.Nop{}, Prometheus: prom}
	}
	return metricsOut{Recorder: prom, Prometheus: prom}
}

func providePool(cfg *config.Config, logger *logrus.Logger, rec metrics.Recorder) (*server.Pool, error) {
	return server.NewPool(cfg.Server, server.PoolOptions{
		Logger:   logger,
		Recorder: rec,
		Mode:     cfg.Global.Mode,
	})
}

func provideRegistry(logger *logrus.Logger, rec metrics.Recorder) *health.Registry {
	return health.NewRegistry(health.Options{Logger: logger, Recorder: rec})
}

func provideGateway(cfg *config.Config, pool *server.Pool, logger *logrus.Logger) *gateway.Gateway {
	return gateway.New(pool, gateway.Options{
		Server:      cfg.Server,
		Metrics:     cfg.Global.Metrics,
		MetricsPath: cfg.Global.MetricsPath,
		Logger:      logger,
	})
}

func provideFacade(gw *gateway.Gateway, reg *health.Registry, logger *logrus.Logger) *facade.Service {
	return facade.NewService(gw, reg, logger)
}

// installProbes 把配置中声明的上游地址注册为 HTTP 探针。
func installProbes(cfg *config.Config, reg *health.Registry) error {
	for _, p := range cfg.HealthProbes {
		client := health.NewProbeClient(p.Timeout.DurationValue())
		if err := reg.Register(p.Plugin, p.Name, health.HTTPProbe(client, p.URL)); err != nil {
			return fmt.Errorf("health probe %s-%s: %w", p.Plugin, p.Name, err)
		}
	}
	return nil
}

func installRoutes(gw *gateway.Gateway, reg *health.Registry, prom *metrics.Prometheus) error {
	if err := gw.InstallHealth(reg); err != nil {
		return err
	}
	return gw.InstallMetrics(prom.Handler())
}

// registerLifecycle 启动时绑定全部监听器：只要有一个监听器在服务就视为启动成功，
// 其余失败仅记录。停止时先关闭监听器再关闭调用边界。
func registerLifecycle(lc fx.Lifecycle, pool *server.Pool, svc *facade.Service, logger *logrus.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			err := pool.Start(ctx)
			if pool.Serving() == 0 {
				if err == nil {
					err = server.ErrNoListener
				}
				return fmt.Errorf("no listener is serving: %w", err)
			}
			if err != nil {
				logger.WithFields(logrus.Fields{
					"action":  "start",
					"serving": pool.Serving(),
				}).WithError(err).Warn("some listeners failed to start")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := pool.Stop(ctx)
			svc.Close()
			logger.WithField("action", "stop").Info("control plane stopped")
			return err
		},
	})
}
