package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/webgate/webgate/internal/config"
	"github.com/webgate/webgate/internal/logging"
	"github.com/webgate/webgate/internal/metrics"
)

// PoolOptions 汇总监听池的外部依赖。
type PoolOptions struct {
	Logger   *logrus.Logger
	Recorder metrics.Recorder
	Mode     config.RuntimeMode
}

// Pool 持有按配置创建的全部监听器：HTTP 或 HTTPS 之一，以及可选的独立 HEALTH 监听器。
type Pool struct {
	cfg    config.ServerConfig
	logger *logrus.Logger

	selected *Listener
	health   *Listener

	stopOnce sync.Once
	stopErr  error
}

// NewPool 构建监听器但不绑定端口；HTTPS 证书在此加载，失败时不会有任何端口被绑定。
func NewPool(cfg config.ServerConfig, opts PoolOptions) (*Pool, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}

	p := &Pool{cfg: cfg, logger: opts.Logger}

	var (
		kind      Kind
		port      int
		tlsConfig *tls.Config
	)
	switch cfg.Type {
	case config.ServerTypeHTTP:
		kind, port = KindHTTP, cfg.HTTPPort
	case config.ServerTypeHTTPS:
		if err := config.ValidateCertFiles(cfg.HTTPSCert, cfg.HTTPSKey); err != nil {
			return nil, err
		}
		cert, err := tls.LoadX509KeyPair(cfg.HTTPSCert, cfg.HTTPSKey)
		if err != nil {
			return nil, fmt.Errorf("加载 HTTPS 证书失败: %w", err)
		}
		kind, port = KindHTTPS, cfg.HTTPSPort
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			NextProtos:   []string{"http/1.1"},
		}
	default:
		return nil, fmt.Errorf("unsupported server type: %q", cfg.Type)
	}

	if cfg.HTTP2 {
		opts.Logger.WithFields(logging.ListenerFields(string(kind), port)).
			WithField("allowHTTP1", cfg.AllowHTTP1).
			Warnf("[%s] HTTP/2 is not supported by the engine, serving HTTP/1.1", kind)
	}
	if cfg.ReadableAll || cfg.WritableAll {
		opts.Logger.WithFields(logging.ListenerFields(string(kind), port)).
			Warnf("[%s] readableAll/writableAll only apply to IPC sockets, ignored", kind)
	}

	app, err := NewApp(AppOptions{
		Kind:      kind,
		Port:      port,
		Logger:    opts.Logger,
		Recorder:  opts.Recorder,
		Mode:      opts.Mode,
		TrustGate: cfg.BehindTraefikWithCloudflareWarp,
	})
	if err != nil {
		return nil, err
	}
	p.selected = newListener(kind, cfg.Host, port, app, tlsConfig)

	if cfg.DedicatedHealth() {
		healthApp, err := NewApp(AppOptions{
			Kind:      KindHealth,
			Port:      cfg.HealthServerPort,
			Logger:    opts.Logger,
			Recorder:  opts.Recorder,
			Mode:      opts.Mode,
			TrustGate: cfg.BehindTraefikWithCloudflareWarp,
		})
		if err != nil {
			return nil, err
		}
		p.health = newListener(KindHealth, cfg.Host, cfg.HealthServerPort, healthApp, nil)
	}

	return p, nil
}

// Selected 返回承载应用路由的监听器：type=http 时为 HTTP，否则为 HTTPS。
func (p *Pool) Selected() *Listener {
	return p.selected
}

// Health 返回独立 health 监听器，未配置时为 nil。
func (p *Pool) Health() *Listener {
	return p.health
}

// Listeners 返回全部监听器，应用监听器在前。
func (p *Pool) Listeners() []*Listener {
	listeners := []*Listener{p.selected}
	if p.health != nil {
		listeners = append(listeners, p.health)
	}
	return listeners
}

// Start 逐个绑定监听器。单个监听器失败只记录并汇总到返回值，不影响其他监听器。
func (p *Pool) Start(ctx context.Context) error {
	network := "tcp"
	if p.cfg.IPv6Only {
		network = "tcp6"
	}
	lc := netListenConfig(p.cfg.Exclusive)

	var errs error
	for _, l := range p.Listeners() {
		fields := logging.ListenerFields(string(l.Kind()), l.Port())
		addr, err := l.bind(ctx, lc, network)
		if err != nil {
			p.logger.WithFields(fields).WithError(err).Errorf("[%s] Error listening", l.Kind())
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", l.Kind(), err))
			continue
		}

		p.logger.WithFields(fields).WithField("address", addr.String()).
			Infof("[%s] Listening %s", l.Kind(), addr.String())
		go func(l *Listener) {
			if err := l.serve(); err != nil {
				p.logger.WithFields(logging.ListenerFields(string(l.Kind()), l.Port())).
					WithError(err).Errorf("[%s] Error serving", l.Kind())
			}
		}(l)
	}
	return errs
}

// Serving 返回当前处于服务状态的监听器数量。
func (p *Pool) Serving() int {
	count := 0
	for _, l := range p.Listeners() {
		if l.Serving() {
			count++
		}
	}
	return count
}

// Stop 并发关闭全部监听器，只执行一次；后续调用返回首次结果。
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		listeners := p.Listeners()
		errs := make([]error, len(listeners))

		var g errgroup.Group
		for i, l := range listeners {
			g.Go(func() error {
				closed, err := l.close(ctx)
				fields := logging.ListenerFields(string(l.Kind()), l.Port())
				if err != nil {
					p.logger.WithFields(fields).WithError(err).Errorf("[%s] Error closing", l.Kind())
					errs[i] = fmt.Errorf("%s: %w", l.Kind(), err)
				} else if closed {
					p.logger.WithFields(fields).Infof("[%s] Closed", l.Kind())
				}
				return nil
			})
		}
		_ = g.Wait()
		p.stopErr = multierr.Combine(errs...)
	})
	return p.stopErr
}
