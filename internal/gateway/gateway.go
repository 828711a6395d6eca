// Package gateway is the only place routes reach a listener. It resolves the
// selected listener from the pool, normalizes paths, adapts the plugin handler
// shapes to Fiber handlers and keeps track of named sub-application mounts.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/webgate/webgate/internal/config"
	"github.com/webgate/webgate/internal/health"
	"github.com/webgate/webgate/internal/logging"
	"github.com/webgate/webgate/internal/server"
)

var (
	// ErrNilHandler is returned when a registration carries no handler.
	ErrNilHandler = errors.New("handler is required")
	// ErrInvalidSubApplication is returned for a sub-application without Register.
	ErrInvalidSubApplication = errors.New("sub-application register function is required")
)

// Options 描述网关需要的配置与日志依赖。
type Options struct {
	Server      config.ServerConfig
	Metrics     bool
	MetricsPath string
	Logger      *logrus.Logger
}

// Gateway 把路由注册转发到选中的监听器。
type Gateway struct {
	mu      sync.Mutex
	pool    *server.Pool
	opts    Options
	logger  *logrus.Logger
	mounted map[string]struct{}
}

// New 基于监听池创建网关。
func New(pool *server.Pool, opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	return &Gateway{
		pool:    pool,
		opts:    opts,
		logger:  opts.Logger,
		mounted: make(map[string]struct{}),
	}
}

// NormalizePath 去掉末尾的一个 /，根路径保持不变。
func NormalizePath(path string) string {
	if path != "/" && strings.HasSuffix(path, "/") {
		return path[:len(path)-1]
	}
	return path
}

// ServerInstance 返回承载应用路由的监听器句柄。
func (g *Gateway) ServerInstance() *server.Listener {
	return g.pool.Selected()
}

// Head 注册 HEAD 路由，处理器不接收请求体。
func (g *Gateway) Head(path string, handler NoBodyHandler) error {
	return g.noBody(fiber.MethodHead, path, handler)
}

// Get 注册 GET 路由。
func (g *Gateway) Get(path string, handler NoBodyHandler) error {
	return g.noBody(fiber.MethodGet, path, handler)
}

// Options 注册 OPTIONS 路由。
func (g *Gateway) Options(path string, handler NoBodyHandler) error {
	return g.noBody(fiber.MethodOptions, path, handler)
}

// Post 注册 POST 路由，请求体按 Content-Type 解析后传给处理器。
func (g *Gateway) Post(path string, handler BodyHandler) error {
	return g.withBody(fiber.MethodPost, path, handler)
}

// Put 注册 PUT 路由。
func (g *Gateway) Put(path string, handler BodyHandler) error {
	return g.withBody(fiber.MethodPut, path, handler)
}

// Patch 注册 PATCH 路由。
func (g *Gateway) Patch(path string, handler BodyHandler) error {
	return g.withBody(fiber.MethodPatch, path, handler)
}

// Delete 注册 DELETE 路由。
func (g *Gateway) Delete(path string, handler BodyHandler) error {
	return g.withBody(fiber.MethodDelete, path, handler)
}

// All 为全部方法注册同一个处理器。
func (g *Gateway) All(path string, handler BodyHandler) error {
	return g.withBody(verbAll, path, handler)
}

// GetCustom 注册原生 Fiber 处理器，可附带路由名称与前置中间件。
func (g *Gateway) GetCustom(path string, opts RouteOptions, handler fiber.Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	handlers := make([]any, 0, len(opts.Middleware))
	for _, mw := range opts.Middleware {
		if mw != nil {
			handlers = append(handlers, mw)
		}
	}
	handlers = append(handlers, handler)

	return g.register(g.pool.Selected(), fiber.MethodGet, path, func(app *fiber.App, p string) {
		route := app.Get(p, handlers[0], handlers[1:]...)
		if opts.Name != "" {
			route.Name(opts.Name)
		}
	})
}

// Mount 挂载子应用。带名称的子应用只挂载一次，重复挂载记录警告并返回 nil。
func (g *Gateway) Mount(sub SubApplication) error {
	if sub.Register == nil {
		return ErrInvalidSubApplication
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if sub.Name != "" {
		if _, exists := g.mounted[sub.Name]; exists {
			g.logger.WithFields(logrus.Fields{
				"action": "mount",
				"plugin": sub.Name,
			}).Warnf("[REGISTER] %s ALREADY REGISTERED", sub.Name)
			return nil
		}
	}

	err := g.pool.Selected().Routes(func(app *fiber.App) error {
		var router fiber.Router = app
		if prefix := NormalizePath(sub.Prefix); prefix != "" && prefix != "/" {
			router = app.Group(prefix)
		}
		return sub.Register(router)
	})
	if err != nil {
		return fmt.Errorf("mount %q: %w", sub.Name, err)
	}
	if sub.Name != "" {
		g.mounted[sub.Name] = struct{}{}
	}

	g.logger.WithFields(logrus.Fields{
		"action": "mount",
		"plugin": sub.Name,
		"prefix": sub.Prefix,
	}).Debug("sub-application mounted")
	return nil
}

// Mounted 表示指定名称的子应用是否已挂载。
func (g *Gateway) Mounted(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.mounted[name]
	return ok
}

// InstallHealth 在独立 health 监听器（202）或主监听器（200）上注册 GET /health。
func (g *Gateway) InstallHealth(reg *health.Registry) error {
	if !g.opts.Server.Health {
		return nil
	}
	target, status := g.pool.Selected(), fiber.StatusOK
	if h := g.pool.Health(); h != nil {
		target, status = h, fiber.StatusAccepted
	}
	handler := reg.Handler(status)
	return g.register(target, fiber.MethodGet, "/health", func(app *fiber.App, p string) {
		app.Get(p, handler)
	})
}

// InstallMetrics 在主监听器上暴露 Prometheus 指标。
func (g *Gateway) InstallMetrics(handler http.Handler) error {
	if !g.opts.Metrics {
		return nil
	}
	if handler == nil {
		return ErrNilHandler
	}
	path := g.opts.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	fh := adaptor.HTTPHandler(handler)
	return g.register(g.pool.Selected(), fiber.MethodGet, path, func(app *fiber.App, p string) {
		app.Get(p, fh)
	})
}

const verbAll = "ALL"

func (g *Gateway) noBody(method, path string, handler NoBodyHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	return g.register(g.pool.Selected(), method, path, func(app *fiber.App, p string) {
		app.Add([]string{method}, p, adaptNoBody(handler))
	})
}

func (g *Gateway) withBody(method, path string, handler BodyHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	return g.register(g.pool.Selected(), method, path, func(app *fiber.App, p string) {
		if method == verbAll {
			app.All(p, adaptBody(handler))
			return
		}
		app.Add([]string{method}, p, adaptBody(handler))
	})
}

// register 统一处理路径规范化与日志。监听器绑定后路由表冻结，返回 server.ErrServing。
// Fiber 对非法路由直接 panic，这里转换为错误返回给调用方。
func (g *Gateway) register(l *server.Listener, method, path string, add func(app *fiber.App, path string)) (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := NormalizePath(path)
	fields := logging.ListenerFields(string(l.Kind()), l.Port())
	g.logger.WithFields(fields).Debugf("[%s] initForPlugins [%s] %s", l.Kind(), method, p)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("register [%s] %s: %v", method, p, rec)
		}
		if err != nil {
			g.logger.WithFields(fields).WithError(err).Errorf("[%s] initForPlugins [%s] %s FAILED", l.Kind(), method, p)
		}
	}()
	if routesErr := l.Routes(func(app *fiber.App) error {
		add(app, p)
		return nil
	}); routesErr != nil {
		return fmt.Errorf("register [%s] %s: %w", method, p, routesErr)
	}

	g.logger.WithFields(fields).Debugf("[%s] initForPlugins [%s] %s OKAY", l.Kind(), method, p)
	return nil
}
