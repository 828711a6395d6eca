package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v3"
)

// Kind 标识监听器用途，同时作为日志前缀 [HTTP]/[HTTPS]/[HEALTH]。
type Kind string

const (
	KindHTTP   Kind = "HTTP"
	KindHTTPS  Kind = "HTTPS"
	KindHealth Kind = "HEALTH"
)

// Listener 独占一个 Fiber 应用实例，绑定成功后记录真实监听地址。
type Listener struct {
	kind      Kind
	host      string
	port      int
	app       *fiber.App
	tlsConfig *tls.Config

	mu      sync.Mutex
	ln      net.Listener
	bound   net.Addr
	serving bool
	closed  bool
	done    chan struct{}
}

func newListener(kind Kind, host string, port int, app *fiber.App, tlsConfig *tls.Config) *Listener {
	return &Listener{
		kind:      kind,
		host:      host,
		port:      port,
		app:       app,
		tlsConfig: tlsConfig,
		done:      make(chan struct{}),
	}
}

// Kind 返回监听器类型。
func (l *Listener) Kind() Kind {
	return l.kind
}

// Port 返回配置中的端口，端口为 0 时真实端口见 BoundAddress。
func (l *Listener) Port() int {
	return l.port
}

// App 返回底层 Fiber 应用，供网关注册路由或外部特殊用途。
func (l *Listener) App() *fiber.App {
	return l.app
}

// Routes 在绑定前修改路由表。bind 与 Routes 共用一把锁，
// 绑定之后 Fiber 的路由栈由请求处理协程并发读取，此时返回 ErrServing。
func (l *Listener) Routes(fn func(app *fiber.App) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	if l.ln != nil {
		return ErrServing
	}
	return fn(l.app)
}

// TLS 表示监听器是否终止 TLS。
func (l *Listener) TLS() bool {
	return l.tlsConfig != nil
}

// BoundAddress 返回绑定成功后的地址；未绑定时为空字符串。
func (l *Listener) BoundAddress() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bound == nil {
		return ""
	}
	return l.bound.String()
}

// Serving 表示监听器是否已绑定并开始处理请求。
func (l *Listener) Serving() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serving && !l.closed
}

// Done 在 Serve 循环退出后关闭。从未开始 Serve 的监听器在 close 时关闭。
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) address() string {
	return net.JoinHostPort(l.host, strconv.Itoa(l.port))
}

// bind 按 socket 选项打开监听 socket；HTTPS 监听器在此包装 TLS。
func (l *Listener) bind(ctx context.Context, lc net.ListenConfig, network string) (net.Addr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrListenerClosed
	}
	if l.ln != nil {
		return nil, ErrAlreadyBound
	}

	ln, err := lc.Listen(ctx, network, l.address())
	if err != nil {
		return nil, err
	}
	l.bound = ln.Addr()
	if l.tlsConfig != nil {
		ln = tls.NewListener(ln, l.tlsConfig)
	}
	l.ln = ln
	l.serving = true
	return l.bound, nil
}

// serve 阻塞直到监听器关闭，返回值已剔除正常关闭产生的错误。
func (l *Listener) serve() error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	defer close(l.done)

	if ln == nil {
		return ErrNotBound
	}
	err := l.app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})

	l.mu.Lock()
	closed := l.closed
	l.serving = false
	l.mu.Unlock()
	if closed || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// close 只生效一次；从未绑定的监听器直接标记关闭。
func (l *Listener) close(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false, nil
	}
	l.closed = true
	ln := l.ln
	l.mu.Unlock()

	if ln == nil {
		close(l.done)
		return true, nil
	}

	err := l.app.ShutdownWithContext(ctx)
	if closeErr := ln.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && err == nil {
		err = closeErr
	}
	return true, err
}

func netListenConfig(exclusive bool) net.ListenConfig {
	return net.ListenConfig{Control: listenControl(exclusive)}
}
