// Package facade is the call boundary other in-process components use to reach
// the listener pool, the route gateway and the health registry. Calls are
// messages (method name plus positional arguments) consumed by a single
// goroutine, so registrations from different plugins never interleave.
package facade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/webgate/webgate/internal/gateway"
	"github.com/webgate/webgate/internal/health"
	"github.com/webgate/webgate/internal/logging"
	"github.com/webgate/webgate/internal/server"
)

// Method names accepted by Service.Call.
const (
	MethodAddHealthCheck    = "addHealthCheck"
	MethodGetServerInstance = "getServerInstance"
	MethodRegister          = "register"
	MethodHead              = "head"
	MethodGet               = "get"
	MethodGetCustom         = "getCustom"
	MethodPost              = "post"
	MethodPut               = "put"
	MethodDelete            = "delete"
	MethodPatch             = "patch"
	MethodOptions           = "options"
	MethodAll               = "all"
)

var (
	// ErrUnknownMethod is returned for a method name outside the contract.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrBadArguments is returned when arity or argument types do not match.
	ErrBadArguments = errors.New("bad arguments")
	// ErrClosed is returned for calls made after Close.
	ErrClosed = errors.New("facade closed")
)

// Routes 是网关暴露给调用边界的能力。
type Routes interface {
	Head(path string, handler gateway.NoBodyHandler) error
	Get(path string, handler gateway.NoBodyHandler) error
	Options(path string, handler gateway.NoBodyHandler) error
	Post(path string, handler gateway.BodyHandler) error
	Put(path string, handler gateway.BodyHandler) error
	Patch(path string, handler gateway.BodyHandler) error
	Delete(path string, handler gateway.BodyHandler) error
	All(path string, handler gateway.BodyHandler) error
	GetCustom(path string, opts gateway.RouteOptions, handler fiber.Handler) error
	Mount(sub gateway.SubApplication) error
	ServerInstance() *server.Listener
}

// Checks 是健康检查注册表暴露给调用边界的能力。
type Checks interface {
	Register(pluginName, checkName string, probe health.Probe) error
}

type result struct {
	value any
	err   error
}

type call struct {
	method string
	args   []any
	reply  chan result
}

type adapter func(args []any) (any, error)

// Service 在单个 goroutine 中串行处理调用。
type Service struct {
	routes Routes
	checks Checks
	logger *logrus.Logger
	table  map[string]adapter

	calls     chan call
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewService 创建并启动调用处理循环。
func NewService(routes Routes, checks Checks, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	s := &Service{
		routes: routes,
		checks: checks,
		logger: logger,
		calls:  make(chan call),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.table = s.buildTable()
	go s.loop()
	return s
}

// Methods 返回按字母序排列的可调用方法名。
func (s *Service) Methods() []string {
	names := make([]string, 0, len(s.table))
	for name := range s.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call 提交一次调用并等待结果。ctx 只约束排队阶段：调用被处理循环接收后，
// 注册一定会执行完毕，Call 返回它的真实结果而不是 ctx.Err()。
func (s *Service) Call(ctx context.Context, method string, args ...any) (any, error) {
	select {
	case <-s.quit:
		return nil, ErrClosed
	default:
	}

	reply := make(chan result, 1)
	select {
	case s.calls <- call{method: method, args: args, reply: reply}:
	case <-s.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	res := <-reply
	return res.value, res.err
}

// Close 停止处理循环；正在执行的调用会先完成。
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
}

func (s *Service) loop() {
	defer close(s.done)
	for {
		select {
		case c := <-s.calls:
			value, err := s.dispatch(c.method, c.args)
			c.reply <- result{value: value, err: err}
		case <-s.quit:
			return
		}
	}
}

func (s *Service) dispatch(method string, args []any) (value any, err error) {
	fields := logrus.Fields{"action": "facade_call", "method": method}

	fn, ok := s.table[method]
	if !ok {
		s.logger.WithFields(fields).Warn("unknown method")
		return nil, fmt.Errorf("%s: %w", method, ErrUnknownMethod)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s: panic: %v", method, rec)
		}
		if err != nil {
			s.logger.WithFields(fields).WithError(err).Warn("call failed")
			return
		}
		s.logger.WithFields(fields).Debug("call handled")
	}()
	return fn(args)
}

func (s *Service) buildTable() map[string]adapter {
	return map[string]adapter{
		MethodAddHealthCheck:    s.addHealthCheck,
		MethodGetServerInstance: s.getServerInstance,
		MethodRegister:          s.register,
		MethodGetCustom:         s.getCustom,
		MethodHead:              noBodyVerb(s.routes.Head),
		MethodGet:               noBodyVerb(s.routes.Get),
		MethodOptions:           noBodyVerb(s.routes.Options),
		MethodPost:              bodyVerb(s.routes.Post),
		MethodPut:               bodyVerb(s.routes.Put),
		MethodDelete:            bodyVerb(s.routes.Delete),
		MethodPatch:             bodyVerb(s.routes.Patch),
		MethodAll:               bodyVerb(s.routes.All),
	}
}

func (s *Service) getServerInstance(args []any) (any, error) {
	if err := arity(args, 0); err != nil {
		return nil, err
	}
	return s.routes.ServerInstance(), nil
}

func (s *Service) register(args []any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	sub, err := subApplicationArg(args[0])
	if err != nil {
		return nil, err
	}
	return nil, s.routes.Mount(sub)
}

func (s *Service) getCustom(args []any) (any, error) {
	if err := arity(args, 3); err != nil {
		return nil, err
	}
	path, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	opts, ok := args[1].(gateway.RouteOptions)
	if !ok {
		return nil, badArgument(1, "gateway.RouteOptions", args[1])
	}
	handler, err := fiberHandlerArg(args[2])
	if err != nil {
		return nil, err
	}
	return nil, s.routes.GetCustom(path, opts, handler)
}

func (s *Service) addHealthCheck(args []any) (any, error) {
	if err := arity(args, 3); err != nil {
		return nil, err
	}
	pluginName, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	checkName, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	var probe health.Probe
	switch p := args[2].(type) {
	case health.Probe:
		probe = p
	case func(context.Context) (bool, error):
		probe = p
	default:
		return nil, badArgument(2, "health.Probe", args[2])
	}
	return nil, s.checks.Register(pluginName, checkName, probe)
}

func noBodyVerb(register func(string, gateway.NoBodyHandler) error) adapter {
	return func(args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		path, err := stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		var handler gateway.NoBodyHandler
		switch h := args[1].(type) {
		case gateway.NoBodyHandler:
			handler = h
		case func(fiber.Ctx, gateway.Params, gateway.Query, *fasthttp.Request) error:
			handler = h
		default:
			return nil, badArgument(1, "gateway.NoBodyHandler", args[1])
		}
		return nil, register(path, handler)
	}
}

func bodyVerb(register func(string, gateway.BodyHandler) error) adapter {
	return func(args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		path, err := stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		var handler gateway.BodyHandler
		switch h := args[1].(type) {
		case gateway.BodyHandler:
			handler = h
		case func(fiber.Ctx, gateway.Params, gateway.Query, any, *fasthttp.Request) error:
			handler = h
		default:
			return nil, badArgument(1, "gateway.BodyHandler", args[1])
		}
		return nil, register(path, handler)
	}
}
