package facade

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/webgate/webgate/internal/gateway"
	"github.com/webgate/webgate/internal/health"
	"github.com/webgate/webgate/internal/server"
)

// Client 为 Service 提供类型化的调用方式，语义与 Service.Call 相同。
type Client struct {
	svc *Service
}

// NewClient 包装 Service。
func NewClient(svc *Service) *Client {
	return &Client{svc: svc}
}

// AddHealthCheck 以 pluginName-checkName 为键注册健康探针。
func (c *Client) AddHealthCheck(ctx context.Context, pluginName, checkName string, probe health.Probe) error {
	_, err := c.svc.Call(ctx, MethodAddHealthCheck, pluginName, checkName, probe)
	return err
}

// GetServerInstance 返回承载应用路由的监听器。
func (c *Client) GetServerInstance(ctx context.Context) (*server.Listener, error) {
	value, err := c.svc.Call(ctx, MethodGetServerInstance)
	if err != nil {
		return nil, err
	}
	l, ok := value.(*server.Listener)
	if !ok {
		return nil, fmt.Errorf("unexpected server instance type %T", value)
	}
	return l, nil
}

// Register 挂载子应用，同名子应用只挂载一次。
func (c *Client) Register(ctx context.Context, sub gateway.SubApplication) error {
	_, err := c.svc.Call(ctx, MethodRegister, sub)
	return err
}

// Head 注册 HEAD 路由。
func (c *Client) Head(ctx context.Context, path string, handler gateway.NoBodyHandler) error {
	_, err := c.svc.Call(ctx, MethodHead, path, handler)
	return err
}

// Get 注册 GET 路由。
func (c *Client) Get(ctx context.Context, path string, handler gateway.NoBodyHandler) error {
	_, err := c.svc.Call(ctx, MethodGet, path, handler)
	return err
}

// Options 注册 OPTIONS 路由。
func (c *Client) Options(ctx context.Context, path string, handler gateway.NoBodyHandler) error {
	_, err := c.svc.Call(ctx, MethodOptions, path, handler)
	return err
}

// GetCustom 注册原生 Fiber 处理器。
func (c *Client) GetCustom(ctx context.Context, path string, opts gateway.RouteOptions, handler fiber.Handler) error {
	_, err := c.svc.Call(ctx, MethodGetCustom, path, opts, handler)
	return err
}

// Post 注册 POST 路由，处理器收到已解析的请求体。
func (c *Client) Post(ctx context.Context, path string, handler gateway.BodyHandler) error {
	_, err := c.svc.Call(ctx, MethodPost, path, handler)
	return err
}

// Put 注册 PUT 路由。
func (c *Client) Put(ctx context.Context, path string, handler gateway.BodyHandler) error {
	_, err := c.svc.Call(ctx, MethodPut, path, handler)
	return err
}

// Delete 注册 DELETE 路由。
func (c *Client) Delete(ctx context.Context, path string, handler gateway.BodyHandler) error {
	_, err := c.svc.Call(ctx, MethodDelete, path, handler)
	return err
}

// Patch 注册 PATCH 路由。
func (c *Client) Patch(ctx context.Context, path string, handler gateway.BodyHandler) error {
	_, err := c.svc.Call(ctx, MethodPatch, path, handler)
	return err
}

// All 为全部方法注册同一个处理器。
func (c *Client) All(ctx context.Context, path string, handler gateway.BodyHandler) error {
	_, err := c.svc.Call(ctx, MethodAll, path, handler)
	return err
}
