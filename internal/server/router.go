package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/webgate/webgate/internal/config"
	"github.com/webgate/webgate/internal/logging"
	"github.com/webgate/webgate/internal/metrics"
)

// ServerErrorBody 是未捕获错误的固定响应体。
const ServerErrorBody = "SERVER ERROR"

// AppOptions controls how the Fiber application of one listener behaves.
type AppOptions struct {
	Kind     Kind
	Port     int
	Logger   *logrus.Logger
	Recorder metrics.Recorder
	Mode     config.RuntimeMode
	// TrustGate 开启后信任网关先于其他中间件执行。
	TrustGate bool
}

const contextKeyRequestID = "_webgate_request_id"

// NewApp builds a Fiber application with the shared middleware chain and
// structured error handling. Routes are added later through the gateway.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Kind == "" {
		return nil, errors.New("listener kind is required")
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.Port)
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}

	app := fiber.New(fiber.Config{
		AppName:       fmt.Sprintf("webgate-%s", opts.Kind),
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts),
	})

	if opts.TrustGate {
		app.Use(trustGateMiddleware(opts))
	}
	app.Use(requestIDMiddleware())
	app.Use(requestLogMiddleware(opts))
	// recover 位于请求日志之内，panic 转成错误后仍记录响应。
	app.Use(recover.New())

	return app, nil
}

// errorHandler 将未捕获错误统一转换为 500 SERVER ERROR。
// 只有未命中任何路由时框架产生的 404/405 保持原状态码，处理器返回的错误一律不透出细节。
func errorHandler(opts AppOptions) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		body := ServerErrorBody

		if routing := routingError(c, err); routing != nil {
			status = routing.Code
			body = routing.Message
		}

		entry := opts.Logger.WithFields(logging.ListenerFields(string(opts.Kind), opts.Port)).
			WithField("request_id", RequestID(c))
		if status >= fiber.StatusInternalServerError {
			entry.Errorf("[%s] Error handled [%d] %s", opts.Kind, status, err.Error())
		} else {
			entry.Debugf("[%s] Error handled [%d] %s", opts.Kind, status, err.Error())
		}

		return c.Status(status).SendString(body)
	}
}

func routingError(c fiber.Ctx, err error) *fiber.Error {
	if c.Matched() {
		return nil
	}
	switch {
	case errors.Is(err, fiber.ErrNotFound):
		return fiber.ErrNotFound
	case errors.Is(err, fiber.ErrMethodNotAllowed):
		return fiber.ErrMethodNotAllowed
	}
	return nil
}

// requestIDMiddleware 为每个请求生成 ID，写入 Locals 并回写 X-Request-ID。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the request id middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
