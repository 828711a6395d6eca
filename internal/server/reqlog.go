package server

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/webgate/webgate/internal/logging"
)

// requestLogMiddleware 记录请求/响应指标；非生产模式额外输出 debug 日志。
// 链路中的错误在此交给 ErrorHandler，以便拿到最终状态码。
func requestLogMiddleware(opts AppOptions) fiber.Handler {
	kind := string(opts.Kind)
	return func(c fiber.Ctx) error {
		start := time.Now()
		method := c.Method()
		opts.Recorder.RequestReceived(kind, method, c.Request().Header.ContentLength())

		verbose := !opts.Mode.IsProduction()
		if verbose {
			opts.Logger.WithFields(logging.RequestFields(kind, method, c.Hostname(), c.OriginalURL(), c.IP())).
				WithField("request_id", RequestID(c)).
				Debugf("[%s] Request received", kind)
		}

		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		elapsed := time.Since(start)
		opts.Recorder.ResponseSent(kind, method, status, elapsed)

		if verbose {
			opts.Logger.WithFields(logging.RequestFields(kind, method, c.Hostname(), c.OriginalURL(), c.IP())).
				WithFields(logrus.Fields{
					"request_id":   RequestID(c),
					"status":       status,
					"responseTime": elapsed.String(),
				}).
				Debugf("[%s] Response sent", kind)
		}
		return nil
	}
}
