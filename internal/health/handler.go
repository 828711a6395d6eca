package health

import (
	"github.com/gofiber/fiber/v3"

	"github.com/webgate/webgate/internal/server"
)

// Handler 返回 /health 处理器，以给定状态码输出聚合报告。
// 独立 health 监听器使用 202，挂在主监听器上时使用 200。
func (r *Registry) Handler(status int) fiber.Handler {
	return func(c fiber.Ctx) error {
		report := r.Aggregate(c.Context(), Meta{
			RequestID: server.RequestID(c),
			Hostname:  c.Hostname(),
		})
		return c.Status(status).JSON(report)
	}
}
