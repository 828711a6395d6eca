package server

import (
	"net"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

const (
	headerIsTrusted = "X-Is-Trusted"
	headerRealIP    = "X-Real-Ip"
	trustedValue    = "yes"
)

// trustGateMiddleware 只放行带 X-Is-Trusted: yes 的请求，并把远端地址替换为 X-Real-Ip。
func trustGateMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		ctx := c.RequestCtx()
		trusted := c.Get(headerIsTrusted)
		if trusted != trustedValue {
			value := trusted
			if value == "" {
				value = "unset"
			}
			opts.Logger.WithFields(logrus.Fields{
				"action":    "trust_gate",
				"type":      opts.Kind,
				"isTrusted": value,
				"source":    ctx.RemoteAddr().String(),
			}).Warnf("[%s] Untrusted request rejected", opts.Kind)
			return c.Status(fiber.StatusForbidden).SendString("Forbidden")
		}

		realIP := c.Get(headerRealIP)
		if ip := net.ParseIP(realIP); ip != nil {
			original := ctx.RemoteAddr().String()
			ctx.SetRemoteAddr(&net.TCPAddr{IP: ip})
			if !opts.Mode.IsProduction() {
				opts.Logger.WithFields(logrus.Fields{
					"action": "trust_gate",
					"type":   opts.Kind,
					"from":   original,
					"to":     realIP,
				}).Debugf("[%s] Remote address replaced", opts.Kind)
			}
		}
		return c.Next()
	}
}
