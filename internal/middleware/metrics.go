package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/tangle_account/internal/metrics"
)

// Metrics counts requests by method, matched route and status.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		route := c.Route().Path
		metrics.HTTPRequests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		return err
	}
}
