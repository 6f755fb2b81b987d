package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/custom-gpt-portal/internal/logging"
)

// Pinger is anything whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health is a liveness probe. It returns plain text "ok" without touching
// any dependency.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready reports 200 only while every dependency answers a ping.
func Ready(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]string, len(deps))
		ready := true
		for name, p := range deps {
			if err := p.Ping(ctx); err != nil {
				logging.FromContext(ctx).Warn("readiness check failed", "dependency", name, "error", err)
				checks[name] = "unavailable"
				ready = false
				continue
			}
			checks[name] = "ok"
		}
		if !ready {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "checks": checks})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready", "checks": checks})
	}
}
