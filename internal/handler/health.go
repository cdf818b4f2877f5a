package handler // declare the package name; contains HTTP handlers

import (
	"context"  // context bounds the Redis ping
	"net/http" // net/http provides status codes and response helpers
	"time"     // time for the ping timeout

	"github.com/labstack/echo/v4"   // echo is the web framework used for this project
	"github.com/redis/go-redis/v9" // redis client being checked
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPinger adapts a go-redis client to Pinger.
type RedisPinger struct{ Client redis.UniversalClient }

func (p RedisPinger) Ping(ctx context.Context) error { return p.Client.Ping(ctx).Err() }

// ActiveCounter reports open streams.  *service.Gateway satisfies it.
type ActiveCounter interface {
	Active() int64
}

// HealthHandler is the health-check endpoint used by load balancers and
// monitoring systems to verify that the service and Redis are reachable.
type HealthHandler struct {
	Redis   Pinger
	Streams ActiveCounter
}

// Health returns 200 with {"status":"ok"} when Redis answers a ping and 503
// otherwise.  The number of open streams is always included.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	body := echo.Map{"status": "ok", "redis": "ok", "activeStreams": int64(0)}
	if h.Streams != nil {
		body["activeStreams"] = h.Streams.Active()
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["redis"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return c.JSON(http.StatusOK, body)
}
