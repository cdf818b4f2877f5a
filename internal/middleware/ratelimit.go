package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/config"
)

// takeToken refills the bucket in KEYS[1] for the whole intervals elapsed
// since its last refill, then takes one token.
//
//	ARGV: now_ms, capacity, refill_tokens, interval_ms, ttl_seconds
//	reply: {allowed (0|1), tokens left, wait_ms until the next refill}
var takeToken = redis.NewScript(`
local now, cap, refill, every, ttl =
	tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])

local b = redis.call('HMGET', KEYS[1], 'tokens', 'refilled_at')
local tokens = tonumber(b[1]) or cap
local at = tonumber(b[2]) or now

if every > 0 and now > at then
	local n = math.floor((now - at) / every)
	tokens = math.min(cap, tokens + n * refill)
	at = at + n * every
end

local allowed, wait = 0, 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	wait = math.max(0, every - (now - at))
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'refilled_at', at)
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tokens, wait}
`)

// bucketReply is the decoded answer of takeToken.
type bucketReply struct {
	allowed   bool
	remaining int64
	wait      time.Duration
}

func parseBucketReply(vals []int64) (bucketReply, error) {
	if len(vals) != 3 {
		return bucketReply{}, fmt.Errorf("token bucket: unexpected reply %v", vals)
	}
	return bucketReply{
		allowed:   vals[0] == 1,
		remaining: vals[1],
		wait:      time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// retryAfter is the wait rounded up to whole seconds for the Retry-After
// header.
func (r bucketReply) retryAfter() int {
	if r.wait <= 0 {
		return 0
	}
	return int(math.Ceil(r.wait.Seconds()))
}

// NewTokenBucket guards the routes it wraps with a Redis token bucket.  It
// fails open: when Redis is unreachable the request goes through and the
// error is logged, so a store outage never locks users out of login.
func NewTokenBucket(cfg config.RateLimitConfig, rdb redis.Scripter, log logrus.FieldLogger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	log = log.WithField("component", "ratelimit")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			vals, err := takeToken.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL/time.Second),
			).Int64Slice()
			if err != nil {
				log.WithError(err).WithField("key", key).Warn("rate limit script failed, allowing request")
				return next(c)
			}
			reply, err := parseBucketReply(vals)
			if err != nil {
				log.WithError(err).WithField("key", key).Warn("allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(reply.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}

			if !reply.allowed {
				secs := reply.retryAfter()
				h.Set("Retry-After", strconv.Itoa(secs))
				log.WithFields(logrus.Fields{"key": key, "retry_after": secs}).Info("rate limited")
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too many attempts, try again later",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

// buildRateKey joins the dimensions named by cfg.KeyStrategy, e.g.
// "ip_route" -> "<prefix>:ip:<addr>:route:<METHOD path>".  An unknown
// strategy keys on all three.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	dims := strings.Split(strings.ToLower(cfg.KeyStrategy), "_")
	for _, d := range dims {
		if d != "ip" && d != "user" && d != "route" {
			dims = []string{"ip", "user", "route"}
			break
		}
	}

	parts := []string{cfg.Prefix}
	for _, d := range dims {
		switch d {
		case "ip":
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			parts = append(parts, "ip", ip)
		case "user":
			parts = append(parts, "user", userID(c))
		case "route":
			parts = append(parts, "route", c.Request().Method+" "+c.Path())
		}
	}
	return strings.Join(parts, ":")
}
