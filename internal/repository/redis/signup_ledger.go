package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/util"
)

const signupAddrPrefix = "signup:addr:"

// reserveScript counts the distinct phones an address has asked codes for in
// the window and admits the request only while the count stays under the cap.
// Re-requesting for a phone already in the window refreshes its score but
// never counts twice.
const reserveScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local phone = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local known = redis.call("ZSCORE", key, phone)
local count = redis.call("ZCARD", key)
if not known and count >= limit then
  return {0, count}
end
redis.call("ZADD", key, now, phone)
redis.call("EXPIRE", key, window)
if known then
  return {1, count}
end
return {1, count + 1}
`

// SignupLedger throttles how many distinct phone numbers a single client
// address may request OTPs for inside a rolling window.
type SignupLedger struct {
	client *client.RedisClient
	limit  int
	window time.Duration
}

func NewSignupLedger(c *client.RedisClient, limit int, window time.Duration) *SignupLedger {
	return &SignupLedger{client: c, limit: limit, window: window}
}

// Reserve admits or denies an OTP request from addr for phone. Denial means
// the address already holds the maximum distinct phones for the window.
func (l *SignupLedger) Reserve(addr, phone string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := l.client.Eval(ctx, reserveScript,
		[]string{signupAddrPrefix + addr},
		now.Unix(),
		int(l.window.Seconds()),
		l.limit,
		phone,
	)
	if err != nil {
		util.Error("failed to reserve signup slot",
			zap.String("addr", addr), zap.Error(err))
		return false, fmt.Errorf("failed to reserve signup slot: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, fmt.Errorf("unexpected reserve script reply: %v", res)
	}
	allowed := reply[0].(int64) == 1

	if !allowed {
		util.Warn("address hit distinct-phone signup limit",
			zap.String("addr", addr),
			zap.Int64("distinct_phones", reply[1].(int64)))
	}
	return allowed, nil
}
