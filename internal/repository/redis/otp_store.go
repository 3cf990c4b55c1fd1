package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/model"
	"otp-auth-service/internal/util"
)

const (
	otpRecordPrefix   = "otp:record:"
	otpRequestsPrefix = "otp:requests:"
)

// issueScript prunes the request window, enforces the per-phone issue limit
// and writes the superseding record in one atomic step. A record that already
// exists is overwritten: only the newest code for a phone is ever live.
const issueScript = `
local reqKey = KEYS[1]
local recKey = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local otpHash = ARGV[4]
local ttl = tonumber(ARGV[5])
local member = ARGV[6]

redis.call("ZREMRANGEBYSCORE", reqKey, "-inf", now - window)
local count = redis.call("ZCARD", reqKey)
if count >= limit then
  return {0, count}
end
redis.call("ZADD", reqKey, now, member)
redis.call("EXPIRE", reqKey, window)
redis.call("HSET", recKey,
  "otp_hash", otpHash,
  "expires_at", now + ttl,
  "attempts", 0,
  "verified", 0,
  "created_at", now)
return {1, count + 1}
`

// verifyScript applies one verification attempt atomically. Check order is
// fixed: exhaustion wins over expiry, expiry wins over comparison, and a
// mismatch that reaches the cap reports exhaustion rather than mismatch.
const verifyScript = `
local recKey = KEYS[1]
local now = tonumber(ARGV[1])
local submitted = ARGV[2]
local maxAttempts = tonumber(ARGV[3])

if redis.call("EXISTS", recKey) == 0 then
  return {"missing", 0}
end
local attempts = tonumber(redis.call("HGET", recKey, "attempts") or "0")
if attempts >= maxAttempts then
  return {"exhausted", 0}
end
local expiresAt = tonumber(redis.call("HGET", recKey, "expires_at") or "0")
if now > expiresAt then
  return {"expired", 0}
end
if redis.call("HGET", recKey, "otp_hash") ~= submitted then
  attempts = attempts + 1
  redis.call("HSET", recKey, "attempts", attempts)
  if attempts >= maxAttempts then
    return {"exhausted", 0}
  end
  return {"mismatch", maxAttempts - attempts}
end
redis.call("HSET", recKey, "attempts", 0, "verified", 1)
return {"match", 0}
`

// OTPStore keeps per-phone OTP records and their issue windows in Redis.
// Every read-modify-write goes through a Lua script so concurrent requests
// for the same phone serialize inside Redis.
type OTPStore struct {
	client      *client.RedisClient
	ttl         time.Duration
	maxAttempts int
	limit       int
	window      time.Duration
}

func NewOTPStore(c *client.RedisClient, ttl time.Duration, maxAttempts, limit int, window time.Duration) *OTPStore {
	return &OTPStore{
		client:      c,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		limit:       limit,
		window:      window,
	}
}

// Issue records a fresh OTP for the phone unless the issue window is full.
// Returns false when the per-phone limit is hit.
func (s *OTPStore) Issue(phone, otpHash string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.client.Eval(ctx, issueScript,
		[]string{otpRequestsPrefix + phone, otpRecordPrefix + phone},
		now.Unix(),
		int(s.window.Seconds()),
		s.limit,
		otpHash,
		int(s.ttl.Seconds()),
		uuid.New().String(),
	)
	if err != nil {
		util.Error("failed to issue OTP record",
			zap.String("phone", phone), zap.Error(err))
		return false, fmt.Errorf("failed to issue OTP record: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, fmt.Errorf("unexpected issue script reply: %v", res)
	}
	allowed := reply[0].(int64) == 1

	util.Debug("OTP issue attempt",
		zap.String("phone", phone),
		zap.Bool("allowed", allowed),
		zap.Int64("window_requests", reply[1].(int64)))

	return allowed, nil
}

// Verify applies one verification attempt and reports the outcome together
// with the attempts remaining after a mismatch.
func (s *OTPStore) Verify(phone, submittedHash string, now time.Time) (model.VerifyOutcome, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.client.Eval(ctx, verifyScript,
		[]string{otpRecordPrefix + phone},
		now.Unix(),
		submittedHash,
		s.maxAttempts,
	)
	if err != nil {
		util.Error("failed to verify OTP",
			zap.String("phone", phone), zap.Error(err))
		return model.VerifyMissing, 0, fmt.Errorf("failed to verify OTP: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return model.VerifyMissing, 0, fmt.Errorf("unexpected verify script reply: %v", res)
	}

	outcome := model.VerifyMissing
	switch reply[0].(string) {
	case "match":
		outcome = model.VerifyMatch
	case "mismatch":
		outcome = model.VerifyMismatch
	case "expired":
		outcome = model.VerifyExpired
	case "exhausted":
		outcome = model.VerifyExhausted
	}

	remaining := 0
	if n, ok := reply[1].(int64); ok {
		remaining = int(n)
	}
	return outcome, remaining, nil
}

// GetRecord loads the current OTP record for a phone, or nil when none exists.
func (s *OTPStore) GetRecord(phone string) (*model.OTPRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, otpRecordPrefix+phone)
	if err != nil {
		return nil, fmt.Errorf("failed to load OTP record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &model.OTPRecord{Phone: phone, OTPHash: fields["otp_hash"]}
	if v, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil {
		rec.ExpiresAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(v, 0)
	}
	if v, err := strconv.Atoi(fields["attempts"]); err == nil {
		rec.Attempts = v
	}
	rec.Verified = fields["verified"] == "1"
	return rec, nil
}

// Deverify clears the verified flag once a session has been revoked, so the
// next session requires a fresh OTP round.
func (s *OTPStore) Deverify(phone string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := s.client.Exists(ctx, otpRecordPrefix+phone)
	if err != nil {
		return fmt.Errorf("failed to check OTP record: %w", err)
	}
	if !exists {
		return nil
	}

	if err := s.client.Client.HSet(ctx, otpRecordPrefix+phone, "verified", 0).Err(); err != nil {
		util.Error("failed to de-verify OTP record",
			zap.String("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to de-verify OTP record: %w", err)
	}
	return nil
}

// DeleteRecord removes a stale record. Used by the sweeper, never by the
// request path.
func (s *OTPStore) DeleteRecord(phone string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, otpRecordPrefix+phone); err != nil {
		return fmt.Errorf("failed to delete OTP record: %w", err)
	}
	return nil
}

// StaleRecords returns phones whose records expired before the cutoff.
func (s *OTPStore) StaleRecords(ctx context.Context, cutoff time.Time) ([]string, error) {
	keys, _, err := s.client.Scan(ctx, 0, otpRecordPrefix+"*", 1000)
	if err != nil {
		return nil, fmt.Errorf("failed to scan OTP records: %w", err)
	}

	var stale []string
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, key)
		if err != nil {
			continue
		}
		expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
		if err != nil {
			continue
		}
		if time.Unix(expiresAt, 0).Before(cutoff) {
			stale = append(stale, key[len(otpRecordPrefix):])
		}
	}
	return stale, nil
}
