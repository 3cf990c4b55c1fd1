package model

import (
	"time"
)

// OTPRecord is the per-phone OTP state. At most one record exists per phone;
// issuing a new code supersedes the previous one in place.
type OTPRecord struct {
	Phone        string      `json:"phone" db:"phone"`
	OTPHash      string      `json:"otp_hash" db:"otp_hash"`
	ExpiresAt    time.Time   `json:"expires_at" db:"expires_at"`
	RequestTimes []time.Time `json:"request_times" db:"request_times"`
	Attempts     int         `json:"attempts" db:"attempts"`
	Verified     bool        `json:"verified" db:"verified"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// VerifyOutcome is the result of applying one OTP submission to a record.
type VerifyOutcome int

const (
	VerifyMatch VerifyOutcome = iota
	VerifyMismatch
	VerifyExpired
	VerifyExhausted
	VerifyMissing
)

// PruneRequests drops issuance timestamps older than the window.
func (r *OTPRecord) PruneRequests(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := r.RequestTimes[:0]
	for _, t := range r.RequestTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.RequestTimes = kept
}

// CanIssue reports whether a new code may be issued under the request cap.
// Callers must prune first; the count is over the retained window only.
func (r *OTPRecord) CanIssue(limit int) bool {
	return len(r.RequestTimes) < limit
}

// ApplyIssue records a fresh code: new hash, new expiry, attempt counter and
// verified flag reset, issuance timestamp appended.
func (r *OTPRecord) ApplyIssue(otpHash string, now time.Time, ttl time.Duration) {
	r.OTPHash = otpHash
	r.ExpiresAt = now.Add(ttl)
	r.RequestTimes = append(r.RequestTimes, now)
	r.Attempts = 0
	r.Verified = false
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}

// ApplyVerify runs one submission through the attempts/expiry state machine.
// The exhaustion check precedes the expiry check, matching the issuance-cycle
// semantics: a burned-out code stays burned out even before it expires.
// Returns the outcome and, on mismatch, the number of attempts remaining.
func (r *OTPRecord) ApplyVerify(submittedHash string, now time.Time, maxAttempts int) (VerifyOutcome, int) {
	if r.Attempts >= maxAttempts {
		return VerifyExhausted, 0
	}
	if now.After(r.ExpiresAt) {
		return VerifyExpired, 0
	}
	if submittedHash != r.OTPHash {
		r.Attempts++
		r.Verified = false
		if r.Attempts >= maxAttempts {
			return VerifyExhausted, 0
		}
		return VerifyMismatch, maxAttempts - r.Attempts
	}
	r.Attempts = 0
	r.Verified = true
	return VerifyMatch, 0
}
