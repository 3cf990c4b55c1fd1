package model

import "time"

// Security event types emitted on state transitions worth auditing.
const (
	EventOTPRequested      = "otp_requested"
	EventOTPRateLimited    = "otp_rate_limited"
	EventOTPVerified       = "otp_verified"
	EventOTPVerifyFailed   = "otp_verify_failed"
	EventOTPExhausted      = "otp_attempts_exhausted"
	EventSessionIssued     = "session_issued"
	EventSessionRevoked    = "session_revoked"
	EventUserRegistered    = "user_registered"
	EventProfileUpdated    = "profile_updated"
	EventAddrRateLimited   = "signup_addr_rate_limited"
)

// SecurityEvent is the audit record streamed to Kafka and stored in ClickHouse.
type SecurityEvent struct {
	EventTime time.Time `json:"event_time"`
	EventType string    `json:"event_type"`
	PhoneHash string    `json:"phone_hash"`
	IPAddress string    `json:"ip_address,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Details   string    `json:"details,omitempty"`
}
