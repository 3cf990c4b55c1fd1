package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/audit"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/model"
	"otp-auth-service/internal/token"
	"otp-auth-service/internal/util"
)

var (
	ErrRateLimited         = errors.New("too many OTP requests")
	ErrDuplicateUser       = errors.New("user already exists")
	ErrNoSuchUser          = errors.New("user not found")
	ErrNoRecord            = errors.New("no OTP requested for this number")
	ErrOTPExpired          = errors.New("OTP has expired")
	ErrMaxAttemptsExceeded = errors.New("maximum OTP attempts exceeded")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrTokenNotFound       = errors.New("no active session for this number")
	ErrTokenMismatch       = errors.New("token is not the active session")
	ErrTokenRevoked        = errors.New("token has been revoked")
	ErrNotVerified         = errors.New("phone number not verified")
)

// InvalidOTPError reports a failed comparison together with how many
// attempts the caller has left before the code burns out.
type InvalidOTPError struct {
	Remaining int
}

func (e *InvalidOTPError) Error() string {
	return fmt.Sprintf("invalid OTP, %d attempts remaining", e.Remaining)
}

// OTPStore is the per-phone OTP record store. Issue and Verify must each be
// atomic with respect to concurrent calls for the same phone.
type OTPStore interface {
	Issue(phone, otpHash string, now time.Time) (bool, error)
	Verify(phone, submittedHash string, now time.Time) (model.VerifyOutcome, int, error)
	GetRecord(phone string) (*model.OTPRecord, error)
	Deverify(phone string) error
}

// SignupLedger throttles distinct phones per client address.
type SignupLedger interface {
	Reserve(addr, phone string, now time.Time) (bool, error)
}

// TokenStore tracks the single active session per phone and revoked nonces.
type TokenStore interface {
	SetActive(phone, tokenHash string) error
	ActiveHash(phone string) (string, error)
	DeleteActive(phone string) error
	RevokeNonce(nonce string) error
	IsRevoked(nonce string) (bool, error)
}

// UserDirectory is the durable account store.
type UserDirectory interface {
	CreateUser(user *model.User, phone string) error
	GetByPhoneHash(phoneHash string) (*model.User, error)
	UpdateProfile(user *model.User, profile model.Profile) error
	DecryptPhone(ctx context.Context, user *model.User) (string, error)
}

// EventRecorder receives security events. Emission is fire and forget.
type EventRecorder interface {
	Record(event model.SecurityEvent)
}

// AuthService orchestrates the OTP issuance cycle, session lifecycle and
// registration. Now is injectable so the expiry and window arithmetic is
// testable without sleeping.
type AuthService struct {
	otps     OTPStore
	ledger   SignupLedger
	tokens   TokenStore
	users    UserDirectory
	hasher   *hashing.Hasher
	tokenMgr *token.Manager
	events   EventRecorder
	Now      func() time.Time
}

func NewAuthService(
	otps OTPStore,
	ledger SignupLedger,
	tokens TokenStore,
	users UserDirectory,
	hasher *hashing.Hasher,
	tokenMgr *token.Manager,
	events EventRecorder,
) *AuthService {
	return &AuthService{
		otps:     otps,
		ledger:   ledger,
		tokens:   tokens,
		users:    users,
		hasher:   hasher,
		tokenMgr: tokenMgr,
		events:   events,
		Now:      time.Now,
	}
}

// generateCode draws a uniform 4-digit code, zero padded.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// RequestOTP starts an issuance cycle for an unregistered phone. addr is the
// client address the signup ledger throttles on.
func (s *AuthService) RequestOTP(phone, addr string) (string, error) {
	existing, err := s.users.GetByPhoneHash(s.hasher.PhoneHash(phone))
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrDuplicateUser
	}

	now := s.Now()
	allowed, err := s.ledger.Reserve(addr, phone, now)
	if err != nil {
		return "", err
	}
	if !allowed {
		s.record(model.EventAddrRateLimited, phone, addr, "")
		return "", ErrRateLimited
	}

	return s.issue(phone, addr, now)
}

// Login starts an issuance cycle for a registered phone. No address ledger:
// the per-phone window is the only throttle on this path.
func (s *AuthService) Login(phone string) (string, error) {
	existing, err := s.users.GetByPhoneHash(s.hasher.PhoneHash(phone))
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", ErrNoSuchUser
	}
	return s.issue(phone, "", s.Now())
}

func (s *AuthService) issue(phone, addr string, now time.Time) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}

	allowed, err := s.otps.Issue(phone, s.hasher.HashOTP(phone, code), now)
	if err != nil {
		return "", err
	}
	if !allowed {
		s.record(model.EventOTPRateLimited, phone, addr, "")
		return "", ErrRateLimited
	}

	s.record(model.EventOTPRequested, phone, addr, "")
	util.Debug("OTP issued", zap.String("phone_hash", s.hasher.PhoneHash(phone)))
	return code, nil
}

// VerifyOTP applies one submission to the phone's current record.
func (s *AuthService) VerifyOTP(phone, code string) error {
	outcome, remaining, err := s.otps.Verify(phone, s.hasher.HashOTP(phone, code), s.Now())
	if err != nil {
		return err
	}

	switch outcome {
	case model.VerifyMatch:
		s.record(model.EventOTPVerified, phone, "", "")
		return nil
	case model.VerifyMissing:
		return ErrNoRecord
	case model.VerifyExpired:
		return ErrOTPExpired
	case model.VerifyExhausted:
		s.record(model.EventOTPExhausted, phone, "", "")
		return ErrMaxAttemptsExceeded
	default:
		s.record(model.EventOTPVerifyFailed, phone, "", "")
		return &InvalidOTPError{Remaining: remaining}
	}
}

// IssueSession mints a session token for a phone whose current OTP record is
// verified. Issuing replaces any previous session: the stored digest is
// overwritten, so the old token stops validating immediately.
func (s *AuthService) IssueSession(phone string) (string, error) {
	rec, err := s.otps.GetRecord(phone)
	if err != nil {
		return "", err
	}
	if rec == nil || !rec.Verified {
		return "", ErrNotVerified
	}

	tok, nonce, err := s.tokenMgr.Issue(phone)
	if err != nil {
		return "", err
	}
	if err := s.tokens.SetActive(phone, s.hasher.TokenHash(tok)); err != nil {
		return "", err
	}

	s.record(model.EventSessionIssued, phone, "", nonce)
	return tok, nil
}

// ValidateSession checks a presented token in fixed order: signature and
// registered claims first, then the revocation set, then the single-active
// digest match. Each failure maps to its own sentinel; handlers collapse them.
func (s *AuthService) ValidateSession(tokenString string) (*token.Claims, error) {
	claims, err := s.tokenMgr.Parse(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}

	revoked, err := s.tokens.IsRevoked(claims.Nonce)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	activeHash, err := s.tokens.ActiveHash(claims.Phone)
	if err != nil {
		return nil, err
	}
	if activeHash == "" {
		return nil, ErrTokenNotFound
	}
	if activeHash != s.hasher.TokenHash(tokenString) {
		return nil, ErrTokenMismatch
	}
	return claims, nil
}

// RequireVerifiedSession gates protected resources: a valid session whose
// claims carry the verified flag.
func (s *AuthService) RequireVerifiedSession(tokenString string) (*token.Claims, error) {
	claims, err := s.ValidateSession(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.Verified {
		return nil, ErrNotVerified
	}
	return claims, nil
}

// Logout revokes the presented session and flips the phone's OTP record back
// to unverified, so the next session needs a fresh OTP round.
func (s *AuthService) Logout(tokenString string) error {
	claims, err := s.ValidateSession(tokenString)
	if err != nil {
		return err
	}

	if err := s.tokens.RevokeNonce(claims.Nonce); err != nil {
		return err
	}
	if err := s.tokens.DeleteActive(claims.Phone); err != nil {
		return err
	}
	if err := s.otps.Deverify(claims.Phone); err != nil {
		return err
	}

	s.record(model.EventSessionRevoked, claims.Phone, "", claims.Nonce)
	return nil
}

// Register creates the account for a phone that has completed OTP
// verification. Duplicate phones are rejected.
func (s *AuthService) Register(phone string, profile model.Profile) (*model.User, error) {
	rec, err := s.otps.GetRecord(phone)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.Verified {
		return nil, ErrNotVerified
	}

	phoneHash := s.hasher.PhoneHash(phone)
	existing, err := s.users.GetByPhoneHash(phoneHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateUser
	}

	user := &model.User{
		PhoneHash: phoneHash,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		District:  profile.District,
		State:     profile.State,
		Country:   profile.Country,
	}
	if err := s.users.CreateUser(user, phone); err != nil {
		return nil, err
	}

	s.record(model.EventUserRegistered, phone, "", "")
	return user, nil
}

// UpdateProfile rewrites the mutable profile fields of a registered account.
func (s *AuthService) UpdateProfile(phone string, profile model.Profile) (*model.User, error) {
	user, err := s.users.GetByPhoneHash(s.hasher.PhoneHash(phone))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoSuchUser
	}

	if err := s.users.UpdateProfile(user, profile); err != nil {
		return nil, err
	}

	s.record(model.EventProfileUpdated, phone, "", "")
	return user, nil
}

// Profile loads the registered account behind a session, with the stored
// phone unsealed. Returns ErrNoSuchUser for a verified but unregistered phone.
func (s *AuthService) Profile(ctx context.Context, phone string) (*model.User, string, error) {
	user, err := s.users.GetByPhoneHash(s.hasher.PhoneHash(phone))
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", ErrNoSuchUser
	}

	clear, err := s.users.DecryptPhone(ctx, user)
	if err != nil {
		util.Warn("failed to unseal stored phone", zap.Error(err))
		clear = ""
	}
	return user, clear, nil
}

func (s *AuthService) record(eventType, phone, addr, sessionID string) {
	if s.events == nil {
		return
	}
	s.events.Record(model.SecurityEvent{
		EventTime: s.Now().UTC(),
		EventType: eventType,
		PhoneHash: s.hasher.PhoneHash(phone),
		IPAddress: addr,
		SessionID: sessionID,
	})
}

var _ EventRecorder = (*audit.Recorder)(nil)
