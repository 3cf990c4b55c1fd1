// Package memory provides in-process implementations of the auth stores.
// They back local development without a Redis or Scylla cluster, and the
// service tests. Each mutation runs under a per-store lock, mirroring the
// atomicity the Redis scripts give in production.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"otp-auth-service/internal/model"
)

// OTPStore keeps OTP records keyed by phone.
type OTPStore struct {
	mu          sync.Mutex
	records     map[string]*model.OTPRecord
	ttl         time.Duration
	maxAttempts int
	limit       int
	window      time.Duration
}

func NewOTPStore(ttl time.Duration, maxAttempts, limit int, window time.Duration) *OTPStore {
	return &OTPStore{
		records:     make(map[string]*model.OTPRecord),
		ttl:         ttl,
		maxAttempts: maxAttempts,
		limit:       limit,
		window:      window,
	}
}

func (s *OTPStore) Issue(phone, otpHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[phone]
	if !ok {
		rec = &model.OTPRecord{Phone: phone}
		s.records[phone] = rec
	}

	rec.PruneRequests(now, s.window)
	if !rec.CanIssue(s.limit) {
		return false, nil
	}
	rec.ApplyIssue(otpHash, now, s.ttl)
	return true, nil
}

func (s *OTPStore) Verify(phone, submittedHash string, now time.Time) (model.VerifyOutcome, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[phone]
	if !ok {
		return model.VerifyMissing, 0, nil
	}
	outcome, remaining := rec.ApplyVerify(submittedHash, now, s.maxAttempts)
	return outcome, remaining, nil
}

func (s *OTPStore) GetRecord(phone string) (*model.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[phone]
	if !ok {
		return nil, nil
	}
	copied := *rec
	copied.RequestTimes = append([]time.Time(nil), rec.RequestTimes...)
	return &copied, nil
}

func (s *OTPStore) Deverify(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[phone]; ok {
		rec.Verified = false
	}
	return nil
}

func (s *OTPStore) DeleteRecord(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, phone)
	return nil
}

func (s *OTPStore) StaleRecords(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for phone, rec := range s.records {
		if rec.ExpiresAt.Before(cutoff) {
			stale = append(stale, phone)
		}
	}
	return stale, nil
}

// SignupLedger tracks distinct phones per client address.
type SignupLedger struct {
	mu     sync.Mutex
	byAddr map[string]map[string]time.Time
	limit  int
	window time.Duration
}

func NewSignupLedger(limit int, window time.Duration) *SignupLedger {
	return &SignupLedger{
		byAddr: make(map[string]map[string]time.Time),
		limit:  limit,
		window: window,
	}
}

func (l *SignupLedger) Reserve(addr, phone string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	phones, ok := l.byAddr[addr]
	if !ok {
		phones = make(map[string]time.Time)
		l.byAddr[addr] = phones
	}

	cutoff := now.Add(-l.window)
	for p, at := range phones {
		if !at.After(cutoff) {
			delete(phones, p)
		}
	}

	if _, known := phones[phone]; !known && len(phones) >= l.limit {
		return false, nil
	}
	phones[phone] = now
	return true, nil
}

// TokenStore keeps the active session hash per phone and the revoked nonces.
// The revoked set only grows, mirroring the production store.
type TokenStore struct {
	mu      sync.Mutex
	active  map[string]string
	revoked map[string]struct{}
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		active:  make(map[string]string),
		revoked: make(map[string]struct{}),
	}
}

func (s *TokenStore) SetActive(phone, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[phone] = tokenHash
	return nil
}

func (s *TokenStore) ActiveHash(phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[phone], nil
}

func (s *TokenStore) DeleteActive(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, phone)
	return nil
}

func (s *TokenStore) RevokeNonce(nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[nonce] = struct{}{}
	return nil
}

func (s *TokenStore) IsRevoked(nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[nonce]
	return ok, nil
}

// UserDirectory keeps accounts keyed by phone hash. Phones stay in clear
// here; sealing at rest only matters for the durable store.
type UserDirectory struct {
	mu     sync.Mutex
	byHash map[string]*model.User
	phones map[string]string
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{
		byHash: make(map[string]*model.User),
		phones: make(map[string]string),
	}
}

func (d *UserDirectory) CreateUser(user *model.User, phone string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	copied := *user
	d.byHash[user.PhoneHash] = &copied
	d.phones[user.PhoneHash] = phone
	return nil
}

func (d *UserDirectory) GetByPhoneHash(phoneHash string) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.byHash[phoneHash]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (d *UserDirectory) UpdateProfile(user *model.User, profile model.Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, ok := d.byHash[user.PhoneHash]
	if !ok {
		return nil
	}
	stored.FirstName = profile.FirstName
	stored.LastName = profile.LastName
	stored.District = profile.District
	stored.State = profile.State
	stored.Country = profile.Country
	stored.UpdatedAt = time.Now().UTC()

	*user = *stored
	return nil
}

func (d *UserDirectory) DecryptPhone(_ context.Context, user *model.User) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phones[user.PhoneHash], nil
}
