package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/hashing"
	"otp-auth-service/internal/model"
	"otp-auth-service/internal/repository/memory"
	"otp-auth-service/internal/token"
)

const (
	testPhone = "9876543210"
	testAddr  = "203.0.113.7"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:   "test-secret",
			Issuer:   "otp-auth-service",
			Audience: "otp-auth-clients",
			TokenTTL: 30 * time.Minute,
		},
		OTP: config.OTPConfig{
			TTL:           5 * time.Minute,
			MaxAttempts:   3,
			RequestLimit:  3,
			RequestWindow: 30 * time.Minute,
			Pepper:        "test-pepper",
		},
		RateLimit: config.RateLimitConfig{
			SignupAddrLimit:  4,
			SignupAddrWindow: 24 * time.Hour,
		},
	}
}

func newTestAuth(t *testing.T) (*AuthService, *testClock) {
	t.Helper()
	cfg := testConfig()
	clock := &testClock{now: testStart}

	tokenMgr := token.NewManager(cfg)
	tokenMgr.Now = clock.Now

	svc := NewAuthService(
		memory.NewOTPStore(cfg.OTP.TTL, cfg.OTP.MaxAttempts, cfg.OTP.RequestLimit, cfg.OTP.RequestWindow),
		memory.NewSignupLedger(cfg.RateLimit.SignupAddrLimit, cfg.RateLimit.SignupAddrWindow),
		memory.NewTokenStore(),
		memory.NewUserDirectory(),
		hashing.NewHasher(cfg),
		tokenMgr,
		nil,
	)
	svc.Now = clock.Now
	return svc, clock
}

func requestCode(t *testing.T, svc *AuthService, phone string) string {
	t.Helper()
	code, err := svc.RequestOTP(phone, testAddr)
	if err != nil {
		t.Fatalf("RequestOTP(%s): %v", phone, err)
	}
	if len(code) != 4 {
		t.Fatalf("RequestOTP returned %q, want a 4-digit code", code)
	}
	return code
}

func verifiedPhone(t *testing.T, svc *AuthService, phone string) {
	t.Helper()
	code := requestCode(t, svc, phone)
	if err := svc.VerifyOTP(phone, code); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
}

func registerUser(t *testing.T, svc *AuthService, phone string) *model.User {
	t.Helper()
	verifiedPhone(t, svc, phone)
	user, err := svc.Register(phone, model.Profile{
		FirstName: "Asha", LastName: "Rao",
		District: "Pune", State: "MH", Country: "IN",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return user
}

func TestRequestAndVerify(t *testing.T) {
	svc, _ := newTestAuth(t)

	code := requestCode(t, svc, testPhone)
	if err := svc.VerifyOTP(testPhone, code); err != nil {
		t.Fatalf("VerifyOTP with the issued code: %v", err)
	}
}

func TestVerifyWithoutRequest(t *testing.T) {
	svc, _ := newTestAuth(t)

	if err := svc.VerifyOTP(testPhone, "1234"); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("VerifyOTP without a record: %v, want ErrNoRecord", err)
	}
}

func TestVerifyExpiredCode(t *testing.T) {
	svc, clock := newTestAuth(t)

	code := requestCode(t, svc, testPhone)
	clock.Advance(5*time.Minute + time.Second)

	if err := svc.VerifyOTP(testPhone, code); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("VerifyOTP after expiry: %v, want ErrOTPExpired", err)
	}
}

func TestVerifyRemainingCountdown(t *testing.T) {
	svc, _ := newTestAuth(t)
	code := requestCode(t, svc, testPhone)
	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}

	var invalid *InvalidOTPError
	err := svc.VerifyOTP(testPhone, wrong)
	if !errors.As(err, &invalid) || invalid.Remaining != 2 {
		t.Fatalf("first wrong attempt: %v, want 2 remaining", err)
	}
	err = svc.VerifyOTP(testPhone, wrong)
	if !errors.As(err, &invalid) || invalid.Remaining != 1 {
		t.Fatalf("second wrong attempt: %v, want 1 remaining", err)
	}
	if err := svc.VerifyOTP(testPhone, wrong); !errors.Is(err, ErrMaxAttemptsExceeded) {
		t.Fatalf("third wrong attempt: %v, want ErrMaxAttemptsExceeded", err)
	}

	// Burned out: even the right code is rejected until a new one is issued.
	if err := svc.VerifyOTP(testPhone, code); !errors.Is(err, ErrMaxAttemptsExceeded) {
		t.Fatalf("correct code after exhaustion: %v, want ErrMaxAttemptsExceeded", err)
	}
}

func TestReissueSupersedesAndResets(t *testing.T) {
	svc, _ := newTestAuth(t)

	first := requestCode(t, svc, testPhone)
	wrong := "0000"
	if wrong == first {
		wrong = "0001"
	}
	svc.VerifyOTP(testPhone, wrong)
	svc.VerifyOTP(testPhone, wrong)
	svc.VerifyOTP(testPhone, wrong)

	second := requestCode(t, svc, testPhone)
	if second != first {
		if err := svc.VerifyOTP(testPhone, first); err == nil {
			t.Fatal("superseded code still accepted")
		}
	}
	if err := svc.VerifyOTP(testPhone, second); err != nil {
		t.Fatalf("fresh code after exhaustion: %v", err)
	}
}

func TestPerPhoneRequestLimit(t *testing.T) {
	svc, clock := newTestAuth(t)

	for i := 0; i < 3; i++ {
		requestCode(t, svc, testPhone)
	}
	if _, err := svc.RequestOTP(testPhone, testAddr); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("fourth request in window: %v, want ErrRateLimited", err)
	}

	clock.Advance(30*time.Minute + time.Second)
	requestCode(t, svc, testPhone)
}

func TestPerAddrDistinctPhoneLimit(t *testing.T) {
	svc, clock := newTestAuth(t)

	phones := []string{"9000000001", "9000000002", "9000000003", "9000000004"}
	for _, p := range phones {
		requestCode(t, svc, p)
	}

	// Repeat for a known phone is not a new distinct entry.
	requestCode(t, svc, phones[0])

	if _, err := svc.RequestOTP("9000000005", testAddr); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("fifth distinct phone from one address: %v, want ErrRateLimited", err)
	}

	// A different address is unaffected.
	if _, err := svc.RequestOTP("9000000005", "198.51.100.9"); err != nil {
		t.Fatalf("request from a fresh address: %v", err)
	}

	clock.Advance(24*time.Hour + time.Second)
	if _, err := svc.RequestOTP("9000000006", testAddr); err != nil {
		t.Fatalf("request after window rollover: %v", err)
	}
}

func TestRequestForRegisteredPhone(t *testing.T) {
	svc, _ := newTestAuth(t)
	registerUser(t, svc, testPhone)

	if _, err := svc.RequestOTP(testPhone, testAddr); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("RequestOTP for registered phone: %v, want ErrDuplicateUser", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestAuth(t)

	if _, err := svc.Login(testPhone); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("Login for unknown phone: %v, want ErrNoSuchUser", err)
	}

	registerUser(t, svc, testPhone)
	code, err := svc.Login(testPhone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.VerifyOTP(testPhone, code); err != nil {
		t.Fatalf("VerifyOTP with login code: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	svc, _ := newTestAuth(t)

	if _, err := svc.IssueSession(testPhone); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("IssueSession without verification: %v, want ErrNotVerified", err)
	}

	verifiedPhone(t, svc, testPhone)
	tok, err := svc.IssueSession(testPhone)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	claims, err := svc.ValidateSession(tok)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if claims.Phone != testPhone {
		t.Errorf("claims.Phone = %q, want %q", claims.Phone, testPhone)
	}
	if !claims.Verified {
		t.Error("claims.Verified = false")
	}
}

func TestSessionRotation(t *testing.T) {
	svc, _ := newTestAuth(t)
	verifiedPhone(t, svc, testPhone)

	first, err := svc.IssueSession(testPhone)
	if err != nil {
		t.Fatalf("first IssueSession: %v", err)
	}
	second, err := svc.IssueSession(testPhone)
	if err != nil {
		t.Fatalf("second IssueSession: %v", err)
	}
	if first == second {
		t.Fatal("two issues produced the same token")
	}

	if _, err := svc.ValidateSession(first); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("old token after rotation: %v, want ErrTokenMismatch", err)
	}
	if _, err := svc.ValidateSession(second); err != nil {
		t.Fatalf("new token after rotation: %v", err)
	}
}

func TestExpiredSession(t *testing.T) {
	svc, clock := newTestAuth(t)
	verifiedPhone(t, svc, testPhone)

	tok, err := svc.IssueSession(testPhone)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	clock.Advance(31 * time.Minute)
	if _, err := svc.ValidateSession(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: %v, want ErrInvalidToken", err)
	}
}

func TestForgedToken(t *testing.T) {
	svc, _ := newTestAuth(t)

	otherCfg := testConfig()
	otherCfg.JWT.Secret = "other-secret"
	forged, _, err := token.NewManager(otherCfg).Issue(testPhone)
	if err != nil {
		t.Fatalf("forging token: %v", err)
	}

	if _, err := svc.ValidateSession(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged token: %v, want ErrInvalidToken", err)
	}
}

func TestLogout(t *testing.T) {
	svc, _ := newTestAuth(t)
	verifiedPhone(t, svc, testPhone)

	tok, err := svc.IssueSession(testPhone)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if err := svc.Logout(tok); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := svc.ValidateSession(tok); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("token after logout: %v, want ErrTokenRevoked", err)
	}
	if err := svc.Logout(tok); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("second logout: %v, want ErrTokenRevoked", err)
	}

	// Logout de-verifies the OTP record: a new session needs a fresh round.
	if _, err := svc.IssueSession(testPhone); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("IssueSession after logout: %v, want ErrNotVerified", err)
	}

	verifiedPhone(t, svc, testPhone)
	fresh, err := svc.IssueSession(testPhone)
	if err != nil {
		t.Fatalf("IssueSession after re-verification: %v", err)
	}
	if _, err := svc.ValidateSession(fresh); err != nil {
		t.Fatalf("fresh session after logout: %v", err)
	}
	// The revoked nonce stays revoked.
	if _, err := svc.ValidateSession(tok); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("revoked token after new session: %v, want ErrTokenRevoked", err)
	}
}

func TestRegister(t *testing.T) {
	svc, _ := newTestAuth(t)

	profile := model.Profile{FirstName: "Asha", LastName: "Rao", Country: "IN"}

	if _, err := svc.Register(testPhone, profile); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("Register without verification: %v, want ErrNotVerified", err)
	}

	verifiedPhone(t, svc, testPhone)
	user, err := svc.Register(testPhone, profile)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.UserID == "" {
		t.Error("Register left UserID empty")
	}
	if user.FirstName != "Asha" {
		t.Errorf("FirstName = %q, want Asha", user.FirstName)
	}

	if _, err := svc.Register(testPhone, profile); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("duplicate Register: %v, want ErrDuplicateUser", err)
	}
}

func TestProfile(t *testing.T) {
	svc, _ := newTestAuth(t)

	if _, _, err := svc.Profile(context.Background(), testPhone); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("Profile for unknown phone: %v, want ErrNoSuchUser", err)
	}

	registerUser(t, svc, testPhone)
	user, phone, err := svc.Profile(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if phone != testPhone {
		t.Errorf("unsealed phone = %q, want %q", phone, testPhone)
	}
	if user.District != "Pune" {
		t.Errorf("District = %q, want Pune", user.District)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestAuth(t)
	registerUser(t, svc, testPhone)

	user, err := svc.UpdateProfile(testPhone, model.Profile{
		FirstName: "Asha", LastName: "Deshmukh",
		District: "Nagpur", State: "MH", Country: "IN",
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.LastName != "Deshmukh" || user.District != "Nagpur" {
		t.Errorf("updated user = %s/%s, want Deshmukh/Nagpur", user.LastName, user.District)
	}

	stored, _, err := svc.Profile(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("Profile after update: %v", err)
	}
	if stored.LastName != "Deshmukh" {
		t.Errorf("stored LastName = %q, want Deshmukh", stored.LastName)
	}
	if stored.District != "Nagpur" {
		t.Errorf("stored District = %q, want Nagpur", stored.District)
	}
}

func TestUpdateProfileUnregistered(t *testing.T) {
	svc, _ := newTestAuth(t)
	verifiedPhone(t, svc, testPhone)

	_, err := svc.UpdateProfile(testPhone, model.Profile{FirstName: "Asha", LastName: "Rao"})
	if !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("UpdateProfile for unregistered phone: %v, want ErrNoSuchUser", err)
	}
}

// Concurrent wrong submissions must serialize: the attempt counter lands
// exactly on the cap and each remaining value is handed out at most once.
func TestConcurrentVerifyAttempts(t *testing.T) {
	svc, _ := newTestAuth(t)
	code := requestCode(t, svc, testPhone)
	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}

	const workers = 20
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.VerifyOTP(testPhone, wrong)
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]int)
	exhausted := 0
	for err := range results {
		var invalid *InvalidOTPError
		switch {
		case errors.As(err, &invalid):
			seen[invalid.Remaining]++
		case errors.Is(err, ErrMaxAttemptsExceeded):
			exhausted++
		default:
			t.Fatalf("unexpected result: %v", err)
		}
	}

	if seen[2] != 1 || seen[1] != 1 {
		t.Errorf("remaining counts handed out = %v, want one 2 and one 1", seen)
	}
	if exhausted != workers-2 {
		t.Errorf("exhausted results = %d, want %d", exhausted, workers-2)
	}

	if err := svc.VerifyOTP(testPhone, code); !errors.Is(err, ErrMaxAttemptsExceeded) {
		t.Fatalf("correct code after concurrent exhaustion: %v", err)
	}
}

// Concurrent issue requests for one phone never exceed the window cap.
func TestConcurrentIssueRequests(t *testing.T) {
	svc, _ := newTestAuth(t)

	const workers = 12
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestOTP(testPhone, testAddr)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	granted, limited := 0, 0
	for err := range results {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, ErrRateLimited):
			limited++
		default:
			t.Fatalf("unexpected result: %v", err)
		}
	}

	if granted != 3 {
		t.Errorf("granted = %d, want 3", granted)
	}
	if limited != workers-3 {
		t.Errorf("limited = %d, want %d", limited, workers-3)
	}
}
