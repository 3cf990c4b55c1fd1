package token

import (
	"errors"
	"testing"
	"time"

	"otp-auth-service/internal/config"
)

func testManager() *Manager {
	m := NewManager(&config.Config{
		JWT: config.JWTConfig{
			Secret:   "test-secret",
			Issuer:   "otp-auth-service",
			Audience: "otp-auth-clients",
			TokenTTL: 30 * time.Minute,
		},
	})
	m.Now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	return m
}

func TestIssueAndParse(t *testing.T) {
	m := testManager()

	tok, nonce, err := m.Issue("9876543210")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if nonce == "" {
		t.Fatal("Issue returned an empty nonce")
	}

	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Phone != "9876543210" {
		t.Errorf("Phone = %q", claims.Phone)
	}
	if !claims.Verified {
		t.Error("Verified = false")
	}
	if claims.Nonce != nonce {
		t.Errorf("Nonce = %q, want %q", claims.Nonce, nonce)
	}
}

func TestEveryIssueIsDistinct(t *testing.T) {
	m := testManager()

	// Same phone, same frozen clock: the nonce alone must differentiate.
	first, n1, err := m.Issue("9876543210")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, n2, err := m.Issue("9876543210")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if first == second {
		t.Error("two issues produced identical tokens")
	}
	if n1 == n2 {
		t.Error("two issues produced identical nonces")
	}
}

// The session store keys its entries with the manager's TTL so the stored
// digest and the token expire together.
func TestTTLMatchesClaimLifetime(t *testing.T) {
	m := testManager()

	if got := m.TTL(); got != 30*time.Minute {
		t.Fatalf("TTL() = %v, want 30m", got)
	}

	tok, _, err := m.Issue("9876543210")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != m.TTL() {
		t.Errorf("claim lifetime = %v, want %v", got, m.TTL())
	}
}

func TestParseFailures(t *testing.T) {
	m := testManager()
	tok, _, err := m.Issue("9876543210")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name   string
		mangle func() (*Manager, string)
	}{
		{
			name: "garbage token",
			mangle: func() (*Manager, string) {
				return m, "not.a.token"
			},
		},
		{
			name: "wrong secret",
			mangle: func() (*Manager, string) {
				other := testManager()
				other.secret = []byte("other-secret")
				return other, tok
			},
		},
		{
			name: "wrong issuer",
			mangle: func() (*Manager, string) {
				other := testManager()
				other.issuer = "someone-else"
				return other, tok
			},
		},
		{
			name: "wrong audience",
			mangle: func() (*Manager, string) {
				other := testManager()
				other.audience = "other-clients"
				return other, tok
			},
		},
		{
			name: "expired",
			mangle: func() (*Manager, string) {
				other := testManager()
				other.Now = func() time.Time {
					return time.Date(2026, 3, 1, 12, 31, 0, 0, time.UTC)
				}
				return other, tok
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser, subject := tt.mangle()
			if _, err := parser.Parse(subject); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse = %v, want ErrInvalidToken", err)
			}
		})
	}
}
