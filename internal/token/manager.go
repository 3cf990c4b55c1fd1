package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"otp-auth-service/internal/config"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carried by a session token. Nonce is the per-session identifier
// recorded in the revocation set on logout.
type Claims struct {
	Phone    string `json:"phone"`
	Verified bool   `json:"verified"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// Manager signs and parses session tokens. Now is injectable for tests.
type Manager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	Now      func() time.Time
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		secret:   []byte(cfg.JWT.Secret),
		issuer:   cfg.JWT.Issuer,
		audience: cfg.JWT.Audience,
		ttl:      cfg.JWT.TokenTTL,
		Now:      time.Now,
	}
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue mints a signed session token for a verified phone. Every call
// produces a distinct token via a fresh nonce, even within the same second.
func (m *Manager) Issue(phone string) (token string, nonce string, err error) {
	now := m.Now()
	nonce = uuid.New().String()

	claims := Claims{
		Phone:    phone,
		Verified: true,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        nonce,
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nonce, nil
}

// Parse verifies the signature, expiry, issuer and audience, and returns the
// claims. All failure modes collapse into ErrInvalidToken so callers cannot
// distinguish a forged token from an expired one.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithTimeFunc(func() time.Time { return m.Now() }),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Phone == "" || claims.Nonce == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
