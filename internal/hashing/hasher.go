package hashing

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/argon2"

	"otp-auth-service/internal/config"
)

// Argon2Params tunes the key derivation used for OTP digests.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// Hasher derives digests for values stored in the hot store.
//
// OTP digests are deliberately deterministic: the salt is derived from the
// phone number and the pepper is process-wide, so the store can compare a
// submitted digest against the stored one inside a single atomic script
// without ever seeing the plain code. The 10^4 code space makes per-record
// random salts pointless against an attacker who has the pepper anyway.
type Hasher struct {
	params Argon2Params
	pepper []byte
}

func NewHasher(cfg *config.Config) *Hasher {
	return &Hasher{
		params: Argon2Params{
			Memory:      64 * 1024,
			Iterations:  1,
			Parallelism: 2,
			KeyLength:   32,
		},
		pepper: []byte(cfg.OTP.Pepper),
	}
}

// HashOTP returns the digest stored for (and compared against) an OTP code.
func (h *Hasher) HashOTP(phone, code string) string {
	salt := sha256.Sum256([]byte("otp-salt:" + phone))
	key := argon2.IDKey(
		append([]byte(code), h.pepper...),
		salt[:],
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)
	return base64.RawURLEncoding.EncodeToString(key)
}

// PhoneHash is the deterministic lookup key for a phone number. SHA-256 hex,
// matching the user directory's phone_hash column.
func (h *Hasher) PhoneHash(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

// TokenHash is the digest stored in the single-slot session table. Raw tokens
// never hit the store.
func (h *Hasher) TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
