package model

import "time"

// User is a registered account. The phone number is never stored in clear:
// the hash is the lookup key, the encrypted copy is kept for compliance.
type User struct {
	UserBucket     int       `json:"-" db:"user_bucket"`
	UserID         string    `json:"user_id" db:"user_id"`
	PhoneHash      string    `json:"-" db:"phone_hash"`
	PhoneEncrypted []byte    `json:"-" db:"phone_encrypted"`
	PhoneDEK       string    `json:"-" db:"phone_dek"`
	PhoneKeyID     string    `json:"-" db:"phone_key_id"`
	FirstName      string    `json:"first_name" db:"first_name"`
	LastName       string    `json:"last_name" db:"last_name"`
	District       string    `json:"district" db:"district"`
	State          string    `json:"state" db:"state"`
	Country        string    `json:"country" db:"country"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Profile carries the registration fields supplied by the caller.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	District  string `json:"district"`
	State     string `json:"state"`
	Country   string `json:"country"`
}
