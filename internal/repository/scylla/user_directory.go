package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/model"
	"otp-auth-service/internal/util"
)

// UserDirectory is the durable account store. Rows partition by
// (user_bucket, user_id); the phone_to_user table maps a phone hash back to
// its partition. The plain phone only ever lands in Scylla under envelope
// encryption.
type UserDirectory struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
	crypto  *encryption.Manager
}

func NewUserDirectory(client *ScyllaClient, buckets *bucketing.Manager, crypto *encryption.Manager) *UserDirectory {
	return &UserDirectory{
		client:  client,
		buckets: buckets,
		crypto:  crypto,
	}
}

// CreateUser persists a new account. phone is the clear number; it is sealed
// before anything is written. Both the users row and the phone_to_user
// mapping go out in one logged batch.
func (d *UserDirectory) CreateUser(user *model.User, phone string) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.UserBucket = d.buckets.UserBucket(user.PhoneHash)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sealed, err := d.crypto.Encrypt(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to seal phone number: %w", err)
	}
	user.PhoneEncrypted = sealed.Ciphertext
	user.PhoneDEK = sealed.EncryptedDEK
	user.PhoneKeyID = sealed.KeyID

	batch := d.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(d.client.Prepared.CreateUser.Statement(),
		user.UserBucket, user.UserID, user.PhoneHash, user.PhoneEncrypted,
		user.PhoneDEK, user.PhoneKeyID, user.FirstName, user.LastName,
		user.District, user.State, user.Country, user.CreatedAt, user.UpdatedAt)

	batch.Query(d.client.Prepared.CreatePhoneToUser.Statement(),
		user.PhoneHash, user.UserBucket, user.UserID, user.CreatedAt)

	if err := d.client.ExecuteBatch(batch); err != nil {
		util.Error("failed to create user",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("user created",
		zap.String("user_id", user.UserID),
		zap.Int("user_bucket", user.UserBucket))

	return nil
}

// GetByPhoneHash resolves a phone hash to its account, or nil when no account
// exists for that phone.
func (d *UserDirectory) GetByPhoneHash(phoneHash string) (*model.User, error) {
	var bucket int
	var userID string

	err := d.client.ScanWithRetry(
		d.client.Prepared.GetUserMapping.Bind(phoneHash), &bucket, &userID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("failed to resolve phone mapping", zap.Error(err))
		return nil, fmt.Errorf("failed to resolve phone mapping: %w", err)
	}

	user := &model.User{}
	err = d.client.ScanWithRetry(
		d.client.Prepared.GetUserByID.Bind(bucket, userID),
		&user.UserBucket, &user.UserID, &user.PhoneHash, &user.PhoneEncrypted,
		&user.PhoneDEK, &user.PhoneKeyID, &user.FirstName, &user.LastName,
		&user.District, &user.State, &user.Country, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			// Mapping without a row: the batch never half-applies, so this
			// means the row was deleted out of band.
			return nil, nil
		}
		util.Error("failed to load user",
			zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return user, nil
}

// UpdateProfile rewrites the mutable profile fields of an account.
func (d *UserDirectory) UpdateProfile(user *model.User, profile model.Profile) error {
	now := time.Now().UTC()

	query := d.client.Prepared.UpdateProfile.Bind(
		profile.FirstName, profile.LastName, profile.District,
		profile.State, profile.Country, now,
		user.UserBucket, user.UserID)

	if err := query.Exec(); err != nil {
		util.Error("failed to update profile",
			zap.String("user_id", user.UserID), zap.Error(err))
		return fmt.Errorf("failed to update profile: %w", err)
	}

	user.FirstName = profile.FirstName
	user.LastName = profile.LastName
	user.District = profile.District
	user.State = profile.State
	user.Country = profile.Country
	user.UpdatedAt = now
	return nil
}

// DecryptPhone opens the sealed phone number of an account.
func (d *UserDirectory) DecryptPhone(ctx context.Context, user *model.User) (string, error) {
	return d.crypto.Decrypt(ctx, &encryption.EncryptedField{
		Ciphertext:   user.PhoneEncrypted,
		EncryptedDEK: user.PhoneDEK,
		KeyID:        user.PhoneKeyID,
	})
}
