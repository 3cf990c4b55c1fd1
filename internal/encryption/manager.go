package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedField is the envelope stored alongside the ciphertext: the data
// key encrypted under KMS (or base64 in dev) plus the key id that made it.
type EncryptedField struct {
	Ciphertext   []byte
	EncryptedDEK string
	KeyID        string
}

// Manager does envelope encryption of phone numbers at rest. With KMS
// disabled it falls back to locally generated data keys, which is only
// acceptable for development.
type Manager struct {
	kmsClient *kms.Client
	cfg       *config.Config
	keyCache  sync.Map // encrypted DEK -> plaintext DEK
}

func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{cfg: cfg}

	if cfg.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.KMS.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		m.kmsClient = kms.NewFromConfig(awsCfg)
		util.Info("KMS envelope encryption enabled",
			zap.String("key_id", cfg.KMS.KeyID),
			zap.String("region", cfg.KMS.Region))
	} else {
		util.Warn("KMS disabled - using local data keys (development only)")
	}

	return m, nil
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.cfg.KMS.Enabled {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		return &dataKey{
			plaintext:  key,
			ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
			keyID:      uuid.New().String(),
		}, nil
	}

	out, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.cfg.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &dataKey{
		plaintext:  out.Plaintext,
		ciphertext: out.CiphertextBlob,
		keyID:      m.cfg.KMS.KeyID,
	}, nil
}

// Encrypt seals a plaintext field under a fresh data key.
func (m *Manager) Encrypt(ctx context.Context, plaintext string) (*EncryptedField, error) {
	dk, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dk.plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	encryptedDEK := base64.StdEncoding.EncodeToString(dk.ciphertext)
	m.keyCache.Store(encryptedDEK, dk.plaintext)

	return &EncryptedField{
		Ciphertext:   gcm.Seal(nonce, nonce, []byte(plaintext), nil),
		EncryptedDEK: encryptedDEK,
		KeyID:        dk.keyID,
	}, nil
}

// Decrypt opens a sealed field, unwrapping its data key through KMS (or the
// local fallback) with a process-wide DEK cache.
func (m *Manager) Decrypt(ctx context.Context, field *EncryptedField) (string, error) {
	var dek []byte
	if cached, ok := m.keyCache.Load(field.EncryptedDEK); ok {
		dek = cached.([]byte)
	} else {
		raw, err := base64.StdEncoding.DecodeString(field.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
		}
		if m.cfg.KMS.Enabled {
			out, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: raw})
			if err != nil {
				return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
			}
			dek = out.Plaintext
		} else {
			dek, err = base64.StdEncoding.DecodeString(string(raw))
			if err != nil {
				return "", fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
			}
		}
		m.keyCache.Store(field.EncryptedDEK, dek)
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if len(field.Ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, ciphertext := field.Ciphertext[:gcm.NonceSize()], field.Ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// ClearCache drops cached plaintext data keys.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}
