package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"otp-auth-service/internal/config"
)

// Manager maps identities onto a fixed bucket space so the user table can be
// partitioned by (bucket, phone_hash) instead of a single hot partition.
type Manager struct {
	userBuckets int
	hasherPool  sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{userBuckets: cfg.Bucketing.UserBuckets}
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return m
}

// UserBucket returns the consistent bucket for a phone hash (0 to userBuckets-1).
func (m *Manager) UserBucket(phoneHash string) int {
	return int(m.hashKey(phoneHash) % uint64(m.userBuckets))
}

// DateBucket returns the UTC date partition used for security events.
func (m *Manager) DateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (m *Manager) UserBuckets() int {
	return m.userBuckets
}

func (m *Manager) hashKey(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
