package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CredentialLock serializes poll cycles per mailbox credential across
// scheduler ticks and across processes, via Redis SET NX with TTL. A random
// ownership value plus Lua scripts for release/extend prevent one process
// from releasing a lock held by another.
type CredentialLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// New creates a lock for the given credential id. The TTL should comfortably
// exceed one poll cycle; a crashed worker's lock expires on its own.
func New(client *redis.Client, credentialID string, ttl time.Duration) *CredentialLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &CredentialLock{
		client: client,
		key:    fmt.Sprintf("guard:lock:credential:%s", credentialID),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to acquire the lock. Returns false without error when the
// lock is already held — the caller skips the cycle rather than queueing.
func (l *CredentialLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release releases the lock only if we still own it.
func (l *CredentialLock) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	_, err := script.Run(ctx, l.client, []string{l.key}, l.value).Result()
	return err
}

// Extend extends the lock TTL for a poll cycle that is still draining a
// large mailbox.
func (l *CredentialLock) Extend(ctx context.Context, ttl time.Duration) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	_, err := script.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Result()
	return err
}
