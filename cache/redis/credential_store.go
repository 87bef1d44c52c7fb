package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CredentialStore implements domain.CredentialStore with one Redis hash per section.
type CredentialStore struct {
	client *redis.Client
	prefix string // Optional prefix for keys
}

// NewCredentialStore creates a new [CredentialStore] instance
func NewCredentialStore(client *redis.Client, prefix string) *CredentialStore {
	return &CredentialStore{
		client: client,
		prefix: prefix,
	}
}

// redisKey returns the hash key of a section
func (r *CredentialStore) redisKey(section string) string {
	if r.prefix == "" {
		return "config:" + section
	}
	return fmt.Sprintf("%s:config:%s", r.prefix, section)
}

// Put overwrites key in the section hash
func (r *CredentialStore) Put(ctx context.Context, section, key, value string) error {
	if err := r.client.HSet(ctx, r.redisKey(section), key, value).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", section, err)
	}
	return nil
}

// Get returns the stored value and whether it exists
func (r *CredentialStore) Get(ctx context.Context, section, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.redisKey(section), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
