package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

const defaultSessionCachePrefix = "account:session"

// SessionCache caches token-keyed session records for low-latency validity
// checks. Everything here is best-effort; the store stays authoritative and
// the core is correct when every read misses.
type SessionCache struct {
	client *red.Client
	prefix string
}

// NewSessionCache constructs a session cache helper.
func NewSessionCache(client *red.Client, keyPrefix string) *SessionCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionCachePrefix
	}

	return &SessionCache{client: client, prefix: prefix}
}

// GetByToken fetches the cached session, returning ErrNotFound on cache miss.
func (c *SessionCache) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	key := c.tokenKey(token)
	if key == "" {
		return nil, fmt.Errorf("token is required")
	}

	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(value), &session); err != nil {
		return nil, fmt.Errorf("unmarshal cached session: %w", err)
	}

	return &session, nil
}

// Set stores the session under its token key and indexes the key by
// principal so a principal-wide eviction can find it.
func (c *SessionCache) Set(ctx context.Context, session domain.Session, ttl time.Duration) error {
	key := c.tokenKey(session.Token)
	if key == "" {
		return fmt.Errorf("session token is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	if session.PrincipalID != "" {
		indexKey := c.principalKey(session.PrincipalID)
		pipe.SAdd(ctx, indexKey, key)
		pipe.Expire(ctx, indexKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}

	return nil
}

// Delete evicts the cached session for the token.
func (c *SessionCache) Delete(ctx context.Context, token string) error {
	key := c.tokenKey(token)
	if key == "" {
		return fmt.Errorf("token is required")
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}

	return nil
}

// DeleteForPrincipal evicts every cached session indexed for the principal.
func (c *SessionCache) DeleteForPrincipal(ctx context.Context, principalID string) error {
	indexKey := c.principalKey(principalID)
	if indexKey == "" {
		return fmt.Errorf("principal id is required")
	}

	keys, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil
		}
		return fmt.Errorf("redis list principal sessions: %w", err)
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis delete principal sessions: %w", err)
		}
	}

	if err := c.client.Del(ctx, indexKey).Err(); err != nil {
		return fmt.Errorf("redis delete principal session index: %w", err)
	}

	return nil
}

func (c *SessionCache) tokenKey(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:token:%s", c.prefix, trimmed)
}

func (c *SessionCache) principalKey(principalID string) string {
	trimmed := strings.TrimSpace(principalID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:principal:%s", c.prefix, trimmed)
}

var _ port.SessionCache = (*SessionCache)(nil)
