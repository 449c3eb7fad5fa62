package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
)

// RedisSessionStore keeps wizard sessions in Redis so a restart does not drop
// in-flight submissions. Expiry rides on the native key TTL; there is nothing
// to sweep.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(wid id.WizardID) string {
	return "wizard:session:" + wid.String()
}

func (s *RedisSessionStore) Save(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal wizard session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save wizard session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Find(ctx context.Context, wid id.WizardID) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(wid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired and never-existed look identical in Redis; both mean the
			// wizard has nothing to resume.
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load wizard session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal wizard session: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, wid id.WizardID) error {
	if err := s.client.Del(ctx, sessionKey(wid)).Err(); err != nil {
		return fmt.Errorf("delete wizard session: %w", err)
	}
	return nil
}
