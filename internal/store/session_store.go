package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/config"
	"github.com/barrysci/stationtest-backend/internal/model"
)

// completedValue is the literal stored under the completion key.
const completedValue = "true"

// SessionStore is the Redis-backed durable store for in-progress session
// snapshots and permanent completion markers. It plays the role localStorage
// played for the browser client, with the same key scheme.
//
// Persistence is best-effort: Save errors are returned for the caller to log
// and continue; an unsaved snapshot never invalidates the in-memory session.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewSessionStore creates a SessionStore. ttl is the staleness horizon for
// session snapshots (completion markers are never expired).
func NewSessionStore(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *SessionStore {
	return &SessionStore{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "session_store").Logger(),
	}
}

// Save serializes and stores the session snapshot, stamping SavedAt.
func (s *SessionStore) Save(ctx context.Context, identity, testName string, sess *model.Session) error {
	sess.SavedAt = time.Now()

	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	key := config.CacheKey.SessionStateKey(identity, testName)
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Load returns the persisted session, or nil when none exists. Records that
// fail to parse or are older than the staleness horizon are evicted and
// reported as absent.
func (s *SessionStore) Load(ctx context.Context, identity, testName string) (*model.Session, error) {
	key := config.CacheKey.SessionStateKey(identity, testName)

	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Evicting unparseable session record")
		s.rdb.Del(ctx, key)
		return nil, nil
	}

	if time.Since(sess.SavedAt) > s.ttl {
		s.log.Debug().Str("key", key).Time("saved_at", sess.SavedAt).Msg("Evicting stale session record")
		s.rdb.Del(ctx, key)
		return nil, nil
	}

	return &sess, nil
}

// Clear removes the session snapshot. Called after a successful final
// submission and when a completed test's leftover state is detected.
func (s *SessionStore) Clear(ctx context.Context, identity, testName string) error {
	return s.rdb.Del(ctx, config.CacheKey.SessionStateKey(identity, testName)).Err()
}

// IsCompleted reports whether the test was permanently completed for this
// identity.
func (s *SessionStore) IsCompleted(ctx context.Context, identity, testName string) (bool, error) {
	val, err := s.rdb.Get(ctx, config.CacheKey.CompletedKey(identity, testName)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check completion: %w", err)
	}
	return val == completedValue, nil
}

// MarkCompleted permanently blocks this identity from re-taking the test.
// The marker carries no TTL.
func (s *SessionStore) MarkCompleted(ctx context.Context, identity, testName string) error {
	return s.rdb.Set(ctx, config.CacheKey.CompletedKey(identity, testName), completedValue, 0).Err()
}
