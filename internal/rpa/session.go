package rpa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sessionKeyPrefix = "rpa_session:"

// SessionSnapshot is a stored browser session for one platform account.
type SessionSnapshot struct {
	Platform  string    `json:"platform"`
	AccountID string    `json:"account_id"`
	Snapshot  string    `json:"snapshot"`
	SavedAt   time.Time `json:"saved_at"`
}

// SessionStore persists browser session snapshots in Redis so a fresh login
// is not required on every action.
type SessionStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

// NewSessionStore wraps a Redis client. Snapshots expire after ttl; zero
// means 24h.
func NewSessionStore(redisClient *redis.Client, ttl time.Duration) *SessionStore {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{
		redis:  redisClient,
		tracer: otel.Tracer("leaseline.internal.rpa.session"),
		ttl:    ttl,
	}
}

func sessionKey(platform, accountID string) string {
	return fmt.Sprintf("%s%s:%s", sessionKeyPrefix, platform, accountID)
}

// Fetch returns the stored snapshot for an account, or "" when none exists.
func (s *SessionStore) Fetch(ctx context.Context, platform, accountID string) (string, error) {
	if s == nil || s.redis == nil {
		return "", nil
	}
	ctx, span := s.tracer.Start(ctx, "session.fetch")
	defer span.End()

	raw, err := s.redis.Get(ctx, sessionKey(platform, accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("rpa: fetch session %s/%s: %w", platform, accountID, err)
	}

	var snap SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return "", fmt.Errorf("rpa: decode session %s/%s: %w", platform, accountID, err)
	}
	return snap.Snapshot, nil
}

// Save stores a refreshed snapshot.
func (s *SessionStore) Save(ctx context.Context, platform, accountID, snapshot string) error {
	if s == nil || s.redis == nil || snapshot == "" {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "session.save")
	defer span.End()

	raw, err := json.Marshal(SessionSnapshot{
		Platform:  platform,
		AccountID: accountID,
		Snapshot:  snapshot,
		SavedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("rpa: encode session %s/%s: %w", platform, accountID, err)
	}
	if err := s.redis.Set(ctx, sessionKey(platform, accountID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("rpa: save session %s/%s: %w", platform, accountID, err)
	}
	return nil
}

// Invalidate drops a stored snapshot after the platform rejected it. The next
// action starts from a clean context (or a human re-establishes the session).
func (s *SessionStore) Invalidate(ctx context.Context, platform, accountID string) error {
	if s == nil || s.redis == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "session.invalidate")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(platform, accountID)).Err(); err != nil {
		return fmt.Errorf("rpa: invalidate session %s/%s: %w", platform, accountID, err)
	}
	return nil
}
