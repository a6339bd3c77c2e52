package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wapuda/vidrelay/internal/logx"
)

// Store keeps at most one session per user.
type Store interface {
	// Get returns nil, nil when the user has no session.
	Get(ctx context.Context, userID int64) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID int64) error
}

// Memory is the in-process store. A zero TTL keeps sessions forever.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	byID map[int64]*Session
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, byID: make(map[int64]*Session)}
}

func (m *Memory) Get(_ context.Context, userID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[userID]
	if !ok {
		return nil, nil
	}
	if m.ttl > 0 && m.now().Sub(s.UpdatedAt) > m.ttl {
		delete(m.byID, userID)
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *Memory) Put(_ context.Context, s *Session) error {
	c := s.Clone()
	c.UpdatedAt = m.now()
	m.mu.Lock()
	m.byID[s.UserID] = c
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.byID, userID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// RedisStore shares sessions between the bot and cmd/worker.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(userID int64) string { return "session:" + strconv.FormatInt(userID, 10) }

func (r *RedisStore) Get(ctx context.Context, userID int64) (*Session, error) {
	raw, err := r.rdb.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", userID, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// an unreadable session is treated as absent so the user can start over
		l := logx.FromCtx(ctx)
		l.Warn().Err(err).Int64("uid", userID).Msg("dropping corrupt session")
		_ = r.rdb.Del(ctx, redisKey(userID)).Err()
		return nil, nil
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	c := s.Clone()
	c.UpdatedAt = time.Now()
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.rdb.Set(ctx, redisKey(s.UserID), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("put session %d: %w", s.UserID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := r.rdb.Del(ctx, redisKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete session %d: %w", userID, err)
	}
	return nil
}

// Finish removes the session after its render completed, unless the user has
// since cancelled it and started another one.
func Finish(ctx context.Context, st Store, userID int64, sessionID string) error {
	cur, err := st.Get(ctx, userID)
	if err != nil {
		return err
	}
	if cur == nil || cur.ID != sessionID {
		return nil
	}
	return st.Delete(ctx, userID)
}
