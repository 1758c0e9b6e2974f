// Package queue manages the named waiting lists for the matchmaking engine.
// One Redis list exists per (declared gender x desired filter) combination;
// normal users append at the tail, elevated-tier users insert at the head.
// A shared hash records each waiting user's join timestamp and a per-user
// pointer records which queue they occupy so cancellation is a direct lookup.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/keys"
)

// Manager owns the Redis data structures for the waiting lists.
type Manager struct {
	rdb *redis.Client
	now func() time.Time
}

// NewManager creates a queue manager backed by Redis.
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb, now: time.Now}
}

// SetNowFunc overrides the clock used for join timestamps. Tests use this to
// enqueue entries with an arbitrary age.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.now = now
}

// Enqueue appends a user to the queue named by their declared gender and
// desired filter. Elevated-tier users are inserted at the head instead of
// the tail. The join timestamp and occupied-queue pointer are recorded in
// the same pipeline.
func (m *Manager) Enqueue(ctx context.Context, userID, gender, filter string, priority bool) error {
	queueKey := keys.Queue(gender, filter)

	pipe := m.rdb.Pipeline()
	if priority {
		pipe.LPush(ctx, queueKey, userID)
	} else {
		pipe.RPush(ctx, queueKey, userID)
	}
	pipe.HSet(ctx, keys.WaitTimes, userID, m.now().Unix())
	pipe.Set(ctx, keys.UserQueue(userID), queueKey, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", userID, err)
	}
	return nil
}

// PopCompatible attempts an atomic head pop on each candidate queue in order
// and returns the first user id it finds. The ordering matters: callers list
// specific-compatibility queues before the "any" queues. Returns "" when
// every candidate queue is empty.
func (m *Manager) PopCompatible(ctx context.Context, queueNames []string) (string, error) {
	for _, name := range queueNames {
		userID, err := m.rdb.LPop(ctx, name).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("queue: pop %s: %w", name, err)
		}
		return userID, nil
	}
	return "", nil
}

// Cancel removes a user from whichever queue they occupy and clears their
// wait bookkeeping and AI membership. Removal is by value and best-effort:
// at most one occurrence is removed, and a user who is not queued is a
// silent no-op.
func (m *Manager) Cancel(ctx context.Context, userID string) error {
	queueKey, err := m.rdb.Get(ctx, keys.UserQueue(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("queue: cancel lookup %s: %w", userID, err)
	}

	pipe := m.rdb.Pipeline()
	if queueKey != "" {
		pipe.LRem(ctx, queueKey, 1, userID)
		pipe.Del(ctx, keys.UserQueue(userID))
	}
	pipe.HDel(ctx, keys.WaitTimes, userID)
	pipe.SRem(ctx, keys.AIMembers, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: cancel %s: %w", userID, err)
	}
	return nil
}

// ClearWait removes the wait bookkeeping for a user that was just popped by
// a match, without touching any queue.
func (m *Manager) ClearWait(ctx context.Context, userID string) error {
	pipe := m.rdb.Pipeline()
	pipe.HDel(ctx, keys.WaitTimes, userID)
	pipe.Del(ctx, keys.UserQueue(userID))
	_, err := pipe.Exec(ctx)
	return err
}

// PeekHead returns the user id at the head of the named queue without
// popping it. Returns "" when the queue is empty.
func (m *Manager) PeekHead(ctx context.Context, queueName string) (string, error) {
	userID, err := m.rdb.LIndex(ctx, queueName, 0).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("queue: peek %s: %w", queueName, err)
	}
	return userID, nil
}

// ClaimHead atomically removes the exact entry userID from the named queue.
// It returns true only for the single caller that wins the removal, so a
// concurrent pop of the same head cannot produce two matches.
func (m *Manager) ClaimHead(ctx context.Context, queueName, userID string) (bool, error) {
	removed, err := m.rdb.LRem(ctx, queueName, 1, userID).Result()
	if err != nil {
		return false, fmt.Errorf("queue: claim %s from %s: %w", userID, queueName, err)
	}
	return removed > 0, nil
}

// JoinedAt returns the unix timestamp recorded when the user entered a
// queue, or the zero time if no timestamp exists.
func (m *Manager) JoinedAt(ctx context.Context, userID string) (time.Time, error) {
	ts, err := m.rdb.HGet(ctx, keys.WaitTimes, userID).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("queue: joined_at %s: %w", userID, err)
	}
	return time.Unix(ts, 0), nil
}

// QueueOf returns the name of the queue the user currently occupies, or ""
// if they are not queued.
func (m *Manager) QueueOf(ctx context.Context, userID string) (string, error) {
	name, err := m.rdb.Get(ctx, keys.UserQueue(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

// Len returns the number of users waiting in the named queue.
func (m *Manager) Len(ctx context.Context, queueName string) (int64, error) {
	return m.rdb.LLen(ctx, queueName).Result()
}

// TotalWaiting returns the number of users waiting across all queues.
func (m *Manager) TotalWaiting(ctx context.Context) (int64, error) {
	var total int64
	for _, name := range keys.AllQueues() {
		n, err := m.rdb.LLen(ctx, name).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
