// Package session is the registry of active pairings. A session is an
// undirected edge between two users stored as two directed records
// (chat:A -> B and chat:B -> A), or a single record pointing at the AI
// sentinel for synthetic pairings. The registry is the one source of truth
// for "who is this user talking to": the pairing algorithm and the fallback
// scheduler both write it, and message routing reads it on every inbound
// message.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/keys"
)

// Registry manages session records and the AI membership set in Redis.
type Registry struct {
	rdb *redis.Client
}

// NewRegistry creates a session registry using the provided Redis client.
func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// Connect establishes a human-human session by writing both directed
// records in one pipeline. Writing both sides together keeps the symmetry
// invariant: a partial failure leaves at worst a dangling single record,
// never a fabricated partner.
func (r *Registry) Connect(ctx context.Context, userA, userB string) error {
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, keys.Session(userA), userB, 0)
	pipe.Set(ctx, keys.Session(userB), userA, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: connect %s<->%s: %w", userA, userB, err)
	}
	return nil
}

// ConnectAI pairs a user with the synthetic partner. The session record and
// the AI membership set are written in the same pipeline, maintaining the
// invariant that a user is a member iff their record points at the sentinel.
func (r *Registry) ConnectAI(ctx context.Context, userID string) error {
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, keys.Session(userID), keys.AISentinel, 0)
	pipe.SAdd(ctx, keys.AIMembers, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: connect %s to AI: %w", userID, err)
	}
	return nil
}

// Partner returns who the user is currently paired with: a user id, the AI
// sentinel, or "" when no session exists.
func (r *Registry) Partner(ctx context.Context, userID string) (string, error) {
	partner, err := r.rdb.Get(ctx, keys.Session(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: partner of %s: %w", userID, err)
	}
	return partner, nil
}

// Disconnect tears down the user's session and returns the partner that was
// found (a user id, the AI sentinel, or "" when there was no session, in
// which case nothing is mutated). For synthetic pairings the AI membership
// and conversation context are cleared in the same pipeline.
func (r *Registry) Disconnect(ctx context.Context, userID string) (string, error) {
	partner, err := r.Partner(ctx, userID)
	if err != nil {
		return "", err
	}
	if partner == "" {
		return "", nil
	}

	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, keys.Session(userID))
	if partner == keys.AISentinel {
		pipe.SRem(ctx, keys.AIMembers, userID)
		pipe.Del(ctx, keys.AIContext(userID))
	} else {
		pipe.Del(ctx, keys.Session(partner))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("session: disconnect %s: %w", userID, err)
	}
	return partner, nil
}

// Members returns the users currently paired with the synthetic partner.
func (r *Registry) Members(ctx context.Context) ([]string, error) {
	return r.rdb.SMembers(ctx, keys.AIMembers).Result()
}

// IsAIPaired reports whether the user's session record points at the AI
// sentinel. The fallback scheduler re-checks this before sending a greeting
// into a session the user may already have abandoned.
func (r *Registry) IsAIPaired(ctx context.Context, userID string) (bool, error) {
	partner, err := r.Partner(ctx, userID)
	if err != nil {
		return false, err
	}
	return partner == keys.AISentinel, nil
}

// Rescue atomically removes a user from the AI membership set. Only one of
// any number of concurrent callers observes true; the winner owns the right
// to re-pair the rescued user.
func (r *Registry) Rescue(ctx context.Context, userID string) (bool, error) {
	removed, err := r.rdb.SRem(ctx, keys.AIMembers, userID).Result()
	if err != nil {
		return false, fmt.Errorf("session: rescue %s: %w", userID, err)
	}
	return removed > 0, nil
}

// AICount returns the number of users currently paired with the synthetic
// partner.
func (r *Registry) AICount(ctx context.Context) (int64, error) {
	return r.rdb.SCard(ctx, keys.AIMembers).Result()
}
