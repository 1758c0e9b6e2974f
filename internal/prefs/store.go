// Package prefs caches each user's declared gender and desired-partner
// filter in Redis so the pairing algorithm and the fallback scheduler can
// evaluate compatibility without a round trip to the profile database.
// Records are refreshed on every join attempt and expire after 24 hours.
package prefs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/keys"
)

// TTL is how long a cached preference record lives without being refreshed.
const TTL = 24 * time.Hour

// Record is a user's cached matchmaking preferences.
type Record struct {
	UserID string
	Gender string // declared gender: M | F
	Filter string // desired partner: M | F | any
}

// Store manages preference records in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a preference store using the provided Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Set writes (or refreshes) the preference record for a user and resets
// its TTL.
func (s *Store) Set(ctx context.Context, userID, gender, filter string) error {
	key := keys.Prefs(userID)

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "g", gender, "s", filter)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves the cached preferences for a user. Returns nil if the
// record is missing or expired.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, keys.Prefs(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	gender := fields["g"]
	filter := fields["s"]
	if filter == "" {
		filter = keys.FilterAny
	}

	return &Record{UserID: userID, Gender: gender, Filter: filter}, nil
}

// Delete removes a user's cached preferences.
func (s *Store) Delete(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, keys.Prefs(userID)).Err()
}
