// Package aichat stores the conversation history exchanged with the
// synthetic partner. The generative-text collaborator reads and appends the
// history when producing replies; the engine only clears it when a synthetic
// session is created or torn down, so a promoted user never inherits a
// previous conversation.
package aichat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/keys"
)

// MaxHistory is the number of messages retained per user. Older entries are
// trimmed away so the context sent to the generative backend stays bounded.
const MaxHistory = 12

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a synthetic conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextStore manages synthetic conversation histories in Redis.
type ContextStore struct {
	rdb *redis.Client
}

// NewContextStore creates a context store using the provided Redis client.
func NewContextStore(rdb *redis.Client) *ContextStore {
	return &ContextStore{rdb: rdb}
}

// Append adds a user/assistant exchange to the history and trims it to the
// last MaxHistory entries.
func (s *ContextStore) Append(ctx context.Context, userID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := keys.AIContext(userID)

	pipe := s.rdb.Pipeline()
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("aichat: marshal message: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, -MaxHistory, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("aichat: append for %s: %w", userID, err)
	}
	return nil
}

// History returns the retained conversation, oldest first. Entries that
// fail to decode are skipped rather than failing the whole read.
func (s *ContextStore) History(ctx context.Context, userID string) ([]Message, error) {
	raw, err := s.rdb.LRange(ctx, keys.AIContext(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("aichat: history for %s: %w", userID, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Clear deletes a user's synthetic conversation history.
func (s *ContextStore) Clear(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, keys.AIContext(userID)).Err()
}
