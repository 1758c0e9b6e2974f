// Package engine implements the pairing algorithm: given a searcher and
// their filters it rescues an AI-paired user, pops a compatible waiting
// user, or enqueues the searcher. A join is not atomic as a whole — the
// rescue scan, the queue scan and the final enqueue are separate Redis
// round trips — so correctness rests on each individual primitive being
// atomic (set removal, list pop), never on check-then-act sequences.
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/aichat"
	"github.com/driftchat/drift/internal/keys"
	"github.com/driftchat/drift/internal/prefs"
	"github.com/driftchat/drift/internal/queue"
	"github.com/driftchat/drift/internal/session"
)

// Result is the outcome of a join attempt. PartnerID is empty when the
// searcher was enqueued instead of matched; Rescued is true when the partner
// was displaced from a synthetic session.
type Result struct {
	PartnerID string
	Rescued   bool
}

// Matched reports whether the join produced a session.
func (r Result) Matched() bool {
	return r.PartnerID != ""
}

// Engine coordinates the preference cache, queue manager and session
// registry against a single injected Redis handle.
type Engine struct {
	prefs     *prefs.Store
	queues    *queue.Manager
	registry  *session.Registry
	aiContext *aichat.ContextStore
}

// New creates an engine with all component stores sharing the given Redis
// client.
func New(rdb *redis.Client) *Engine {
	return &Engine{
		prefs:     prefs.NewStore(rdb),
		queues:    queue.NewManager(rdb),
		registry:  session.NewRegistry(rdb),
		aiContext: aichat.NewContextStore(rdb),
	}
}

// Queues exposes the queue manager so the fallback scheduler and the
// moderation path share the same instance.
func (e *Engine) Queues() *queue.Manager {
	return e.queues
}

// Registry exposes the session registry for message routing.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// AIContext exposes the synthetic-conversation store so the fallback
// scheduler and the generative collaborator share the same instance.
func (e *Engine) AIContext() *aichat.ContextStore {
	return e.aiContext
}

// Join runs the three-pass pairing algorithm for a searcher:
//
//  1. refresh the searcher's preference cache;
//  2. rescue pass: scan AI-paired users for a mutually compatible one and
//     claim it with an atomic set removal — at most one concurrent searcher
//     wins a given candidate;
//  3. human pass: pop the first compatible waiting user, scanning specific
//     queues before "any" queues;
//  4. fallback: enqueue the searcher, head-inserted for the elevated tier.
//
// Any store error aborts the join without enqueueing, so callers can report
// a retryable failure instead of leaving half-applied state.
func (e *Engine) Join(ctx context.Context, userID, gender, filter string, priority bool) (Result, error) {
	if !keys.ValidGender(gender) || !keys.ValidFilter(filter) {
		return Result{}, fmt.Errorf("engine: join %s: invalid filters %q/%q", userID, gender, filter)
	}

	if err := e.prefs.Set(ctx, userID, gender, filter); err != nil {
		return Result{}, fmt.Errorf("engine: refresh prefs for %s: %w", userID, err)
	}

	// Rescue pass.
	partner, err := e.tryRescue(ctx, userID, gender, filter)
	if err != nil {
		return Result{}, err
	}
	if partner != "" {
		return Result{PartnerID: partner, Rescued: true}, nil
	}

	// Human pass.
	candidate, err := e.queues.PopCompatible(ctx, queue.CandidateQueues(gender, filter))
	if err != nil {
		return Result{}, err
	}
	if candidate == userID {
		// A user can pop their own stale entry (e.g. a second join racing
		// a slow cancel). The entry is discarded without re-enqueueing,
		// losing that queue slot. Known quirk, kept as-is.
		log.Printf("[engine] %s popped own queue entry, discarding", userID)
		candidate = ""
	}
	if candidate != "" {
		if err := e.queues.ClearWait(ctx, candidate); err != nil {
			return Result{}, err
		}
		if err := e.registry.Connect(ctx, userID, candidate); err != nil {
			return Result{}, err
		}
		return Result{PartnerID: candidate}, nil
	}

	// Fallback: wait in our own queue.
	if err := e.queues.Enqueue(ctx, userID, gender, filter, priority); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

// tryRescue scans the AI membership set for a user whose cached preferences
// are mutually compatible with the searcher and claims the first one whose
// atomic removal succeeds. Returns "" when no candidate is claimed.
func (e *Engine) tryRescue(ctx context.Context, userID, gender, filter string) (string, error) {
	members, err := e.registry.Members(ctx)
	if err != nil {
		return "", fmt.Errorf("engine: rescue scan: %w", err)
	}

	for _, candidate := range members {
		if candidate == userID {
			continue
		}

		rec, err := e.prefs.Get(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("engine: rescue prefs for %s: %w", candidate, err)
		}
		if rec == nil {
			continue
		}
		if !queue.Compatible(gender, filter, rec.Gender, rec.Filter) {
			continue
		}

		won, err := e.registry.Rescue(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !won {
			continue // another searcher claimed this one first
		}

		if err := e.aiContext.Clear(ctx, candidate); err != nil {
			log.Printf("[engine] clear AI context for rescued %s: %v", candidate, err)
		}
		if err := e.registry.Connect(ctx, userID, candidate); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", nil
}

// Leave tears down the caller's session and returns the partner that was
// found: a user id, the AI sentinel, or "" when the caller had no session
// (an idempotent no-op).
func (e *Engine) Leave(ctx context.Context, userID string) (string, error) {
	return e.registry.Disconnect(ctx, userID)
}

// IsInSession returns the caller's current partner, or "" when none.
func (e *Engine) IsInSession(ctx context.Context, userID string) (string, error) {
	return e.registry.Partner(ctx, userID)
}

// Cancel removes the caller from whichever queue they occupy. It is the
// entry point for both user-initiated search cancellation and moderation
// evictions.
func (e *Engine) Cancel(ctx context.Context, userID string) error {
	return e.queues.Cancel(ctx, userID)
}
