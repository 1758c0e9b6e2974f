// Package fallback promotes users who have waited too long in a matching
// queue into a session with the synthetic partner. It runs independently of
// the join path, so a promotion can complete before a second human ever
// arrives; both paths write the same session registry through the same
// atomic primitives.
package fallback

import (
	"context"
	"log"
	"time"

	"github.com/driftchat/drift/internal/aichat"
	"github.com/driftchat/drift/internal/keys"
	"github.com/driftchat/drift/internal/metrics"
	"github.com/driftchat/drift/internal/queue"
	"github.com/driftchat/drift/internal/session"
)

// Default timings. The promotion timeout is measured from the queue entry's
// join timestamp; with polling, promotion lands within one poll interval of
// the timeout under normal operation.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultTimeout      = 10 * time.Second
	DefaultGreetDelay   = 2 * time.Second
)

// DefaultGreeting is the synthetic partner's opening line.
const DefaultGreeting = "hey! how's it going?"

// Notifier delivers engine-originated messages to a user through the
// front-end collaborator.
type Notifier interface {
	SendTyping(ctx context.Context, userID string) error
	SendMessage(ctx context.Context, userID, text string) error
}

// Events announces session-lifecycle transitions the front-end subscribes
// to. FallbackEstablished replaces the front-end's normal join-path state
// transition, which a background promotion bypasses.
type Events interface {
	FallbackEstablished(ctx context.Context, userID string) error
}

// Config holds scheduler timings. Zero fields fall back to the defaults.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	GreetDelay   time.Duration
	Greeting     string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.GreetDelay <= 0 {
		c.GreetDelay = DefaultGreetDelay
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	return c
}

// Scheduler is the background promotion loop.
type Scheduler struct {
	queues    *queue.Manager
	registry  *session.Registry
	aiContext *aichat.ContextStore
	notifier  Notifier
	events    Events
	config    Config

	// Injected clock; tests advance virtual time instead of sleeping.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewScheduler creates a promotion scheduler over the shared stores.
func NewScheduler(queues *queue.Manager, registry *session.Registry, aiContext *aichat.ContextStore, notifier Notifier, events Events, config Config) *Scheduler {
	return &Scheduler{
		queues:    queues,
		registry:  registry,
		aiContext: aiContext,
		notifier:  notifier,
		events:    events,
		config:    config.withDefaults(),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// SetClock overrides the scheduler's time source and sleep function.
func (s *Scheduler) SetClock(now func() time.Time, sleep func(time.Duration)) {
	s.now = now
	s.sleep = sleep
}

// Run loops until the context is cancelled, scanning every queue once per
// poll interval. A failed iteration is logged and never stops the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	log.Printf("[fallback] scheduler started (poll=%s timeout=%s)", s.config.PollInterval, s.config.Timeout)

	for {
		select {
		case <-ctx.Done():
			log.Println("[fallback] scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single scan over every queue. Elevated-tier users are
// head-inserted into the same named queues, so head-first peeking inspects
// them before normal-tier users that joined earlier.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, queueName := range keys.AllQueues() {
		if err := s.promoteStaleHead(ctx, queueName); err != nil {
			log.Printf("[fallback] %s: %v", queueName, err)
			metrics.SchedulerErrors.Inc()
		}
	}
}

// promoteStaleHead peeks the head of one queue and, if that entry has waited
// past the timeout, claims it and converts it into a synthetic session.
func (s *Scheduler) promoteStaleHead(ctx context.Context, queueName string) error {
	head, err := s.queues.PeekHead(ctx, queueName)
	if err != nil || head == "" {
		return err
	}

	joinedAt, err := s.queues.JoinedAt(ctx, head)
	if err != nil {
		return err
	}
	if joinedAt.IsZero() {
		// No timestamp: a cancellation is mid-flight, leave it alone.
		return nil
	}
	if s.now().Sub(joinedAt) < s.config.Timeout {
		return nil
	}

	// Claim the exact head entry; a concurrent pop by the pairing path
	// makes this a no-op and the user keeps their human match.
	won, err := s.queues.ClaimHead(ctx, queueName, head)
	if err != nil || !won {
		return err
	}
	if err := s.queues.ClearWait(ctx, head); err != nil {
		return err
	}

	if err := s.aiContext.Clear(ctx, head); err != nil {
		log.Printf("[fallback] clear context for %s: %v", head, err)
	}
	if err := s.registry.ConnectAI(ctx, head); err != nil {
		return err
	}

	if err := s.events.FallbackEstablished(ctx, head); err != nil {
		log.Printf("[fallback] publish event for %s: %v", head, err)
	}

	metrics.MatchesTotal.WithLabelValues(metrics.MatchFallback).Inc()
	log.Printf("[fallback] promoted %s from %s after %s", head, queueName, s.now().Sub(joinedAt).Round(time.Second))

	s.greet(ctx, head)
	return nil
}

// greet mimics a human partner: a typing indicator, a short pause, then the
// opening line — but only if the user is still AI-paired at send time.
func (s *Scheduler) greet(ctx context.Context, userID string) {
	if err := s.notifier.SendTyping(ctx, userID); err != nil {
		log.Printf("[fallback] typing indicator for %s: %v", userID, err)
	}

	s.sleep(s.config.GreetDelay)

	still, err := s.registry.IsAIPaired(ctx, userID)
	if err != nil || !still {
		return // user already left or was rescued; say nothing
	}
	if err := s.notifier.SendMessage(ctx, userID, s.config.Greeting); err != nil {
		log.Printf("[fallback] greeting for %s: %v", userID, err)
		return
	}
	if err := s.aiContext.Append(ctx, userID, aichat.Message{Role: aichat.RoleAssistant, Content: s.config.Greeting}); err != nil {
		log.Printf("[fallback] record greeting for %s: %v", userID, err)
	}
}
