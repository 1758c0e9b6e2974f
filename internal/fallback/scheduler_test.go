package fallback

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/aichat"
	"github.com/driftchat/drift/internal/keys"
	"github.com/driftchat/drift/internal/queue"
	"github.com/driftchat/drift/internal/session"
)

type fakeNotifier struct {
	typings  []string
	messages map[string][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: make(map[string][]string)}
}

func (f *fakeNotifier) SendTyping(_ context.Context, userID string) error {
	f.typings = append(f.typings, userID)
	return nil
}

func (f *fakeNotifier) SendMessage(_ context.Context, userID, text string) error {
	f.messages[userID] = append(f.messages[userID], text)
	return nil
}

type fakeEvents struct {
	established []string
}

func (f *fakeEvents) FallbackEstablished(_ context.Context, userID string) error {
	f.established = append(f.established, userID)
	return nil
}

type fixture struct {
	rdb       *redis.Client
	queues    *queue.Manager
	registry  *session.Registry
	aiContext *aichat.ContextStore
	notifier  *fakeNotifier
	events    *fakeEvents
	scheduler *Scheduler
}

func setupTestScheduler(t *testing.T) (*fixture, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	rdb.FlushDB(ctx)
	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	f := &fixture{
		rdb:       rdb,
		queues:    queue.NewManager(rdb),
		registry:  session.NewRegistry(rdb),
		aiContext: aichat.NewContextStore(rdb),
		notifier:  newFakeNotifier(),
		events:    &fakeEvents{},
	}
	f.scheduler = NewScheduler(f.queues, f.registry, f.aiContext, f.notifier, f.events, Config{})
	f.scheduler.SetClock(time.Now, func(time.Duration) {}) // no real sleeping in tests
	return f, ctx
}

// enqueueAgedUser enqueues a user whose join timestamp lies age in the past.
func enqueueAgedUser(t *testing.T, f *fixture, ctx context.Context, userID, gender, filter string, age time.Duration) {
	t.Helper()
	joined := time.Now().Add(-age)
	f.queues.SetNowFunc(func() time.Time { return joined })
	if err := f.queues.Enqueue(ctx, userID, gender, filter, false); err != nil {
		t.Fatalf("enqueue %s: %v", userID, err)
	}
	f.queues.SetNowFunc(time.Now)
}

func TestRunOnce_NoPromotionBeforeTimeout(t *testing.T) {
	f, ctx := setupTestScheduler(t)

	enqueueAgedUser(t, f, ctx, "100", "M", "any", 5*time.Second)

	f.scheduler.RunOnce(ctx)

	if p, _ := f.registry.Partner(ctx, "100"); p != "" {
		t.Errorf("user promoted before timeout (partner=%q)", p)
	}
	if n, _ := f.queues.Len(ctx, keys.Queue("M", "any")); n != 1 {
		t.Errorf("queue entry disappeared without promotion (len=%d)", n)
	}
	if len(f.events.established) != 0 {
		t.Errorf("unexpected fallback events: %v", f.events.established)
	}
}

func TestRunOnce_PromotesStaleEntry(t *testing.T) {
	f, ctx := setupTestScheduler(t)

	enqueueAgedUser(t, f, ctx, "100", "F", "M", 15*time.Second)

	f.scheduler.RunOnce(ctx)

	if p, _ := f.registry.Partner(ctx, "100"); p != keys.AISentinel {
		t.Fatalf("expected AI pairing, partner=%q", p)
	}
	if ok, _ := f.rdb.SIsMember(ctx, keys.AIMembers, "100").Result(); !ok {
		t.Error("promoted user missing from AI membership")
	}
	if n, _ := f.queues.Len(ctx, keys.Queue("F", "M")); n != 0 {
		t.Errorf("queue still holds %d entries", n)
	}
	if joined, _ := f.queues.JoinedAt(ctx, "100"); !joined.IsZero() {
		t.Error("join timestamp survived promotion")
	}
	if q, _ := f.queues.QueueOf(ctx, "100"); q != "" {
		t.Errorf("queue pointer survived promotion: %s", q)
	}

	if len(f.events.established) != 1 || f.events.established[0] != "100" {
		t.Errorf("expected one fallback event for 100, got %v", f.events.established)
	}
	if len(f.notifier.typings) != 1 {
		t.Errorf("expected one typing indicator, got %v", f.notifier.typings)
	}
	msgs := f.notifier.messages["100"]
	if len(msgs) != 1 || msgs[0] != DefaultGreeting {
		t.Errorf("expected greeting %q, got %v", DefaultGreeting, msgs)
	}

	// The greeting is recorded in the synthetic conversation history.
	history, err := f.aiContext.History(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Role != aichat.RoleAssistant {
		t.Errorf("greeting not recorded in context: %v", history)
	}
}

func TestRunOnce_PromotionClearsStaleContext(t *testing.T) {
	f, ctx := setupTestScheduler(t)

	// Leftover context from an earlier synthetic session must not leak
	// into the new one.
	f.rdb.RPush(ctx, keys.AIContext("100"), `{"role":"user","content":"old"}`)
	enqueueAgedUser(t, f, ctx, "100", "M", "F", 20*time.Second)

	f.scheduler.RunOnce(ctx)

	history, err := f.aiContext.History(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range history {
		if msg.Content == "old" {
			t.Error("stale context survived promotion")
		}
	}
}

func TestRunOnce_SkipsEntryWithoutTimestamp(t *testing.T) {
	f, ctx := setupTestScheduler(t)

	// A raw entry with no timestamp means a cancel is mid-flight.
	f.rdb.RPush(ctx, keys.Queue("M", "any"), "100")

	f.scheduler.RunOnce(ctx)

	if p, _ := f.registry.Partner(ctx, "100"); p != "" {
		t.Errorf("timestampless entry was promoted (partner=%q)", p)
	}
	if n, _ := f.queues.Len(ctx, keys.Queue("M", "any")); n != 1 {
		t.Errorf("timestampless entry removed (len=%d)", n)
	}
}

func TestRunOnce_NoGreetingAfterUserLeaves(t *testing.T) {
	f, ctx := setupTestScheduler(t)

	enqueueAgedUser(t, f, ctx, "100", "F", "any", 30*time.Second)

	// The user abandons the session during the greeting delay.
	f.scheduler.SetClock(time.Now, func(time.Duration) {
		if _, err := f.registry.Disconnect(ctx, "100"); err != nil {
			t.Errorf("disconnect during delay: %v", err)
		}
	})

	f.scheduler.RunOnce(ctx)

	if len(f.notifier.typings) != 1 {
		t.Errorf("typing indicator should precede the delay, got %v", f.notifier.typings)
	}
	if msgs := f.notifier.messages["100"]; len(msgs) != 0 {
		t.Errorf("greeting sent into an abandoned session: %v", msgs)
	}
}

func TestRunOnce_OneHeadPerQueuePerTick(t *testing.T) {
	f, ctx := setupTestScheduler(t)

	enqueueAgedUser(t, f, ctx, "first", "M", "any", 30*time.Second)
	enqueueAgedUser(t, f, ctx, "second", "M", "any", 25*time.Second)

	f.scheduler.RunOnce(ctx)

	if p, _ := f.registry.Partner(ctx, "first"); p != keys.AISentinel {
		t.Errorf("head entry not promoted (partner=%q)", p)
	}
	if p, _ := f.registry.Partner(ctx, "second"); p != "" {
		t.Errorf("non-head entry promoted in the same tick (partner=%q)", p)
	}

	// The next tick picks up the new head.
	f.scheduler.RunOnce(ctx)
	if p, _ := f.registry.Partner(ctx, "second"); p != keys.AISentinel {
		t.Errorf("second entry not promoted on the next tick (partner=%q)", p)
	}
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.PollInterval != DefaultPollInterval || c.Timeout != DefaultTimeout {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.Greeting == "" {
		t.Error("default greeting missing")
	}
}
