package session

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift/internal/keys"
)

func setupTestRegistry(t *testing.T) (*Registry, *redis.Client, context.Context) {
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

	return NewRegistry(rdb), rdb, ctx
}

func TestConnect_Symmetry(t *testing.T) {
	r, _, ctx := setupTestRegistry(t)

	if err := r.Connect(ctx, "alice", "bob"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	a, err := r.Partner(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Partner(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if a != "bob" || b != "alice" {
		t.Errorf("expected symmetric session, got alice->%s bob->%s", a, b)
	}
}

func TestDisconnect_RemovesBothSides(t *testing.T) {
	r, _, ctx := setupTestRegistry(t)

	if err := r.Connect(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	partner, err := r.Disconnect(ctx, "alice")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if partner != "bob" {
		t.Errorf("expected partner bob, got %q", partner)
	}

	if p, _ := r.Partner(ctx, "alice"); p != "" {
		t.Errorf("alice still in session with %s", p)
	}
	if p, _ := r.Partner(ctx, "bob"); p != "" {
		t.Errorf("bob still in session with %s", p)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	r, rdb, ctx := setupTestRegistry(t)

	partner, err := r.Disconnect(ctx, "nobody")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if partner != "" {
		t.Errorf("expected no partner, got %q", partner)
	}

	// No store mutation: the database stays empty.
	n, err := rdb.DBSize(ctx).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("disconnect of sessionless user mutated the store (%d keys)", n)
	}
}

func TestConnectAI_MembershipInvariant(t *testing.T) {
	r, _, ctx := setupTestRegistry(t)

	if err := r.ConnectAI(ctx, "eve"); err != nil {
		t.Fatalf("connect AI: %v", err)
	}

	partner, err := r.Partner(ctx, "eve")
	if err != nil {
		t.Fatal(err)
	}
	if partner != keys.AISentinel {
		t.Errorf("expected AI sentinel partner, got %q", partner)
	}

	members, err := r.Members(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != "eve" {
		t.Errorf("expected membership {eve}, got %v", members)
	}
}

func TestDisconnect_AIPairing_ClearsMembershipAndContext(t *testing.T) {
	r, rdb, ctx := setupTestRegistry(t)

	if err := r.ConnectAI(ctx, "eve"); err != nil {
		t.Fatal(err)
	}
	rdb.RPush(ctx, keys.AIContext("eve"), `{"role":"assistant","content":"hi"}`)

	partner, err := r.Disconnect(ctx, "eve")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if partner != keys.AISentinel {
		t.Errorf("expected AI sentinel, got %q", partner)
	}

	members, _ := r.Members(ctx)
	if len(members) != 0 {
		t.Errorf("membership not cleared: %v", members)
	}
	if n, _ := rdb.Exists(ctx, keys.AIContext("eve")).Result(); n != 0 {
		t.Error("AI context not cleared on disconnect")
	}
}

func TestRescue_AtMostOnce(t *testing.T) {
	r, _, ctx := setupTestRegistry(t)

	if err := r.ConnectAI(ctx, "eve"); err != nil {
		t.Fatal(err)
	}

	const searchers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, searchers)

	for i := 0; i < searchers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := r.Rescue(ctx, "eve")
			if err != nil {
				t.Errorf("rescue: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one rescue winner, got %d", winners)
	}
}

func TestIsAIPaired(t *testing.T) {
	r, _, ctx := setupTestRegistry(t)

	if ok, _ := r.IsAIPaired(ctx, "eve"); ok {
		t.Error("sessionless user reported AI-paired")
	}

	if err := r.ConnectAI(ctx, "eve"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := r.IsAIPaired(ctx, "eve"); !ok {
		t.Error("AI-paired user not reported")
	}

	if err := r.Connect(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := r.IsAIPaired(ctx, "alice"); ok {
		t.Error("human-paired user reported AI-paired")
	}
}
